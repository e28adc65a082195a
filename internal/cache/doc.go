// Package cache defines the per-version extraction cache: one directory per
// CacheKey (<uid>-<build>) under the configured cache root, mirroring the
// archive's internal relative paths. Completeness of a directory is never
// stored; callers recompute it from the expected file list on every access.
// Entries are never evicted because archives are immutable. The package also
// provides the keyed mutex used by the engine to keep two units of work from
// overlapping on the same directory.
package cache
