// Package archive implements the ArchiveReader capability used by the package
// engine: given an archive path it lists entries, reads a named entry as text,
// and extracts one entry or every entry into a target directory.
//
// Container formats are registered by file extension (see Register). Each
// format contributes an Opener that yields a Source; the generic operations in
// this package only ever walk a Source, so zip (random access) and tar
// (streaming) backends share the same extraction code. A format may be declared
// without an Opener, in which case every operation fails with ErrArchiveOpen.
//
// Extracted files are written through a temp file + rename inside the target
// directory, so a concurrent reader never observes a half-written file.
package archive
