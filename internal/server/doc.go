// Package server hosts the Fiber HTTP service in front of the package engine:
// request-id middleware, panic recovery, access logging and the /packages
// routes that read metadata, evaluate where chains and hand out extracted
// files. Diagnostic routes (/-/formats, /-/metrics) live in the routes
// subpackage so main can decide which ones to expose.
package server
