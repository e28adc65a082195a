// Package engine schedules the extraction-bearing operations of the package
// engine: metadata reads, single-asset extraction and full-content extraction.
//
// Every operation is submitted as a unit of work and returns a Future at once.
// Units are executed in submission order by a fixed pool of workers (one by
// default, giving the fully serialized behaviour); asset and content units also
// hold a lock on their cache directory, so raising the worker count never lets
// two units overlap on the same directory. Units are not retried and, once
// started, are not cancelled.
package engine
