// Package stitch appends named binary resources to the end of an existing
// executable (or any file) and retrieves them later by name or position,
// without disturbing the original file's ability to run.
//
// A producer opens a Writer bound to a source file and an optional distinct
// output file, adds resources from paths, byte slices, or streams, then
// calls Commit exactly once. Commit appends each payload behind a fixed
// resource magic, then an index describing every resource, then a 17-byte
// tail that locates the index.
//
// A consumer opens a Reader; construction alone parses the tail and index.
// Payloads are then served either fully materialized (Bytes) or as bounded
// streams (Open) for low-memory consumption. Each resource carries 8
// application-defined scratch bytes, opaque to the format.
//
// The format supports exactly one mutation: linear append. It is not a
// general archive — no compression, no directory trees, no post-commit
// insertion or removal.
package stitch
