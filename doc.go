// Package hip is an in-process heap-allocation profiler: it
// interposes on every allocation and deallocation performed through an
// Allocator, records each event together with a captured call stack,
// and writes a raw profile to a profile directory (hip-<unix_seconds>/)
// for offline ingestion by package ingest.
package hip
