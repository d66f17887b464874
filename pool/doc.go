// Package pool owns a pmemtx pool file: creation, read-write or read-only
// mapping, and the two durability primitives the rest of the engine is
// built on.
//
// # Layout
//
// A pool file is a page-sized header, a lane table and a heap of cells
// (see internal/format). Create lays out a fresh pool with the root object
// as the first heap cell and the rest of the heap as one free cell.
//
// # Durability
//
// Writes through Bytes() are visible immediately but only durable after
// Flush(off, n) returns (msync of the covering pages on Linux, the whole
// mapping on macOS, WriteAt on platforms without mmap). Sync additionally
// forces the file's data to stable storage (fdatasync, F_FULLFSYNC on
// macOS when full is set, FlushFileBuffers on Windows).
//
// # Thread Safety
//
// Flush and Sync may be called concurrently. Close must not race with any
// other method.
package pool
