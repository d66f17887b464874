package dirty

import "context"

// Flusher is the durability surface of a pool.
type Flusher interface {
	// Flush makes [off, off+n) durable.
	Flush(off, n int) error
	// Sync forces flushed data to stable storage.
	Sync(full bool) error
}

// DirtyTracker is the minimal interface for tracking dirty (modified) byte ranges.
//
// This interface is intended for components that only need to notify about
// dirty regions but don't manage flushing themselves (e.g., the allocator).
type DirtyTracker interface {
	// Add marks a byte range as dirty.
	// off is the offset from the start of the file, length is the number of bytes.
	Add(off, length int)
}

// FlushableTracker extends DirtyTracker with the ordered flush operations a
// transaction drives at its commit point.
type FlushableTracker interface {
	DirtyTracker

	// Persist flushes one range immediately (flush + fence).
	Persist(off, length int) error

	// FlushData flushes every tracked range and clears the set.
	FlushData(ctx context.Context) error

	// Barrier syncs the file according to the tracker's FlushMode.
	Barrier(ctx context.Context) error

	// Reset forgets tracked ranges without flushing them.
	Reset()
}
