// Package tx implements nested undo-logged transactions over a pool.
//
// # Overview
//
// Every outermost transaction runs on a lane. A lane header in the pool
// records the lane state (IDLE, ACTIVE, COMMITTED), a generation number and
// the first block of the lane's undo log. Before any persistent byte is
// modified, its pre-image is appended to the undo log and made durable.
// On commit the modified data is flushed and the lane flips to COMMITTED;
// that single write is the commit point. On abort, or on recovery after a
// crash with the lane still ACTIVE, the log is replayed newest-first.
//
// Transaction lifecycle:
//  1. Begin(): acquire a lane, allocate the first log block, lane ACTIVE
//  2. Add/Set/New/Free: log the pre-image, then mutate (write-ahead)
//  3. End() at depth 0: flush data, lane COMMITTED, reclaim, lane IDLE
//  4. Abort(): replay the log in reverse, reclaim, lane IDLE
//
// # Frames
//
// A Tx carries a stack of frames. Begin on a Tx that is already running
// pushes a nested frame; End pops it. Nested commits are bookkeeping only;
// durability happens when the outermost frame ends. An abort at any depth
// rolls back the whole transaction immediately: the aborted frame and all
// of its ancestors become ABORTING, and every remaining End returns an
// error wrapping ErrAborted.
//
//	err := t.Run(ctx, func(f *tx.Frame) error {
//	    if err := f.AddRange(root, 0, 8); err != nil {
//	        return err
//	    }
//	    return f.SetU64(root, 0, 42)
//	})
//
// # Undo Log Format
//
// Log blocks are heap cells of type format.TypeLogBlock linked through the
// block header. Entries carry the lane index and generation and a CRC32-C
// over header and payload, so a torn append and stale entries from a
// previous generation both terminate the scan.
//
// # Crash Recovery
//
// Recover must run before the allocator index is loaded. For every lane it
// reads the chain, rolls back ACTIVE lanes, completes deferred frees of
// COMMITTED lanes, frees the log blocks and returns the lane to IDLE.
// Replaying an already replayed log is a no-op, so a crash during recovery
// is handled by running recovery again.
//
// # Thread Safety
//
// A Manager is safe for concurrent use; each goroutine uses its own Tx.
// A Tx must not be shared: concurrent calls on one Tx fail with an
// InvalidState error.
package tx
