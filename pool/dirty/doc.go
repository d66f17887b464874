// Package dirty tracks modified byte ranges of a mapped pool and makes them
// durable in a fixed order.
//
// # Overview
//
// A transaction writes objects in place, directly through the mapping, after
// their undo entries are durable. Those writes are recorded here and flushed
// as one batch at the commit point:
//
//	tracker := dirty.NewTracker(p, dirty.FlushAuto)
//	tracker.Add(off, n)                 // after each in-place write
//	tracker.FlushData(ctx)              // msync coalesced pages
//	tracker.Barrier(ctx)                // fdatasync per FlushMode
//
// Undo log entries and lane headers cannot wait for the batch; they go
// through Persist, which flushes one range immediately.
//
// # Page-Level Granularity
//
// Ranges are rounded to 4KB page boundaries and merged before flushing:
//
//	Dirty: [0x5010+32, 0x5100+8, 0x9000+16] → Flush: [0x5000-0x6000, 0x9000-0xA000]
//
// # Thread Safety
//
// Tracker instances are not thread-safe. Each transaction owns its tracker.
package dirty
