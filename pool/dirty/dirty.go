package dirty

import (
	"context"
	"sort"
)

const (
	// defaultRangeCapacity is the pre-allocated capacity for dirty ranges.
	// This reduces allocations during typical workloads.
	defaultRangeCapacity = 64

	// standardPageSize is the typical OS page size (4KB).
	standardPageSize = 4096
)

// FlushMode controls durability guarantees for transaction commits.
type FlushMode int

const (
	// FlushAuto provides safe defaults for most use cases:
	// - msync() dirty data pages and every log entry
	// - fdatasync() after each lane state transition
	// - On macOS, uses plain fsync.
	FlushAuto FlushMode = iota

	// FlushDataOnly msyncs but never fdatasyncs.
	// The caller is responsible for calling Sync later.
	FlushDataOnly

	// FlushFull provides ultra-safe durability:
	// - msync() dirty data pages and every log entry
	// - fdatasync() after each lane state transition
	// - On macOS, uses F_FULLFSYNC
	// Use this for power-loss sensitive workflows.
	FlushFull

	// FlushNone skips msync and fdatasync. Writes still reach the shared
	// page cache in order, so a crashed process is recovered correctly;
	// power loss is not covered. Used by tests and bulk loads.
	FlushNone
)

func (m FlushMode) String() string {
	switch m {
	case FlushAuto:
		return "auto"
	case FlushDataOnly:
		return "data-only"
	case FlushFull:
		return "full"
	case FlushNone:
		return "none"
	default:
		return "unknown"
	}
}

// ParseFlushMode maps the String form back to a FlushMode.
func ParseFlushMode(s string) (FlushMode, bool) {
	for _, m := range []FlushMode{FlushAuto, FlushDataOnly, FlushFull, FlushNone} {
		if m.String() == s {
			return m, true
		}
	}
	return FlushAuto, false
}

// Range represents a dirty byte range (absolute file offsets).
type Range struct {
	Off int64 // Absolute offset in file
	Len int64 // Length in bytes
}

// Tracker accumulates dirty ranges and flushes them efficiently.
//
// NOT thread-safe. Only one goroutine should use it at a time.
type Tracker struct {
	f        Flusher
	mode     FlushMode
	ranges   []Range // Dirty data ranges (will be coalesced at flush time)
	pageSize int64   // OS page size (typically 4096)
}

// NewTracker creates a dirty tracker over f.
//
// The tracker pre-allocates capacity for 64 ranges to minimize allocations
// during typical workloads.
func NewTracker(f Flusher, mode FlushMode) *Tracker {
	return &Tracker{
		f:        f,
		mode:     mode,
		ranges:   make([]Range, 0, defaultRangeCapacity),
		pageSize: standardPageSize,
	}
}

// Mode returns the tracker's FlushMode.
func (t *Tracker) Mode() FlushMode { return t.mode }

// Add records a dirty range.
//
// The range will be page-aligned and coalesced with other ranges at flush time.
func (t *Tracker) Add(off, length int) {
	if length <= 0 {
		return
	}
	t.ranges = append(t.ranges, Range{
		Off: int64(off),
		Len: int64(length),
	})
}

// Persist flushes [off, off+length) right away. It is the write-ahead barrier
// between an undo entry and the mutation it protects.
func (t *Tracker) Persist(off, length int) error {
	if t.mode == FlushNone || length <= 0 {
		return nil
	}
	return t.f.Flush(off, length)
}

// FlushData flushes all tracked ranges to disk.
//
// This method:
//  1. Coalesces all ranges into page-aligned, non-overlapping ranges
//  2. Flushes each range through the Flusher
//  3. Clears the ranges slice
//
// The context is checked before flushing starts and between ranges. If it is
// cancelled part-way, some ranges may have been flushed while others have
// not, and the tracked set is kept so the call can be retried.
func (t *Tracker) FlushData(ctx context.Context) error {
	if len(t.ranges) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.mode != FlushNone {
		for _, r := range t.coalesce() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := t.f.Flush(int(r.Off), int(r.Len)); err != nil {
				return err
			}
		}
	}
	t.ranges = t.ranges[:0]
	return nil
}

// Barrier forces previously flushed data to stable storage:
//   - FlushAuto: fdatasync()
//   - FlushDataOnly, FlushNone: nothing
//   - FlushFull: fdatasync() + F_FULLFSYNC on macOS
func (t *Tracker) Barrier(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch t.mode {
	case FlushAuto:
		return t.f.Sync(false)
	case FlushFull:
		return t.f.Sync(true)
	default:
		return nil
	}
}

// Reset clears all tracked ranges.
//
// This is used when a transaction aborts and its ranges have been restored
// and flushed through another path.
func (t *Tracker) Reset() {
	t.ranges = t.ranges[:0]
}

// Len returns the number of raw tracked ranges.
func (t *Tracker) Len() int { return len(t.ranges) }

// DebugRanges returns the current dirty ranges (for testing/debugging).
//
// The returned ranges are the raw, uncoalesced ranges.
func (t *Tracker) DebugRanges() []Range {
	result := make([]Range, len(t.ranges))
	copy(result, t.ranges)
	return result
}

// DebugCoalescedRanges returns the coalesced dirty ranges (for testing/debugging).
//
// These are page-aligned, sorted, and merged ranges that will be flushed.
func (t *Tracker) DebugCoalescedRanges() []Range {
	return t.coalesce()
}

// coalesce page-aligns all ranges, sorts them, and merges overlapping/adjacent ranges.
//
// Returns a new slice of non-overlapping, sorted ranges.
func (t *Tracker) coalesce() []Range {
	if len(t.ranges) == 0 {
		return nil
	}

	aligned := make([]Range, len(t.ranges))
	for i, r := range t.ranges {
		start := (r.Off / t.pageSize) * t.pageSize
		end := r.Off + r.Len
		if end%t.pageSize != 0 {
			end = ((end / t.pageSize) + 1) * t.pageSize
		}
		aligned[i] = Range{Off: start, Len: end - start}
	}

	sort.Slice(aligned, func(i, j int) bool {
		return aligned[i].Off < aligned[j].Off
	})

	merged := make([]Range, 0, len(aligned))
	current := aligned[0]
	for _, next := range aligned[1:] {
		if next.Off <= current.Off+current.Len {
			end := max(current.Off+current.Len, next.Off+next.Len)
			current.Len = end - current.Off
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}
