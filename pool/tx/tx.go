package tx

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/joshuapare/pmemtx/internal/format"
	"github.com/joshuapare/pmemtx/pkg/types"
	"github.com/joshuapare/pmemtx/pool/alloc"
	"github.com/joshuapare/pmemtx/pool/dirty"
)

// Tx is the per-goroutine transaction handle. It is reusable: once the
// outermost frame ends, the next Begin starts a new transaction.
//
// A Tx is NOT safe for concurrent use. Overlapping calls fail with an
// InvalidState error instead of corrupting the frame stack. Handing a Tx to
// another goroutine between calls is not detected; callers must keep each
// Tx on the goroutine that began it.
type Tx struct {
	m      *Manager
	busy   atomic.Bool
	frames []*Frame
	dt     *dirty.Tracker

	// State of the running transaction.
	lane      uint32
	gen       uint64
	log       *undoLog
	covered   *rangeSet
	freed     map[int]struct{}
	frees     []int
	cause     error // set once rolled back
	committed bool  // past the commit point
}

func (t *Tx) enter(op string) error {
	if !t.busy.CompareAndSwap(false, true) {
		return types.InvalidState(op, "transaction used from more than one goroutine")
	}
	return nil
}

func (t *Tx) exit() { t.busy.Store(false) }

func (t *Tx) top() *Frame { return t.frames[len(t.frames)-1] }

// Depth returns the number of open frames.
func (t *Tx) Depth() int { return len(t.frames) }

// Active reports whether a transaction is running.
func (t *Tx) Active() bool { return len(t.frames) > 0 }

// Lane returns the lane held by the running transaction.
func (t *Tx) Lane() (uint32, bool) {
	if t.log == nil {
		return 0, false
	}
	return t.lane, true
}

// Entries returns the number of undo entries the running transaction has
// logged since f began.
func (f *Frame) Entries() int {
	if f.tx.log == nil {
		return 0
	}
	return len(f.tx.log.entries) - f.logStart
}

// Begin opens a frame. On an idle Tx it starts a new transaction on a free
// lane, waiting for one until ctx is done; otherwise it nests under the
// innermost frame, which must be open.
func (t *Tx) Begin(ctx context.Context) (*Frame, error) {
	const op = "tx.begin"
	if err := t.enter(op); err != nil {
		return nil, err
	}
	defer t.exit()

	if len(t.frames) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := t.start(ctx); err != nil {
			return nil, err
		}
	} else if top := t.top(); top.state != Open {
		return nil, fmt.Errorf("%w: %w", types.InvalidState(op, "enclosing frame is "+top.state.String()), t.abortErr())
	}

	f := &Frame{tx: t, depth: len(t.frames), state: Open, logStart: len(t.log.entries)}
	t.frames = append(t.frames, f)
	return f, nil
}

// Run begins a frame, calls fn and ends the frame. If fn returns an error
// while the frame is still open, the transaction is aborted with it.
func (t *Tx) Run(ctx context.Context, fn func(f *Frame) error) error {
	f, err := t.Begin(ctx)
	if err != nil {
		return err
	}
	if ferr := fn(f); ferr != nil && f.state == Open {
		if aerr := f.Abort(ferr); aerr != nil {
			return errors.Join(ferr, aerr)
		}
	}
	return f.End()
}

func (t *Tx) start(ctx context.Context) error {
	const op = "tx.begin"
	m := t.m
	lane, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	data := m.st.Bytes()
	l, err := format.ParseLane(data[format.LaneOffset(lane):], lane)
	if err != nil {
		m.release(lane)
		return types.Corrupt(op, fmt.Sprintf("lane %d", lane), err)
	}
	if l.State != format.LaneIdle {
		m.release(lane)
		return types.InvalidState(op, fmt.Sprintf("lane %d is %s", lane, l.State))
	}

	t.dt.Reset()
	ul := newUndoLog(m, t.dt, lane, l.Gen+1)
	first, err := ul.newBlock()
	if err != nil {
		m.release(lane)
		return err
	}
	ul.blocks = []int{first}
	err = writeLane(data, t.dt, format.Lane{Index: lane, State: format.LaneActive, Gen: ul.gen, FirstBlock: uint64(first)})
	if err != nil {
		// The block is reclaimed by the orphan sweep at next open.
		m.logger.Error("tx: lane activation failed", "lane", lane, "err", err)
		return err
	}

	t.lane = lane
	t.gen = ul.gen
	t.log = ul
	t.freed = make(map[int]struct{})
	return nil
}

func (t *Tx) reset() {
	t.log = nil
	t.covered.clear()
	t.freed = nil
	t.frees = nil
	t.cause = nil
	t.committed = false
	t.dt.Reset()
}

func (t *Tx) abortErr() error {
	if t.cause == nil {
		return ErrAborted
	}
	return abortedError(t.cause)
}

// resolve maps h to its payload offset, usable size and type number.
func (t *Tx) resolve(op string, h types.Handle) (int, int, uint32, error) {
	if h.IsNull() {
		return 0, 0, 0, types.NotFound(op, "null handle", nil)
	}
	if h.Pool != 0 && h.Pool != t.m.st.ID() {
		return 0, 0, 0, types.NotFound(op, h.String()+" belongs to another pool", nil)
	}
	size, typeNum, err := t.m.heap.UsableSize(int(h.Off))
	if err != nil {
		return 0, 0, 0, types.NotFound(op, h.String(), err)
	}
	return int(h.Off), size, typeNum, nil
}

// resolveWritable is resolve for handles about to be modified in place. The
// root object is writable; log blocks and other reserved cells are not.
func (t *Tx) resolveWritable(op string, h types.Handle) (int, int, error) {
	base, size, typeNum, err := t.resolve(op, h)
	if err != nil {
		return 0, 0, err
	}
	if typeNum >= format.TypeReservedBase && typeNum != format.TypeRoot {
		return 0, 0, types.InvalidState(op, fmt.Sprintf("%s has reserved type 0x%x", h, typeNum))
	}
	return base, size, nil
}

// snapshot logs the uncovered parts of [base+off, base+off+n).
func (t *Tx) snapshot(base, off, n int) error {
	lo, hi := base+off, base+off+n
	data := t.m.st.Bytes()
	for _, g := range t.covered.gaps(lo, hi) {
		if err := t.log.appendSnapshot(base, g.lo-base, data[g.lo:g.hi]); err != nil {
			return err
		}
	}
	t.covered.add(lo, hi)
	return nil
}

// logSet logs the pre-image of a width-byte field as a SET entry, or as
// snapshots when part of it is already covered.
func (t *Tx) logSet(base, off, width int) error {
	lo, hi := base+off, base+off+width
	gaps := t.covered.gaps(lo, hi)
	switch {
	case len(gaps) == 0:
		return nil
	case len(gaps) == 1 && gaps[0] == span{lo: lo, hi: hi}:
		err := t.log.append(format.Entry{
			Kind:    format.EntrySet,
			Width:   uint8(width),
			Target:  uint64(base),
			Field:   uint32(off),
			Payload: t.m.st.Bytes()[lo:hi],
		})
		if err != nil {
			return err
		}
		t.covered.add(lo, hi)
		return nil
	default:
		return t.snapshot(base, off, width)
	}
}

func (t *Tx) allocate(op string, size int, typeNum uint32, zero bool) (types.Handle, error) {
	if typeNum >= format.TypeReservedBase {
		return types.Null, types.InvalidState(op, fmt.Sprintf("type number 0x%x is reserved", typeNum))
	}
	res, err := t.m.heap.Reserve(size, typeNum)
	if err != nil {
		if errors.Is(err, alloc.ErrNoSpace) || errors.Is(err, alloc.ErrTooLarge) {
			return types.Null, types.Exhausted(op, fmt.Sprintf("%d bytes", size), err)
		}
		return types.Null, err
	}
	payload := res.Payload()
	if err := t.log.append(format.Entry{Kind: format.EntryAllocNew, Target: uint64(payload)}); err != nil {
		t.m.heap.Cancel(res)
		return types.Null, err
	}
	if err := t.m.heap.Publish(res, zero); err != nil {
		return types.Null, err
	}
	// A new object has no pre-image worth keeping.
	t.covered.add(payload, res.Off+res.Size)
	return types.Handle{Pool: t.m.st.ID(), Off: uint64(payload)}, nil
}

func (t *Tx) free(op string, h types.Handle) error {
	base, _, typeNum, err := t.resolve(op, h)
	if err != nil {
		return err
	}
	if typeNum >= format.TypeReservedBase {
		return types.InvalidState(op, h.String()+" is not a user object")
	}
	if _, dup := t.freed[base]; dup {
		return types.InvalidState(op, h.String()+" freed twice")
	}
	if err := t.log.append(format.Entry{Kind: format.EntryAllocFree, Target: uint64(base)}); err != nil {
		return err
	}
	t.freed[base] = struct{}{}
	t.frees = append(t.frees, base)
	return nil
}

// abort rolls the transaction back once and moves every frame to ABORTING.
func (t *Tx) abort(cause error) {
	if t.cause != nil {
		return
	}
	t.cause = cause
	for _, f := range t.frames {
		f.state = Aborting
	}
	if err := t.rollback(); err != nil {
		t.cause = errors.Join(cause, err)
	}
}

// rollback restores every logged pre-image, frees objects allocated by the
// transaction and returns the lane to IDLE.
func (t *Tx) rollback() error {
	m := t.m
	ctx := context.Background()
	t.dt.Reset()
	freed, err := replay(m.st.Bytes(), t.log.entries, t.dt, m.heap.MarkFree, m.opts.Hooks, FailMidReplay)
	if err != nil {
		return t.strand("rollback", err)
	}
	if err := t.dt.FlushData(ctx); err != nil {
		return t.strand("rollback", err)
	}
	return t.finish(ctx, freed)
}

// commitOuter runs the outermost commit. Failures before the commit point
// abort the transaction; failures after it leave the lane for recovery.
func (t *Tx) commitOuter() error {
	ctx := context.Background()
	m := t.m
	if err := t.dt.FlushData(ctx); err != nil {
		t.abort(err)
		return nil
	}
	m.opts.Hooks.fire(FailBeforeCommitFlag)

	data := m.st.Bytes()
	off := format.LaneOffset(t.lane) + format.LaneStateOffset
	format.PutU64(data, off, uint64(format.LaneCommitted))
	if err := t.dt.Persist(off, 8); err != nil {
		t.abort(err)
		return nil
	}
	if err := t.dt.Barrier(ctx); err != nil {
		t.abort(err)
		return nil
	}
	t.committed = true
	m.opts.Hooks.fire(FailAfterCommitFlag)

	for _, p := range t.frees {
		if err := m.heap.MarkFree(p); err != nil {
			return fmt.Errorf("tx: committed, reclaim deferred to recovery: %w", t.strand("commit", err))
		}
	}
	if err := t.finish(ctx, t.frees); err != nil {
		return fmt.Errorf("tx: committed, reclaim deferred to recovery: %w", err)
	}
	return nil
}

// finish frees the log blocks, returns the lane to IDLE and only then
// makes the given cells and the blocks reusable.
func (t *Tx) finish(ctx context.Context, release []int) error {
	m := t.m
	for _, b := range t.log.blocks {
		if err := m.heap.MarkFree(b); err != nil {
			return t.strand("reclaim", err)
		}
	}
	m.opts.Hooks.fire(FailBeforeLaneReleased)
	err := writeLane(m.st.Bytes(), t.dt, format.Lane{Index: t.lane, State: format.LaneIdle, Gen: t.gen})
	if err != nil {
		return t.strand("reclaim", err)
	}
	if err := t.dt.Barrier(ctx); err != nil {
		return t.strand("reclaim", err)
	}

	cells := make([]int, 0, len(release)+len(t.log.blocks))
	cells = append(cells, release...)
	cells = append(cells, t.log.blocks...)
	m.release(t.lane)
	if err := m.heap.Release(cells...); err != nil {
		m.logger.Warn("tx: release failed, cells reclaimed at next open", "lane", t.lane, "err", err)
	}
	return nil
}

// strand keeps the lane out of circulation after a failure that left it
// non-IDLE on disk. Recovery at the next open completes it.
func (t *Tx) strand(stage string, err error) error {
	t.m.logger.Error("tx: lane stranded", "lane", t.lane, "gen", t.gen, "stage", stage, "err", err)
	return err
}
