package tx

import (
	"fmt"

	"github.com/joshuapare/pmemtx/internal/format"
	"github.com/joshuapare/pmemtx/pkg/types"
)

// Disposition is the lifecycle state of a frame.
type Disposition uint8

const (
	Open Disposition = iota
	Committing
	Committed
	Aborting
	Aborted
)

func (d Disposition) String() string {
	switch d {
	case Open:
		return "OPEN"
	case Committing:
		return "COMMITTING"
	case Committed:
		return "COMMITTED"
	case Aborting:
		return "ABORTING"
	case Aborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("Disposition(%d)", uint8(d))
	}
}

// Frame is one level of a (possibly nested) transaction. All mutating
// operations must be called on the innermost open frame.
type Frame struct {
	tx       *Tx
	depth    int
	state    Disposition
	logStart int // entries logged before this frame began

	onCommit []func()
	onAbort  []func()
	finally  []func()
}

// Tx returns the transaction the frame belongs to.
func (f *Frame) Tx() *Tx { return f.tx }

// Depth returns 0 for the outermost frame.
func (f *Frame) Depth() int { return f.depth }

// State returns the frame's disposition.
func (f *Frame) State() Disposition { return f.state }

// Err returns the abort error once the transaction has been rolled back.
func (f *Frame) Err() error {
	if f.state != Aborting && f.state != Aborted {
		return nil
	}
	return f.tx.abortErr()
}

// OnCommit registers fn to run when this frame commits.
func (f *Frame) OnCommit(fn func()) error { return f.register(&f.onCommit, fn) }

// OnAbort registers fn to run when this frame ends aborted.
func (f *Frame) OnAbort(fn func()) error { return f.register(&f.onAbort, fn) }

// Finally registers fn to run when this frame ends, after OnCommit or
// OnAbort callbacks.
func (f *Frame) Finally(fn func()) error { return f.register(&f.finally, fn) }

func (f *Frame) register(list *[]func(), fn func()) error {
	const op = "tx.callback"
	t := f.tx
	if err := t.enter(op); err != nil {
		return err
	}
	defer t.exit()
	if f.state != Open {
		return types.InvalidState(op, "frame is "+f.state.String())
	}
	*list = append(*list, fn)
	return nil
}

func (f *Frame) runCallbacks() {
	switch f.state {
	case Committed:
		for _, fn := range f.onCommit {
			fn()
		}
	case Aborted:
		for _, fn := range f.onAbort {
			fn()
		}
	}
	for _, fn := range f.finally {
		fn()
	}
}

// check rejects operations on anything but the innermost open frame.
func (f *Frame) check(op string) error {
	t := f.tx
	if len(t.frames) == 0 || t.top() != f {
		return types.InvalidState(op, fmt.Sprintf("frame at depth %d is not the innermost frame", f.depth))
	}
	if f.state == Aborting {
		return fmt.Errorf("%w: %w", types.InvalidState(op, "frame is ABORTING"), t.abortErr())
	}
	if f.state != Open {
		return types.InvalidState(op, "frame is "+f.state.String())
	}
	return nil
}

// fail aborts the transaction for every error except an unresolvable
// handle, which is left to the caller.
func (f *Frame) fail(err error) error {
	if types.KindOf(err) == types.ErrKindNotFound {
		return err
	}
	f.tx.abort(err)
	return err
}

// Add snapshots the whole object h.
func (f *Frame) Add(h types.Handle) error {
	_, err := f.add("tx.add", h, 0, -1)
	return err
}

// AddRange snapshots n bytes of h starting at off. Bytes already
// snapshotted by this transaction are not logged again.
func (f *Frame) AddRange(h types.Handle, off, n int) error {
	_, err := f.add("tx.add_range", h, off, n)
	return err
}

// AddObject snapshots the whole object h and returns its bytes for direct
// mutation. The slice is flushed when the transaction commits.
func (f *Frame) AddObject(h types.Handle) ([]byte, error) {
	return f.add("tx.add_object", h, 0, -1)
}

func (f *Frame) add(op string, h types.Handle, off, n int) ([]byte, error) {
	t := f.tx
	if err := t.enter(op); err != nil {
		return nil, err
	}
	defer t.exit()
	if err := f.check(op); err != nil {
		return nil, err
	}
	base, size, err := t.resolveWritable(op, h)
	if err != nil {
		return nil, f.fail(err)
	}
	if n < 0 {
		n = size
	}
	if err := checkSpan(op, size, off, n); err != nil {
		return nil, f.fail(err)
	}
	if err := t.snapshot(base, off, n); err != nil {
		return nil, f.fail(err)
	}
	t.dt.Add(base+off, n)
	return t.m.st.Bytes()[base+off : base+off+n : base+off+n], nil
}

// SetU8 logs and writes a 1-byte field.
func (f *Frame) SetU8(h types.Handle, off int, v uint8) error {
	return f.set("tx.set", h, off, 1, uint64(v))
}

// SetU16 logs and writes a little-endian 2-byte field.
func (f *Frame) SetU16(h types.Handle, off int, v uint16) error {
	return f.set("tx.set", h, off, 2, uint64(v))
}

// SetU32 logs and writes a little-endian 4-byte field.
func (f *Frame) SetU32(h types.Handle, off int, v uint32) error {
	return f.set("tx.set", h, off, 4, uint64(v))
}

// SetU64 logs and writes a little-endian 8-byte field.
func (f *Frame) SetU64(h types.Handle, off int, v uint64) error {
	return f.set("tx.set", h, off, 8, v)
}

// SetHandle stores v in the handle field at off.
func (f *Frame) SetHandle(h types.Handle, off int, v types.Handle) error {
	return f.set("tx.set_handle", h, off, types.HandleSize, v.Off)
}

func (f *Frame) set(op string, h types.Handle, off, width int, v uint64) error {
	t := f.tx
	if err := t.enter(op); err != nil {
		return err
	}
	defer t.exit()
	if err := f.check(op); err != nil {
		return err
	}
	base, size, err := t.resolveWritable(op, h)
	if err != nil {
		return f.fail(err)
	}
	if err := checkSpan(op, size, off, width); err != nil {
		return f.fail(err)
	}
	if err := t.logSet(base, off, width); err != nil {
		return f.fail(err)
	}
	abs := base + off
	format.PutWidth(t.m.st.Bytes(), abs, width, v)
	if err := t.dt.Persist(abs, width); err != nil {
		return f.fail(err)
	}
	return nil
}

// SetBytes logs and overwrites len(b) bytes of h at off.
func (f *Frame) SetBytes(h types.Handle, off int, b []byte) error {
	const op = "tx.set_bytes"
	t := f.tx
	if err := t.enter(op); err != nil {
		return err
	}
	defer t.exit()
	if err := f.check(op); err != nil {
		return err
	}
	base, size, err := t.resolveWritable(op, h)
	if err != nil {
		return f.fail(err)
	}
	if err := checkSpan(op, size, off, len(b)); err != nil {
		return f.fail(err)
	}
	if err := t.snapshot(base, off, len(b)); err != nil {
		return f.fail(err)
	}
	abs := base + off
	copy(t.m.st.Bytes()[abs:abs+len(b)], b)
	if err := t.dt.Persist(abs, len(b)); err != nil {
		return f.fail(err)
	}
	return nil
}

// New allocates an object of size bytes. Its contents are undefined.
func (f *Frame) New(size int, typeNum uint32) (types.Handle, error) {
	return f.alloc("tx.new", size, typeNum, false)
}

// ZNew allocates a zeroed object of size bytes.
func (f *Frame) ZNew(size int, typeNum uint32) (types.Handle, error) {
	return f.alloc("tx.znew", size, typeNum, true)
}

func (f *Frame) alloc(op string, size int, typeNum uint32, zero bool) (types.Handle, error) {
	t := f.tx
	if err := t.enter(op); err != nil {
		return types.Null, err
	}
	defer t.exit()
	if err := f.check(op); err != nil {
		return types.Null, err
	}
	h, err := t.allocate(op, size, typeNum, zero)
	if err != nil {
		return types.Null, f.fail(err)
	}
	return h, nil
}

// Free schedules h to be freed when the transaction commits. Until then the
// object stays readable and writable.
func (f *Frame) Free(h types.Handle) error {
	const op = "tx.free"
	t := f.tx
	if err := t.enter(op); err != nil {
		return err
	}
	defer t.exit()
	if err := f.check(op); err != nil {
		return err
	}
	if err := t.free(op, h); err != nil {
		return f.fail(err)
	}
	return nil
}

// Abort rolls back the whole transaction immediately. This frame and its
// ancestors become ABORTING; each still has to be ended. A nil cause is
// recorded as ErrUserAbort.
func (f *Frame) Abort(cause error) error {
	const op = "tx.abort"
	t := f.tx
	if err := t.enter(op); err != nil {
		return err
	}
	defer t.exit()
	if err := f.check(op); err != nil {
		return err
	}
	if cause == nil {
		cause = ErrUserAbort
	}
	t.abort(cause)
	return nil
}

// End closes the frame. An open outermost frame commits; an open nested
// frame is merged into its parent. A frame of an aborted transaction ends
// ABORTED and End returns an error wrapping ErrAborted. Callbacks run after
// the frame is popped.
func (f *Frame) End() error {
	const op = "tx.end"
	t := f.tx
	if err := t.enter(op); err != nil {
		return err
	}
	if len(t.frames) == 0 || t.top() != f {
		t.exit()
		return types.InvalidState(op, fmt.Sprintf("frame at depth %d is not the innermost frame", f.depth))
	}

	var err error
	if f.state == Open {
		f.state = Committing
		if f.depth == 0 {
			err = t.commitOuter()
		}
		if f.state == Committing {
			f.state = Committed
		}
	}
	if f.state == Aborting {
		f.state = Aborted
		err = t.abortErr()
	}

	t.frames = t.frames[:len(t.frames)-1]
	if len(t.frames) == 0 {
		t.reset()
	}
	t.exit()
	f.runCallbacks()
	return err
}

func checkSpan(op string, size, off, n int) error {
	if off < 0 || n < 0 || off > size || n > size-off {
		return types.InvalidState(op, fmt.Sprintf("range [%d, %d) outside object of %d bytes", off, off+n, size))
	}
	return nil
}
