package scenario

import (
	"context"
	"fmt"

	"github.com/joshuapare/pmemtx/internal/format"
	"github.com/joshuapare/pmemtx/pkg/pmemobj"
	"github.com/joshuapare/pmemtx/pkg/types"
	"github.com/joshuapare/pmemtx/pool/tx"
)

// mode is how a nested pass mutates its array.
type mode int

const (
	modeAdd    mode = iota // snapshot the object once, then write directly
	modeDirect             // write directly into an already snapshotted object
	modeSet                // log every element with a typed set
)

// array is n little-endian elements of width bytes at off within object h.
type array struct {
	h     types.Handle
	off   int
	n     int
	width int
}

func fooArray(h types.Handle) array  { return array{h: h, n: FooSize, width: 1} }
func barArray(h types.Handle) array  { return array{h: h, n: BarSize, width: 1} }
func rootArray(h types.Handle) array { return array{h: h, off: RootValues, n: NValues, width: 4} }

// nest opens depth nested frames under f. Every frame adds Value to each
// element of a after its children have run, so a full pass adds
// depth*Value.
func nest(ctx context.Context, s *pmemobj.Store, f *tx.Frame, a array, depth int, m mode) error {
	depth--
	inner, err := f.Tx().Begin(ctx)
	if err != nil {
		return err
	}
	err = nestBody(ctx, s, inner, a, depth, m)
	if err != nil && inner.State() == tx.Open {
		_ = inner.Abort(err)
	}
	if endErr := inner.End(); err == nil {
		err = endErr
	}
	return err
}

func nestBody(ctx context.Context, s *pmemobj.Store, f *tx.Frame, a array, depth int, m mode) error {
	if m == modeAdd {
		if err := f.Add(a.h); err != nil {
			return err
		}
		m = modeDirect
	}
	if depth >= 1 {
		if err := nest(ctx, s, f, a, depth, m); err != nil {
			return err
		}
	}

	b, err := s.Direct(a.h)
	if err != nil {
		return err
	}
	for i := range a.n {
		at := a.off + i*a.width
		v := addValue(format.ReadWidth(b, at, a.width), a.width)
		switch m {
		case modeSet:
			if err := setWidth(f, a.h, at, a.width, v); err != nil {
				return err
			}
		case modeDirect:
			format.PutWidth(b, at, a.width, v)
		}
	}
	return nil
}

// addValue adds Value to v, wrapping at the element width.
func addValue(v uint64, width int) uint64 {
	v += Value
	if width < 8 {
		v &= 1<<(8*width) - 1
	}
	return v
}

func setWidth(f *tx.Frame, h types.Handle, off, width int, v uint64) error {
	switch width {
	case 1:
		return f.SetU8(h, off, uint8(v))
	case 2:
		return f.SetU16(h, off, uint16(v))
	case 4:
		return f.SetU32(h, off, uint32(v))
	case 8:
		return f.SetU64(h, off, v)
	default:
		return fmt.Errorf("scenario: unsupported element width %d", width)
	}
}

// checkArray reports the first element of a that does not hold want.
func checkArray(s *pmemobj.Store, a array, want uint64) (int, uint64, error) {
	b, err := s.Direct(a.h)
	if err != nil {
		return 0, 0, err
	}
	for i := range a.n {
		if v := format.ReadWidth(b, a.off+i*a.width, a.width); v != want {
			return i, v, nil
		}
	}
	return -1, 0, nil
}

// expectArray runs checkArray and turns a mismatch into a VerifyError.
func expectArray(s *pmemobj.Store, sc, code int, name string, a array, want uint64) error {
	i, got, err := checkArray(s, a, want)
	if err != nil {
		return fmt.Errorf("scenario %d: %s: %w", sc, name, err)
	}
	if i >= 0 {
		return mismatch(sc, code, "%s[%d] = %d, want %d", name, i, got, want)
	}
	return nil
}

func rootHandles(s *pmemobj.Store) (foo, bar types.Handle, err error) {
	if foo, err = s.ReadHandle(s.Root(), RootFoo); err != nil {
		return
	}
	bar, err = s.ReadHandle(s.Root(), RootBar)
	return
}
