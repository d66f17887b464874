package scenario

import (
	"context"
	"errors"

	"github.com/joshuapare/pmemtx/internal/format"
	"github.com/joshuapare/pmemtx/pkg/pmemobj"
	"github.com/joshuapare/pmemtx/pkg/types"
	"github.com/joshuapare/pmemtx/pool/tx"
)

// sc0: one whole-root snapshot, then a direct write.
func sc0Create(ctx context.Context, s *pmemobj.Store, trap *Trap) error {
	root := s.Root()
	trap.Arm()
	return s.Update(ctx, func(f *tx.Frame) error {
		b, err := f.AddObject(root)
		if err != nil {
			return err
		}
		format.PutU32(b, RootValues, Value)
		return nil
	})
}

func sc0VerifyAbort(_ context.Context, s *pmemobj.Store) error {
	if s.RootSize() != RootSize {
		return mismatch(0, 1, "root size %d, want %d", s.RootSize(), RootSize)
	}
	return sc0Value(s, 2, 0)
}

func sc0VerifyCommit(_ context.Context, s *pmemobj.Store) error {
	if s.RootSize() != RootSize {
		return mismatch(0, 3, "root size %d, want %d", s.RootSize(), RootSize)
	}
	return sc0Value(s, 4, Value)
}

func sc0Value(s *pmemobj.Store, code int, want uint32) error {
	v, err := s.ReadU32(s.Root(), RootValues)
	if err != nil {
		return err
	}
	if v != want {
		return mismatch(0, code, "value[0] = %d, want %d", v, want)
	}
	return nil
}

// sc1: one small-object snapshot, then a direct write.
func sc1Create(ctx context.Context, s *pmemobj.Store, trap *Trap) error {
	foo, err := s.ZAlloc(ctx, s.Root(), RootFoo, FooSize, TypeFoo)
	if err != nil {
		return err
	}
	trap.Arm()
	return s.Update(ctx, func(f *tx.Frame) error {
		b, err := f.AddObject(foo)
		if err != nil {
			return err
		}
		b[0] = Value
		return nil
	})
}

func sc1Verify(s *pmemobj.Store, code int, want uint8) error {
	foo, _, err := rootHandles(s)
	if err != nil {
		return err
	}
	b, err := s.Direct(foo)
	if err != nil {
		return err
	}
	if b[0] != want {
		return mismatch(1, code, "foo[0] = %d, want %d", b[0], want)
	}
	return nil
}

func sc1VerifyAbort(_ context.Context, s *pmemobj.Store) error  { return sc1Verify(s, 5, 0) }
func sc1VerifyCommit(_ context.Context, s *pmemobj.Store) error { return sc1Verify(s, 6, Value) }

// sc2: two nested add passes over the root values.
func sc2Create(ctx context.Context, s *pmemobj.Store, trap *Trap) error {
	a := rootArray(s.Root())
	return s.Update(ctx, func(f *tx.Frame) error {
		if err := nest(ctx, s, f, a, Recursion, modeAdd); err != nil {
			return err
		}
		trap.Arm()
		return nest(ctx, s, f, a, Recursion, modeAdd)
	})
}

func sc2VerifyAbort(_ context.Context, s *pmemobj.Store) error {
	return expectArray(s, 2, 7, "root.value", rootArray(s.Root()), 0)
}

func sc2VerifyCommit(_ context.Context, s *pmemobj.Store) error {
	return expectArray(s, 2, 8, "root.value", rootArray(s.Root()), Committed)
}

// sc3: two nested set passes over every byte of a large object.
func sc3Create(ctx context.Context, s *pmemobj.Store, trap *Trap) error {
	bar, err := s.ZAlloc(ctx, s.Root(), RootBar, BarSize, TypeBar)
	if err != nil {
		return err
	}
	a := barArray(bar)
	return s.Update(ctx, func(f *tx.Frame) error {
		if err := nest(ctx, s, f, a, Recursion, modeSet); err != nil {
			return err
		}
		trap.Arm()
		return nest(ctx, s, f, a, Recursion, modeSet)
	})
}

func sc3Verify(s *pmemobj.Store, code int, want uint64) error {
	_, bar, err := rootHandles(s)
	if err != nil {
		return err
	}
	return expectArray(s, 3, code, "bar", barArray(bar), want)
}

func sc3VerifyAbort(_ context.Context, s *pmemobj.Store) error  { return sc3Verify(s, 9, 0) }
func sc3VerifyCommit(_ context.Context, s *pmemobj.Store) error { return sc3Verify(s, 10, Committed) }

// sc4 and sc5: two nested passes over a small object, by add and by set.
func smallCreate(m mode) func(context.Context, *pmemobj.Store, *Trap) error {
	return func(ctx context.Context, s *pmemobj.Store, trap *Trap) error {
		foo, err := s.ZAlloc(ctx, s.Root(), RootFoo, FooSize, TypeFoo)
		if err != nil {
			return err
		}
		a := fooArray(foo)
		return s.Update(ctx, func(f *tx.Frame) error {
			if err := nest(ctx, s, f, a, Recursion, m); err != nil {
				return err
			}
			trap.Arm()
			return nest(ctx, s, f, a, Recursion, m)
		})
	}
}

var (
	sc4Create = smallCreate(modeAdd)
	sc5Create = smallCreate(modeSet)
)

func smallVerify(sc, code int, want uint64) func(context.Context, *pmemobj.Store) error {
	return func(_ context.Context, s *pmemobj.Store) error {
		foo, _, err := rootHandles(s)
		if err != nil {
			return err
		}
		return expectArray(s, sc, code, "foo", fooArray(foo), want)
	}
}

var (
	sc4VerifyAbort  = smallVerify(4, 11, 0)
	sc4VerifyCommit = smallVerify(4, 12, Committed)
	sc5VerifyAbort  = smallVerify(5, 11, 0)
	sc5VerifyCommit = smallVerify(5, 12, Committed)
)

// sc6: freeing a small and a large object.
func sc6Create(ctx context.Context, s *pmemobj.Store, trap *Trap) error {
	root := s.Root()
	err := s.Update(ctx, func(f *tx.Frame) error {
		foo, err := f.New(FooSize, TypeFoo)
		if err != nil {
			return err
		}
		if err := f.SetHandle(root, RootFoo, foo); err != nil {
			return err
		}
		bar, err := f.New(BarSize, TypeBar)
		if err != nil {
			return err
		}
		return f.SetHandle(root, RootBar, bar)
	})
	if err != nil {
		return err
	}

	trap.Arm()
	return s.Update(ctx, freeBoth(s))
}

func freeBoth(s *pmemobj.Store) func(*tx.Frame) error {
	return func(f *tx.Frame) error {
		foo, bar, err := rootHandles(s)
		if err != nil {
			return err
		}
		if err := f.Free(foo); err != nil {
			return err
		}
		return f.Free(bar)
	}
}

// sc6VerifyAbort frees both objects again, which only works if the
// interrupted free was undone.
func sc6VerifyAbort(ctx context.Context, s *pmemobj.Store) error {
	if err := s.Update(ctx, freeBoth(s)); err != nil {
		return &VerifyError{Scenario: 6, Code: 13, Msg: "objects not restored: " + err.Error()}
	}
	return nil
}

func sc6VerifyCommit(_ context.Context, s *pmemobj.Store) error {
	foo, bar, err := rootHandles(s)
	if err != nil {
		return err
	}
	for h := range s.Objects(TypeFoo) {
		if h.Off != foo.Off {
			return mismatch(6, 13, "unexpected foo object %s", h)
		}
	}
	for h := range s.Objects(TypeBar) {
		if h.Off != bar.Off {
			return mismatch(6, 14, "unexpected bar object %s", h)
		}
	}
	return nil
}

// sc7: set passes over every object, then add passes over the same ranges.
func sc7Create(ctx context.Context, s *pmemobj.Store, trap *Trap) error {
	root := s.Root()
	bar, err := s.ZAlloc(ctx, root, RootBar, BarSize, TypeBar)
	if err != nil {
		return err
	}
	foo, err := s.ZAlloc(ctx, root, RootFoo, FooSize, TypeFoo)
	if err != nil {
		return err
	}
	arrays := []array{fooArray(foo), barArray(bar), rootArray(root)}
	return s.Update(ctx, func(f *tx.Frame) error {
		for _, a := range arrays {
			if err := nest(ctx, s, f, a, Recursion, modeSet); err != nil {
				return err
			}
		}
		trap.Arm()
		for _, a := range arrays {
			if err := nest(ctx, s, f, a, Recursion, modeAdd); err != nil {
				return err
			}
		}
		return nil
	})
}

func sc7Verify(s *pmemobj.Store, code int, want uint64) error {
	foo, bar, err := rootHandles(s)
	if err != nil {
		return err
	}
	return errors.Join(
		expectArray(s, 7, code, "foo", fooArray(foo), want),
		expectArray(s, 7, code+1, "bar", barArray(bar), want),
		expectArray(s, 7, code+2, "root.value", rootArray(s.Root()), want),
	)
}

func sc7VerifyAbort(_ context.Context, s *pmemobj.Store) error  { return sc7Verify(s, 18, 0) }
func sc7VerifyCommit(_ context.Context, s *pmemobj.Store) error { return sc7Verify(s, 21, Committed) }

// fillCount allocates objects of size until the heap is exhausted, rolls
// that transaction back and returns how many allocations fit.
func fillCount(ctx context.Context, s *pmemobj.Store, size int, typeNum uint32) (int, error) {
	n := 0
	err := s.Update(ctx, func(f *tx.Frame) error {
		for {
			if _, err := f.New(size, typeNum); err != nil {
				return err
			}
			n++
		}
	})
	if !errors.Is(err, types.ErrResourceExhausted) {
		return 0, err
	}
	return n, nil
}

func allocN(ctx context.Context, s *pmemobj.Store, n, size int, typeNum uint32) error {
	return s.Update(ctx, func(f *tx.Frame) error {
		for range n {
			if _, err := f.New(size, typeNum); err != nil {
				return err
			}
		}
		return nil
	})
}

// fillCreate allocates as many objects as the heap holds in the trapped
// transaction.
func fillCreate(size int, typeNum uint32) func(context.Context, *pmemobj.Store, *Trap) error {
	return func(ctx context.Context, s *pmemobj.Store, trap *Trap) error {
		n, err := fillCount(ctx, s, size, typeNum)
		if err != nil {
			return err
		}
		trap.Arm()
		return allocN(ctx, s, n, size, typeNum)
	}
}

var (
	sc8Create = fillCreate(FooSize, TypeFoo)
	sc9Create = fillCreate(BarSize, TypeBar)
)

func sc8VerifyAbort(_ context.Context, s *pmemobj.Store) error {
	if n := s.CountObjects(TypeFoo); n != 0 {
		return mismatch(8, 15, "%d foo objects survived an aborted allocation", n)
	}
	return nil
}

func sc8VerifyCommit(_ context.Context, s *pmemobj.Store) error {
	if s.CountObjects(TypeFoo) == 0 {
		return mismatch(8, 16, "committed foo objects missing")
	}
	return nil
}

// sc9VerifyAbort allocates one more large object, which only fits if the
// interrupted allocations were released.
func sc9VerifyAbort(ctx context.Context, s *pmemobj.Store) error {
	if err := allocN(ctx, s, 1, BarSize, TypeBar); err != nil {
		return &VerifyError{Scenario: 9, Code: 17, Msg: "heap not reclaimed: " + err.Error()}
	}
	return nil
}

func sc9VerifyCommit(_ context.Context, s *pmemobj.Store) error {
	if s.CountObjects(TypeBar) == 0 {
		return mismatch(9, 17, "committed bar objects missing")
	}
	return nil
}
