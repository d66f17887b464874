package tx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pmemtx/internal/format"
	"github.com/joshuapare/pmemtx/pkg/types"
	"github.com/joshuapare/pmemtx/pool"
	"github.com/joshuapare/pmemtx/pool/alloc"
	"github.com/joshuapare/pmemtx/pool/dirty"
)

const testRootSize = 256

// testEnv is a pool with a recovered heap and a manager on top of it.
type testEnv struct {
	t      *testing.T
	path   string
	p      *pool.Pool
	heap   *alloc.FitAllocator
	m      *Manager
	root   types.Handle
	report RecoveryReport
	free0  int64 // free bytes of the freshly created pool
}

func fastOptions() Options {
	return Options{FlushMode: dirty.FlushNone}
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tx.pool")
	p, err := pool.Create(path, pool.CreateOptions{Size: 4 << 20, RootSize: testRootSize, Lanes: 4})
	require.NoError(t, err)

	e := &testEnv{t: t, path: path}
	e.attach(p, opts)
	e.free0 = e.heap.Stats().FreeBytes
	t.Cleanup(func() { _ = e.p.Close() })
	return e
}

func (e *testEnv) attach(p *pool.Pool, opts Options) {
	e.t.Helper()
	report, err := Recover(context.Background(), p, opts)
	require.NoError(e.t, err)
	heap := alloc.New(p, dirty.NewTracker(p, opts.FlushMode))
	require.NoError(e.t, heap.Load())
	m, err := NewManager(p, heap, opts)
	require.NoError(e.t, err)

	e.p, e.heap, e.m, e.report = p, heap, m, report
	e.root = types.Handle{Pool: p.ID(), Off: p.RootOffset()}
}

// reopen abandons the manager and everything running on it, as a crashed
// process would, then maps the pool again and recovers it.
func (e *testEnv) reopen(opts Options) {
	e.t.Helper()
	require.NoError(e.t, e.p.Close())
	p, err := pool.Open(e.path, pool.OpenOptions{})
	require.NoError(e.t, err)
	e.p = p
	e.attach(p, opts)
}

// reopenErr is reopen for pools expected to fail recovery.
func (e *testEnv) reopenErr(opts Options) error {
	e.t.Helper()
	require.NoError(e.t, e.p.Close())
	p, err := pool.Open(e.path, pool.OpenOptions{})
	require.NoError(e.t, err)
	e.p = p
	_, err = Recover(context.Background(), p, opts)
	return err
}

func (e *testEnv) rootU64(off int) uint64 {
	return format.ReadU64(e.p.Bytes(), int(e.root.Off)+off)
}

func (e *testEnv) lane(i uint32) format.Lane {
	e.t.Helper()
	l, err := format.ParseLane(e.p.Bytes()[format.LaneOffset(i):], i)
	require.NoError(e.t, err)
	return l
}

// busyLane returns the only lane that is not IDLE.
func (e *testEnv) busyLane() format.Lane {
	e.t.Helper()
	var busy []format.Lane
	for i := range e.p.LaneCount() {
		if l := e.lane(i); l.State != format.LaneIdle {
			busy = append(busy, l)
		}
	}
	require.Len(e.t, busy, 1)
	return busy[0]
}

// requireHeapAtRest checks that nothing but the root and live objects
// occupies the heap: no log blocks, and free space as expected.
func (e *testEnv) requireHeapAtRest(live int) {
	e.t.Helper()
	var objects, blocks int
	require.NoError(e.t, alloc.Walk(e.p, func(c format.Cell) error {
		if c.Free {
			return nil
		}
		switch c.Type {
		case format.TypeRoot:
		case format.TypeLogBlock:
			blocks++
		default:
			objects++
		}
		return nil
	}))
	require.Zero(e.t, blocks, "log blocks left allocated")
	require.Equal(e.t, live, objects, "live objects")
	if live == 0 {
		require.Equal(e.t, e.free0, e.heap.Stats().FreeBytes, "free space fully reclaimed")
	}
}

// crashed is the panic value raised at a fail point.
type crashed struct{ point string }

func failAt(point string) Hooks {
	return Hooks{FailPoint: func(name string) {
		if name == point {
			panic(crashed{point})
		}
	}}
}

func withHooks(opts Options, h Hooks) Options {
	opts.Hooks = h
	return opts
}

// expectCrash runs fn and requires it to stop at point.
func expectCrash(t *testing.T, point string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		c, ok := r.(crashed)
		require.True(t, ok, "expected crash at %s, got %v", point, r)
		require.Equal(t, point, c.point)
	}()
	fn()
}
