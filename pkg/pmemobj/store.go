package pmemobj

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/joshuapare/pmemtx/internal/format"
	"github.com/joshuapare/pmemtx/pkg/types"
	"github.com/joshuapare/pmemtx/pool"
	"github.com/joshuapare/pmemtx/pool/alloc"
	"github.com/joshuapare/pmemtx/pool/dirty"
	"github.com/joshuapare/pmemtx/pool/tx"
)

// Store is an open pool with its heap and transaction manager.
//
// A Store is safe for concurrent use. Each goroutine runs its own
// transactions (Update, Begin or NewTx).
type Store struct {
	p        *pool.Pool
	heap     *alloc.FitAllocator
	m        *tx.Manager
	opts     Options
	logger   *slog.Logger
	recovery tx.RecoveryReport
	closed   atomic.Bool
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Heap      alloc.Stats
	Lanes     int
	FreeLanes int
}

// Create makes a new pool file and opens it.
func Create(path string, copts CreateOptions, opts Options) (*Store, error) {
	p, err := pool.Create(path, copts.poolOptions())
	if err != nil {
		return nil, fmt.Errorf("pmemobj: create %s: %w", path, err)
	}
	s, err := attach(context.Background(), p, opts)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return s, nil
}

// Open maps an existing pool and recovers it. A missing file is NotFound; a
// damaged header, lane table, undo log or heap is Corrupt.
func Open(path string, opts Options) (*Store, error) {
	return OpenContext(context.Background(), path, opts)
}

// OpenContext is Open with a context checked before recovery starts.
func OpenContext(ctx context.Context, path string, opts Options) (*Store, error) {
	const op = "pmemobj.open"
	p, err := pool.Open(path, pool.OpenOptions{Layout: opts.Layout})
	if err != nil {
		return nil, classifyOpenError(op, path, err)
	}
	s, err := attach(ctx, p, opts)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return s, nil
}

func classifyOpenError(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return types.NotFound(op, path, err)
	case errors.Is(err, pool.ErrLayoutMismatch):
		return &types.Error{Kind: types.ErrKindInvalidState, Op: op, Msg: path, Err: err}
	case errors.Is(err, format.ErrSignatureMismatch),
		errors.Is(err, format.ErrChecksum),
		errors.Is(err, format.ErrVersion),
		errors.Is(err, format.ErrTruncated):
		return types.Corrupt(op, path, err)
	default:
		return fmt.Errorf("%s: %s: %w", op, path, err)
	}
}

func attach(ctx context.Context, p *pool.Pool, opts Options) (*Store, error) {
	const op = "pmemobj.open"
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
		opts.Logger = logger
	}

	report, err := tx.Recover(ctx, p, opts.txOptions())
	if err != nil {
		return nil, err
	}
	heap := alloc.New(p, dirty.NewTracker(p, opts.FlushMode))
	if err := heap.Load(); err != nil {
		return nil, types.Corrupt(op, "heap", err)
	}
	m, err := tx.NewManager(p, heap, opts.txOptions())
	if err != nil {
		return nil, err
	}
	logger.Debug("pool opened",
		"path", p.Path(),
		"uuid", p.UUID().String(),
		"layout", p.Header().Layout,
		"recovered_lanes", len(report.Lanes),
		"orphans", report.Orphans)
	return &Store{p: p, heap: heap, m: m, opts: opts, logger: logger, recovery: report}, nil
}

// Close unmaps the pool. Transactions still running are abandoned and
// rolled back by recovery at the next Open.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.p.Close()
}

// Path returns the pool file path.
func (s *Store) Path() string { return s.p.Path() }

// UUID returns the pool UUID recorded at creation.
func (s *Store) UUID() uuid.UUID { return s.p.UUID() }

// Layout returns the layout name recorded at creation.
func (s *Store) Layout() string { return s.p.Header().Layout }

// Root returns the handle of the root object.
func (s *Store) Root() types.Handle {
	return types.Handle{Pool: s.p.ID(), Off: s.p.RootOffset()}
}

// RootSize returns the root object size requested at creation.
func (s *Store) RootSize() int { return int(s.p.RootSize()) }

// Recovery returns what recovery did when the store was opened.
func (s *Store) Recovery() tx.RecoveryReport { return s.recovery }

// Stats returns allocator and lane statistics.
func (s *Store) Stats() Stats {
	return Stats{
		Heap:      s.heap.Stats(),
		Lanes:     int(s.p.LaneCount()),
		FreeLanes: s.m.FreeLanes(),
	}
}

// NewTx returns a transaction handle. A Tx belongs to one goroutine and
// can run many transactions in sequence.
func (s *Store) NewTx() *tx.Tx { return s.m.NewTx() }

// Begin starts a transaction on a new Tx and returns its outermost frame.
func (s *Store) Begin(ctx context.Context) (*tx.Frame, error) {
	return s.m.NewTx().Begin(ctx)
}

// Update runs fn in a transaction. The transaction commits when fn returns
// nil and aborts otherwise. Panics are not recovered; a panicking
// transaction is rolled back at the next Open.
func (s *Store) Update(ctx context.Context, fn func(f *tx.Frame) error) error {
	return s.m.NewTx().Run(ctx, fn)
}

// ZAlloc atomically allocates a zeroed object and stores its handle at
// field off of dst.
func (s *Store) ZAlloc(ctx context.Context, dst types.Handle, off, size int, typeNum uint32) (types.Handle, error) {
	var h types.Handle
	err := s.Update(ctx, func(f *tx.Frame) error {
		var err error
		if h, err = f.ZNew(size, typeNum); err != nil {
			return err
		}
		return f.SetHandle(dst, off, h)
	})
	if err != nil {
		return types.Null, err
	}
	return h, nil
}

func (s *Store) resolve(op string, h types.Handle) (int, int, uint32, error) {
	if h.IsNull() {
		return 0, 0, 0, types.NotFound(op, "null handle", nil)
	}
	if h.Pool != 0 && h.Pool != s.p.ID() {
		return 0, 0, 0, types.NotFound(op, h.String()+" belongs to another pool", nil)
	}
	size, typeNum, err := s.heap.UsableSize(int(h.Off))
	if err != nil {
		return 0, 0, 0, types.NotFound(op, h.String(), err)
	}
	return int(h.Off), size, typeNum, nil
}

// Direct returns the bytes of object h. Writes through the slice are only
// crash safe for ranges added to a running transaction.
func (s *Store) Direct(h types.Handle) ([]byte, error) {
	off, size, _, err := s.resolve("pmemobj.direct", h)
	if err != nil {
		return nil, err
	}
	return s.p.Bytes()[off : off+size : off+size], nil
}

// Size returns the usable size of object h, which may exceed the size
// requested at allocation.
func (s *Store) Size(h types.Handle) (int, error) {
	_, size, _, err := s.resolve("pmemobj.size", h)
	return size, err
}

// TypeOf returns the type number object h was allocated with.
func (s *Store) TypeOf(h types.Handle) (uint32, error) {
	_, _, typeNum, err := s.resolve("pmemobj.type", h)
	return typeNum, err
}

func (s *Store) field(op string, h types.Handle, off, width int) ([]byte, error) {
	base, size, _, err := s.resolve(op, h)
	if err != nil {
		return nil, err
	}
	if off < 0 || off > size-width {
		return nil, types.InvalidState(op, fmt.Sprintf("field [%d, %d) outside object of %d bytes", off, off+width, size))
	}
	return s.p.Bytes()[base+off : base+off+width], nil
}

// ReadU32 reads a little-endian 4-byte field of h.
func (s *Store) ReadU32(h types.Handle, off int) (uint32, error) {
	b, err := s.field("pmemobj.read", h, off, 4)
	if err != nil {
		return 0, err
	}
	return format.ReadU32(b, 0), nil
}

// ReadU64 reads a little-endian 8-byte field of h.
func (s *Store) ReadU64(h types.Handle, off int) (uint64, error) {
	b, err := s.field("pmemobj.read", h, off, 8)
	if err != nil {
		return 0, err
	}
	return format.ReadU64(b, 0), nil
}

// ReadHandle reads the handle stored at field off of h. A zero field reads
// as types.Null.
func (s *Store) ReadHandle(h types.Handle, off int) (types.Handle, error) {
	v, err := s.ReadU64(h, off)
	if err != nil || v == 0 {
		return types.Null, err
	}
	return types.Handle{Pool: s.p.ID(), Off: v}, nil
}

// Objects yields every live object of type typeNum in address order. The
// heap must not be modified while iterating. Reserved types yield nothing.
func (s *Store) Objects(typeNum uint32) iter.Seq[types.Handle] {
	return func(yield func(types.Handle) bool) {
		if typeNum >= format.TypeReservedBase {
			return
		}
		errStop := errors.New("stop")
		id := s.p.ID()
		err := alloc.Walk(s.p, func(c format.Cell) error {
			if c.Free || c.Type != typeNum {
				return nil
			}
			if !yield(types.Handle{Pool: id, Off: uint64(c.PayloadOffset())}) {
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			s.logger.Error("pmemobj: heap walk failed", "err", err)
		}
	}
}

// CountObjects returns the number of live objects of type typeNum.
func (s *Store) CountObjects(typeNum uint32) int {
	n := 0
	for range s.Objects(typeNum) {
		n++
	}
	return n
}
