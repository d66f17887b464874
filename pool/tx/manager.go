package tx

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joshuapare/pmemtx/internal/format"
	"github.com/joshuapare/pmemtx/pkg/types"
	"github.com/joshuapare/pmemtx/pool/alloc"
	"github.com/joshuapare/pmemtx/pool/dirty"
)

// Storage is the mapped pool a Manager works on. *pool.Pool implements it.
type Storage interface {
	Bytes() []byte
	HeapStart() int
	HeapEnd() int
	LaneCount() uint32
	ID() uint64
	Flush(off, n int) error
	Sync(full bool) error
}

// Heap is the allocator surface used by transactions.
// *alloc.FitAllocator implements it.
type Heap interface {
	Reserve(size int, typeNum uint32) (alloc.Reservation, error)
	Publish(r alloc.Reservation, zero bool) error
	Cancel(r alloc.Reservation)
	MarkFree(payload int) error
	Release(payloads ...int) error
	UsableSize(payload int) (int, uint32, error)
}

var (
	_ dirty.Flusher = Storage(nil)
	_ alloc.Region  = Storage(nil)
	_ Heap          = (*alloc.FitAllocator)(nil)
)

// Manager hands out lanes to transactions.
//
// The manager is safe for concurrent use. Every lane must be IDLE when the
// manager is created, which is what Recover guarantees.
type Manager struct {
	st     Storage
	heap   Heap
	opts   Options
	logger *slog.Logger
	lanes  chan uint32
}

// NewManager creates a transaction manager over st and heap.
func NewManager(st Storage, heap Heap, opts Options) (*Manager, error) {
	opts = opts.withDefaults()
	n := st.LaneCount()
	m := &Manager{
		st:     st,
		heap:   heap,
		opts:   opts,
		logger: opts.Logger,
		lanes:  make(chan uint32, n),
	}
	data := st.Bytes()
	for i := range n {
		l, err := format.ParseLane(data[format.LaneOffset(i):], i)
		if err != nil {
			return nil, types.Corrupt("tx.manager", "lane table", err)
		}
		if l.State != format.LaneIdle {
			return nil, types.InvalidState("tx.manager", fmt.Sprintf("lane %d is %s, recovery required", i, l.State))
		}
		m.lanes <- i
	}
	return m, nil
}

// NewTx returns a transaction handle for the calling goroutine.
func (m *Manager) NewTx() *Tx {
	return &Tx{
		m:       m,
		dt:      dirty.NewTracker(m.st, m.opts.FlushMode),
		covered: newRangeSet(),
	}
}

// FreeLanes returns the number of lanes not held by a transaction.
func (m *Manager) FreeLanes() int { return len(m.lanes) }

// Options returns the effective options.
func (m *Manager) Options() Options { return m.opts }

func (m *Manager) acquire(ctx context.Context) (uint32, error) {
	select {
	case l := <-m.lanes:
		return l, nil
	default:
	}
	select {
	case l := <-m.lanes:
		return l, nil
	case <-ctx.Done():
		return 0, types.Exhausted("tx.begin", "no free lane", ctx.Err())
	}
}

func (m *Manager) release(lane uint32) {
	m.lanes <- lane
}

// writeLane stores l into the lane table. The generation and first block are
// persisted before the state so a crash never pairs a new state with an old
// chain.
func writeLane(data []byte, pt alloc.Persister, l format.Lane) error {
	off := format.LaneOffset(l.Index)
	format.PutU64(data, off+format.LaneGenOffset, l.Gen)
	format.PutU64(data, off+format.LaneFirstBlockOffset, l.FirstBlock)
	if err := pt.Persist(off+format.LaneGenOffset, 16); err != nil {
		return err
	}
	format.PutU64(data, off+format.LaneStateOffset, uint64(l.State))
	return pt.Persist(off+format.LaneStateOffset, 8)
}
