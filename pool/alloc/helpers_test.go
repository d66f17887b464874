package alloc

import (
	"testing"

	"github.com/joshuapare/pmemtx/internal/format"
)

// memRegion is an in-memory heap for allocator tests.
type memRegion struct {
	data  []byte
	start int
}

func (m *memRegion) Bytes() []byte  { return m.data }
func (m *memRegion) HeapStart() int { return m.start }
func (m *memRegion) HeapEnd() int   { return len(m.data) }

// countingPersister records persisted ranges.
type countingPersister struct {
	calls int
	bytes int
}

func (c *countingPersister) Persist(_ int, n int) error {
	c.calls++
	c.bytes += n
	return nil
}

// newTestRegion builds a heap at 0x1000 made of the given cells. Positive
// sizes are free cells, negative sizes allocated cells of type 1.
func newTestRegion(t testing.TB, cells ...int) *memRegion {
	t.Helper()
	total := 0
	for _, c := range cells {
		total += max(c, -c)
	}
	m := &memRegion{data: make([]byte, 0x1000+total), start: 0x1000}
	off := m.start
	for _, c := range cells {
		size := max(c, -c)
		format.PutCellHeader(m.data, off, size, c < 0, 1)
		off += size
	}
	return m
}

func newLoaded(t testing.TB, cells ...int) (*FitAllocator, *memRegion, *countingPersister) {
	t.Helper()
	m := newTestRegion(t, cells...)
	pt := &countingPersister{}
	fa := New(m, pt)
	if err := fa.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return fa, m, pt
}

func cellHeader(m *memRegion, off int) (size int64, typ uint32) {
	return format.ReadI64(m.data, off), format.ReadU32(m.data, off+format.CellTypeOffset)
}
