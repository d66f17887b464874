package alloc

import (
	"fmt"
	"sync"

	"github.com/tidwall/btree"

	"github.com/joshuapare/pmemtx/internal/format"
)

// FitAllocator is a best-fit allocator over the pool heap.
//   - bySize gives O(log n) best-fit placement
//   - byOff gives O(log n) neighbour lookup for coalescing
type FitAllocator struct {
	mu     sync.Mutex
	r      Region
	pt     Persister
	byOff  *btree.BTreeG[freeCell]
	bySize *btree.BTreeG[freeCell]
	stats  Stats
}

// New returns an allocator with an empty index. Call Load before use.
func New(r Region, pt Persister) *FitAllocator {
	opts := btree.Options{NoLocks: true}
	return &FitAllocator{
		r:      r,
		pt:     pt,
		byOff:  btree.NewBTreeGOptions(byOffLess, opts),
		bySize: btree.NewBTreeGOptions(bySizeLess, opts),
	}
}

// Load walks the heap, merges runs of adjacent free cells into one cell
// (durably) and indexes every free cell. It must run after recovery, when
// no lane holds cells awaiting release.
func (fa *FitAllocator) Load() error {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	fa.byOff.Clear()
	fa.bySize.Clear()
	fa.stats.FreeCells, fa.stats.FreeBytes = 0, 0

	var run freeCell
	flush := func() error {
		if run.size == 0 {
			return nil
		}
		data := fa.r.Bytes()
		if format.ReadI64(data, run.off) != int64(run.size) {
			format.PutI64(data, run.off+format.CellSizeOffset, int64(run.size))
			if err := fa.pt.Persist(run.off, format.CellHeaderSize); err != nil {
				return err
			}
			fa.stats.Coalesces++
		}
		fa.insert(run)
		run = freeCell{}
		return nil
	}
	err := Walk(fa.r, func(c format.Cell) error {
		if !c.Free {
			return flush()
		}
		if run.size == 0 {
			run = freeCell{off: c.Offset, size: c.Size}
		} else {
			run.size += c.Size
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// Reserve takes the best-fitting free cell for a payload of size bytes out
// of the index. Nothing is written until Publish.
func (fa *FitAllocator) Reserve(size int, typeNum uint32) (Reservation, error) {
	if size < 0 {
		return Reservation{}, fmt.Errorf("alloc: negative size %d", size)
	}
	need := format.CellSizeFor(size)
	if need > fa.r.HeapEnd()-fa.r.HeapStart() {
		return Reservation{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}

	fa.mu.Lock()
	defer fa.mu.Unlock()

	var best freeCell
	fa.bySize.Ascend(freeCell{size: need}, func(c freeCell) bool {
		best = c
		return false
	})
	if best.size == 0 {
		return Reservation{}, fmt.Errorf("%w: %d bytes", ErrNoSpace, size)
	}
	fa.remove(best)

	res := Reservation{
		Off:     best.off,
		Size:    best.size,
		Type:    typeNum,
		Request: size,
		orig:    best,
	}
	if best.size-need >= format.MinCellSize {
		res.Size = need
		res.rest = freeCell{off: best.off + need, size: best.size - need}
	}
	fa.stats.Reserves++
	return res, nil
}

// Publish writes a reserved cell: the payload is zeroed when zero is set, the
// split remainder header is written, then the allocated header. Each step is
// persisted before the next so that a crash leaves either the original free
// cell or the fully split pair.
func (fa *FitAllocator) Publish(r Reservation, zero bool) error {
	data := fa.r.Bytes()
	if zero {
		clear(data[r.Payload() : r.Off+r.Size])
		if err := fa.pt.Persist(r.Payload(), r.Size-format.CellHeaderSize); err != nil {
			return err
		}
	}
	if r.rest.size > 0 {
		format.PutCellHeader(data, r.rest.off, r.rest.size, false, 0)
		if err := fa.pt.Persist(r.rest.off, format.CellHeaderSize); err != nil {
			return err
		}
	}
	format.PutCellHeader(data, r.Off, r.Size, true, r.Type)
	err := fa.pt.Persist(r.Off, format.CellHeaderSize)

	fa.mu.Lock()
	if r.rest.size > 0 {
		fa.insert(r.rest)
	}
	fa.stats.Publishes++
	fa.mu.Unlock()
	return err
}

// Cancel returns an unpublished reservation to the index.
func (fa *FitAllocator) Cancel(r Reservation) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.insert(r.orig)
	fa.stats.Cancels++
}

// MarkFree durably marks the cell whose payload starts at payload as free.
// It is idempotent and does not make the cell reusable; see Release.
func (fa *FitAllocator) MarkFree(payload int) error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if err := MarkFree(fa.r, fa.pt, payload); err != nil {
		return err
	}
	fa.stats.MarkFrees++
	return nil
}

// Release indexes cells previously marked free, coalescing each with free
// neighbours. Cells that are not free (or already indexed) are skipped.
func (fa *FitAllocator) Release(payloads ...int) error {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	data := fa.r.Bytes()
	for _, p := range payloads {
		c, err := cellAt(fa.r, p)
		if err != nil {
			return err
		}
		if !c.Free {
			return fmt.Errorf("%w: 0x%x", ErrNotFree, c.Offset)
		}
		cur := freeCell{off: c.Offset, size: c.Size}
		if _, ok := fa.byOff.Get(cur); ok {
			continue
		}

		// Forward: a free cell starting right where this one ends.
		if next, ok := fa.byOff.Get(freeCell{off: cur.off + cur.size}); ok {
			fa.remove(next)
			cur.size += next.size
			format.PutI64(data, cur.off+format.CellSizeOffset, int64(cur.size))
			if err := fa.pt.Persist(cur.off, format.CellHeaderSize); err != nil {
				return err
			}
			fa.stats.Coalesces++
		}

		// Backward: the nearest free cell below, if it ends at our start.
		var prev freeCell
		fa.byOff.Descend(freeCell{off: cur.off - 1}, func(c freeCell) bool {
			prev = c
			return false
		})
		if prev.size > 0 && prev.off+prev.size == cur.off {
			fa.remove(prev)
			cur = freeCell{off: prev.off, size: prev.size + cur.size}
			format.PutI64(data, cur.off+format.CellSizeOffset, int64(cur.size))
			if err := fa.pt.Persist(cur.off, format.CellHeaderSize); err != nil {
				return err
			}
			fa.stats.Coalesces++
		}

		fa.insert(cur)
		fa.stats.Releases++
	}
	return nil
}

// UsableSize returns the payload size and type number of the allocated cell
// whose payload starts at payload.
func (fa *FitAllocator) UsableSize(payload int) (int, uint32, error) {
	c, err := cellAt(fa.r, payload)
	if err != nil {
		return 0, 0, err
	}
	if c.Free {
		return 0, 0, fmt.Errorf("%w: 0x%x is free", ErrBadRef, payload)
	}
	return c.Size - format.CellHeaderSize, c.Type, nil
}

// Stats returns a snapshot of allocator statistics.
func (fa *FitAllocator) Stats() Stats {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	s := fa.stats
	if maxCell, ok := fa.bySize.Max(); ok {
		s.LargestFree = maxCell.size
	}
	return s
}

func (fa *FitAllocator) insert(c freeCell) {
	fa.byOff.Set(c)
	fa.bySize.Set(c)
	fa.stats.FreeCells++
	fa.stats.FreeBytes += int64(c.size)
}

func (fa *FitAllocator) remove(c freeCell) {
	fa.byOff.Delete(c)
	fa.bySize.Delete(c)
	fa.stats.FreeCells--
	fa.stats.FreeBytes -= int64(c.size)
}
