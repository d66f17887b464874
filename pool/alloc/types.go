package alloc

import (
	"github.com/joshuapare/pmemtx/internal/format"
)

// Region is the heap a FitAllocator manages. *pool.Pool implements it.
type Region interface {
	Bytes() []byte
	HeapStart() int
	HeapEnd() int
}

// Persister makes a byte range durable. *dirty.Tracker implements it and
// honours the configured flush mode.
type Persister interface {
	Persist(off, length int) error
}

// freeCell is one entry of the free index.
type freeCell struct {
	off  int // absolute offset of the cell header
	size int // total cell size including header
}

func byOffLess(a, b freeCell) bool { return a.off < b.off }

func bySizeLess(a, b freeCell) bool {
	if a.size != b.size {
		return a.size < b.size
	}
	return a.off < b.off
}

// Reservation is a cell taken out of the free index but not yet written.
type Reservation struct {
	Off     int    // absolute offset of the cell header
	Size    int    // total cell size including header
	Type    uint32 // type number to stamp on Publish
	Request int    // payload size asked for
	orig    freeCell
	rest    freeCell // split remainder, size 0 when none
}

// Payload returns the absolute offset of the payload, which is also the
// object handle offset.
func (r Reservation) Payload() int { return r.Off + format.CellHeaderSize }

// Stats summarises allocator activity and free space.
type Stats struct {
	FreeCells   int
	FreeBytes   int64
	LargestFree int
	Reserves    int
	Publishes   int
	Cancels     int
	MarkFrees   int
	Releases    int
	Coalesces   int
}
