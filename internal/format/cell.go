package format

import (
	"fmt"

	"github.com/joshuapare/pmemtx/internal/buf"
)

// Cell represents a single allocation (free or in-use) within the heap.
type Cell struct {
	Offset int    // Absolute offset of the cell header
	Size   int    // Total size including header
	Free   bool   // True when the cell is marked as free
	Type   uint32 // Type number stored at allocation time
	Data   []byte // Payload bytes (alias of underlying buffer)
}

// PayloadOffset returns the absolute offset of the cell payload. Object
// handles are payload offsets.
func (c Cell) PayloadOffset() int {
	return c.Offset + CellHeaderSize
}

// NextCell decodes the cell at off and returns it plus the offset of the
// following cell. heapStart and heapEnd bound the walk; the caller must ensure
// off points to the start of a cell header.
func NextCell(b []byte, heapStart, heapEnd, off int) (Cell, int, error) {
	if heapEnd > len(b) {
		return Cell{}, 0, fmt.Errorf("cell: heap end %d past buffer: %w", heapEnd, ErrTruncated)
	}
	if off < heapStart || off+CellHeaderSize > heapEnd {
		return Cell{}, 0, fmt.Errorf("cell: offset 0x%x outside heap: %w", off, ErrTruncated)
	}
	if off&CellAlignmentMask != 0 {
		return Cell{}, 0, fmt.Errorf("cell: offset 0x%x misaligned: %w", off, ErrBadCell)
	}
	raw := buf.I64LE(b[off:])
	allocated := raw < 0
	size := raw
	if allocated {
		size = -size
	}
	if size < MinCellSize || size&CellAlignmentMask != 0 {
		return Cell{}, 0, fmt.Errorf("cell: 0x%x declares size %d: %w", off, size, ErrBadCell)
	}
	if err := buf.CheckSpan(heapStart, heapEnd, off, int(size)); err != nil {
		return Cell{}, 0, fmt.Errorf("cell: 0x%x: %w: %w", off, ErrBadCell, err)
	}
	next := off + int(size)
	return Cell{
		Offset: off,
		Size:   int(size),
		Free:   !allocated,
		Type:   buf.U32LE(b[off+CellTypeOffset:]),
		Data:   b[off+CellHeaderSize : next],
	}, next, nil
}

// PutCellHeader writes a cell header at off.
func PutCellHeader(b []byte, off, size int, allocated bool, typeNum uint32) {
	raw := int64(size)
	if allocated {
		raw = -raw
	}
	PutI64(b, off+CellSizeOffset, raw)
	PutU32(b, off+CellTypeOffset, typeNum)
	PutU32(b, off+CellTypeOffset+4, 0)
}
