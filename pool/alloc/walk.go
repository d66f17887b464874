package alloc

import (
	"fmt"

	"github.com/joshuapare/pmemtx/internal/format"
)

// Walk calls fn for every cell of the heap in address order. It stops at the
// first error from fn or at the first malformed cell header.
func Walk(r Region, fn func(c format.Cell) error) error {
	data := r.Bytes()
	start, end := r.HeapStart(), r.HeapEnd()
	for off := start; off < end; {
		c, next, err := format.NextCell(data, start, end, off)
		if err != nil {
			return fmt.Errorf("alloc: walk: %w", err)
		}
		if err := fn(c); err != nil {
			return err
		}
		off = next
	}
	return nil
}

// MarkFree durably flips the cell whose payload starts at payload to free.
// Marking a free cell again is a no-op, so recovery can repeat it.
func MarkFree(r Region, pt Persister, payload int) error {
	c, err := cellAt(r, payload)
	if err != nil {
		return err
	}
	if c.Free {
		return nil
	}
	format.PutI64(r.Bytes(), c.Offset+format.CellSizeOffset, int64(c.Size))
	return pt.Persist(c.Offset, format.CellHeaderSize)
}

// cellAt decodes the cell owning payload without walking the heap.
func cellAt(r Region, payload int) (format.Cell, error) {
	off := payload - format.CellHeaderSize
	c, _, err := format.NextCell(r.Bytes(), r.HeapStart(), r.HeapEnd(), off)
	if err != nil {
		return format.Cell{}, fmt.Errorf("%w: 0x%x: %w", ErrBadRef, payload, err)
	}
	return c, nil
}
