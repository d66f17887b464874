// Package verify checks the on-disk invariants of a pool image.
// These helpers back `pmemctl check` and are used in tests to confirm that
// transactions and recovery leave the pool well formed.
package verify

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/pmemtx/internal/format"
	"github.com/joshuapare/pmemtx/pool/alloc"
)

// ValidationError describes one violated invariant.
type ValidationError struct {
	Type    string
	Message string
	Offset  int
	Details map[string]any
}

func (e *ValidationError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s at offset 0x%X: %s", e.Type, e.Offset, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// image adapts a raw pool image to alloc.Region.
type image struct {
	data []byte
	hdr  format.Header
}

func (m image) Bytes() []byte  { return m.data }
func (m image) HeapStart() int { return int(m.hdr.HeapOff) }
func (m image) HeapEnd() int   { return int(m.hdr.HeapOff + m.hdr.HeapSize) }

func load(data []byte) (image, error) {
	hdr, err := format.ParseHeader(data)
	if err != nil {
		return image{}, &ValidationError{Type: "Header", Message: err.Error(), Offset: 0}
	}
	if err := hdr.Validate(int64(len(data))); err != nil {
		return image{}, &ValidationError{Type: "Header", Message: err.Error(), Offset: 0}
	}
	return image{data: data, hdr: hdr}, nil
}

// AllInvariants validates the header, the lane table and the heap.
// Returns the first error encountered, or nil if all checks pass.
//
// Pending recovery and leftover log blocks are not errors; see Clean.
func AllInvariants(data []byte) error {
	if err := Header(data); err != nil {
		return err
	}
	if err := Lanes(data); err != nil {
		return err
	}
	return Heap(data)
}

// Header validates the pool header signature, checksum, version and
// geometry against the image size.
func Header(data []byte) error {
	_, err := load(data)
	return err
}

// Lanes validates every lane header. A lane that is not IDLE must point at
// an allocated log block owned by it.
func Lanes(data []byte) error {
	m, err := load(data)
	if err != nil {
		return err
	}
	for i := range m.hdr.LaneCount {
		off := format.LaneOffset(i)
		l, err := format.ParseLane(data[off:], i)
		if err != nil {
			return &ValidationError{Type: "Lanes", Message: err.Error(), Offset: off}
		}
		if l.State == format.LaneIdle {
			continue
		}
		if err := checkFirstBlock(m, l); err != nil {
			return &ValidationError{
				Type:    "Lanes",
				Message: fmt.Sprintf("lane %d (%s): %v", i, l.State, err),
				Offset:  off,
				Details: map[string]any{"lane": i, "gen": l.Gen, "first_block": l.FirstBlock},
			}
		}
	}
	return nil
}

func checkFirstBlock(m image, l format.Lane) error {
	if l.FirstBlock == 0 {
		return fmt.Errorf("no log block")
	}
	c, _, err := format.NextCell(m.data, m.HeapStart(), m.HeapEnd(), int(l.FirstBlock)-format.CellHeaderSize)
	if err != nil {
		return err
	}
	if c.Type != format.TypeLogBlock {
		return fmt.Errorf("first block 0x%x has type 0x%x", l.FirstBlock, c.Type)
	}
	_, err = format.ParseBlock(c.Data, l.Index, l.Gen)
	return err
}

// Heap validates that the cells tile the heap exactly, that the root object
// is the first cell and that no allocated cell carries an unknown reserved
// type.
func Heap(data []byte) error {
	m, err := load(data)
	if err != nil {
		return err
	}
	first := true
	err = alloc.Walk(m, func(c format.Cell) error {
		if first {
			first = false
			if c.Free || c.Type != format.TypeRoot {
				return &ValidationError{Type: "Heap", Message: "first cell is not the root object", Offset: c.Offset}
			}
			return nil
		}
		if c.Free {
			return nil
		}
		switch {
		case c.Type == format.TypeRoot:
			return &ValidationError{Type: "Heap", Message: "second root object", Offset: c.Offset}
		case c.Type >= format.TypeReservedBase && c.Type != format.TypeLogBlock:
			return &ValidationError{
				Type:    "Heap",
				Message: fmt.Sprintf("allocated cell with reserved type 0x%X", c.Type),
				Offset:  c.Offset,
			}
		}
		return nil
	})
	if err != nil {
		if _, ok := err.(*ValidationError); ok {
			return err
		}
		return &ValidationError{Type: "Heap", Message: err.Error(), Offset: -1}
	}
	return nil
}

// Clean reports pool state that recovery would change: lanes that are not
// IDLE, and log blocks still allocated while every lane is IDLE.
func Clean(data []byte) error {
	m, err := load(data)
	if err != nil {
		return err
	}
	busy := 0
	for i := range m.hdr.LaneCount {
		l, err := format.ParseLane(data[format.LaneOffset(i):], i)
		if err == nil && l.State != format.LaneIdle {
			busy++
		}
	}
	if busy > 0 {
		return &ValidationError{
			Type:    "Clean",
			Message: fmt.Sprintf("%d lanes need recovery", busy),
			Offset:  -1,
			Details: map[string]any{"lanes": busy},
		}
	}
	orphans := 0
	_ = alloc.Walk(m, func(c format.Cell) error {
		if !c.Free && c.Type == format.TypeLogBlock {
			orphans++
		}
		return nil
	})
	if orphans > 0 {
		return &ValidationError{
			Type:    "Clean",
			Message: fmt.Sprintf("%d log blocks outside any transaction", orphans),
			Offset:  -1,
			Details: map[string]any{"blocks": orphans},
		}
	}
	return nil
}

// Report is the outcome of Check.
type Report struct {
	Errors   []error // violated invariants
	Warnings []error // state recovery would change
	Stats    HeapStats
}

// OK reports whether no invariant was violated.
func (r Report) OK() bool { return len(r.Errors) == 0 }

// HeapStats counts heap cells by kind.
type HeapStats struct {
	Cells      int
	FreeCells  int
	FreeBytes  int64
	Objects    int
	ObjectSize int64
	LogBlocks  int
}

// Stats walks the heap and counts cells.
func Stats(data []byte) (HeapStats, error) {
	m, err := load(data)
	if err != nil {
		return HeapStats{}, err
	}
	var s HeapStats
	err = alloc.Walk(m, func(c format.Cell) error {
		s.Cells++
		switch {
		case c.Free:
			s.FreeCells++
			s.FreeBytes += int64(c.Size)
		case c.Type == format.TypeLogBlock:
			s.LogBlocks++
		case c.Type != format.TypeRoot:
			s.Objects++
			s.ObjectSize += int64(c.Size - format.CellHeaderSize)
		}
		return nil
	})
	return s, err
}

// Check runs every check concurrently and collects all findings. A header
// failure short-circuits the rest.
func Check(ctx context.Context, data []byte) (Report, error) {
	var r Report
	if err := Header(data); err != nil {
		r.Errors = append(r.Errors, err)
		return r, nil
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	run := func(fn func([]byte) error, warn bool) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(data); err != nil {
				mu.Lock()
				if warn {
					r.Warnings = append(r.Warnings, err)
				} else {
					r.Errors = append(r.Errors, err)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	run(Lanes, false)
	run(Heap, false)
	run(Clean, true)
	g.Go(func() error {
		s, err := Stats(data)
		if err != nil {
			return nil // Heap reports it
		}
		mu.Lock()
		r.Stats = s
		mu.Unlock()
		return nil
	})
	if err := g.Wait(); err != nil {
		return r, err
	}
	return r, nil
}
