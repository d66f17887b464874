package pool

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ncw/directio"

	"github.com/joshuapare/pmemtx/internal/format"
)

const (
	// DefaultPoolSize is used when CreateOptions.Size is zero.
	DefaultPoolSize = 8 << 20

	// DefaultLaneCount is used when CreateOptions.Lanes is zero. It bounds
	// the number of concurrently running top-level transactions.
	DefaultLaneCount = 64

	zeroChunk = 256 * directio.BlockSize
)

// CreateOptions configures a new pool.
type CreateOptions struct {
	// Layout names the application layout; Open can require it to match.
	Layout string
	// Size is the pool file size in bytes, rounded up to a page.
	Size int64
	// RootSize is the size of the root object. It must be positive.
	RootSize int
	// Lanes is the lane table size.
	Lanes uint32
	// DirectZero zero-fills the new file with O_DIRECT writes instead of
	// relying on a sparse truncate, so every block is allocated up front.
	DirectZero bool
	// Mode is the permission of the created file (0o644 when zero).
	Mode os.FileMode
}

// Geometry is the resolved placement of a new pool's regions.
type Geometry struct {
	Size     int64
	Lanes    uint32
	HeapOff  int
	HeapSize int
	RootCell int
	RootSize int
}

// Plan resolves defaults and checks that the requested pool can hold its
// lane table, the root object and at least one free cell.
func Plan(opts CreateOptions) (Geometry, error) {
	g := Geometry{Size: opts.Size, Lanes: opts.Lanes, RootSize: opts.RootSize}
	if g.Size == 0 {
		g.Size = DefaultPoolSize
	}
	if g.Lanes == 0 {
		g.Lanes = DefaultLaneCount
	}
	if g.Lanes > format.MaxLanes {
		return g, fmt.Errorf("pool: %d lanes exceeds maximum %d", g.Lanes, format.MaxLanes)
	}
	if g.RootSize <= 0 {
		return g, fmt.Errorf("pool: root size must be positive, got %d", g.RootSize)
	}
	g.Size = int64(format.AlignPage(int(g.Size)))
	g.HeapOff = format.AlignPage(format.LaneTableOffset + int(g.Lanes)*format.LaneHeaderSize)
	g.RootCell = format.CellSizeFor(g.RootSize)
	g.HeapSize = int(g.Size) - g.HeapOff
	if g.HeapSize < g.RootCell+format.MinCellSize {
		return g, fmt.Errorf("pool: size %d too small for %d lanes and a %d byte root", g.Size, g.Lanes, g.RootSize)
	}
	return g, nil
}

// Create makes a new pool file at path and opens it read-write. The file must
// not exist. The header is written and synced last, so a crash during Create
// leaves a file that Open rejects.
func Create(path string, opts CreateOptions) (*Pool, error) {
	layout, err := checkLayout(opts.Layout)
	if err != nil {
		return nil, err
	}
	g, err := Plan(opts)
	if err != nil {
		return nil, err
	}
	mode := opts.Mode
	if mode == 0 {
		mode = 0o644
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return nil, fmt.Errorf("pool: create %s: %w", path, err)
	}
	fail := func(err error) (*Pool, error) {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}

	if opts.DirectZero {
		if err := zeroFill(path, g.Size); err != nil {
			return fail(fmt.Errorf("pool: zero fill: %w", err))
		}
	} else if err := f.Truncate(g.Size); err != nil {
		return fail(fmt.Errorf("pool: truncate: %w", err))
	}

	if err := writeLayout(f, g); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("pool: sync layout: %w", err))
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return fail(fmt.Errorf("pool: uuid: %w", err))
	}
	hdr := format.Header{
		Major:      format.FormatMajor,
		Minor:      format.FormatMinor,
		UUID:       id,
		Layout:     layout,
		PoolSize:   uint64(g.Size),
		LaneCount:  g.Lanes,
		LaneTable:  format.LaneTableOffset,
		HeapOff:    uint64(g.HeapOff),
		HeapSize:   uint64(g.HeapSize),
		RootOff:    uint64(g.HeapOff + format.CellHeaderSize),
		RootSize:   uint64(g.RootSize),
		CreateTime: time.Now().UnixNano(),
	}
	page := make([]byte, format.HeaderSize)
	if err := format.EncodeHeader(page, hdr); err != nil {
		return fail(err)
	}
	if _, err := f.WriteAt(page, 0); err != nil {
		return fail(fmt.Errorf("pool: write header: %w", err))
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("pool: sync header: %w", err))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return Open(path, OpenOptions{})
}

// writeLayout writes the lane table and the initial heap cells.
func writeLayout(f *os.File, g Geometry) error {
	lanes := make([]byte, int(g.Lanes)*format.LaneHeaderSize)
	for i := uint32(0); i < g.Lanes; i++ {
		off := int(i) * format.LaneHeaderSize
		format.EncodeLane(lanes[off:], format.Lane{Index: i, State: format.LaneIdle})
	}
	if _, err := f.WriteAt(lanes, format.LaneTableOffset); err != nil {
		return fmt.Errorf("pool: write lane table: %w", err)
	}

	// Root cell followed by one free cell spanning the rest of the heap.
	hdrs := make([]byte, format.CellHeaderSize)
	format.PutCellHeader(hdrs, 0, g.RootCell, true, format.TypeRoot)
	if _, err := f.WriteAt(hdrs, int64(g.HeapOff)); err != nil {
		return fmt.Errorf("pool: write root cell: %w", err)
	}
	format.PutCellHeader(hdrs, 0, g.HeapSize-g.RootCell, false, 0)
	if _, err := f.WriteAt(hdrs, int64(g.HeapOff+g.RootCell)); err != nil {
		return fmt.Errorf("pool: write free cell: %w", err)
	}
	return nil
}

// zeroFill writes zeros over the whole file through an O_DIRECT handle.
func zeroFill(path string, size int64) error {
	f, err := directio.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	block := directio.AlignedBlock(zeroChunk)
	for off := int64(0); off < size; {
		n := int64(len(block))
		if rem := size - off; rem < n {
			n = rem
		}
		w, err := f.Write(block[:n])
		if err != nil {
			_ = f.Close()
			return err
		}
		if int64(w) != n {
			_ = f.Close()
			return io.ErrShortWrite
		}
		off += n
	}
	return errors.Join(f.Sync(), f.Close())
}
