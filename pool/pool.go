package pool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/joshuapare/pmemtx/internal/format"
)

var (
	// ErrClosed is returned by operations on a closed pool.
	ErrClosed = errors.New("pool: closed")
	// ErrReadOnly is returned when a read-only pool is asked to persist.
	ErrReadOnly = errors.New("pool: opened read-only")
	// ErrLayoutMismatch is returned by Open when the caller's layout name
	// differs from the one recorded at creation.
	ErrLayoutMismatch = errors.New("pool: layout mismatch")
	// ErrOutOfRange is returned for flush ranges outside the mapping.
	ErrOutOfRange = errors.New("pool: range outside pool")
)

// Pool is an opened pool file, backed by mmap (unix/darwin) or a byte slice (others).
type Pool struct {
	f        *os.File
	path     string
	data     []byte
	size     int64
	hdr      format.Header
	readOnly bool
}

// Bytes returns the whole mapped file. Writes through it mutate the pool in place.
func (p *Pool) Bytes() []byte { return p.data }

// Size returns the pool file size in bytes.
func (p *Pool) Size() int64 { return p.size }

// Path returns the file path the pool was opened from.
func (p *Pool) Path() string { return p.path }

// ReadOnly reports whether the pool was opened without write access.
func (p *Pool) ReadOnly() bool { return p.readOnly }

// FD returns the underlying file descriptor, or -1 once closed.
func (p *Pool) FD() int {
	if p == nil || p.f == nil {
		return -1
	}
	return int(p.f.Fd())
}

// Header returns the decoded pool header captured at open time.
func (p *Pool) Header() format.Header { return p.hdr }

// UUID returns the pool's identity.
func (p *Pool) UUID() uuid.UUID { return uuid.UUID(p.hdr.UUID) }

// ID returns the 64-bit pool id carried by object handles: the first eight
// bytes of the pool UUID, little-endian.
func (p *Pool) ID() uint64 {
	return binary.LittleEndian.Uint64(p.hdr.UUID[:8])
}

// HeapStart returns the absolute offset of the first heap cell.
func (p *Pool) HeapStart() int { return int(p.hdr.HeapOff) }

// HeapEnd returns the absolute offset one past the last heap byte.
func (p *Pool) HeapEnd() int { return int(p.hdr.HeapOff + p.hdr.HeapSize) }

// LaneCount returns the number of lanes in the lane table.
func (p *Pool) LaneCount() uint32 { return p.hdr.LaneCount }

// RootOffset returns the payload offset of the root object.
func (p *Pool) RootOffset() uint64 { return p.hdr.RootOff }

// RootSize returns the root object size requested at creation.
func (p *Pool) RootSize() uint64 { return p.hdr.RootSize }

// Persist makes [off, off+n) durable: it is Flush under the name the
// transaction code uses for a flush-and-fence barrier.
func (p *Pool) Persist(off, n int) error {
	return p.Flush(off, n)
}

// Flush writes back the pages covering [off, off+n).
func (p *Pool) Flush(off, n int) error {
	if p.data == nil {
		return ErrClosed
	}
	if p.readOnly {
		return ErrReadOnly
	}
	if n <= 0 {
		return nil
	}
	if off < 0 || off+n > len(p.data) {
		return fmt.Errorf("%w: [0x%x, 0x%x)", ErrOutOfRange, off, off+n)
	}
	start := off &^ format.PageAlignmentMask
	end := format.AlignPage(off + n)
	if end > len(p.data) {
		end = len(p.data)
	}
	return p.flushRange(start, end)
}

// Sync forces written-back data to stable storage. full requests the
// strongest barrier the platform offers (F_FULLFSYNC on macOS).
func (p *Pool) Sync(full bool) error {
	if p.f == nil {
		return ErrClosed
	}
	if p.readOnly {
		return ErrReadOnly
	}
	return fdatasync(p.f, full)
}

func (p *Pool) loadHeader(layout string) error {
	hdr, err := format.ParseHeader(p.data)
	if err != nil {
		return err
	}
	if err := hdr.Validate(p.size); err != nil {
		return err
	}
	if layout != "" && NormalizeLayout(layout) != hdr.Layout {
		return fmt.Errorf("%w: pool has %q, caller expects %q", ErrLayoutMismatch, hdr.Layout, layout)
	}
	p.hdr = hdr
	return nil
}
