package format

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/pmemtx/internal/buf"
)

// Header is the decoded pool header.
//
//	Offset  Size  Description
//	------  ----  ----------------------------------------------------------
//	 0x000   8    "PMEMTXP\0"
//	 0x008   4    Major version
//	 0x00C   4    Minor version
//	 0x010  16    Pool UUID
//	 0x020  64    Layout name, NUL padded
//	 0x060   8    Pool size in bytes
//	 0x068   4    Lane count
//	 0x06C   4    Flags (reserved)
//	 0x070   8    Lane table offset
//	 0x078   8    Heap offset
//	 0x080   8    Heap size
//	 0x088   8    Root object payload offset
//	 0x090   8    Root object size
//	 0x098   8    Create time (unix ns)
//	 0x0A0   4    CRC32-C of bytes [0x000, 0x0A0)
type Header struct {
	Major      uint32
	Minor      uint32
	UUID       [16]byte
	Layout     string
	PoolSize   uint64
	LaneCount  uint32
	Flags      uint32
	LaneTable  uint64
	HeapOff    uint64
	HeapSize   uint64
	RootOff    uint64
	RootSize   uint64
	CreateTime int64
	Checksum   uint32
}

// EncodeHeader writes h into b (at least HeaderSize bytes) and stamps the checksum.
func EncodeHeader(b []byte, h Header) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("pool header: %w", ErrTruncated)
	}
	if len(h.Layout) >= LayoutNameMax {
		return fmt.Errorf("pool header: layout name longer than %d bytes", LayoutNameMax-1)
	}
	clear(b[:HeaderSize])
	copy(b[HdrMagicOffset:], PoolMagic)
	PutU32(b, HdrMajorOffset, h.Major)
	PutU32(b, HdrMinorOffset, h.Minor)
	copy(b[HdrUUIDOffset:HdrUUIDOffset+16], h.UUID[:])
	copy(b[HdrLayoutOffset:HdrLayoutOffset+LayoutNameMax], h.Layout)
	PutU64(b, HdrPoolSizeOffset, h.PoolSize)
	PutU32(b, HdrLaneCountOffset, h.LaneCount)
	PutU32(b, HdrFlagsOffset, h.Flags)
	PutU64(b, HdrLaneTableOffset, h.LaneTable)
	PutU64(b, HdrHeapOffset, h.HeapOff)
	PutU64(b, HdrHeapSizeOffset, h.HeapSize)
	PutU64(b, HdrRootOffset, h.RootOff)
	PutU64(b, HdrRootSizeOffset, h.RootSize)
	PutI64(b, HdrCreateTimeOffset, h.CreateTime)
	PutU32(b, HdrChecksumOffset, Checksum(b[:HdrChecksumOffset]))
	return nil
}

// ParseHeader validates the magic, checksum and version of a pool header and
// decodes its fields. Geometry is checked separately by Header.Validate.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("pool header: %w", ErrTruncated)
	}
	if !bytes.Equal(b[:len(PoolMagic)], PoolMagic) {
		return Header{}, fmt.Errorf("pool header: %w", ErrSignatureMismatch)
	}
	sum := buf.U32LE(b[HdrChecksumOffset:])
	if got := Checksum(b[:HdrChecksumOffset]); got != sum {
		return Header{}, fmt.Errorf("pool header: %w (stored 0x%08x, computed 0x%08x)", ErrChecksum, sum, got)
	}
	h := Header{
		Major:      buf.U32LE(b[HdrMajorOffset:]),
		Minor:      buf.U32LE(b[HdrMinorOffset:]),
		PoolSize:   buf.U64LE(b[HdrPoolSizeOffset:]),
		LaneCount:  buf.U32LE(b[HdrLaneCountOffset:]),
		Flags:      buf.U32LE(b[HdrFlagsOffset:]),
		LaneTable:  buf.U64LE(b[HdrLaneTableOffset:]),
		HeapOff:    buf.U64LE(b[HdrHeapOffset:]),
		HeapSize:   buf.U64LE(b[HdrHeapSizeOffset:]),
		RootOff:    buf.U64LE(b[HdrRootOffset:]),
		RootSize:   buf.U64LE(b[HdrRootSizeOffset:]),
		CreateTime: buf.I64LE(b[HdrCreateTimeOffset:]),
		Checksum:   sum,
	}
	copy(h.UUID[:], b[HdrUUIDOffset:HdrUUIDOffset+16])
	layout := b[HdrLayoutOffset : HdrLayoutOffset+LayoutNameMax]
	if i := bytes.IndexByte(layout, 0); i >= 0 {
		layout = layout[:i]
	}
	h.Layout = string(layout)
	if h.Major != FormatMajor {
		return h, fmt.Errorf("pool header: %w: major %d", ErrVersion, h.Major)
	}
	return h, nil
}

// Validate checks that the header geometry is consistent with a file of
// fileSize bytes: the lane table, heap and root cell must all fit and must
// not overlap.
func (h Header) Validate(fileSize int64) error {
	if h.PoolSize != uint64(fileSize) {
		return fmt.Errorf("pool header: pool size %d does not match file size %d", h.PoolSize, fileSize)
	}
	if h.LaneCount == 0 || h.LaneCount > MaxLanes {
		return fmt.Errorf("pool header: lane count %d out of range", h.LaneCount)
	}
	if h.LaneTable != LaneTableOffset {
		return fmt.Errorf("pool header: lane table at 0x%x, want 0x%x", h.LaneTable, LaneTableOffset)
	}
	laneBytes, ok := buf.MulOverflowSafe(int(h.LaneCount), LaneHeaderSize)
	if !ok {
		return fmt.Errorf("pool header: lane table size overflow")
	}
	if want := uint64(AlignPage(LaneTableOffset + laneBytes)); h.HeapOff != want {
		return fmt.Errorf("pool header: heap at 0x%x, want 0x%x", h.HeapOff, want)
	}
	if err := buf.CheckSpan(int(h.HeapOff), int(h.PoolSize), int(h.HeapOff), int(h.HeapSize)); err != nil {
		return fmt.Errorf("pool header: heap: %w", err)
	}
	if h.HeapSize < MinCellSize {
		return fmt.Errorf("pool header: heap too small (%d bytes)", h.HeapSize)
	}
	heapEnd := int(h.HeapOff + h.HeapSize)
	if h.RootOff != h.HeapOff+CellHeaderSize {
		return fmt.Errorf("pool header: root at 0x%x, want first heap cell", h.RootOff)
	}
	if err := buf.CheckSpan(int(h.HeapOff), heapEnd, int(h.RootOff), int(h.RootSize)); err != nil {
		return fmt.Errorf("pool header: root object: %w", err)
	}
	return nil
}
