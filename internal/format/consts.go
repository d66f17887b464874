// Package format houses the on-disk layout of a pmemtx pool file: the pool
// header, the lane table, heap cells, undo log blocks and undo log entries.
// Decoders here are allocation-free and never trust offsets read back from
// the file; the higher-level packages only see validated structures.
package format

// Pool file layout (all integers little-endian, all offsets absolute):
//
//	0x0000  pool header (one page)
//	0x1000  lane table, LaneCount × LaneHeaderSize, padded to a page
//	heap    contiguous cells up to PoolSize
const (
	// HeaderSize is the size of the pool header region. The header occupies
	// exactly one page so it can be flushed independently of the lanes.
	HeaderSize = 4096

	// PageSize is the flush granularity assumed by the layout.
	PageSize = 4096

	// PageAlignmentMask is PageSize - 1.
	PageAlignmentMask = PageSize - 1

	// FormatMajor is bumped on incompatible layout changes.
	FormatMajor = 1

	// FormatMinor is bumped on compatible additions.
	FormatMinor = 0

	// LayoutNameMax is the maximum encoded length of a layout name, including
	// the terminating NUL.
	LayoutNameMax = 64
)

// PoolMagic is the eight-byte signature at the start of every pool file.
var PoolMagic = []byte{'P', 'M', 'E', 'M', 'T', 'X', 'P', 0}

// Pool header field offsets.
const (
	HdrMagicOffset      = 0x00 // 8 bytes, PoolMagic
	HdrMajorOffset      = 0x08 // u32
	HdrMinorOffset      = 0x0C // u32
	HdrUUIDOffset       = 0x10 // 16 bytes
	HdrLayoutOffset     = 0x20 // LayoutNameMax bytes, NUL padded
	HdrPoolSizeOffset   = 0x60 // u64
	HdrLaneCountOffset  = 0x68 // u32
	HdrFlagsOffset      = 0x6C // u32
	HdrLaneTableOffset  = 0x70 // u64
	HdrHeapOffset       = 0x78 // u64
	HdrHeapSizeOffset   = 0x80 // u64
	HdrRootOffset       = 0x88 // u64, payload offset of the root cell
	HdrRootSizeOffset   = 0x90 // u64, requested root size
	HdrCreateTimeOffset = 0x98 // i64, unix nanoseconds
	HdrChecksumOffset   = 0xA0 // u32, CRC32-C over [0, HdrChecksumOffset)

	HdrUsedSize = HdrChecksumOffset + 4
)

// Lane table layout.
const (
	// LaneTableOffset is where the lane table starts in every pool.
	LaneTableOffset = HeaderSize

	// LaneHeaderSize is the fixed size of one lane header.
	LaneHeaderSize = 64

	// MaxLanes bounds the lane count; entries carry the lane index in 16 bits.
	MaxLanes = 1 << 16

	LaneMagicOffset      = 0x00 // 4 bytes, LaneMagic
	LaneIndexOffset      = 0x04 // u32
	LaneStateOffset      = 0x08 // u64, LaneState
	LaneGenOffset        = 0x10 // u64, bumped at every outermost begin
	LaneFirstBlockOffset = 0x18 // u64, payload offset of the first log block
)

// LaneMagic tags every lane header.
var LaneMagic = []byte{'L', 'A', 'N', 'E'}

// Heap cell layout.
//
//	Offset  Size  Description
//	0x00    8     Signed size. Negative => allocated, positive => free.
//	              The absolute value includes the 16-byte header.
//	0x08    4     Type number of the object stored in the cell.
//	0x0C    4     Reserved, zero.
//	0x10    ...   Payload.
const (
	CellHeaderSize    = 16
	CellSizeOffset    = 0x00
	CellTypeOffset    = 0x08
	CellAlignment     = 16
	CellAlignmentMask = CellAlignment - 1

	// MinCellSize is the smallest cell the allocator will create; smaller
	// split remainders stay attached to the allocation.
	MinCellSize = 32
)

// Reserved type numbers. Application type numbers must stay below
// TypeReservedBase.
const (
	TypeReservedBase uint32 = 0xFFFF0000
	TypeRoot         uint32 = 0xFFFFFF00
	TypeLogBlock     uint32 = 0xFFFFFF01
)

// Undo log block layout (inside the payload of a TypeLogBlock cell).
//
//	Offset  Size  Description
//	0x00    8     Payload offset of the next block in the chain, 0 = last.
//	0x08    4     Capacity in bytes available for entries.
//	0x0C    4     Owning lane index.
//	0x10    8     Lane generation the block was allocated for.
//	0x18    4     BlockMagic.
//	0x1C    4     Reserved.
//	0x20    ...   Entries.
const (
	BlockHeaderSize     = 32
	BlockNextOffset     = 0x00
	BlockCapacityOffset = 0x08
	BlockLaneOffset     = 0x0C
	BlockGenOffset      = 0x10
	BlockMagicOffset    = 0x18
)

// BlockMagic tags every undo log block header.
var BlockMagic = []byte{'U', 'L', 'O', 'G'}

// Undo log entry layout.
//
//	Offset  Size  Description
//	0x00    1     EntryKind.
//	0x01    1     Field width for SET entries, 0 otherwise.
//	0x02    2     Owning lane index.
//	0x04    4     Payload length in bytes (unpadded).
//	0x08    8     Lane generation.
//	0x10    8     Target object (payload offset of its cell).
//	0x18    4     CRC32-C over header (this field zeroed) and payload.
//	0x1C    4     Byte offset inside the target object.
//	0x20    ...   Payload, padded to EntryAlignment.
const (
	EntryHeaderSize    = 32
	EntryKindOffset    = 0x00
	EntryWidthOffset   = 0x01
	EntryLaneOffset    = 0x02
	EntryLenOffset     = 0x04
	EntryGenOffset     = 0x08
	EntryTargetOffset  = 0x10
	EntryCRCOffset     = 0x18
	EntryFieldOffset   = 0x1C
	EntryAlignment     = 8
	EntryAlignmentMask = EntryAlignment - 1
)
