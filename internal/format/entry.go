package format

import (
	"fmt"

	"github.com/joshuapare/pmemtx/internal/buf"
)

// EntryKind tags an undo log entry. The zero value never appears in a valid
// entry so a zeroed slot terminates a scan.
type EntryKind uint8

const (
	EntrySet       EntryKind = 1
	EntrySnapshot  EntryKind = 2
	EntryAllocNew  EntryKind = 3
	EntryAllocFree EntryKind = 4
)

func (k EntryKind) String() string {
	switch k {
	case EntrySet:
		return "SET"
	case EntrySnapshot:
		return "SNAPSHOT"
	case EntryAllocNew:
		return "ALLOC_NEW"
	case EntryAllocFree:
		return "ALLOC_FREE"
	default:
		return fmt.Sprintf("EntryKind(%d)", uint8(k))
	}
}

// Entry is one undo record. Payload holds the pre-image for SET and SNAPSHOT
// entries and is empty for allocation entries.
type Entry struct {
	Kind    EntryKind
	Width   uint8
	Lane    uint16
	Gen     uint64
	Target  uint64
	Field   uint32
	Payload []byte
}

// EncodedSize returns the number of bytes e occupies in a log block.
func (e Entry) EncodedSize() int {
	return EntryHeaderSize + Align8(len(e.Payload))
}

// EncodeEntry writes e into dst and returns the encoded size. The checksum is
// computed last, over the header with the checksum field zeroed and the
// unpadded payload.
func EncodeEntry(dst []byte, e Entry) (int, error) {
	n := e.EncodedSize()
	if len(dst) < n {
		return 0, fmt.Errorf("log entry: %w", ErrTruncated)
	}
	dst[EntryKindOffset] = byte(e.Kind)
	dst[EntryWidthOffset] = e.Width
	PutU16(dst, EntryLaneOffset, e.Lane)
	PutU32(dst, EntryLenOffset, uint32(len(e.Payload)))
	PutU64(dst, EntryGenOffset, e.Gen)
	PutU64(dst, EntryTargetOffset, e.Target)
	PutU32(dst, EntryCRCOffset, 0)
	PutU32(dst, EntryFieldOffset, e.Field)
	copy(dst[EntryHeaderSize:], e.Payload)
	clear(dst[EntryHeaderSize+len(e.Payload) : n])
	PutU32(dst, EntryCRCOffset, entryChecksum(dst[:EntryHeaderSize+len(e.Payload)]))
	return n, nil
}

func entryChecksum(b []byte) uint32 {
	var hdr [EntryHeaderSize]byte
	copy(hdr[:], b[:EntryHeaderSize])
	PutU32(hdr[:], EntryCRCOffset, 0)
	sum := Checksum(hdr[:])
	return crcUpdate(sum, b[EntryHeaderSize:])
}

// DecodeEntry decodes the entry at the start of b for lane/gen.
//
// ErrEndOfLog is returned for a zeroed slot or when b cannot hold a header.
// ErrTornEntry is returned for a checksum mismatch (including a torn header),
// a length overrunning b and entries stamped with another lane or
// generation. Whether a torn slot ends the log or proves corruption depends
// on where it sits; see the chain reader. ErrBadEntry is returned for checksummed entries whose contents
// are inconsistent, which only happens with real corruption. The returned
// payload aliases b.
func DecodeEntry(b []byte, lane uint16, gen uint64) (Entry, int, error) {
	if len(b) < EntryHeaderSize {
		return Entry{}, 0, ErrEndOfLog
	}
	kind := EntryKind(b[EntryKindOffset])
	if kind == 0 {
		return Entry{}, 0, ErrEndOfLog
	}
	plen := int(buf.U32LE(b[EntryLenOffset:]))
	body, ok := buf.Slice(b, 0, EntryHeaderSize+plen)
	if !ok {
		return Entry{}, 0, ErrTornEntry
	}
	if entryChecksum(body) != buf.U32LE(b[EntryCRCOffset:]) {
		return Entry{}, 0, ErrTornEntry
	}
	e := Entry{
		Kind:    kind,
		Width:   b[EntryWidthOffset],
		Lane:    buf.U16LE(b[EntryLaneOffset:]),
		Gen:     buf.U64LE(b[EntryGenOffset:]),
		Target:  buf.U64LE(b[EntryTargetOffset:]),
		Field:   buf.U32LE(b[EntryFieldOffset:]),
		Payload: body[EntryHeaderSize:],
	}
	if e.Lane != lane || e.Gen != gen {
		return Entry{}, 0, ErrTornEntry
	}
	if err := e.check(); err != nil {
		return e, 0, err
	}
	n := e.EncodedSize()
	if n > len(b) {
		return Entry{}, 0, ErrTornEntry
	}
	return e, n, nil
}

func (e Entry) check() error {
	switch e.Kind {
	case EntrySet:
		if !ValidWidth(int(e.Width)) || len(e.Payload) != int(e.Width) {
			return fmt.Errorf("%w: SET width %d payload %d", ErrBadEntry, e.Width, len(e.Payload))
		}
	case EntrySnapshot:
		if e.Width != 0 || len(e.Payload) == 0 {
			return fmt.Errorf("%w: SNAPSHOT of %d bytes", ErrBadEntry, len(e.Payload))
		}
	case EntryAllocNew, EntryAllocFree:
		if e.Width != 0 || len(e.Payload) != 0 || e.Field != 0 {
			return fmt.Errorf("%w: %s carries a payload", ErrBadEntry, e.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrBadEntry, uint8(e.Kind))
	}
	if e.Target == 0 {
		return fmt.Errorf("%w: %s with null target", ErrBadEntry, e.Kind)
	}
	return nil
}
