package format

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/pmemtx/internal/buf"
)

// LaneState is the persisted disposition of a lane. The transition
// ACTIVE -> COMMITTED is the commit point of a transaction.
type LaneState uint64

const (
	LaneIdle      LaneState = 0
	LaneActive    LaneState = 1
	LaneCommitted LaneState = 2
)

func (s LaneState) String() string {
	switch s {
	case LaneIdle:
		return "IDLE"
	case LaneActive:
		return "ACTIVE"
	case LaneCommitted:
		return "COMMITTED"
	default:
		return fmt.Sprintf("LaneState(%d)", uint64(s))
	}
}

// Lane is a decoded lane header.
//
//	Offset  Size  Description
//	0x00    4     "LANE"
//	0x04    4     Lane index
//	0x08    8     State
//	0x10    8     Generation
//	0x18    8     First log block payload offset, 0 when none
type Lane struct {
	Index      uint32
	State      LaneState
	Gen        uint64
	FirstBlock uint64
}

// LaneOffset returns the absolute offset of lane i's header.
func LaneOffset(i uint32) int {
	return LaneTableOffset + int(i)*LaneHeaderSize
}

// EncodeLane writes a full lane header into b.
func EncodeLane(b []byte, l Lane) {
	clear(b[:LaneHeaderSize])
	copy(b[LaneMagicOffset:], LaneMagic)
	PutU32(b, LaneIndexOffset, l.Index)
	PutU64(b, LaneStateOffset, uint64(l.State))
	PutU64(b, LaneGenOffset, l.Gen)
	PutU64(b, LaneFirstBlockOffset, l.FirstBlock)
}

// ParseLane decodes the lane header at b and checks that it belongs to lane idx.
func ParseLane(b []byte, idx uint32) (Lane, error) {
	if len(b) < LaneHeaderSize {
		return Lane{}, fmt.Errorf("lane %d: %w", idx, ErrTruncated)
	}
	if !bytes.Equal(b[LaneMagicOffset:LaneMagicOffset+4], LaneMagic) {
		return Lane{}, fmt.Errorf("lane %d: %w", idx, ErrSignatureMismatch)
	}
	l := Lane{
		Index:      buf.U32LE(b[LaneIndexOffset:]),
		State:      LaneState(buf.U64LE(b[LaneStateOffset:])),
		Gen:        buf.U64LE(b[LaneGenOffset:]),
		FirstBlock: buf.U64LE(b[LaneFirstBlockOffset:]),
	}
	if l.Index != idx {
		return l, fmt.Errorf("lane %d: header claims index %d", idx, l.Index)
	}
	if l.State > LaneCommitted {
		return l, fmt.Errorf("lane %d: unknown state %d", idx, uint64(l.State))
	}
	return l, nil
}
