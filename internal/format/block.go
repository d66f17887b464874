package format

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/pmemtx/internal/buf"
)

// Block is a decoded undo log block header.
type Block struct {
	Next     uint64
	Capacity uint32
	Lane     uint32
	Gen      uint64
}

// EncodeBlock writes a block header at the start of b.
func EncodeBlock(b []byte, blk Block) {
	clear(b[:BlockHeaderSize])
	PutU64(b, BlockNextOffset, blk.Next)
	PutU32(b, BlockCapacityOffset, blk.Capacity)
	PutU32(b, BlockLaneOffset, blk.Lane)
	PutU64(b, BlockGenOffset, blk.Gen)
	copy(b[BlockMagicOffset:], BlockMagic)
}

// ParseBlock decodes the block header at the start of payload and checks that
// it was written for lane/gen and that its capacity fits the cell payload.
func ParseBlock(payload []byte, lane uint32, gen uint64) (Block, error) {
	if len(payload) < BlockHeaderSize {
		return Block{}, fmt.Errorf("log block: %w", ErrTruncated)
	}
	if !bytes.Equal(payload[BlockMagicOffset:BlockMagicOffset+4], BlockMagic) {
		return Block{}, fmt.Errorf("log block: %w", ErrSignatureMismatch)
	}
	blk := Block{
		Next:     buf.U64LE(payload[BlockNextOffset:]),
		Capacity: buf.U32LE(payload[BlockCapacityOffset:]),
		Lane:     buf.U32LE(payload[BlockLaneOffset:]),
		Gen:      buf.U64LE(payload[BlockGenOffset:]),
	}
	if blk.Lane != lane || blk.Gen != gen {
		return blk, fmt.Errorf("log block: owned by lane %d gen %d, want lane %d gen %d", blk.Lane, blk.Gen, lane, gen)
	}
	if int(blk.Capacity) > len(payload)-BlockHeaderSize {
		return blk, fmt.Errorf("log block: capacity %d exceeds payload %d", blk.Capacity, len(payload)-BlockHeaderSize)
	}
	return blk, nil
}
