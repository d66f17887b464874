package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Lane_EncodeParse(t *testing.T) {
	b := make([]byte, LaneHeaderSize)
	want := Lane{Index: 5, State: LaneCommitted, Gen: 42, FirstBlock: 0x2010}
	EncodeLane(b, want)

	got, err := ParseLane(b, 5)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, "COMMITTED", got.State.String())
}

func Test_Lane_ParseErrors(t *testing.T) {
	b := make([]byte, LaneHeaderSize)
	EncodeLane(b, Lane{Index: 1})

	_, err := ParseLane(b[:LaneHeaderSize-1], 1)
	require.ErrorIs(t, err, ErrTruncated)

	_, err = ParseLane(b, 2)
	require.ErrorContains(t, err, "claims index 1")

	PutU64(b, LaneStateOffset, 7)
	_, err = ParseLane(b, 1)
	require.ErrorContains(t, err, "unknown state 7")
	require.Equal(t, "LaneState(7)", LaneState(7).String())

	copy(b, "XXXX")
	_, err = ParseLane(b, 1)
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func Test_Lane_Offsets(t *testing.T) {
	require.Equal(t, LaneTableOffset, LaneOffset(0))
	require.Equal(t, LaneTableOffset+3*LaneHeaderSize, LaneOffset(3))
}

func Test_Block_EncodeParse(t *testing.T) {
	payload := make([]byte, BlockHeaderSize+256)
	EncodeBlock(payload, Block{Next: 0x9000, Capacity: 256, Lane: 3, Gen: 8})

	blk, err := ParseBlock(payload, 3, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(0x9000), blk.Next)
	require.Equal(t, uint32(256), blk.Capacity)

	// A block left over from an older generation is not part of the chain.
	_, err = ParseBlock(payload, 3, 9)
	require.ErrorContains(t, err, "owned by lane 3 gen 8")

	_, err = ParseBlock(payload[:BlockHeaderSize+128], 3, 8)
	require.ErrorContains(t, err, "exceeds payload")

	_, err = ParseBlock(payload[:BlockHeaderSize-1], 3, 8)
	require.ErrorIs(t, err, ErrTruncated)

	copy(payload[BlockMagicOffset:], "XXXX")
	_, err = ParseBlock(payload, 3, 8)
	require.ErrorIs(t, err, ErrSignatureMismatch)
}
