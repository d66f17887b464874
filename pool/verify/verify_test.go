package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pmemtx/internal/format"
	"github.com/joshuapare/pmemtx/internal/testutil"
	"github.com/joshuapare/pmemtx/pool"
)

// createImage returns the bytes of a freshly created pool.
func createImage(t *testing.T) []byte {
	t.Helper()
	return testutil.ReadImage(t, testutil.CreatePool(t, pool.CreateOptions{Lanes: 4}))
}

func heapOff(data []byte) int { return int(format.ReadU64(data, format.HdrHeapOffset)) }

// Test_AllInvariants_Valid tests a freshly created pool.
func Test_AllInvariants_Valid(t *testing.T) {
	data := createImage(t)
	require.NoError(t, AllInvariants(data))
	require.NoError(t, Clean(data))
}

// Test_Header_InvalidSignature tests detection of a damaged signature.
func Test_Header_InvalidSignature(t *testing.T) {
	data := createImage(t)
	copy(data[format.HdrMagicOffset:], "XXXX")

	err := Header(data)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "Header", verr.Type)
	require.Contains(t, err.Error(), "signature mismatch")
}

// Test_Header_Truncated tests an image shorter than the recorded pool size.
func Test_Header_Truncated(t *testing.T) {
	data := createImage(t)
	err := Header(data[:len(data)-format.PageSize])
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not match file size")
}

// Test_Lanes_BadMagic tests detection of a damaged lane header.
func Test_Lanes_BadMagic(t *testing.T) {
	data := createImage(t)
	copy(data[format.LaneOffset(2):], "XXXX")

	err := Lanes(data)
	require.Error(t, err)
	require.Contains(t, err.Error(), "lane 2")
}

// Test_Lanes_ActiveWithoutBlock tests an ACTIVE lane with no log chain.
func Test_Lanes_ActiveWithoutBlock(t *testing.T) {
	data := createImage(t)
	format.EncodeLane(data[format.LaneOffset(1):], format.Lane{Index: 1, State: format.LaneActive, Gen: 3})

	err := Lanes(data)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, uint64(3), verr.Details["gen"])
	require.Contains(t, err.Error(), "no log block")

	// Pointing it at the root object is no better.
	format.EncodeLane(data[format.LaneOffset(1):], format.Lane{
		Index: 1, State: format.LaneActive, Gen: 3,
		FirstBlock: format.ReadU64(data, format.HdrRootOffset),
	})
	require.ErrorContains(t, Lanes(data), "has type")

	require.ErrorContains(t, Clean(data), "1 lanes need recovery")
}

// Test_Heap_BadCell tests detection of a cell that overruns the heap.
func Test_Heap_BadCell(t *testing.T) {
	data := createImage(t)
	rootCell := heapOff(data)
	size := format.ReadI64(data, rootCell)
	next := rootCell + int(-size)
	format.PutI64(data, next, int64(len(data))) // free cell claiming the whole file

	err := Heap(data)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad cell header")
}

// Test_Heap_ReservedType tests an allocated cell with an unknown reserved type.
func Test_Heap_ReservedType(t *testing.T) {
	data := createImage(t)
	rootCell := heapOff(data)
	next := rootCell + int(-format.ReadI64(data, rootCell))
	free := int(format.ReadI64(data, next))
	format.PutCellHeader(data, next, free, true, format.TypeReservedBase+7)

	err := Heap(data)
	require.Error(t, err)
	require.Contains(t, err.Error(), "reserved type")

	// A log block is reserved too but legitimate; it only makes the pool unclean.
	format.PutCellHeader(data, next, free, true, format.TypeLogBlock)
	require.NoError(t, Heap(data))
	require.ErrorContains(t, Clean(data), "1 log blocks")
}

// Test_Heap_RootMissing tests a heap whose first cell was freed.
func Test_Heap_RootMissing(t *testing.T) {
	data := createImage(t)
	rootCell := heapOff(data)
	format.PutI64(data, rootCell, -format.ReadI64(data, rootCell))

	require.ErrorContains(t, Heap(data), "root object")
}

// Test_Check_Collects tests that Check reports every finding.
func Test_Check_Collects(t *testing.T) {
	data := createImage(t)

	r, err := Check(context.Background(), data)
	require.NoError(t, err)
	assert.True(t, r.OK())
	assert.Empty(t, r.Warnings)
	assert.Equal(t, 2, r.Stats.Cells)
	assert.Equal(t, 1, r.Stats.FreeCells)
	assert.Zero(t, r.Stats.Objects)

	copy(data[format.LaneOffset(0):], "XXXX")
	format.EncodeLane(data[format.LaneOffset(3):], format.Lane{Index: 3, State: format.LaneCommitted})
	r, err = Check(context.Background(), data)
	require.NoError(t, err)
	assert.False(t, r.OK())
	assert.Len(t, r.Errors, 1)
	assert.Len(t, r.Warnings, 1)

	copy(data[format.HdrMagicOffset:], "XXXX")
	r, err = Check(context.Background(), data)
	require.NoError(t, err)
	require.Len(t, r.Errors, 1)
	assert.Zero(t, r.Stats.Cells)
}

// Test_Check_Cancelled tests that a cancelled context stops the checks.
func Test_Check_Cancelled(t *testing.T) {
	data := createImage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Check(ctx, data)
	require.ErrorIs(t, err, context.Canceled)
}
