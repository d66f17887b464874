package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pmemtx/internal/format"
)

// Test_FitAlloc_SimpleFit tests basic allocation that fits immediately.
func Test_FitAlloc_SimpleFit(t *testing.T) {
	fa, m, _ := newLoaded(t, 4096)

	r, err := fa.Reserve(64, 7)
	require.NoError(t, err)
	require.Equal(t, 0x1000, r.Off)
	require.Equal(t, 80, r.Size, "64-byte payload + 16-byte header")
	require.NoError(t, fa.Publish(r, true))

	size, typ := cellHeader(m, r.Off)
	assert.Equal(t, int64(-80), size, "allocated cells carry a negative size")
	assert.Equal(t, uint32(7), typ)

	rest, _ := cellHeader(m, r.Off+80)
	assert.Equal(t, int64(4096-80), rest, "remainder becomes a free cell")

	usable, typ, err := fa.UsableSize(r.Payload())
	require.NoError(t, err)
	assert.Equal(t, 64, usable)
	assert.Equal(t, uint32(7), typ)
}

// Test_FitAlloc_BestFit tests that the smallest sufficient cell is chosen.
func Test_FitAlloc_BestFit(t *testing.T) {
	fa, _, _ := newLoaded(t, 256, -32, 128, -32, 512)

	r, err := fa.Reserve(64, 1)
	require.NoError(t, err)
	assert.Equal(t, 0x1000+256+32, r.Off, "128-byte cell is the best fit")
	assert.Equal(t, 80, r.Size)
}

// Test_FitAlloc_NoSplitOfTinyRemainder keeps slivers attached to the allocation.
func Test_FitAlloc_NoSplitOfTinyRemainder(t *testing.T) {
	fa, _, _ := newLoaded(t, 96)

	r, err := fa.Reserve(64, 1)
	require.NoError(t, err)
	assert.Equal(t, 96, r.Size, "a 16-byte remainder is below MinCellSize")
	require.NoError(t, fa.Publish(r, false))

	_, err = fa.Reserve(1, 1)
	require.ErrorIs(t, err, ErrNoSpace)
}

// Test_FitAlloc_ZeroesPayload checks that Publish(zero) clears old bytes.
func Test_FitAlloc_ZeroesPayload(t *testing.T) {
	fa, m, _ := newLoaded(t, 4096)
	for i := 0x1000 + format.CellHeaderSize; i < len(m.data); i++ {
		m.data[i] = 0xCC
	}

	r, err := fa.Reserve(100, 1)
	require.NoError(t, err)
	require.NoError(t, fa.Publish(r, true))
	for i := r.Payload(); i < r.Off+r.Size; i++ {
		require.Zero(t, m.data[i], "payload byte 0x%x not zeroed", i)
	}
}

// Test_FitAlloc_CancelRestores returns the whole cell to the index.
func Test_FitAlloc_CancelRestores(t *testing.T) {
	fa, m, pt := newLoaded(t, 4096)
	before := fa.Stats()

	r, err := fa.Reserve(64, 1)
	require.NoError(t, err)
	fa.Cancel(r)

	after := fa.Stats()
	assert.Equal(t, before.FreeBytes, after.FreeBytes)
	assert.Equal(t, before.FreeCells, after.FreeCells)
	assert.Zero(t, pt.calls, "reserve/cancel never touches the heap")
	size, _ := cellHeader(m, 0x1000)
	assert.Equal(t, int64(4096), size)
}

// Test_FitAlloc_MarkFreeIsIdempotent checks that repeated marks are harmless
// and that marking alone does not make the cell reusable.
func Test_FitAlloc_MarkFreeIsIdempotent(t *testing.T) {
	fa, m, _ := newLoaded(t, 256)

	r, err := fa.Reserve(200, 1)
	require.NoError(t, err)
	require.NoError(t, fa.Publish(r, true))

	require.NoError(t, fa.MarkFree(r.Payload()))
	require.NoError(t, fa.MarkFree(r.Payload()))
	size, _ := cellHeader(m, r.Off)
	assert.Equal(t, int64(r.Size), size)

	_, err = fa.Reserve(200, 1)
	require.ErrorIs(t, err, ErrNoSpace, "marked but unreleased cells stay out of the index")

	require.NoError(t, fa.Release(r.Payload()))
	require.NoError(t, fa.Release(r.Payload()), "double release is skipped")
	r2, err := fa.Reserve(200, 1)
	require.NoError(t, err)
	assert.Equal(t, r.Off, r2.Off)
}

// Test_FitAlloc_CoalesceBoth tests coalescing in both directions.
func Test_FitAlloc_CoalesceBoth(t *testing.T) {
	fa, m, _ := newLoaded(t, -128, -64, -128, -32)

	// Free the outer two first, then the middle one.
	require.NoError(t, fa.MarkFree(0x1000+format.CellHeaderSize))
	require.NoError(t, fa.MarkFree(0x1000+192+format.CellHeaderSize))
	require.NoError(t, fa.Release(0x1000+format.CellHeaderSize, 0x1000+192+format.CellHeaderSize))
	require.Equal(t, 2, fa.Stats().FreeCells)

	require.NoError(t, fa.MarkFree(0x1000+128+format.CellHeaderSize))
	require.NoError(t, fa.Release(0x1000+128+format.CellHeaderSize))

	st := fa.Stats()
	assert.Equal(t, 1, st.FreeCells)
	assert.Equal(t, 320, st.LargestFree, "128+64+128 merged")
	size, _ := cellHeader(m, 0x1000)
	assert.Equal(t, int64(320), size)
}

// Test_FitAlloc_ReleaseRejectsAllocated guards against releasing live cells.
func Test_FitAlloc_ReleaseRejectsAllocated(t *testing.T) {
	fa, _, _ := newLoaded(t, -64, 64)
	require.ErrorIs(t, fa.Release(0x1000+format.CellHeaderSize), ErrNotFree)
}

// Test_FitAlloc_LoadMergesAdjacentFree rebuilds a single cell from a run.
func Test_FitAlloc_LoadMergesAdjacentFree(t *testing.T) {
	fa, m, pt := newLoaded(t, 64, 64, 128, -32, 32, 32)

	st := fa.Stats()
	assert.Equal(t, 2, st.FreeCells)
	assert.Equal(t, int64(256+64), st.FreeBytes)
	size, _ := cellHeader(m, 0x1000)
	assert.Equal(t, int64(256), size)
	assert.Equal(t, 2, pt.calls, "one header write per merged run")
}

// Test_FitAlloc_ExhaustAndRecover allocates until the heap is full, frees
// everything and allocates the same amount again.
func Test_FitAlloc_ExhaustAndRecover(t *testing.T) {
	fa, _, _ := newLoaded(t, 64*1024)

	var got []Reservation
	for {
		r, err := fa.Reserve(64, 1)
		if err != nil {
			require.ErrorIs(t, err, ErrNoSpace)
			break
		}
		require.NoError(t, fa.Publish(r, true))
		got = append(got, r)
	}
	require.NotEmpty(t, got)

	payloads := make([]int, 0, len(got))
	for _, r := range got {
		require.NoError(t, fa.MarkFree(r.Payload()))
		payloads = append(payloads, r.Payload())
	}
	require.NoError(t, fa.Release(payloads...))
	assert.Equal(t, 1, fa.Stats().FreeCells, "everything coalesces back")

	for range got {
		r, err := fa.Reserve(64, 1)
		require.NoError(t, err)
		require.NoError(t, fa.Publish(r, true))
	}
}

func Test_FitAlloc_Errors(t *testing.T) {
	fa, _, _ := newLoaded(t, 4096)

	_, err := fa.Reserve(8192, 1)
	require.ErrorIs(t, err, ErrTooLarge)
	_, err = fa.Reserve(-1, 1)
	require.Error(t, err)

	_, _, err = fa.UsableSize(0x1000 + format.CellHeaderSize)
	require.ErrorIs(t, err, ErrBadRef, "free cells have no usable size")
	_, _, err = fa.UsableSize(0x1008)
	require.ErrorIs(t, err, ErrBadRef, "misaligned handle")
	_, _, err = fa.UsableSize(0x9000)
	require.ErrorIs(t, err, ErrBadRef, "outside the heap")
}

func Test_Walk(t *testing.T) {
	m := newTestRegion(t, -64, 128, -32)
	var sizes []int
	require.NoError(t, Walk(m, func(c format.Cell) error {
		sizes = append(sizes, c.Size)
		return nil
	}))
	assert.Equal(t, []int{64, 128, 32}, sizes)

	format.PutI64(m.data, 0x1000+64, 7)
	require.Error(t, Walk(m, func(format.Cell) error { return nil }))
}
