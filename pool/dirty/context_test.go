package dirty_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pmemtx/pool"
	"github.com/joshuapare/pmemtx/pool/dirty"
)

// =============================================================================
// Context Cancellation Tests for Dirty Package
// =============================================================================

func setupTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.Create(filepath.Join(t.TempDir(), "dirty.pool"), pool.CreateOptions{
		Size:     256 << 10,
		RootSize: 64,
		Lanes:    4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestTracker_FlushData_PreCancelled(t *testing.T) {
	p := setupTestPool(t)
	tracker := dirty.NewTracker(p, dirty.FlushAuto)

	tracker.Add(p.HeapStart(), 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tracker.FlushData(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled),
		"expected context.Canceled, got: %v", err)
	require.Equal(t, 1, tracker.Len(), "ranges must survive a cancelled flush")
}

func TestTracker_Barrier_PreCancelled(t *testing.T) {
	p := setupTestPool(t)
	tracker := dirty.NewTracker(p, dirty.FlushAuto)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, tracker.Barrier(ctx), context.Canceled)
}

func TestTracker_RealPool_FlushAndBarrier(t *testing.T) {
	p := setupTestPool(t)
	for _, mode := range []dirty.FlushMode{dirty.FlushAuto, dirty.FlushDataOnly, dirty.FlushFull} {
		tracker := dirty.NewTracker(p, mode)
		root := int(p.RootOffset())
		copy(p.Bytes()[root:], "abc")
		tracker.Add(root, 3)
		require.NoError(t, tracker.Persist(root, 3))
		require.NoError(t, tracker.FlushData(context.Background()))
		require.NoError(t, tracker.Barrier(context.Background()))
	}
}
