package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pmemtx/pkg/pmemobj"
	"github.com/joshuapare/pmemtx/pkg/types"
	"github.com/joshuapare/pmemtx/pool/dirty"
	"github.com/joshuapare/pmemtx/pool/tx"
)

func fastOptions() pmemobj.Options {
	opts := pmemobj.DefaultOptions()
	opts.FlushMode = dirty.FlushNone
	return opts
}

// heavy scenarios log every byte of a 200 KiB object.
func heavy(n int) bool { return n == 3 || n == 7 }

func Test_Scenarios(t *testing.T) {
	points := []string{
		"", // no crash
		tx.FailAfterEntryPersist,
		tx.FailBeforeCommitFlag,
		tx.FailAfterCommitFlag,
		tx.FailBeforeLaneReleased,
	}
	for n, sc := range All() {
		for _, point := range points {
			name := point
			if name == "" {
				name = "no-crash"
			}
			t.Run(fmt.Sprintf("sc%d/%s", n, name), func(t *testing.T) {
				if heavy(n) && testing.Short() {
					t.Skipf("%s is slow", sc.Name)
				}
				path := filepath.Join(t.TempDir(), "sc.pool")
				res, err := Run(context.Background(), path, n, point, fastOptions())
				require.NoError(t, err)

				if !res.Crashed {
					assert.Equal(t, Commit, res.Outcome)
					assert.True(t, res.Recovery.Clean())
					return
				}
				assert.Equal(t, ExpectedOutcome(point), res.Outcome)
				require.Len(t, res.Recovery.Lanes, 1, "the trapped lane is recovered")
				if res.Outcome == Abort {
					assert.Equal(t, tx.OutcomeRolledBack, res.Recovery.Lanes[0].Outcome)
				} else {
					assert.Equal(t, tx.OutcomeCompleted, res.Recovery.Lanes[0].Outcome)
				}
			})
		}
	}
}

// Every trapped transaction reaches the commit flag.
func Test_Scenarios_BeforeCommitAlwaysFires(t *testing.T) {
	for n := range All() {
		if heavy(n) {
			continue
		}
		path := filepath.Join(t.TempDir(), fmt.Sprintf("sc%d.pool", n))
		res, err := Run(context.Background(), path, n, tx.FailBeforeCommitFlag, fastOptions())
		require.NoError(t, err, "scenario %d", n)
		assert.True(t, res.Crashed, "scenario %d", n)
		assert.Equal(t, Abort, res.Outcome, "scenario %d", n)
	}
}

func Test_Verify_DetectsWrongOutcome(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sc.pool")
	require.NoError(t, Prepare(path, 1, fastOptions()))
	crashed, err := CreateCrashed(ctx, path, 1, tx.FailAfterCommitFlag, fastOptions())
	require.NoError(t, err)
	require.True(t, crashed)

	// The transaction committed, so the abort check must fail.
	_, err = VerifyPool(ctx, path, 1, Abort, fastOptions())
	var verr *VerifyError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, verr.Scenario)
	assert.Equal(t, 5, verr.Code)
	assert.Contains(t, verr.Error(), "foo[0] = 5, want 0")

	_, err = VerifyPool(ctx, path, 1, Commit, fastOptions())
	require.NoError(t, err)
}

func Test_Get_OutOfRange(t *testing.T) {
	_, err := Get(len(All()))
	require.ErrorIs(t, err, types.ErrNotFound)
	_, err = Get(-1)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func Test_Trap(t *testing.T) {
	trap := NewTrap(tx.FailBeforeCommitFlag)
	h := trap.Hooks()

	// Disarmed traps never fire.
	require.NotPanics(t, func() { h.FailPoint(tx.FailBeforeCommitFlag) })

	trap.Arm()
	require.NotPanics(t, func() { h.FailPoint(tx.FailAfterCommitFlag) })
	require.PanicsWithValue(t, Crash{Point: tx.FailBeforeCommitFlag}, func() {
		h.FailPoint(tx.FailBeforeCommitFlag)
	})

	var none *Trap
	require.NotPanics(t, none.Arm)
}

func Test_ExpectedOutcome(t *testing.T) {
	assert.Equal(t, Abort, ExpectedOutcome(tx.FailAfterEntryPersist))
	assert.Equal(t, Abort, ExpectedOutcome(tx.FailBeforeCommitFlag))
	assert.Equal(t, Commit, ExpectedOutcome(tx.FailAfterCommitFlag))
	assert.Equal(t, Commit, ExpectedOutcome(tx.FailBeforeLaneReleased))
	assert.Equal(t, Commit, ExpectedOutcome(""))
	assert.Equal(t, "abort", Abort.String())
	assert.Equal(t, "commit", Commit.String())
}

func Test_AddValue_Wraps(t *testing.T) {
	assert.Equal(t, uint64(4), addValue(255, 1))
	assert.Equal(t, uint64(Value), addValue(0, 4))
	assert.Equal(t, uint64(1<<32+4), addValue(1<<32-1, 8))
}

func Test_Outcome_MarshalText(t *testing.T) {
	b, err := json.Marshal(Result{Scenario: 2, Outcome: Commit})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"Outcome":"commit"`)
}
