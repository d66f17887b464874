package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pmemtx/internal/format"
	"github.com/joshuapare/pmemtx/internal/testutil"
	"github.com/joshuapare/pmemtx/pool/tx"
)

func TestCreateCommand(t *testing.T) {
	path := testPool(t)
	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), st.Size())

	// The file must not exist.
	resetFlags()
	quiet = true
	require.Error(t, runCreate([]string{path}))
}

func TestCreateCommand_JSON(t *testing.T) {
	resetFlags()
	jsonOut = true
	createLayout = "cli-test"
	path := filepath.Join(t.TempDir(), "json.pool")

	out, err := captureOutput(t, func() error { return runCreate([]string{path}) })
	require.NoError(t, err)
	assertJSON(t, out)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "cli-test", got["layout"])
	assert.EqualValues(t, 4, got["lanes"])
	assert.EqualValues(t, 64, got["root_size"])
}

func TestInfoCommand(t *testing.T) {
	tests := []struct {
		name        string
		json        bool
		wantContain []string
	}{
		{
			name:        "text",
			wantContain: []string{"Pool Information:", "Lanes: 4 (0 need recovery)", "Objects: 0"},
		},
		{
			name:        "json",
			json:        true,
			wantContain: []string{`"lanes": 4`, `"busy_lanes": 0`, `"heap"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := testPool(t)
			jsonOut = tt.json
			out, err := captureOutput(t, func() error { return runInfo([]string{path}) })
			require.NoError(t, err)
			if tt.json {
				assertJSON(t, out)
			}
			assertContains(t, out, tt.wantContain)
		})
	}
}

func TestInfoCommand_Missing(t *testing.T) {
	resetFlags()
	_, err := captureOutput(t, func() error {
		return runInfo([]string{filepath.Join(t.TempDir(), "missing.pool")})
	})
	require.Error(t, err)
}

func TestCheckCommand(t *testing.T) {
	path := testPool(t)
	out, err := captureOutput(t, func() error { return runCheck(context.Background(), []string{path}) })
	require.NoError(t, err)
	assertContains(t, out, []string{"Result: ✓ VALID"})
}

func TestCheckCommand_Corrupt(t *testing.T) {
	path := testPool(t)
	data := testutil.ReadImage(t, path)
	copy(data[format.LaneOffset(1):], "XXXX")
	testutil.WriteImage(t, path, data)

	jsonOut = true
	out, err := captureOutput(t, func() error { return runCheck(context.Background(), []string{path}) })
	require.ErrorIs(t, err, errCheckFailed)
	assertJSON(t, out)
	assertContains(t, out, []string{`"valid": false`, "lane 1"})
}

func TestCheckCommand_PendingLaneWarns(t *testing.T) {
	path := crashedPool(t)
	out, err := captureOutput(t, func() error { return runCheck(context.Background(), []string{path}) })
	require.NoError(t, err)
	assertContains(t, out, []string{"1 lanes need recovery", "VALID"})
}

func TestLanesCommand(t *testing.T) {
	path := crashedPool(t)

	jsonOut = true
	out, err := captureOutput(t, func() error { return runLanes([]string{path}) })
	require.NoError(t, err)

	var lanes []laneJSON
	require.NoError(t, json.Unmarshal([]byte(out), &lanes))
	require.Len(t, lanes, 1)
	assert.Equal(t, "ACTIVE", lanes[0].State)
	assert.NotEmpty(t, lanes[0].Blocks)
	assert.NotEmpty(t, lanes[0].Entries)
	assert.Empty(t, lanes[0].Error)

	resetFlags()
	lanesAll = true
	verbose = true
	out, err = captureOutput(t, func() error { return runLanes([]string{path}) })
	require.NoError(t, err)
	assertContains(t, out, []string{"Lanes:", "ACTIVE", "IDLE", "target 0x"})
}

func TestRecoverCommand(t *testing.T) {
	path := crashedPool(t)

	out, err := captureOutput(t, func() error { return runRecover(context.Background(), []string{path}) })
	require.NoError(t, err)
	assertContains(t, out, []string{"Recovered", tx.OutcomeRolledBack})

	// A second run has nothing left to do.
	jsonOut = true
	out, err = captureOutput(t, func() error { return runRecover(context.Background(), []string{path}) })
	require.NoError(t, err)
	assertContains(t, out, []string{`"clean": true`})
}

func TestRecoverCommand_BadFlush(t *testing.T) {
	path := testPool(t)
	recoverFlush = "sometimes"
	_, err := captureOutput(t, func() error { return runRecover(context.Background(), []string{path}) })
	require.ErrorContains(t, err, "unknown flush mode")
}

func TestScenarioList(t *testing.T) {
	resetFlags()
	jsonOut = true
	out, err := captureOutput(t, runScenarioList)
	require.NoError(t, err)

	var list []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Len(t, list, 10)
}

func TestScenarioRun(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		point   string
		wantErr bool
		want    []string
	}{
		{name: "abort", arg: "1", point: tx.FailBeforeCommitFlag, want: []string{"sc1", "crashed=true", "outcome=abort"}},
		{name: "commit", arg: "4", point: tx.FailAfterCommitFlag, want: []string{"sc4", "outcome=commit"}},
		{name: "no crash", arg: "0", point: "", want: []string{"crashed=false"}},
		{name: "bad number", arg: "x", wantErr: true},
		{name: "out of range", arg: "10", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			scenarioPoint = tt.point
			scenarioDir = t.TempDir()
			out, err := captureOutput(t, func() error {
				return runScenarioRun(context.Background(), []string{tt.arg})
			})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assertContains(t, out, tt.want)
		})
	}
}

func TestScenarioCreateVerify(t *testing.T) {
	resetFlags()
	path := filepath.Join(t.TempDir(), "sc.pool")
	scenarioPoint = tx.FailAfterCommitFlag

	out, err := captureOutput(t, func() error {
		return runScenarioCreate(context.Background(), []string{path, "2"})
	})
	require.NoError(t, err)
	assertContains(t, out, []string{"crashed=true", "--outcome commit"})

	// Checking the wrong outcome recovers the pool but fails.
	scenarioOutcome = "abort"
	_, err = captureOutput(t, func() error {
		return runScenarioVerify(context.Background(), []string{path, "2"})
	})
	require.Error(t, err)

	scenarioOutcome = "commit"
	out, err = captureOutput(t, func() error {
		return runScenarioVerify(context.Background(), []string{path, "2"})
	})
	require.NoError(t, err)
	assertContains(t, out, []string{"sc2 commit verified"})

	scenarioOutcome = "maybe"
	_, err = captureOutput(t, func() error {
		return runScenarioVerify(context.Background(), []string{path, "2"})
	})
	require.ErrorContains(t, err, "unknown outcome")
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 bytes", formatSize(512))
	assert.Equal(t, "2.0 KB", formatSize(2048))
	assert.Equal(t, "8.0 MB", formatSize(8<<20))
}
