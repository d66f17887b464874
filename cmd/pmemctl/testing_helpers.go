package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joshuapare/pmemtx/pkg/pmemobj/scenario"
	"github.com/joshuapare/pmemtx/pool/tx"
)

// resetFlags restores every command flag to its default.
func resetFlags() {
	verbose, quiet, jsonOut, noColor, logOn, logDir = false, false, false, true, false, ""
	createSize, createRootSize, createLanes, createLayout, createDirectZero = 1<<20, 64, 4, "", false
	lanesAll = false
	recoverFlush, recoverWorkers = "none", 0
	scenarioPoint, scenarioDir, scenarioFlush, scenarioOutcome = tx.FailBeforeCommitFlag, "", "none", ""
}

// testPool creates a fresh pool in a temp dir and returns its path.
func testPool(t *testing.T) string {
	t.Helper()
	resetFlags()
	path := filepath.Join(t.TempDir(), "test.pool")
	quiet = true
	if err := runCreate([]string{path}); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	quiet = false
	return path
}

// crashedPool returns a pool whose last transaction of scenario 1 stopped
// before its commit flag, leaving one ACTIVE lane.
func crashedPool(t *testing.T) string {
	t.Helper()
	resetFlags()
	opts, err := storeOptions("none")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "crashed.pool")
	if err := scenario.Prepare(path, 1, opts); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	crashed, err := scenario.CreateCrashed(context.Background(), path, 1, tx.FailBeforeCommitFlag, opts)
	if err != nil || !crashed {
		t.Fatalf("crash scenario: crashed=%v err=%v", crashed, err)
	}
	return path
}

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.Bytes()
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	return string(<-done), fnErr
}

// assertJSON checks that output is valid JSON
func assertJSON(t *testing.T, output string) {
	t.Helper()
	var result any
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Errorf("invalid JSON output: %v\nOutput: %s", err, output)
	}
}

// assertContains checks that output contains all expected strings
func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing expected string %q\nGot: %s", want, output)
		}
	}
}
