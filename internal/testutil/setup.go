// Package testutil holds helpers shared by tests that work on pool files.
package testutil

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/joshuapare/pmemtx/pool"
)

// DefaultPoolSize is the pool size CreatePool uses when opts.Size is zero.
const DefaultPoolSize = 1 << 20

// CreatePool creates a pool in a temporary directory, closes it and returns
// its path. RootSize defaults to 64 and Size to DefaultPoolSize.
//
// Example:
//
//	path := testutil.CreatePool(t, pool.CreateOptions{Lanes: 4})
//	data := testutil.ReadImage(t, path)
func CreatePool(t *testing.T, opts pool.CreateOptions) string {
	t.Helper()
	if opts.RootSize == 0 {
		opts.RootSize = 64
	}
	if opts.Size == 0 {
		opts.Size = DefaultPoolSize
	}
	path := filepath.Join(t.TempDir(), "test.pool")
	p, err := pool.Create(path, opts)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Failed to close pool: %v", err)
	}
	return path
}

// ReadImage returns the bytes of the file at path.
func ReadImage(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read pool: %v", err)
	}
	return data
}

// WriteImage replaces the file at path with data.
func WriteImage(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write pool: %v", err)
	}
}

// CopyPool copies the pool at src into a temporary directory and returns
// the new path.
func CopyPool(t *testing.T, src string) string {
	t.Helper()
	dst := filepath.Join(t.TempDir(), filepath.Base(src))

	srcFile, err := os.Open(src)
	if err != nil {
		t.Fatalf("Failed to open pool: %v", err)
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		t.Fatalf("Failed to create pool copy: %v", err)
	}
	defer dstFile.Close()

	if _, copyErr := io.Copy(dstFile, srcFile); copyErr != nil {
		t.Fatalf("Failed to copy pool: %v", copyErr)
	}
	return dst
}
