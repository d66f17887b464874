//go:build linux

package pool

import (
	"os"

	"golang.org/x/sys/unix"
)

// flushRange msyncs one page-aligned range of the mapping.
//
// On Linux, msync() can handle sub-slices correctly.
func (p *Pool) flushRange(start, end int) error {
	return unix.Msync(p.data[start:end], unix.MS_SYNC)
}

// fdatasync performs file descriptor sync.
//
// On Linux, fdatasync() provides sufficient guarantees.
// The full parameter is ignored.
func fdatasync(f *os.File, _ bool) error {
	return unix.Fdatasync(int(f.Fd()))
}
