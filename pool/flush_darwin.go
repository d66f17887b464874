//go:build darwin

package pool

import (
	"os"

	"golang.org/x/sys/unix"
)

// flushRange flushes dirty pages to disk.
//
// On macOS, msync() requires the address to match the original mmap() address,
// so the entire mapping is synced. The kernel only writes pages that are dirty.
func (p *Pool) flushRange(_, _ int) error {
	return unix.Msync(p.data, unix.MS_SYNC)
}

// fdatasync performs file descriptor sync.
//
// On macOS, if full is true, use F_FULLFSYNC so data reaches the physical
// disk rather than the drive cache. Otherwise, use regular fsync.
func fdatasync(f *os.File, full bool) error {
	if full {
		_, err := unix.FcntlInt(f.Fd(), unix.F_FULLFSYNC, 0)
		return err
	}
	return unix.Fsync(int(f.Fd()))
}
