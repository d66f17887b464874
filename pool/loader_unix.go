//go:build linux || darwin

package pool

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/joshuapare/pmemtx/internal/format"
)

// OpenOptions configures Open.
type OpenOptions struct {
	// Layout, when non-empty, must match the layout recorded at creation.
	Layout string
	// ReadOnly maps the pool without write access. Flush and Sync fail.
	ReadOnly bool
}

// Open mmaps the pool RW (or RO) so it can be mutated in place. The header is
// validated before Open returns; structural checks of lanes and heap are the
// caller's job.
func Open(path string, opts OpenOptions) (*Pool, error) {
	flag, prot := os.O_RDWR, unix.PROT_READ|unix.PROT_WRITE
	if opts.ReadOnly {
		flag, prot = os.O_RDONLY, unix.PROT_READ
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	sz := st.Size()
	if sz == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("empty pool file %s: %w", path, format.ErrTruncated)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(sz), prot, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	p := &Pool{
		f:        f,
		path:     path,
		data:     data,
		size:     sz,
		readOnly: opts.ReadOnly,
	}
	if err := p.loadHeader(opts.Layout); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Close unmaps the pool and closes the file. It does not flush: every
// durable write has already been persisted by its writer.
func (p *Pool) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.data != nil {
		errs = append(errs, unix.Munmap(p.data))
		p.data = nil
	}
	if p.f != nil {
		errs = append(errs, p.f.Close())
		p.f = nil
	}
	return errors.Join(errs...)
}
