//go:build !linux && !darwin

package pool

import (
	"errors"
	"fmt"
	"os"

	"github.com/joshuapare/pmemtx/internal/format"
)

// OpenOptions configures Open.
type OpenOptions struct {
	// Layout, when non-empty, must match the layout recorded at creation.
	Layout string
	// ReadOnly opens the pool without write access. Flush and Sync fail.
	ReadOnly bool
}

// Open reads the pool into memory. Flush writes ranges back with WriteAt.
func Open(path string, opts OpenOptions) (*Pool, error) {
	flag := os.O_RDWR
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if len(data) == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("empty pool file %s: %w", path, format.ErrTruncated)
	}
	p := &Pool{
		f:        f,
		path:     path,
		data:     data,
		size:     int64(len(data)),
		readOnly: opts.ReadOnly,
	}
	if err := p.loadHeader(opts.Layout); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the buffer and closes the file.
func (p *Pool) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	p.data = nil
	if p.f != nil {
		errs = append(errs, p.f.Close())
		p.f = nil
	}
	return errors.Join(errs...)
}

func (p *Pool) flushRange(start, end int) error {
	_, err := p.f.WriteAt(p.data[start:end], int64(start))
	return err
}
