// Package mmfile maps pool files read-only for inspection tools. Pages are
// shared with the file, so an image reflects writes made by a process that
// has the pool open.
package mmfile

import (
	"errors"
	"sync"
)

// ErrEmpty is returned for zero-length files, which cannot hold a pool.
var ErrEmpty = errors.New("mmfile: empty file")

// Image is a read-only view of a file.
type Image struct {
	data    []byte
	release func() error
	once    sync.Once
	err     error
}

// Bytes returns the mapped contents. The slice must not be written and is
// invalid after Close.
func (m *Image) Bytes() []byte { return m.data }

// Len returns the mapped length.
func (m *Image) Len() int { return len(m.data) }

// Close unmaps the image. Repeated calls return the first result.
func (m *Image) Close() error {
	m.once.Do(func() {
		if m.release != nil {
			m.err = m.release()
		}
		m.data = nil
	})
	return m.err
}
