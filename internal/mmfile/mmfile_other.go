//go:build !unix

package mmfile

import (
	"fmt"
	"os"
)

// Open reads the whole file when mmap is not available.
func Open(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmpty)
	}
	return &Image{data: data}, nil
}
