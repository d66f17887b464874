package pool

import (
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/joshuapare/pmemtx/internal/format"
)

// NormalizeLayout returns the canonical (NFC) form of a layout name so that
// names typed with different Unicode compositions compare equal.
func NormalizeLayout(name string) string {
	return norm.NFC.String(name)
}

func checkLayout(name string) (string, error) {
	n := NormalizeLayout(name)
	if len(n) >= format.LayoutNameMax {
		return "", fmt.Errorf("pool: layout name %q longer than %d bytes", name, format.LayoutNameMax-1)
	}
	for i := 0; i < len(n); i++ {
		if n[i] == 0 {
			return "", fmt.Errorf("pool: layout name contains NUL")
		}
	}
	return n, nil
}
