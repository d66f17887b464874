package types

import "fmt"

// Handle identifies a persistent object: the pool it lives in and the offset
// of its payload inside the pool file. The zero Handle is null.
//
// Only Off is stored on disk (8 bytes); Pool is reattached from the open
// store when a handle is read back, so handles from one pool are rejected by
// another.
type Handle struct {
	Pool uint64
	Off  uint64
}

// Null is the zero handle.
var Null = Handle{}

// IsNull reports whether h refers to nothing.
func (h Handle) IsNull() bool { return h.Off == 0 }

func (h Handle) String() string {
	if h.IsNull() {
		return "handle(null)"
	}
	return fmt.Sprintf("handle(%016x:0x%x)", h.Pool, h.Off)
}

// HandleSize is the on-disk width of a stored handle.
const HandleSize = 8
