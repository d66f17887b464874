package alloc

import "errors"

var (
	// ErrNoSpace indicates that no free cell large enough was found.
	ErrNoSpace = errors.New("alloc: no free cell large enough")

	// ErrBadRef indicates an invalid, out-of-bounds or free cell reference.
	ErrBadRef = errors.New("alloc: bad cell reference")

	// ErrNotFree indicates an attempt to release a cell that is not marked free.
	ErrNotFree = errors.New("alloc: expected free cell")

	// ErrTooLarge indicates a request larger than the heap.
	ErrTooLarge = errors.New("alloc: request larger than heap")
)
