package format

// Align8 returns n aligned up to the next 8-byte boundary.
// Entry payloads are padded this way.
//
// Example:
//
//	Align8(1)  = 8
//	Align8(8)  = 8
//	Align8(9)  = 16
func Align8(n int) int {
	return (n + EntryAlignmentMask) & ^EntryAlignmentMask
}

// Align16 returns n aligned up to the next 16-byte boundary.
// Cell sizes are always a multiple of CellAlignment.
//
// Example:
//
//	Align16(1)  = 16
//	Align16(16) = 16
//	Align16(17) = 32
func Align16(n int) int {
	return (n + CellAlignmentMask) & ^CellAlignmentMask
}

// AlignPage returns n aligned up to the next 4KB (4096-byte) boundary.
// The lane table and the heap start on page boundaries.
//
// Example:
//
//	AlignPage(1)    = 4096
//	AlignPage(4096) = 4096
//	AlignPage(4097) = 8192
func AlignPage(n int) int {
	return (n + PageAlignmentMask) & ^PageAlignmentMask
}

// CellSizeFor returns the cell size (header included) needed to hold a
// payload of n bytes.
func CellSizeFor(n int) int {
	size := Align16(n + CellHeaderSize)
	if size < MinCellSize {
		size = MinCellSize
	}
	return size
}
