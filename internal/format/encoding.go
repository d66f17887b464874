package format

import "encoding/binary"

// Little-endian put/read helpers for fixed layout fields. Callers pass offsets
// that have already been bounds checked; out-of-range offsets panic.

// PutU16 writes a uint16 value to the buffer at the specified offset in little-endian format.
func PutU16(b []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(b[off:off+2], v)
}

// PutU32 writes a uint32 value to the buffer at the specified offset in little-endian format.
func PutU32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:off+4], v)
}

// PutU64 writes a uint64 value to the buffer at the specified offset in little-endian format.
func PutU64(b []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(b[off:off+8], v)
}

// PutI64 writes an int64 value to the buffer at the specified offset in little-endian format.
func PutI64(b []byte, off int, v int64) {
	binary.LittleEndian.PutUint64(b[off:off+8], uint64(v))
}

// ReadU16 reads a uint16 value from the buffer at the specified offset in little-endian format.
func ReadU16(b []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(b[off : off+2])
}

// ReadU32 reads a uint32 value from the buffer at the specified offset in little-endian format.
func ReadU32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off : off+4])
}

// ReadU64 reads a uint64 value from the buffer at the specified offset in little-endian format.
func ReadU64(b []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(b[off : off+8])
}

// ReadI64 reads an int64 value from the buffer at the specified offset in little-endian format.
func ReadI64(b []byte, off int) int64 {
	return int64(binary.LittleEndian.Uint64(b[off : off+8]))
}

// PutWidth stores the low width bytes of v at off. width must be 1, 2, 4 or 8.
func PutWidth(b []byte, off int, width int, v uint64) {
	switch width {
	case 1:
		b[off] = byte(v)
	case 2:
		PutU16(b, off, uint16(v))
	case 4:
		PutU32(b, off, uint32(v))
	case 8:
		PutU64(b, off, v)
	default:
		panic("format: invalid field width")
	}
}

// ReadWidth loads a width-byte little-endian value from off.
func ReadWidth(b []byte, off int, width int) uint64 {
	switch width {
	case 1:
		return uint64(b[off])
	case 2:
		return uint64(ReadU16(b, off))
	case 4:
		return uint64(ReadU32(b, off))
	case 8:
		return ReadU64(b, off)
	default:
		panic("format: invalid field width")
	}
}

// ValidWidth reports whether w is a width SET entries support.
func ValidWidth(w int) bool {
	return w == 1 || w == 2 || w == 4 || w == 8
}
