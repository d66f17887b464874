package format

import "errors"

var (
	// ErrSignatureMismatch indicates a structure had an unexpected magic.
	ErrSignatureMismatch = errors.New("format: signature mismatch")
	// ErrTruncated indicates the buffer lacked the bytes required for a structure.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrChecksum indicates a stored checksum did not match the structure.
	ErrChecksum = errors.New("format: checksum mismatch")
	// ErrVersion indicates the pool was written by an incompatible format version.
	ErrVersion = errors.New("format: unsupported version")
	// ErrBadCell indicates a cell header that cannot describe a valid cell.
	ErrBadCell = errors.New("format: bad cell header")
	// ErrEndOfLog marks a zero slot or the end of a log block's entry area.
	ErrEndOfLog = errors.New("format: end of log")
	// ErrTornEntry marks a slot holding a partial entry: a checksum mismatch,
	// a length running past the block, or a lane or generation stamp that is
	// not the reader's. Only the last entry of a log can legitimately be torn.
	ErrTornEntry = errors.New("format: torn log entry")
	// ErrBadEntry indicates a checksummed entry whose fields are inconsistent.
	ErrBadEntry = errors.New("format: malformed log entry")
)
