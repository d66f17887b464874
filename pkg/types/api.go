package types

import "errors"

// ErrKind classifies errors so callers can branch on intent rather than text.
type ErrKind int

const (
	ErrKindResourceExhausted ErrKind = iota + 1 // heap or log space ran out
	ErrKindInvalidState                         // wrong frame, wrong order, concurrent use
	ErrKindCorrupt                              // structural corruption found on open
	ErrKindNotFound                             // missing pool file or bad handle
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindResourceExhausted:
		return "resource exhausted"
	case ErrKindInvalidState:
		return "invalid state"
	case ErrKindCorrupt:
		return "corrupt"
	case ErrKindNotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// Error is a typed error with an optional underlying cause.
type Error struct {
	Kind ErrKind
	Op   string // operation that failed, e.g. "tx.set"
	Msg  string
	Err  error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := e.Msg
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Err != nil {
		return s + ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so a detailed error satisfies
// errors.Is(err, ErrCorrupt).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// Errorf-style constructors used throughout the engine.

// Exhausted returns a ResourceExhausted error.
func Exhausted(op, msg string, cause error) error {
	return &Error{Kind: ErrKindResourceExhausted, Op: op, Msg: msg, Err: cause}
}

// InvalidState returns an InvalidState error.
func InvalidState(op, msg string) error {
	return &Error{Kind: ErrKindInvalidState, Op: op, Msg: msg}
}

// Corrupt returns a Corrupt error.
func Corrupt(op, msg string, cause error) error {
	return &Error{Kind: ErrKindCorrupt, Op: op, Msg: msg, Err: cause}
}

// NotFound returns a NotFound error.
func NotFound(op, msg string, cause error) error {
	return &Error{Kind: ErrKindNotFound, Op: op, Msg: msg, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Sentinels commonly returned by implementations.
var (
	// ErrResourceExhausted indicates the heap or the undo log is full.
	ErrResourceExhausted = &Error{Kind: ErrKindResourceExhausted, Msg: "resource exhausted"}
	// ErrInvalidState indicates an operation that is not legal in the current frame state.
	ErrInvalidState = &Error{Kind: ErrKindInvalidState, Msg: "invalid state"}
	// ErrCorrupt indicates non-recoverable structural inconsistency.
	ErrCorrupt = &Error{Kind: ErrKindCorrupt, Msg: "corrupt pool structure"}
	// ErrNotFound indicates a missing pool or an unresolvable handle.
	ErrNotFound = &Error{Kind: ErrKindNotFound, Msg: "not found"}
)
