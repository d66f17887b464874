// Package types defines the small, dependency-free vocabulary shared by the
// pmemtx packages: typed errors with stable categories and object handles.
//
// Error categories:
//   - ResourceExhausted: the heap or the undo log could not grow. The current
//     transaction is aborted and the failure propagated.
//   - InvalidState: an operation was issued on a finished frame, out of stack
//     order, or concurrently on one transaction stack.
//   - Corrupt: a pool or one of its undo logs failed a structural check on
//     open. The pool must not be used.
//   - NotFound: a pool file or an object handle did not resolve.
//
// Callers branch with errors.Is against the sentinels (ErrNotFound, ...);
// any *Error of the same kind matches.
package types
