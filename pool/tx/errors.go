package tx

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted is wrapped by every error reporting an aborted transaction.
	ErrAborted = errors.New("tx: transaction aborted")

	// ErrUserAbort is the cause recorded when Abort is called with a nil cause.
	ErrUserAbort = errors.New("tx: aborted by caller")
)

func abortedError(cause error) error {
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}
