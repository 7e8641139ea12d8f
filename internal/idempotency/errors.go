package idempotency

import (
	"errors"
	"fmt"
)

// ErrConflict means another request holding the same key is still being
// processed and did not finish within the retry budget. It is retryable.
var ErrConflict = errors.New("a request with this idempotency key is still being processed")

// errInFlight marks a retry attempt that found an unfilled placeholder.
var errInFlight = errors.New("idempotency key in flight")

// PersistenceError wraps a database failure of the store. The transaction it
// belonged to has been rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("idempotency %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError reports whether err wraps a *PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
