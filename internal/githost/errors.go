package githost

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a missing ref or file where absence is a fault.
	ErrNotFound = errors.New("not found in remote store")

	// ErrConflict reports a non-fast-forward ref update: the branch moved
	// between the head read and the update.
	ErrConflict = errors.New("ref update rejected, not a fast-forward")

	// ErrSlowDown is the store's "too many requests in quick succession"
	// signal. Retryable after backoff.
	ErrSlowDown = errors.New("remote store rejected rapid requests")

	// ErrRemoteUnauthorized means the server-held write credential was
	// rejected. Callers should invalidate local sessions and force
	// re-authentication.
	ErrRemoteUnauthorized = errors.New("remote store rejected credentials")
)

// RemoteError carries any other non-2xx response from the store.
type RemoteError struct {
	Op     string
	Status int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote store %s failed: status %d", e.Op, e.Status)
}
