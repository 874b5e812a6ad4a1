package apperr

import (
	"errors"
	"fmt"
)

// ErrNotFound signals that an operation referenced a drink or try that is
// not in the log. Expected during stale-UI races, so callers treat it as a
// no-op rather than a failure.
var ErrNotFound = errors.New("not found")

// NetworkError wraps an upstream fetch failure (timeout, DNS, non-2xx,
// malformed JSON). Retryable; callers fall back to cached data when present.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// PersistenceError wraps a local key-value store failure. Reads fall back
// to "no data"; writes are logged and the in-memory state stays
// authoritative for the session.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s of %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
