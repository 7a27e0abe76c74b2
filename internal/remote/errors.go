// Package remote implements the client for the backing deliveries service.
// This file defines the failure taxonomy reported by every call. Failures
// are propagated verbatim; no retry is performed at this layer.
package remote

import (
	"errors"
	"fmt"
)

// ErrTimeout is wrapped by any call that exceeded its deadline. Check with
// errors.Is(err, remote.ErrTimeout).
var ErrTimeout = errors.New("remote call timed out")

// NetworkError is a transport failure: the request never produced a
// response (DNS failure, refused connection, broken pipe).
type NetworkError struct {
	Op  string // logical operation, e.g. "list", "delete"
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("remote %s: network error: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying transport error.
func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError means the remote service answered with a non-2xx status.
type ServerError struct {
	Op     string
	Status int
	Body   string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("remote %s: server returned %d: %s", e.Op, e.Status, e.Body)
}
