package session

import (
	"errors"
	"fmt"
)

// ErrHostUnavailable is returned when an operation needs a live application
// handle and none exists. Recoverable by calling Start.
var ErrHostUnavailable = errors.New("session: host application is not available")

// DocumentNotFoundError indicates the requested path does not exist on disk.
type DocumentNotFoundError struct {
	Path string
}

func (e *DocumentNotFoundError) Error() string {
	return fmt.Sprintf("session: document not found: %s", e.Path)
}

// NotOwnedError indicates an attempt to close a document this session did
// not open, without the force flag.
type NotOwnedError struct {
	Path string
}

func (e *NotOwnedError) Error() string {
	return fmt.Sprintf("session: document not owned by this session: %s", e.Path)
}

// NotLeasedError indicates a release of a path that is not in the registry.
type NotLeasedError struct {
	Path string
}

func (e *NotLeasedError) Error() string {
	return fmt.Sprintf("session: document is not leased: %s", e.Path)
}

// PlatformCallError wraps an opaque failure from the automation binding
// with the operation that triggered it.
type PlatformCallError struct {
	Op  string
	Err error
}

func (e *PlatformCallError) Error() string {
	return fmt.Sprintf("session: platform call %q failed: %v", e.Op, e.Err)
}

func (e *PlatformCallError) Unwrap() error { return e.Err }

func platformErr(op string, err error) error {
	return &PlatformCallError{Op: op, Err: err}
}
