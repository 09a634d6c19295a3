package drm

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a Device whose last reference
// has been released.
var ErrClosed = errors.New("drm: device closed")

// IoctlError is returned when the kernel rejects a request. It unwraps
// to the errno, so callers can test for unix.EBUSY and friends with
// errors.Is.
type IoctlError struct {
	Op  string
	Err error
}

func (err *IoctlError) Error() string {
	return fmt.Sprintf("drm: %v: %v", err.Op, err.Err)
}

func (err *IoctlError) Unwrap() error {
	return err.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IoctlError{Op: op, Err: err}
}
