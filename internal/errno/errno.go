// Package errno defines the stable, numeric error codes that cross the
// proxy/client-shim boundary, and a small error type for carrying one
// alongside a human-readable message.
package errno

import (
	"errors"
	"fmt"
)

// Errno is one of the stable numeric codes crossing the proxy/client-shim
// boundary.
type Errno int

// The full set of codes the proxy may return to a client.
const (
	EPERM  Errno = -1
	ENOENT Errno = -2
	EBADF  Errno = -9
	EEXIST Errno = -17
	EISDIR Errno = -21
	EINVAL Errno = -22
	EACCES Errno = -13
	EIO    Errno = -100

	// ModeR and ModeRW are the server open-status codes returned in a
	// probe ChunkResponse's StatusCode field.
	ModeR  Errno = 1
	ModeRW Errno = 2
)

func (e Errno) String() string {
	switch e {
	case EPERM:
		return "EPERM"
	case ENOENT:
		return "ENOENT"
	case EBADF:
		return "EBADF"
	case EEXIST:
		return "EEXIST"
	case EISDIR:
		return "EISDIR"
	case EINVAL:
		return "EINVAL"
	case EACCES:
		return "EACCES"
	case EIO:
		return "EIO"
	case ModeR:
		return "MODE_R"
	case ModeRW:
		return "MODE_RW"
	default:
		return fmt.Sprintf("errno(%d)", int(e))
	}
}

// IsError reports whether the code denotes a failure rather than a granted
// open mode.
func (e Errno) IsError() bool {
	return e < 0
}

// Error wraps an Errno with context about the operation and path involved.
// It implements the error interface; callers recover its Code field with
// errors.As, or with CodeOf.
type Error struct {
	Op   string
	Path string
	Code Errno
	Err  error // underlying cause, if any; may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Path != "" {
			return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Code, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs an *Error. err may be nil.
func E(op, path string, code Errno, err error) *Error {
	return &Error{Op: op, Path: path, Code: code, Err: err}
}

// CodeOf extracts the Errno carried by err, defaulting to EIO for any error
// that doesn't carry one of its own.
func CodeOf(err error) Errno {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EIO
}
