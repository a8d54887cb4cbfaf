package vfs

import (
	"fmt"

	"emperror.dev/errors"
	"github.com/apex/log"
)

type ErrorCode string

const (
	// ErrCodeMalformedPath is returned when the lexical pass over a client
	// path fails, before anything touches the disk. The only way to trigger
	// it is a ".." chain that climbs above the virtual root.
	ErrCodeMalformedPath ErrorCode = "E_BADPATH"
	// ErrCodeUnknownMount is returned when the first segment of a path does
	// not name one of the acting user's mounts.
	ErrCodeUnknownMount ErrorCode = "E_NOMOUNT"
	// ErrCodeCanonicalization is returned when the candidate real path could
	// not be resolved against the live filesystem.
	ErrCodeCanonicalization ErrorCode = "E_CANON"
	// ErrCodeEscape is returned when the canonical real path lands outside
	// the mount's bound subtree. Kept distinct for diagnostics, but it must
	// be surfaced to clients exactly like a missing file.
	ErrCodeEscape ErrorCode = "E_ESCAPE"
	// ErrCodePermissionDenied is returned when a write operation hits a
	// read-only resolution or the virtual root.
	ErrCodePermissionDenied ErrorCode = "E_DENIED"
	// ErrCodeNotAvailable is returned when the target exists but is not a
	// type the operation can act on, or does not exist at all.
	ErrCodeNotAvailable ErrorCode = "E_NOTAVAIL"
	ErrCodeIsDirectory  ErrorCode = "E_ISDIR"
	ErrCodeUnknownError ErrorCode = "E_UNKNOWN"
)

type Error struct {
	code ErrorCode
	// The virtual path as the client supplied it.
	path string
	// The real path the request resolved to, when resolution got that far.
	resolved string
	err      error
}

// newError returns a new error with a stack trace attached pointing at the
// caller of this function, and not this function itself.
func newError(code ErrorCode, err error, path string) error {
	return errors.WithStackDepth(&Error{code: code, err: err, path: path}, 1)
}

func (e *Error) Code() ErrorCode {
	return e.code
}

func (e *Error) Path() string {
	return e.path
}

// Resolved returns the real path the request resolved to before being
// rejected. Empty when the rejection happened lexically.
func (e *Error) Resolved() string {
	return e.resolved
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Error() string {
	switch e.code {
	case ErrCodeMalformedPath:
		return "vfs: path escapes the virtual root: " + e.path
	case ErrCodeUnknownMount:
		return "vfs: no mount point for path: " + e.path
	case ErrCodeCanonicalization:
		return "vfs: failed to canonicalize path: " + e.path
	case ErrCodeEscape:
		return fmt.Sprintf("vfs: path resolves outside its mount: path=%s resolved=%s", e.path, e.resolved)
	case ErrCodePermissionDenied:
		return "vfs: permission denied: " + e.path
	case ErrCodeNotAvailable:
		return "vfs: not available: " + e.path
	case ErrCodeIsDirectory:
		return "vfs: is a directory: " + e.path
	}
	return "vfs: unhandled error condition"
}

// AsError returns the underlying *Error if err wraps one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if err != nil && errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode checks if err is a vfs Error with the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	if e, ok := AsError(err); ok {
		return e.code == code
	}
	return false
}

// NewEscapeError logs the internal detail of a confinement failure and
// returns the error that callers surface. The resolved path never leaves the
// process: clients must not be able to learn where a mount is bound by
// probing with symlinks.
func NewEscapeError(path string, resolved string) error {
	log.WithFields(log.Fields{
		"subsystem": "vfs",
		"path":      path,
		"resolved":  resolved,
	}).Warn("path resolved outside of its bound mount directory")
	return errors.WithStackDepth(&Error{code: ErrCodeEscape, path: path, resolved: resolved}, 1)
}
