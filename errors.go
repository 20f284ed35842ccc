package photolib

import (
	"errors"
	"fmt"
)

// Failure taxonomy for library access. Callers classify errors with
// errors.Is; CommitFailedError also carries the store's detail and is
// matched with errors.As.
var (
	// ErrAccessDenied means the platform grant required for the operation
	// was refused.
	ErrAccessDenied = errors.New("photolib: access denied")

	// ErrAccessRestricted means platform policy forbids asking for access,
	// for example on a managed device or in a non-interactive process.
	ErrAccessRestricted = errors.New("photolib: access restricted")

	// ErrModeViolation means the operation is not valid in the session's
	// current library mode.
	ErrModeViolation = errors.New("photolib: operation invalid in current library mode")

	// ErrInvalidModeTransition means the platform failed while switching
	// the session to multi-library mode.
	ErrInvalidModeTransition = errors.New("photolib: mode transition failed")

	ErrNotFound      = errors.New("photolib: not found")
	ErrAlreadyExists = errors.New("photolib: already exists")
	ErrAlreadyOpen   = errors.New("photolib: library already open")
	ErrHandleClosed  = errors.New("photolib: library handle closed")

	// ErrUnsupportedFileType means the file extension is not a recognized
	// media kind.
	ErrUnsupportedFileType = errors.New("photolib: unsupported file type")

	// ErrConcurrentChange means another change request is already submitted
	// against the same library handle.
	ErrConcurrentChange = errors.New("photolib: concurrent change in progress")

	// ErrUnreachable means communication with the backing store failed.
	// It is fatal to the affected handle; other handles stay usable.
	ErrUnreachable = errors.New("photolib: store unreachable")
)

// CommitFailedError reports a change batch rejected by the backing store.
// Detail carries the store's own description of the failure. The staged
// batch is never partially applied.
type CommitFailedError struct {
	Detail string
	Err    error
}

func (e *CommitFailedError) Error() string {
	if e.Detail == "" {
		return "photolib: store commit failed"
	}
	return fmt.Sprintf("photolib: store commit failed: %s", e.Detail)
}

func (e *CommitFailedError) Unwrap() error { return e.Err }
