// Package errclass provides the engine's stable, machine-readable error
// taxonomy: the wire error names from spec section 6, plus the admission
// and execution errors described in section 7.
package errclass

import "fmt"

// SnapError is a stable error class: a fixed Code plus a situational
// Message. Two SnapErrors are Is-equal iff their Codes match, regardless
// of Message, so callers can errors.Is(err, errclass.ErrSnapshotMissing).
type SnapError struct {
	Code    string
	Message string
}

func (e *SnapError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is implements errors.Is by Code, ignoring Message.
func (e *SnapError) Is(target error) bool {
	t, ok := target.(*SnapError)
	return ok && e.Code == t.Code
}

// WithMessage returns a new SnapError with the same Code and msg as
// Message.
func (e *SnapError) WithMessage(msg string) *SnapError {
	return &SnapError{Code: e.Code, Message: msg}
}

// WithMessagef is WithMessage with fmt.Sprintf formatting.
func (e *SnapError) WithMessagef(format string, args ...any) *SnapError {
	return &SnapError{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Stable wire error names (spec section 6).
var (
	ErrConcurrentSnapshotExecution = &SnapError{Code: "ConcurrentSnapshotExecution"}
	ErrInvalidSnapshotName         = &SnapError{Code: "InvalidSnapshotName"}
	ErrSnapshotMissing             = &SnapError{Code: "SnapshotMissing"}
	ErrSnapshotException           = &SnapError{Code: "SnapshotException"}
	ErrRepositoryException         = &SnapError{Code: "RepositoryException"}
	ErrRepositoryMissing           = &SnapError{Code: "RepositoryMissing"}
	ErrNotClusterManager           = &SnapError{Code: "NotClusterManager"}
	ErrFailedToCommitClusterState  = &SnapError{Code: "FailedToCommitClusterState"}
)
