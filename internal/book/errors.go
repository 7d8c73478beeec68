package book

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed input before it reaches the local
// store or the sync queue.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthorizationError is a role check failure. It is fatal and never
// retried.
type AuthorizationError struct {
	Role      Role
	Operation string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("role %s is not allowed to %s", e.Role, e.Operation)
}

// ConflictError means the remote rejected an operation because of stale
// state, typically after a concurrent update from another device. The
// queue entry is marked failed; the user must refresh and retry.
type ConflictError struct {
	Table  string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %s: %s", e.Table, e.ID, e.Reason)
}

// NetworkError wraps a transient connectivity failure. Operations that
// fail with it are retried with bounded exponential backoff.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network unreachable: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IntegrityError means applying the operation would violate a domain
// invariant (for example paid_amount exceeding amount). The operation is
// aborted, never partially applied.
type IntegrityError struct {
	Invariant string
}

func (e *IntegrityError) Error() string {
	return "integrity violation: " + e.Invariant
}

// IsRetryable reports whether err is a transient failure worth retrying.
// Only network errors qualify; everything else in the taxonomy is final.
func IsRetryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
