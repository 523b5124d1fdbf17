package shared

import "errors"

var (
	// ErrNotFound indicates the target user does not resolve in the directory.
	ErrNotFound = errors.New("user not found")
	// ErrPermissionDenied indicates the actor lacks the role to perform the change.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvariantViolation indicates the change would leave the system without a super admin.
	ErrInvariantViolation = errors.New("operation would leave no SUPER_ADMIN in the system")
	// ErrAlreadyInState indicates the target already holds the requested role or block state.
	ErrAlreadyInState = errors.New("already in requested state")
)

// DeniedError carries a policy denial reason while matching
// ErrPermissionDenied under errors.Is.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string { return e.Reason }

func (e *DeniedError) Unwrap() error { return ErrPermissionDenied }

// Denied wraps a policy denial reason.
func Denied(reason string) error { return &DeniedError{Reason: reason} }

// UserSafeMessage returns text that can be shown to an end user. Policy
// denials and invariant violations carry their own wording; anything else is
// collapsed to a generic message so raw backend errors never leak.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrInvariantViolation),
		errors.Is(err, ErrAlreadyInState):
		return err.Error()
	default:
		return "The request could not be completed. Please try again."
	}
}
