package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a machine-stable error code surfaced over IPC.
type ErrorCode string

const (
	// Input
	ErrInvalidPayload       ErrorCode = "invalid_payload"
	ErrUnknownOp            ErrorCode = "unknown_op"
	ErrUnknownRecipient     ErrorCode = "unknown_recipient"
	ErrNoSuchGroup          ErrorCode = "no_such_group"
	ErrNoSuchActor          ErrorCode = "no_such_actor"
	ErrScopeAlreadyAttached ErrorCode = "scope_already_attached"
	ErrVersionConflict      ErrorCode = "version_conflict"

	// Authorization
	ErrUnauthorized     ErrorCode = "unauthorized"
	ErrPermissionDenied ErrorCode = "permission_denied"
	ErrGroupStopped     ErrorCode = "group_stopped"

	// State
	ErrActorNotRunning     ErrorCode = "actor_not_running"
	ErrActorAlreadyRunning ErrorCode = "actor_already_running"
	ErrForemanRequired     ErrorCode = "foreman_required"

	// Resource
	ErrIO          ErrorCode = "io_error"
	ErrTimeout     ErrorCode = "timeout"
	ErrLagged      ErrorCode = "lagged"
	ErrRateLimited ErrorCode = "rate_limited"

	// Internal
	ErrInternal ErrorCode = "internal_error"
)

// Error is the error shape every port sees: a stable code, a human
// message, and optional structured context. Stack traces never cross the
// IPC boundary; internal errors carry a correlation id in Details.
type Error struct {
	Code    ErrorCode         `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// E builds an Error with a formatted message.
func E(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches one structured context field.
func (e *Error) WithDetail(k, v string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[k] = v
	return e
}

// CodeOf extracts the stable code from any error; wrapped non-Error
// values report internal_error.
func CodeOf(err error) ErrorCode {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ErrInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// AsError converts any error into the IPC shape, preserving an existing
// *Error unchanged.
func AsError(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Code: ErrInternal, Message: err.Error()}
}
