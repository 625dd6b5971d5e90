package errors

import (
	"errors"
)

type Code string

const (
	CodeAdapterInitFailed Code = "adapter_init_failed"
	CodeUserCancelled     Code = "user_cancelled"
	CodeProviderError     Code = "provider_error"
	CodeUnknownRole       Code = "unknown_role"
	CodeLoginFailed       Code = "login_failed"
	CodeRefreshFailed     Code = "refresh_failed"
	CodeNotAuthenticated  Code = "not_authenticated"
	CodeSessionExpired    Code = "session_expired"
)

const (
	CodeUnknown            Code = "unknown"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeNotImplemented     Code = "not_implemented"
)

var (
	ErrMissingStore    = errors.New("procureauth: credential store is required")
	ErrMissingBackend  = errors.New("procureauth: backend client is required")
	ErrMissingProvider = errors.New("procureauth: identity provider is not configured")
)

// Error is the only error type that crosses from the session layer into
// callers. Reason is set for login failures and names the failing step.
type Error struct {
	Code    Code
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func LoginFailed(reason string, err error) *Error {
	return &Error{
		Code:    CodeLoginFailed,
		Reason:  reason,
		Message: "login failed",
		Err:     err,
	}
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code Code) bool {
	for err != nil {
		var typed *Error
		if !errors.As(err, &typed) {
			return false
		}
		if typed.Code == code {
			return true
		}
		err = typed.Err
	}
	return false
}

// CodeOf returns the outermost code in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return CodeUnknown
}

func IsInternalCode(err error) bool {
	return IsCode(err, CodeUnknown) || IsCode(err, CodeStorageUnavailable) || IsCode(err, CodeNotImplemented)
}
