package biometric

import (
	"errors"
	"fmt"

	dErrors "examgate/pkg/domain-errors"
)

// ErrorCategory normalizes why a remote call failed.
type ErrorCategory string

const (
	ErrorTimeout     ErrorCategory = "timeout"
	ErrorTransport   ErrorCategory = "transport"
	ErrorBadData     ErrorCategory = "bad_data"
	ErrorRejected    ErrorCategory = "rejected"
	ErrorNotFound    ErrorCategory = "not_found"
	ErrorOutage      ErrorCategory = "outage"
	ErrorCircuitOpen ErrorCategory = "circuit_open"
)

// RemoteError wraps a failed call to the biometric API. Every RemoteError is
// a RemoteUnavailable failure to callers; Category and Retryable refine it for
// logs and metrics.
type RemoteError struct {
	Category   ErrorCategory
	Operation  string
	StatusCode int
	Message    string
	Underlying error
	Retryable  bool
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("biometric %s [%s]: %s", e.Operation, e.Category, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Underlying != nil {
		msg += ": " + e.Underlying.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error {
	return e.Underlying
}

func newRemoteError(category ErrorCategory, op string, status int, message string, underlying error) error {
	retryable := category == ErrorTimeout ||
		category == ErrorTransport ||
		category == ErrorOutage ||
		category == ErrorCircuitOpen
	re := &RemoteError{
		Category:   category,
		Operation:  op,
		StatusCode: status,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
	return dErrors.Wrap(re, dErrors.CodeRemoteUnavailable, "verification service unavailable: "+message)
}

// CategoryOf extracts the category of a remote failure.
func CategoryOf(err error) ErrorCategory {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}

// IsRetryable reports whether repeating the call may succeed.
func IsRetryable(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// ErrAlreadyRegistered is returned by Register when the email already has an
// account upstream.
var ErrAlreadyRegistered = errors.New("email already registered")
