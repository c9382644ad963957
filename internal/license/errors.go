package license

import (
	"errors"
	"fmt"
)

// Kind classifies license failures so callers can render each
// distinctly: an expired license is actionable (renew), an
// unauthorized device is actionable (contact support), a transport
// failure means retry later.
type Kind string

// Error kinds for license operations
const (
	KindTransport          Kind = "TRANSPORT_ERROR"
	KindCredential         Kind = "INVALID_CREDENTIALS"
	KindProtocol           Kind = "PROTOCOL_ERROR"
	KindUnauthorizedDevice Kind = "UNAUTHORIZED_DEVICE"
	KindExpired            Kind = "LICENSE_EXPIRED"
	KindBusy               Kind = "TASK_BUSY"
)

// Sentinel errors for state machine misuse
var (
	ErrSessionActive   = errors.New("a session task is already in flight")
	ErrNotMonitoring   = errors.New("session is not in the monitoring state")
	ErrSessionFinished = errors.New("session has reached a terminal state")
)

// LicenseError is the uniform failure shape for every protocol
// operation. No raw transport error crosses the package boundary
// unclassified.
type LicenseError struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface
func (e *LicenseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *LicenseError) Unwrap() error {
	return e.Err
}

// NewError creates a classified license error
func NewError(kind Kind, message string) *LicenseError {
	return &LicenseError{Kind: kind, Message: message}
}

// WrapError creates a classified license error around a cause
func WrapError(kind Kind, message string, err error) *LicenseError {
	return &LicenseError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the failure kind from an error chain.
// Unclassified errors report KindProtocol.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var le *LicenseError
	if errors.As(err, &le) {
		return le.Kind
	}
	if errors.Is(err, ErrSessionActive) {
		return KindBusy
	}
	return KindProtocol
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
