package jsonservice

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failed call.
type ErrorKind string

const (
	// KindNotFound is an HTTP 404 from the backend.
	KindNotFound ErrorKind = "NotFound"
	// KindNotModified is an HTTP 304 from the backend.
	KindNotModified ErrorKind = "NotModified"
	// KindTimeout means the soft retry budget ran out on timeouts.
	KindTimeout ErrorKind = "Timeout"
	// KindBackendUnavailable means the backend refused connections until the
	// soft budget ran out, or the TLS handshake failed.
	KindBackendUnavailable ErrorKind = "BackendUnavailable"
	// KindRequestMismatch means the echoed correlation token differs from
	// the one sent.
	KindRequestMismatch ErrorKind = "RequestMismatch"
	// KindService is a structured application error reported by the backend.
	KindService ErrorKind = "Service"
	// KindRequiredArgument means a required argument was blank.
	KindRequiredArgument ErrorKind = "RequiredArgument"
	// KindNoResponse means the connection kept breaking after the hard
	// retry.
	KindNoResponse ErrorKind = "NoResponse"
	KindStatus     ErrorKind = "Status"
	KindNetwork    ErrorKind = "Network"
	KindDecode     ErrorKind = "Decode"
	KindValidation ErrorKind = "Validation"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "not found"}
	ErrNotModified        = &Error{Kind: KindNotModified, Message: "not modified"}
	ErrTimeout            = &Error{Kind: KindTimeout, Message: "timed out"}
	ErrBackendUnavailable = &Error{Kind: KindBackendUnavailable, Message: "backend unavailable"}
	ErrRequestMismatch    = &Error{Kind: KindRequestMismatch, Message: "request id mismatch"}
	ErrService            = &Error{Kind: KindService, Message: "service error"}
	ErrRequiredArgument   = &Error{Kind: KindRequiredArgument, Message: "required argument missing"}
	ErrNoResponse         = &Error{Kind: KindNoResponse, Message: "no response"}
	ErrStatus             = &Error{Kind: KindStatus, Message: "unexpected status"}
	ErrNetwork            = &Error{Kind: KindNetwork, Message: "network error"}
	ErrDecode             = &Error{Kind: KindDecode, Message: "decode error"}
	ErrValidation         = &Error{Kind: KindValidation, Message: "invalid configuration"}
)

// ErrClientClosed is returned by calls made after Close.
var ErrClientClosed = errors.New("jsonservice: client closed")

// Error is the single error type returned by calls.
type Error struct {
	Kind    ErrorKind
	Message string
	// Code is the backend's PCode for service errors and "0" for missing
	// required arguments.
	Code string
	// Service is the endpoint URL the call was made against.
	Service string
	Args    Args
	// Response is the decoded payload that carried a service error.
	Response   any
	StatusCode int
	RequestID  string
	Attempt    int
	Timestamp  time.Time
	Duration   time.Duration
	Cause      error
}

// Error implements error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Code != "" {
		msg = fmt.Sprintf("%s [code %s]", msg, e.Code)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Service != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Service)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error kinds for errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *Error) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Kind: %s\n", e.Kind)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.Code != "" {
		info += fmt.Sprintf("Code: %s\n", e.Code)
	}
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Service != "" {
		info += fmt.Sprintf("Service: %s\n", e.Service)
	}
	if e.Args != nil {
		info += fmt.Sprintf("Args: %v\n", e.Args)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d\n", e.Attempt)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsTransient reports whether err is a failure that a later call might not
// hit: timeouts, refused or broken connections and plain network errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var callErr *Error
	if !errors.As(err, &callErr) {
		return false
	}
	switch callErr.Kind {
	case KindTimeout, KindBackendUnavailable, KindNoResponse, KindNetwork:
		return true
	case KindStatus:
		return callErr.StatusCode >= 500
	default:
		return false
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var callErr *Error
	if errors.As(err, &callErr) {
		return callErr.Kind
	}
	return ""
}

func newError(kind ErrorKind, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}
