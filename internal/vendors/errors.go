package vendors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrRejected means the vendor synchronously refused a submission (bad
// signature, malformed payload, quota).
var ErrRejected = errors.New("vendor rejected submission")

// ErrorCode is a classified vendor failure. Classification happens once, at
// the client boundary; orchestration logic only ever consults the code, so
// substring matching on human-readable vendor text never leaks upward.
type ErrorCode string

const (
	CodeNone            ErrorCode = ""
	CodeTimeout         ErrorCode = "timeout"
	CodeConnectionReset ErrorCode = "connection_reset"
	CodeUnreachable     ErrorCode = "vendor_unreachable"
	CodeInvalidInput    ErrorCode = "invalid_input"
	CodeQuotaExceeded   ErrorCode = "quota_exceeded"
	CodeInternal        ErrorCode = "vendor_internal"
)

// Transient reports whether the failure is not-yet-conclusive: the task may
// still be running vendor-side, so the caller should keep polling instead of
// failing the job.
func (c ErrorCode) Transient() bool {
	switch c {
	case CodeTimeout, CodeConnectionReset, CodeUnreachable:
		return true
	}
	return false
}

// TransportError is a submit/poll failure in our own network layer or the
// vendor's edge, as opposed to a vendor-reported task outcome.
type TransportError struct {
	Code ErrorCode
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("vendor transport error (%s): %v", e.Code, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CodeOf extracts the classified code from an error, CodeInternal if none.
func CodeOf(err error) ErrorCode {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Code
	}
	return CodeInternal
}

// ClassifyTransport maps a transport-level error onto a TransportError with
// a classified code.
func ClassifyTransport(err error) *TransportError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Code: CodeTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &TransportError{Code: CodeTimeout, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Code: CodeTimeout, Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if strings.Contains(opErr.Err.Error(), "reset") {
			return &TransportError{Code: CodeConnectionReset, Err: err}
		}
		return &TransportError{Code: CodeUnreachable, Err: err}
	}

	return &TransportError{Code: CodeUnreachable, Err: err}
}

// ClassifyFailureMessage maps a vendor-reported failure text onto an
// ErrorCode. Some vendors report transient infrastructure hiccups through
// the same channel as real task failures; those must not fail the job.
func ClassifyFailureMessage(msg string) ErrorCode {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return CodeTimeout
	case strings.Contains(lower, "connection reset"), strings.Contains(lower, "econnreset"):
		return CodeConnectionReset
	case strings.Contains(lower, "quota"), strings.Contains(lower, "rate limit"):
		return CodeQuotaExceeded
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "unsupported"),
		strings.Contains(lower, "malformed"), strings.Contains(lower, "rejected"):
		return CodeInvalidInput
	default:
		return CodeInternal
	}
}
