package shipper

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorClass is the carrier-agnostic category of a failure.
type ErrorClass string

const (
	ClassCarrierTimeout       ErrorClass = "carrier_timeout"
	ClassCarrierUnavailable   ErrorClass = "carrier_unavailable"
	ClassRateLimitExceeded    ErrorClass = "rate_limit_exceeded"
	ClassInvalidAddress       ErrorClass = "invalid_address"
	ClassPOBoxNotSupported    ErrorClass = "po_box_not_supported"
	ClassCoverageNotAvailable ErrorClass = "coverage_not_available"
	ClassInternalError        ErrorClass = "internal_error"
)

// Status returns the HTTP-like numeric class for the error class.
// 4xx values are client errors, 5xx values are server errors.
func (c ErrorClass) Status() int {
	switch c {
	case ClassCarrierTimeout:
		return http.StatusGatewayTimeout
	case ClassCarrierUnavailable:
		return http.StatusServiceUnavailable
	case ClassRateLimitExceeded:
		return http.StatusTooManyRequests
	case ClassInvalidAddress, ClassPOBoxNotSupported:
		return http.StatusBadRequest
	case ClassCoverageNotAvailable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether failures of this class may succeed when retried.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ClassInvalidAddress, ClassPOBoxNotSupported, ClassCoverageNotAvailable:
		return false
	default:
		return true
	}
}

// StandardizedError is the single error shape that leaves the resilience
// layer. Every adapter failure is converted to exactly one of these.
type StandardizedError struct {
	Status      int            `json:"status"`
	Class       ErrorClass     `json:"class"`
	Carrier     string         `json:"carrier,omitempty"`
	CarrierCode string         `json:"carrier_code,omitempty"`
	Message     string         `json:"message"`
	Retryable   bool           `json:"retryable"`
	Timestamp   time.Time      `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
	Cause       error          `json:"-"`
}

// NewStandardizedError creates a StandardizedError whose status and
// retryable flag are derived from the class.
func NewStandardizedError(class ErrorClass, carrier, message string) *StandardizedError {
	return &StandardizedError{
		Status:    class.Status(),
		Class:     class,
		Carrier:   carrier,
		Message:   message,
		Retryable: class.Retryable(),
		Timestamp: time.Now().UTC(),
	}
}

// Error implements the error interface.
func (e *StandardizedError) Error() string {
	if e.CarrierCode != "" {
		return fmt.Sprintf("%s error [%s/%s]: %s", e.Carrier, e.Class, e.CarrierCode, e.Message)
	}
	if e.Carrier != "" {
		return fmt.Sprintf("%s error [%s]: %s", e.Carrier, e.Class, e.Message)
	}
	return fmt.Sprintf("[%s]: %s", e.Class, e.Message)
}

// Unwrap returns the underlying cause.
func (e *StandardizedError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for StandardizedError. Two errors match when they
// share a class.
func (e *StandardizedError) Is(target error) bool {
	t, ok := target.(*StandardizedError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// IsClientError reports whether the status is in the 4xx range.
func (e *StandardizedError) IsClientError() bool {
	return e.Status >= 400 && e.Status < 500
}

// WithCause adds a cause to the error.
func (e *StandardizedError) WithCause(err error) *StandardizedError {
	e.Cause = err
	return e
}

// WithCarrierCode sets the raw carrier error code.
func (e *StandardizedError) WithCarrierCode(code string) *StandardizedError {
	e.CarrierCode = code
	return e
}

// WithRetryable overrides the retryable flag derived from the class.
func (e *StandardizedError) WithRetryable(retryable bool) *StandardizedError {
	e.Retryable = retryable
	return e
}

// WithTimestamp overrides the error timestamp.
func (e *StandardizedError) WithTimestamp(t time.Time) *StandardizedError {
	e.Timestamp = t
	return e
}

// WithDetail attaches a raw detail value.
func (e *StandardizedError) WithDetail(key string, value any) *StandardizedError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Sentinel errors for common shipping scenarios.
var (
	// ErrInvalidAddress indicates the address is invalid or incomplete.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrPOBoxNotSupported indicates the carrier cannot deliver to a PO Box.
	ErrPOBoxNotSupported = errors.New("po box not supported")

	// ErrCoverageNotAvailable indicates the destination is outside the serviceable area.
	ErrCoverageNotAvailable = errors.New("coverage not available")

	// ErrServiceUnavailable indicates the carrier service is temporarily unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrTrackingNumberPending indicates the carrier has not finished
	// allocating a tracking number and the create call may be repeated.
	ErrTrackingNumberPending = errors.New("tracking number allocation in progress")

	// ErrUnsuccessfulResponse indicates the carrier answered without a
	// transport error but its response envelope reports failure.
	ErrUnsuccessfulResponse = errors.New("unsuccessful carrier response")

	// ErrLabelNotAvailable indicates the label is not yet available.
	ErrLabelNotAvailable = errors.New("label not available")

	// ErrAuthenticationFailed indicates carrier authentication failed.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrRateLimitExceeded indicates the carrier rate limit was exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidPackage indicates package dimensions or weight are invalid.
	ErrInvalidPackage = errors.New("invalid package")

	// ErrCarrierNotFound indicates the requested carrier is not registered.
	ErrCarrierNotFound = errors.New("carrier not found")
)

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var stdErr *StandardizedError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrTrackingNumberPending)
}
