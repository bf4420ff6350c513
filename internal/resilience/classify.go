package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"syscall"

	"github.com/tournevent/shiprouter/pkg/shipper"
)

// coded is implemented by adapter errors that carry a raw carrier code.
type coded interface {
	CarrierCode() string
}

// Classify converts any adapter failure into a StandardizedError. An error
// that already is a StandardizedError is returned as is.
func Classify(carrier string, err error) *shipper.StandardizedError {
	if err == nil {
		return nil
	}

	var stdErr *shipper.StandardizedError
	if errors.As(err, &stdErr) {
		if stdErr.Carrier == "" {
			stdErr.Carrier = carrier
		}
		return stdErr
	}

	out := shipper.NewStandardizedError(classOf(err), carrier, err.Error()).
		WithCause(err).
		WithDetail("raw", err.Error())

	var c coded
	if errors.As(err, &c) {
		out.WithCarrierCode(c.CarrierCode())
	}
	return out
}

func classOf(err error) shipper.ErrorClass {
	switch {
	case isTimeout(err):
		return shipper.ClassCarrierTimeout
	case errors.Is(err, shipper.ErrRateLimitExceeded):
		return shipper.ClassRateLimitExceeded
	case errors.Is(err, shipper.ErrServiceUnavailable),
		errors.Is(err, shipper.ErrTrackingNumberPending):
		return shipper.ClassCarrierUnavailable
	case errors.Is(err, shipper.ErrPOBoxNotSupported):
		return shipper.ClassPOBoxNotSupported
	case errors.Is(err, shipper.ErrInvalidAddress):
		return shipper.ClassInvalidAddress
	case errors.Is(err, shipper.ErrCoverageNotAvailable):
		return shipper.ClassCoverageNotAvailable
	}
	return shipper.ClassInternalError
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// softFailure is a response the carrier answered without a transport error
// but whose envelope reports failure.
type softFailure struct {
	resp shipper.Response
}

func (f *softFailure) Error() string {
	msg := f.resp.Message
	if msg == "" {
		msg = "carrier reported failure"
	}
	return "unsuccessful response: code " + strconv.Itoa(f.resp.Code) + ": " + msg
}

func (f *softFailure) CarrierCode() string {
	if f.resp.Code != 0 {
		return strconv.Itoa(f.resp.Code)
	}
	return strconv.Itoa(f.resp.HTTPStatus)
}

func (f *softFailure) Unwrap() []error {
	errs := []error{shipper.ErrUnsuccessfulResponse}
	switch f.resp.HTTPStatus {
	case 429:
		errs = append(errs, shipper.ErrRateLimitExceeded)
	case 502, 503:
		errs = append(errs, shipper.ErrServiceUnavailable)
	}
	return errs
}
