package internal

import (
	"errors"
	"fmt"
)

const CodeSignatureFailed = "SIG_FAIL"

var (
	// ErrSignature marks a response whose signature could not be verified.
	// It must be handled like a denial, never like a success.
	ErrSignature       = errors.New("signature verification failed")
	ErrConfiguration   = errors.New("configuration error")
	ErrOrderInFlight   = errors.New("order already in flight")
	ErrInvalidOrder    = errors.New("invalid order number")
	ErrNotRefundable   = errors.New("order not refundable")
	ErrZeroAmount      = errors.New("amount to return is zero")
	ErrNoStoredPayment = errors.New("no stored payment credential")
)

// TransportError is a failed round trip: network failure, timeout or non-2xx status.
type TransportError struct {
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("transport: status %d: %s", e.Status, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProcessorError is an error code (SISxxxx) returned in place of a signed envelope.
type ProcessorError struct {
	Code string
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor error %s", e.Code)
}

// DenialError carries the response code of a declined operation.
type DenialError struct {
	Code string
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("denied: code %s", e.Code)
}

// ErrorCode maps an operation error to the classifier stored on transactions.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var denial *DenialError
	var processor *ProcessorError
	var transport *TransportError
	switch {
	case errors.Is(err, ErrSignature):
		return CodeSignatureFailed
	case errors.As(err, &denial):
		return denial.Code
	case errors.As(err, &processor):
		return processor.Code
	case errors.As(err, &transport):
		if transport.Status > 0 {
			return fmt.Sprintf("HTTP%d", transport.Status)
		}
		return "TRANSPORT"
	case errors.Is(err, ErrConfiguration):
		return "CONFIG"
	}
	return "ERROR"
}
