package adapter

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by a PaymentGateway matches exactly one
// of these with errors.Is.
var (
	ErrConfiguration = errors.New("payment gateway is not configured")
	ErrValidation    = errors.New("invalid payment request")
	ErrProvider      = errors.New("payment provider rejected the request")
	ErrTransport     = errors.New("payment provider could not be reached")
)

// GatewayError carries the kind of failure plus enough detail for the UI to
// show an actionable message.
type GatewayError struct {
	Kind    error    // one of the Err* kinds above
	Op      string   // e.g. "pesapal: submit order"
	Code    string   // provider error code, if any
	Message string   // human-readable message
	Fields  []string // offending fields for validation failures
	Err     error    // underlying cause, if any
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (code %s)", e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *GatewayError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewConfigError reports missing or malformed gateway configuration.
func NewConfigError(op, message string) *GatewayError {
	return &GatewayError{Kind: ErrConfiguration, Op: op, Message: message}
}

// NewValidationError reports missing or invalid request fields.
func NewValidationError(op, message string, fields ...string) *GatewayError {
	return &GatewayError{Kind: ErrValidation, Op: op, Message: message, Fields: fields}
}

// NewProviderError reports a rejection returned by the provider.
func NewProviderError(op, code, message string) *GatewayError {
	return &GatewayError{Kind: ErrProvider, Op: op, Code: code, Message: message}
}

// NewTransportError reports a request that could not complete.
func NewTransportError(op string, err error) *GatewayError {
	return &GatewayError{Kind: ErrTransport, Op: op, Message: "request to payment provider failed, please retry", Err: err}
}

func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }
func IsValidation(err error) bool    { return errors.Is(err, ErrValidation) }
func IsProvider(err error) bool      { return errors.Is(err, ErrProvider) }
func IsTransport(err error) bool     { return errors.Is(err, ErrTransport) }

// KindName returns a short stable name for the error's kind, suitable for
// API responses and metric labels.
func KindName(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsConfiguration(err):
		return "configuration"
	case IsValidation(err):
		return "validation"
	case IsProvider(err):
		return "provider"
	case IsTransport(err):
		return "transport"
	default:
		return "internal"
	}
}
