package core

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the gateway can report.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindConfiguration
	KindConnection
	KindUnsupportedOperation
	KindTransfer
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindConfiguration:
		return "ConfigurationError"
	case KindConnection:
		return "ConnectionError"
	case KindUnsupportedOperation:
		return "UnsupportedOperationError"
	case KindTransfer:
		return "TransferError"
	default:
		return "Error"
	}
}

// GatewayError carries a human-readable message plus the underlying cause.
type GatewayError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Details is the full diagnostic string, prefixed with the kind name.
func (e *GatewayError) Details() string {
	return e.Kind.String() + ": " + e.Error()
}

// KindOf returns the kind of the first GatewayError in err's chain.
func KindOf(err error) Kind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

func validationError(format string, args ...any) error {
	return &GatewayError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func configurationError(format string, args ...any) error {
	return &GatewayError{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

func connectionError(err error, format string, args ...any) error {
	return &GatewayError{Kind: KindConnection, Message: fmt.Sprintf(format, args...), Err: err}
}

func transferError(err error, format string, args ...any) error {
	return &GatewayError{Kind: KindTransfer, Message: fmt.Sprintf(format, args...), Err: err}
}

func unsupportedOperation(name string) error {
	return &GatewayError{
		Kind:    KindUnsupportedOperation,
		Message: fmt.Sprintf("unsupported operation %q", name),
	}
}

// NewError reports a failure in the gateway taxonomy from outside this package.
func NewError(kind Kind, err error, format string, args ...any) error {
	return &GatewayError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}
