package reply

import (
	"errors"
	"fmt"
)

// ErrEmptyGeneration means the provider returned no usable text.
var ErrEmptyGeneration = errors.New("reply: empty generation")

// TransportKind classifies a failed platform send.
type TransportKind int

const (
	Unexpected TransportKind = iota
	Forbidden                // missing permissions, blocked, chat gone
	HTTPFailure              // platform API returned an error status
)

func (k TransportKind) String() string {
	switch k {
	case Forbidden:
		return "forbidden"
	case HTTPFailure:
		return "http_failure"
	default:
		return "unexpected"
	}
}

// TransportError wraps a platform send failure. Adapters build it from their
// SDK error types; anything else is treated as Unexpected.
type TransportError struct {
	Kind   TransportKind
	Status int // HTTP status when known
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err with kind.
func NewTransportError(kind TransportKind, status int, err error) *TransportError {
	return &TransportError{Kind: kind, Status: status, Err: err}
}

// AsTransportError returns err as a TransportError, wrapping unknown errors
// as Unexpected.
func AsTransportError(err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	return &TransportError{Kind: Unexpected, Err: err}
}
