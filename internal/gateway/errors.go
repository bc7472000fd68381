package gateway

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed model call.
type ErrorKind string

const (
	AuthenticationFailed ErrorKind = "authentication_failed"
	TransportFailed      ErrorKind = "transport_failed"
	ContractViolation    ErrorKind = "contract_violation"
	UpstreamRejected     ErrorKind = "upstream_rejected"
)

// Error is the only error type returned by a model call.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an *Error. Backends use it to classify their failures.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
