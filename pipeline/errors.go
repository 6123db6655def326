package pipeline

import (
	"errors"
	"fmt"
)

// Kind tags an error with its place in the closed taxonomy. Stage failures
// carry their kind into the alert notification; everything else stays in
// the operator logs.
type Kind string

const (
	KindTransient  Kind = "TransientExternalError"
	KindValidation Kind = "ValidationError"
	KindConfig     Kind = "ConfigurationError"
	KindDelivery   Kind = "DeliveryError"
	KindUnknown    Kind = "UnknownError"
)

// Error is a tagged error. Collaborators wrap their failures in one of
// these at the boundary so the runner can classify without knowing
// transport details.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a tagged error, formatting like fmt.Errorf (%w works).
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from an error chain, or KindUnknown if the
// error was never tagged.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
