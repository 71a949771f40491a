package backend

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindTimeout              ErrorKind = "Timeout"
	KindTemporaryUnavailable ErrorKind = "TemporaryUnavailable"
	KindAlreadyExists        ErrorKind = "AlreadyExists"
	KindNotFound             ErrorKind = "NotFound"
	KindPermanent            ErrorKind = "Permanent"
)

// Error is a failed backend operation on one instance.
type Error struct {
	Kind     ErrorKind
	Op       string
	Instance string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Instance, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, op, instance string, err error) *Error {
	return &Error{Kind: kind, Op: op, Instance: instance, Err: err}
}

// KindOf returns the kind carried by err. Errors that are not backend
// errors count as permanent.
func KindOf(err error) ErrorKind {
	var backendErr *Error
	if errors.As(err, &backendErr) {
		return backendErr.Kind
	}
	return KindPermanent
}

// IsTransient reports whether retrying the operation may succeed.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindTemporaryUnavailable:
		return true
	}
	return false
}
