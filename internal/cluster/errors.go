package cluster

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindMissingField ErrorKind = "MissingField"
	KindInvalidType  ErrorKind = "InvalidType"
	KindOutOfRange   ErrorKind = "OutOfRange"
	KindPathNotFound ErrorKind = "PathNotFound"
	KindDuplicate    ErrorKind = "Duplicate"
	KindUnknownField ErrorKind = "UnknownField"
	KindMalformed    ErrorKind = "Malformed"
)

// ConfigError identifies the document key that failed to load.
type ConfigError struct {
	Kind ErrorKind
	Key  string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s (%s): %v", e.Key, e.Kind, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err carries a ConfigError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr) && cfgErr.Kind == kind
}

func newError(kind ErrorKind, key, format string, args ...any) *ConfigError {
	return &ConfigError{Kind: kind, Key: key, Err: fmt.Errorf(format, args...)}
}
