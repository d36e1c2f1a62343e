package errext

import (
	"errors"
	"strings"

	"github.com/liuxd6825/surge/errext/exitcodes"
)

// ConfigError reports a malformed scenario, profile or option set. It is the
// only error class that stops a run before any virtual user is launched.
type ConfigError struct {
	Context string
	Errs    []error
}

var _ HasExitCode = &ConfigError{}

// NewConfigError returns nil when errs holds no errors, so validators can
// return its result directly.
func NewConfigError(context string, errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	return &ConfigError{Context: context, Errs: nonNil}
}

func (e *ConfigError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	prefix := "invalid configuration"
	if e.Context != "" {
		prefix = "invalid " + e.Context
	}
	if len(msgs) == 1 {
		return prefix + ": " + msgs[0]
	}
	return prefix + ":\n\t- " + strings.Join(msgs, "\n\t- ")
}

// Unwrap exposes the individual validation errors to errors.Is and errors.As.
func (e *ConfigError) Unwrap() []error {
	return e.Errs
}

// ExitCode returns exitcodes.InvalidConfig.
func (e *ConfigError) ExitCode() exitcodes.ExitCode {
	return exitcodes.InvalidConfig
}

// IsConfigError reports whether err carries a *ConfigError.
func IsConfigError(err error) bool {
	var cerr *ConfigError
	return errors.As(err, &cerr)
}
