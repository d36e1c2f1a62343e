package errext

import (
	"errors"

	"github.com/liuxd6825/surge/errext/exitcodes"
)

// InterruptError is returned when a run was stopped from the outside before
// its injection profile was exhausted.
type InterruptError struct {
	Reason string
}

var _ HasExitCode = &InterruptError{}

// Error returns the reason of the interruption.
func (i *InterruptError) Error() string {
	return i.Reason
}

// ExitCode returns the status code used when the process exits.
func (i *InterruptError) ExitCode() exitcodes.ExitCode {
	return exitcodes.ExternalAbort
}

// Reasons used by the engine when a run ends early.
const (
	AbortSignal      = "run stopped by an external signal"
	AbortMaxDuration = "run stopped after reaching maxDuration"
)

// IsInterruptError returns true if err is *InterruptError.
func IsInterruptError(err error) bool {
	if err == nil {
		return false
	}
	var intErr *InterruptError
	return errors.As(err, &intErr)
}
