/*
 *
 * surge - a virtual-user load generator for HTTP APIs
 * Copyright (C) 2026 surge authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package errext attaches process exit codes and user hints to errors
// returned by the surge packages.
package errext

import (
	"errors"

	"github.com/liuxd6825/surge/errext/exitcodes"
)

// HasExitCode is implemented by errors that decide the process exit code.
type HasExitCode interface {
	error
	ExitCode() exitcodes.ExitCode
}

// HasHint is implemented by errors that carry a human-readable suggestion
// on how to fix them.
type HasHint interface {
	error
	Hint() string
}

// annotated wraps an error with an exit code, a hint, or both. A zero
// code means none was attached.
type annotated struct {
	err  error
	code exitcodes.ExitCode
	hint string
}

func (a *annotated) Error() string { return a.err.Error() }
func (a *annotated) Unwrap() error { return a.err }

// ExitCode returns the attached code, falling back to one further down
// the chain.
func (a *annotated) ExitCode() exitcodes.ExitCode {
	if a.code != 0 {
		return a.code
	}
	var inner HasExitCode
	if errors.As(a.err, &inner) {
		return inner.ExitCode()
	}
	return 0
}

// Hint joins the attached hint with the ones of wrapped errors as
// "outer (inner)".
func (a *annotated) Hint() string {
	var inner HasHint
	if !errors.As(a.err, &inner) || inner.Hint() == "" {
		return a.hint
	}
	if a.hint == "" {
		return inner.Hint()
	}
	return a.hint + " (" + inner.Hint() + ")"
}

// WithExitCodeIfNone attaches exitCode to err unless something in its chain
// already decides the exit code. nil stays nil.
func WithExitCodeIfNone(err error, exitCode exitcodes.ExitCode) error {
	if err == nil {
		return nil
	}
	var ecerr HasExitCode
	if errors.As(err, &ecerr) && ecerr.ExitCode() != 0 {
		return err
	}
	return &annotated{err: err, code: exitCode}
}

// WithHint attaches hint to err. nil stays nil.
func WithHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, hint: hint}
}

// Format returns the message of err and the log fields derived from its
// hint and exit code.
func Format(err error) (string, map[string]interface{}) {
	if err == nil {
		return "", nil
	}

	fields := make(map[string]interface{})
	var herr HasHint
	if errors.As(err, &herr) && herr.Hint() != "" {
		fields["hint"] = herr.Hint()
	}
	var ecerr HasExitCode
	if errors.As(err, &ecerr) && ecerr.ExitCode() != 0 {
		fields["exit_code"] = ecerr.ExitCode()
	}

	return err.Error(), fields
}
