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

package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/surge/cmd/state"
	"github.com/liuxd6825/surge/errext"
	"github.com/liuxd6825/surge/errext/exitcodes"
	"github.com/liuxd6825/surge/lib/types"
	"github.com/liuxd6825/surge/loader"
)

// Panic if the given error is not nil.
func must(err error) {
	if err != nil {
		panic(err)
	}
}

// these can mask errors by failing only at runtime, not at compile time
func getNullBool(flags *pflag.FlagSet, key string) null.Bool {
	v, err := flags.GetBool(key)
	if err != nil {
		panic(err)
	}
	return null.NewBool(v, flags.Changed(key))
}

func getNullInt64(flags *pflag.FlagSet, key string) null.Int {
	v, err := flags.GetInt64(key)
	if err != nil {
		panic(err)
	}
	return null.NewInt(v, flags.Changed(key))
}

func getNullFloat64(flags *pflag.FlagSet, key string) null.Float {
	v, err := flags.GetFloat64(key)
	if err != nil {
		panic(err)
	}
	return null.NewFloat(v, flags.Changed(key))
}

func getNullDuration(flags *pflag.FlagSet, key string) (types.NullDuration, error) {
	v, err := flags.GetString(key)
	if err != nil {
		panic(err)
	}
	if !flags.Changed(key) {
		return types.NullDuration{}, nil
	}
	d, err := types.ParseExtendedDuration(v)
	if err != nil {
		return types.NullDuration{}, fmt.Errorf("invalid --%s value '%s': %w", key, v, err)
	}
	return types.NullDurationFrom(d), nil
}

func getNullString(flags *pflag.FlagSet, key string) null.String {
	v, err := flags.GetString(key)
	if err != nil {
		panic(err)
	}
	return null.NewString(v, flags.Changed(key))
}

func exactArgsWithMsg(n int, msg string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("accepts %d arg(s), received %d: %s", n, len(args), msg)
		}
		return nil
	}
}

func printToStdout(gs *state.GlobalState, s string) {
	if _, err := fmt.Fprint(gs.Stdout, s); err != nil {
		gs.Logger.Errorf("could not print '%s' to stdout: %s", s, err.Error())
	}
}

// scenarioEnv is the process environment overridden by --env values, it is
// what ${VAR} references in scenario files see.
func scenarioEnv(gs *state.GlobalState, overrides []string) (map[string]string, error) {
	env := make(map[string]string, len(gs.Env)+len(overrides))
	for k, v := range gs.Env {
		env[k] = v
	}
	for _, kv := range overrides {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env value '%s', expected KEY=VALUE", kv)
		}
		env[k] = v
	}
	return env, nil
}

func loadTest(gs *state.GlobalState, path string, envOverrides []string) (*loader.Test, error) {
	env, err := scenarioEnv(gs, envOverrides)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(path) {
		cwd, err := gs.Getwd()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(cwd, path)
	}
	gs.Logger.WithField("path", path).Debug("Loading scenario file...")
	test, err := loader.Load(gs.FS, path, env, gs.Logger.WithField("source", "script"))
	if errors.Is(err, fs.ErrNotExist) {
		err = errext.WithHint(err, "relative scenario paths are resolved against the working directory")
	}
	return test, err
}

// Trap Interrupts, SIGINTs and SIGTERMs and call the given.
func handleTestAbortSignals(gs *state.GlobalState, gracefulStopHandler, onHardStop func(os.Signal)) (stop func()) {
	gs.Logger.Debug("Trapping interrupt signals so surge can handle them gracefully...")
	sigC := make(chan os.Signal, 2)
	done := make(chan struct{})
	gs.SignalNotify(sigC, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigC:
			gracefulStopHandler(sig)
		case <-done:
			return
		}

		select {
		case sig := <-sigC:
			if onHardStop != nil {
				onHardStop(sig)
			}
			// If we get a second signal, we immediately exit
			gs.OSExit(int(exitcodes.ExternalAbort))
		case <-done:
			return
		}
	}()

	return func() {
		gs.Logger.Debug("Releasing signal trap...")
		close(done)
		gs.SignalStop(sigC)
	}
}
