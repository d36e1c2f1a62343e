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
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/liuxd6825/surge/cmd/state"
	"github.com/liuxd6825/surge/errext"
	"github.com/liuxd6825/surge/errext/exitcodes"
	"github.com/liuxd6825/surge/lib/consts"
	"github.com/liuxd6825/surge/log"
)

const waitLoggerCloseTimeout = time.Second * 5

// This is to keep all fields needed for the main/root surge command
type rootCommand struct {
	globalState *state.GlobalState

	cmd            *cobra.Command
	stopLoggers    context.CancelFunc
	loggersDone    chan struct{}
	stdlogWriter   io.Closer
	loggerIsRemote bool
}

func newRootCommand(gs *state.GlobalState) *rootCommand {
	c := &rootCommand{
		globalState: gs,
		stopLoggers: func() {},
	}
	// the base command when called without any subcommands.
	rootCmd := &cobra.Command{
		Use:               "surge",
		Short:             "a virtual-user load generator for HTTP APIs",
		Long:              "\n" + gs.Console.Banner(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
		Version:           consts.FullVersion(),
	}
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "v%s\n" .Version}}`)

	rootCmd.PersistentFlags().AddFlagSet(rootCmdPersistentFlagSet(gs))
	rootCmd.SetArgs(gs.Args[1:])
	rootCmd.SetOut(gs.Stdout)
	rootCmd.SetErr(gs.Stderr)

	subCommands := []func(*state.GlobalState) *cobra.Command{
		getCmdRun, getCmdInspect, getCmdVersion,
	}
	for _, sc := range subCommands {
		rootCmd.AddCommand(sc(gs))
	}

	c.cmd = rootCmd
	return c
}

func (c *rootCommand) persistentPreRunE(_ *cobra.Command, _ []string) error {
	if err := c.setupLoggers(); err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	c.globalState.Logger.Debugf("surge version: v%s", consts.FullVersion())
	return nil
}

// Execute adds all child commands to the root command sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	gs := state.NewGlobalState(context.Background())
	ExecuteWithGlobalState(gs)
}

// ExecuteWithGlobalState runs the root command with an existing GlobalState,
// which is how tests drive the whole CLI.
func ExecuteWithGlobalState(gs *state.GlobalState) {
	newRootCommand(gs).execute()
}

func (c *rootCommand) execute() {
	ctx, cancel := context.WithCancel(c.globalState.Ctx)
	c.globalState.Ctx = ctx

	exitCode := -1
	defer func() {
		cancel()
		c.waitLoggers()
		c.globalState.OSExit(exitCode)
	}()

	defer func() {
		if r := recover(); r != nil {
			exitCode = int(exitcodes.GoPanic)
			err := fmt.Errorf("unexpected surge panic: %s\n%s", r, debug.Stack())
			if c.loggerIsRemote {
				c.globalState.FallbackLogger.Error(err)
			}
			c.globalState.Logger.Error(err)
		}
	}()

	err := c.cmd.Execute()
	if err == nil {
		exitCode = 0
		return
	}

	var ecerr errext.HasExitCode
	if errors.As(err, &ecerr) && ecerr.ExitCode() != 0 {
		exitCode = int(ecerr.ExitCode())
	}

	errText, fields := errext.Format(err)
	c.globalState.Logger.WithFields(fields).Error(errText)
	if c.loggerIsRemote {
		c.globalState.FallbackLogger.WithFields(fields).Error(errText)
	}
}

// waitLoggers flushes a file log output before the process exits.
func (c *rootCommand) waitLoggers() {
	if c.stdlogWriter != nil {
		stdlog.SetOutput(os.Stderr)
		_ = c.stdlogWriter.Close()
	}
	c.stopLoggers()
	if c.loggersDone == nil {
		return
	}
	select {
	case <-c.loggersDone:
	case <-time.After(waitLoggerCloseTimeout):
		c.globalState.FallbackLogger.Errorf("The logger didn't stop in %s", waitLoggerCloseTimeout)
	}
}

func rootCmdPersistentFlagSet(gs *state.GlobalState) *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	// `gs.Flags.<value>` is both the destination and the value, since the
	// environment may already have set it. DefValue keeps the help message
	// honest.
	flags.StringVar(&gs.Flags.LogOutput, "log-output", gs.Flags.LogOutput,
		"change the output for surge logs, possible values are: "+
			"'stderr', 'stdout', 'none', 'file=./path[,level=info]'")
	flags.Lookup("log-output").DefValue = gs.DefaultFlags.LogOutput

	flags.StringVar(&gs.Flags.LogFormat, "log-format", gs.Flags.LogFormat, "log output format: text, raw or json")
	flags.Lookup("log-format").DefValue = gs.DefaultFlags.LogFormat

	flags.StringVar(&gs.Flags.TracesOutput, "traces-output", gs.Flags.TracesOutput,
		"set the output for surge traces, possible values are 'none' and 'otel[=http://host:port/path][,header.Name=value]'")
	flags.Lookup("traces-output").DefValue = gs.DefaultFlags.TracesOutput

	flags.BoolVar(&gs.Flags.NoColor, "no-color", gs.Flags.NoColor, "disable colored output")
	flags.Lookup("no-color").DefValue = strconv.FormatBool(gs.DefaultFlags.NoColor)

	flags.BoolVarP(&gs.Flags.Verbose, "verbose", "v", gs.DefaultFlags.Verbose, "enable verbose logging")
	flags.BoolVarP(&gs.Flags.Quiet, "quiet", "q", gs.DefaultFlags.Quiet, "disable progress updates")
	return flags
}

func (c *rootCommand) setupLoggers() error {
	gs := c.globalState
	if gs.Flags.Verbose {
		gs.Logger.SetLevel(logrus.DebugLevel)
	}

	var hook logrus.Hook
	forceColors := false
	switch line := gs.Flags.LogOutput; {
	case line == "stderr":
		forceColors = !gs.Flags.NoColor && gs.Console.IsTTY
		gs.Logger.SetOutput(gs.Stderr)
	case line == "stdout":
		forceColors = !gs.Flags.NoColor && gs.Console.IsTTY
		gs.Logger.SetOutput(gs.Stdout)
	case line == "none":
		gs.Logger.SetOutput(io.Discard)
	case strings.HasPrefix(line, "file"):
		ctx, cancel := context.WithCancel(context.Background())
		c.loggersDone = make(chan struct{})
		var err error
		hook, err = log.FileHookFromConfigLine(ctx, gs.FS, gs.Getwd, gs.FallbackLogger, line, c.loggersDone)
		if err != nil {
			cancel()
			c.loggersDone = nil
			return err
		}
		c.stopLoggers = cancel
		c.loggerIsRemote = true
	default:
		return fmt.Errorf("unsupported log output '%s'", line)
	}

	switch format := gs.Flags.LogFormat; format {
	case "", "text":
		gs.Logger.SetFormatter(&logrus.TextFormatter{
			ForceColors: forceColors, DisableColors: gs.Flags.NoColor || hook != nil,
		})
		gs.Logger.Debug("Logger format: TEXT")
	default:
		formatter, err := log.ParseFormat(format, gs.Flags.NoColor)
		if err != nil {
			return err
		}
		gs.Logger.SetFormatter(formatter)
		gs.Logger.Debugf("Logger format: %s", strings.ToUpper(format))
	}

	if hook != nil {
		gs.Logger.AddHook(hook)
		gs.Logger.SetOutput(io.Discard) // don't output to anywhere else
	}

	// Sometimes the Go runtime uses the standard log output to
	// log some messages directly, e.g. on an invalid char in a cookie.
	w := gs.Logger.Writer()
	stdlog.SetOutput(w)
	c.stdlogWriter = w
	return nil
}
