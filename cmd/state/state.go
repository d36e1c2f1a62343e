// Package state contains the process-wide state shared by every surge
// sub-command. Tests build their own GlobalState instead of touching the
// real process environment.
package state

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/liuxd6825/surge/ui/console"
)

// GlobalFlags contains global config values that apply for all sub-commands.
type GlobalFlags struct {
	Quiet     bool
	NoColor   bool
	LogOutput string
	LogFormat string
	Verbose   bool
	// TracesOutput is `none` or `otel[=url][,header.name=value]`.
	TracesOutput string
}

// GetDefaultFlags returns the default global flags.
func GetDefaultFlags() GlobalFlags {
	return GlobalFlags{
		LogOutput:    "stderr",
		TracesOutput: "none",
	}
}

// GetFlags applies the environment to the defaults.
func GetFlags(defaultFlags GlobalFlags, env map[string]string) GlobalFlags {
	result := defaultFlags

	if val, ok := env["SURGE_LOG_OUTPUT"]; ok {
		result.LogOutput = val
	}
	if val, ok := env["SURGE_LOG_FORMAT"]; ok {
		result.LogFormat = val
	}
	if val, ok := env["SURGE_TRACES_OUTPUT"]; ok {
		result.TracesOutput = val
	}
	if env["SURGE_NO_COLOR"] != "" {
		result.NoColor = true
	}
	// Support https://no-color.org/, even an empty value disables colors.
	if _, ok := env["NO_COLOR"]; ok {
		result.NoColor = true
	}
	return result
}

// GlobalState holds everything a command may need from the outside world.
type GlobalState struct {
	Ctx context.Context

	FS      afero.Fs
	Getwd   func() (string, error)
	Args    []string
	Env     map[string]string
	Console *console.Console
	Stdout  io.Writer
	Stderr  io.Writer

	// DefaultFlags are the defaults, Flags is what the user asked for.
	DefaultFlags, Flags GlobalFlags

	OSExit       func(int)
	SignalNotify func(chan<- os.Signal, ...os.Signal)
	SignalStop   func(chan<- os.Signal)

	Logger         *logrus.Logger
	FallbackLogger logrus.FieldLogger
}

// NewGlobalState returns the state of the running process.
func NewGlobalState(ctx context.Context) *GlobalState {
	env := BuildEnvMap(os.Environ())
	defaultFlags := GetDefaultFlags()
	flags := GetFlags(defaultFlags, env)

	c := console.New(os.Stdout, os.Stderr, !flags.NoColor, env["TERM"])
	logger := c.GetLogger()

	return &GlobalState{
		Ctx:          ctx,
		FS:           afero.NewOsFs(),
		Getwd:        os.Getwd,
		Args:         append(make([]string, 0, len(os.Args)), os.Args...),
		Env:          env,
		Console:      c,
		Stdout:       c.Stdout,
		Stderr:       c.Stderr,
		DefaultFlags: defaultFlags,
		Flags:        flags,
		OSExit:       os.Exit,
		SignalNotify: signal.Notify,
		SignalStop:   signal.Stop,
		Logger:       logger,
		FallbackLogger: &logrus.Logger{
			Out:       os.Stderr,
			Formatter: new(logrus.TextFormatter),
			Hooks:     make(logrus.LevelHooks),
			Level:     logrus.InfoLevel,
		},
	}
}

// BuildEnvMap returns a map from raw environment values, such as os.Environ().
func BuildEnvMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	return env
}
