// Package tests contains integration tests driving the whole surge CLI with
// an in-memory GlobalState.
package tests

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/surge/cmd/state"
	"github.com/liuxd6825/surge/lib/testutils"
	"github.com/liuxd6825/surge/ui/console"
)

// GlobalTestState is a wrapper around GlobalState for use in tests.
type GlobalTestState struct {
	*state.GlobalState
	Cancel func()

	Stdout, Stderr *bytes.Buffer
	LoggerHook     *testutils.LogHook

	Cwd string

	ExpectedExitCode int
}

// NewGlobalTestState returns an initialized GlobalTestState, mocking all
// GlobalState fields for use in tests.
func NewGlobalTestState(tb testing.TB) *GlobalTestState {
	tb.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)

	fs := afero.NewMemMapFs()
	cwd := "/test/"
	require.NoError(tb, fs.MkdirAll(cwd, 0o755))

	hook := testutils.NewLogHook()
	ts := &GlobalTestState{
		Cwd:        cwd,
		Cancel:     cancel,
		LoggerHook: hook,
		Stdout:     new(bytes.Buffer),
		Stderr:     new(bytes.Buffer),
	}

	osExitCalled := false
	defaultOsExitHandle := func(exitCode int) {
		cancel()
		osExitCalled = true
		assert.Equal(tb, ts.ExpectedExitCode, exitCode)
	}
	tb.Cleanup(func() {
		assert.True(tb, osExitCalled, "the command didn't exit")
	})

	c := console.New(ts.Stdout, ts.Stderr, false, "")
	logger := c.GetLogger()
	logger.AddHook(hook)

	defaultFlags := state.GetDefaultFlags()
	ts.GlobalState = &state.GlobalState{
		Ctx:          ctx,
		FS:           fs,
		Getwd:        func() (string, error) { return ts.Cwd, nil },
		Args:         []string{},
		Env:          map[string]string{},
		Console:      c,
		Stdout:       c.Stdout,
		Stderr:       c.Stderr,
		DefaultFlags: defaultFlags,
		Flags:        defaultFlags,
		OSExit:       defaultOsExitHandle,
		SignalNotify: signalNotify,
		SignalStop:   signalStop,
		Logger:       logger,
		FallbackLogger: &logrus.Logger{
			Out:       io.Discard,
			Formatter: new(logrus.TextFormatter),
			Hooks:     make(logrus.LevelHooks),
			Level:     logrus.InfoLevel,
		},
	}
	return ts
}

func signalNotify(chan<- os.Signal, ...os.Signal) {}

func signalStop(chan<- os.Signal) {}
