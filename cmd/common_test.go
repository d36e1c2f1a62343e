package cmd

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/surge/cmd/state"
	"github.com/liuxd6825/surge/errext"
	"github.com/liuxd6825/surge/lib/testutils"
	"github.com/liuxd6825/surge/ui/console"
)

func newTestGlobalState(env map[string]string) *state.GlobalState {
	c := console.New(new(bytes.Buffer), new(bytes.Buffer), false, "")
	logger, _ := testutils.NewHookedLogger()
	flags := state.GetDefaultFlags()
	return &state.GlobalState{
		Ctx:            context.Background(),
		FS:             afero.NewMemMapFs(),
		Getwd:          func() (string, error) { return "/work", nil },
		Env:            env,
		Console:        c,
		Stdout:         c.Stdout,
		Stderr:         c.Stderr,
		DefaultFlags:   flags,
		Flags:          flags,
		OSExit:         func(int) {},
		SignalNotify:   func(chan<- os.Signal, ...os.Signal) {},
		SignalStop:     func(chan<- os.Signal) {},
		Logger:         logger,
		FallbackLogger: logger,
	}
}

func TestLoadTestResolvesRelativePaths(t *testing.T) {
	t.Parallel()

	gs := newTestGlobalState(map[string]string{"RATE": "2"})
	require.NoError(t, afero.WriteFile(gs.FS, "/work/specs/rate.yaml", []byte(`
name: rate
injection:
  - constantUsersPerSec: {rate: ${RATE}, during: ${DURATION:-2s}}
steps:
  - pause: 1ms
`), 0o644))

	test, err := loadTest(gs, "specs/rate.yaml", []string{"DURATION=5s"})
	require.NoError(t, err)
	assert.Equal(t, "/work/specs/rate.yaml", test.Path)
	assert.Equal(t, int64(10), test.Profile.TotalUsers())
	assert.Equal(t, 5*time.Second, test.Profile.Duration())

	_, err = loadTest(gs, "/elsewhere/rate.yaml", nil)
	assert.ErrorContains(t, err, "couldn't read the scenario file")
	assert.False(t, errext.IsConfigError(err))
}

func TestHandleTestAbortSignals(t *testing.T) {
	t.Parallel()

	gs := newTestGlobalState(nil)
	sigC := make(chan chan<- os.Signal, 1)
	gs.SignalNotify = func(c chan<- os.Signal, _ ...os.Signal) { sigC <- c }
	exited := make(chan int, 1)
	gs.OSExit = func(code int) { exited <- code }

	graceful := make(chan os.Signal, 1)
	hard := make(chan os.Signal, 1)
	stop := handleTestAbortSignals(gs,
		func(sig os.Signal) { graceful <- sig },
		func(sig os.Signal) { hard <- sig },
	)
	defer stop()

	c := <-sigC
	c <- os.Interrupt
	assert.Equal(t, os.Interrupt, <-graceful)
	c <- os.Interrupt
	assert.Equal(t, os.Interrupt, <-hard)
	assert.Equal(t, 105, <-exited)
}
