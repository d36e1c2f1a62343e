package log

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCloser struct {
	io.Writer
	closed chan struct{}
}

func (nc *nopCloser) Close() error {
	nc.closed <- struct{}{}
	return nil
}

func TestFileHookFromConfigLine(t *testing.T) {
	t.Parallel()

	tests := [...]struct {
		line       string
		err        bool
		errMessage string
		path       string
		levels     []logrus.Level
	}{
		{line: "file", err: true},
		{line: "file=/surge.log,level=info", path: "/surge.log", levels: logrus.AllLevels[:5]},
		{line: "file=surge.log", path: "/work/surge.log", levels: logrus.AllLevels},
		{line: "file=/a/c/", err: true},
		{line: "file=,level=info", err: true},
		{line: "file=/tmp/surge.log,level=tea", err: true, errMessage: "unknown log level tea"},
		{line: "file=/tmp/surge.log,unknown", err: true},
		{line: "file=/tmp/surge.log,level=", err: true},
		{
			line:       "file=/tmp/surge.log,unknown=something",
			err:        true,
			errMessage: "unknown logfile config key unknown",
		},
		{
			line:       "unknown=something",
			err:        true,
			errMessage: "logfile configuration should be in the form `file=path-to-local-file` but is `unknown=something`",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.line, func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			require.NoError(t, fs.MkdirAll("/tmp", 0o755))
			require.NoError(t, fs.MkdirAll("/work", 0o755))
			getCwd := func() (string, error) {
				return "/work", nil
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			res, err := FileHookFromConfigLine(ctx, fs, getCwd, logrus.New(), test.line, make(chan struct{}))

			if test.err {
				require.Error(t, err)
				if test.errMessage != "" {
					require.Equal(t, test.errMessage, err.Error())
				}
				return
			}

			require.NoError(t, err)
			hook := res.(*fileHook)
			assert.NotNil(t, hook.w)
			assert.Equal(t, test.path, hook.path)
			assert.Equal(t, test.levels, hook.Levels())
		})
	}
}

func TestFileHookFire(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	nc := &nopCloser{
		Writer: &buffer,
		closed: make(chan struct{}, 1),
	}

	hook := &fileHook{
		w:      nc,
		bw:     bufio.NewWriter(nc),
		levels: logrus.AllLevels,
		done:   make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())

	hook.loglines = hook.loop(ctx)

	logger := logrus.New()
	logger.AddHook(hook)
	logger.SetOutput(io.Discard)

	logger.Info("example log line")

	cancel()
	<-hook.done
	<-nc.closed

	assert.Contains(t, buffer.String(), "example log line")
}

func TestFileHookWritesThroughFs(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	hook, err := FileHookFromConfigLine(ctx, fs, func() (string, error) { return "/", nil },
		logrus.New(), "file=/run.log,level=warning", done)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.AddHook(hook)
	logger.Info("skipped")
	logger.Warn("virtual user failed")

	cancel()
	<-done

	data, err := afero.ReadFile(fs, "/run.log")
	require.NoError(t, err)
	assert.Contains(t, string(data), "virtual user failed")
	assert.NotContains(t, string(data), "skipped")
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	f, err := ParseFormat("json", false)
	require.NoError(t, err)
	assert.IsType(t, &logrus.JSONFormatter{}, f)

	f, err = ParseFormat("", true)
	require.NoError(t, err)
	assert.True(t, f.(*logrus.TextFormatter).DisableColors)

	f, err = ParseFormat("raw", false)
	require.NoError(t, err)
	b, err := f.Format(&logrus.Entry{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(b))

	_, err = ParseFormat("xml", false)
	assert.Error(t, err)
}
