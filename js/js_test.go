package js

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/surge/lib/session"
	"github.com/liuxd6825/surge/lib/testutils"
)

func TestCompileErrors(t *testing.T) {
	t.Parallel()

	_, err := CompileTransform("broken", "vars.x = ", nil)
	require.ErrorContains(t, err, "couldn't compile broken")

	_, err = CompilePredicate("value >", nil)
	require.Error(t, err)

	_, err = CompileCondition("}", nil)
	require.Error(t, err)
}

func TestTransform(t *testing.T) {
	t.Parallel()

	fn, err := CompileTransform("bump", `
		vars.counter = (vars.counter || 0) + 1;
		vars.greeting = "hello " + vars.user;
		vars.tags.push("new");
		delete vars.obsolete;
	`, nil)
	require.NoError(t, err)

	in := session.New(map[string]interface{}{
		"user":     "alice",
		"counter":  41,
		"obsolete": true,
		"tags":     []string{"a"},
	})
	out, err := fn(in)
	require.NoError(t, err)

	n, err := out.GetInt("counter")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	greeting, err := out.GetString("greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello alice", greeting)
	assert.False(t, out.Has("obsolete"))
	tags, err := out.GetList("tags")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "new"}, tags)

	// The incoming session is untouched.
	n, err = in.GetInt("counter")
	require.NoError(t, err)
	assert.Equal(t, int64(41), n)
	assert.True(t, in.Has("obsolete"))
	tags, err = in.GetList("tags")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a"}, tags)
}

func TestTransformErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		src string
		msg string
	}{
		"throw":         {src: `throw new Error("no games left")`, msg: "no games left"},
		"undeclared":    {src: `missing = 1`, msg: "missing"},
		"vars replaced": {src: `vars = 5`, msg: "vars has to remain an object"},
		"type error":    {src: `vars.nope.deeper = 1`, msg: "TypeError"},
	}
	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			fn, err := CompileTransform(name, tc.src, nil)
			require.NoError(t, err)
			in := session.New(map[string]interface{}{"k": "v"})
			out, err := fn(in)
			require.ErrorContains(t, err, tc.msg)
			assert.Equal(t, in, out)
		})
	}
}

func TestTimeoutInterrupts(t *testing.T) {
	t.Parallel()

	p, err := Compile("spin", "for (;;) {}", nil)
	require.NoError(t, err)
	p.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err = p.Transform(session.Session{})
	require.ErrorContains(t, err, "spin was interrupted")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPredicate(t *testing.T) {
	t.Parallel()

	logger, hook := testutils.NewHookedLogger(logrus.WarnLevel)
	fn, err := CompilePredicate("value > vars.minimum", logger)
	require.NoError(t, err)

	sess := session.New(map[string]interface{}{"minimum": 10})
	assert.True(t, fn(int64(11), sess))
	assert.False(t, fn(int64(10), sess))
	assert.False(t, fn(nil, sess))
	assert.Empty(t, hook.Drain())

	throwing, err := CompilePredicate("value.length.x.y", logger)
	require.NoError(t, err)
	assert.False(t, throwing(nil, sess))
	assert.Equal(t, 1, hook.Count(logrus.WarnLevel))
}

func TestCondition(t *testing.T) {
	t.Parallel()

	fn, err := CompileCondition(`vars.status === "open" && vars.players.length < 4`, nil)
	require.NoError(t, err)

	assert.True(t, fn(session.New(map[string]interface{}{
		"status": "open", "players": []interface{}{"a", "b"},
	})))
	assert.False(t, fn(session.New(map[string]interface{}{
		"status": "closed", "players": []interface{}{},
	})))
	// A missing key is a TypeError here, which makes the condition false.
	assert.False(t, fn(session.New(map[string]interface{}{"status": "open"})))
}

func TestLog(t *testing.T) {
	t.Parallel()

	logger, hook := testutils.NewHookedLogger(logrus.InfoLevel)
	fn, err := CompileTransform("logging", `log("created game", {id: vars.id}, 3)`, logger)
	require.NoError(t, err)

	_, err = fn(session.New(map[string]interface{}{"id": "g-1"}))
	require.NoError(t, err)

	entry := hook.Last()
	require.NotNil(t, entry)
	assert.Equal(t, "created game", entry.Message)
	assert.Equal(t, logrus.Fields{"script": "logging", "id": "g-1", "arg2": "3"}, entry.Data)
}
