package scenario

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/surge/errext"
	"github.com/liuxd6825/surge/lib/check"
	"github.com/liuxd6825/surge/lib/feeder"
	"github.com/liuxd6825/surge/lib/session"
)

func identity(s session.Session) (session.Session, error) { return s, nil }

func TestBuilder(t *testing.T) {
	t.Parallel()

	users := feeder.New("users", []feeder.Record{{"username": "ann"}}, feeder.Circular, 1)
	authenticate := Chain(
		FeedFrom("users", users),
		HTTP("Authenticate").Post("/api/auth").
			Header("Content-Type", "application/json").
			Body(`{"username":"#{username}","password":"secret"}`).
			Check(check.StatusIs(200), check.Find(check.MustJMESPath("token")).SaveAs("token")),
	)
	sc := New("games").
		Exec(authenticate...).
		Pause(time.Second).
		Repeat(3, "i",
			HTTP("Get game - #{i}").Get("/api/games/#{gameId}").Header("Authorization", "Bearer #{token}"),
			PauseBetween(10*time.Millisecond, 20*time.Millisecond),
		).
		Exec(DoIfEquals("status", "open", Exec("noop", identity))).
		Build()

	require.NoError(t, sc.Validate())
	require.Len(t, sc.Steps, 5)

	req, ok := sc.Steps[1].(*Request)
	require.True(t, ok)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, []string{"username"}, req.BodyTemplate.Keys())
	assert.Len(t, req.Checks, 2)

	var kinds []Kind
	Walk(sc.Steps, func(s Step) bool {
		kinds = append(kinds, s.Kind())
		return true
	})
	assert.Equal(t, []Kind{
		KindFeed, KindRequest, KindPause, KindRepeat, KindRequest, KindPause, KindIf, KindTransform,
	}, kinds)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	t.Parallel()

	sc := New("broken").Exec(
		HTTP("").Call("get me", "/#{unterminated"),
		PauseBetween(2*time.Second, time.Second),
		RepeatN(-1, "", Exec("no fn", nil)),
		LoopForever(""),
		FeedFrom("nothing", nil),
		DoIf("no condition", nil, HTTP("ok").Get("/")),
		HTTP("bad check").Get("/").Check(check.Check{}),
		nil,
	).Build()

	err := sc.Validate()
	var cerr *errext.ConfigError
	require.ErrorAs(t, err, &cerr)

	msg := err.Error()
	for _, exp := range []string{
		"scenario 'broken' > step 1 (request): url: unterminated placeholder",
		"step 1 (request): the request doesn't have a name",
		"step 1 (request): invalid http method 'GET ME'",
		"step 2 (pause): the maximum pause 1s is lower than the minimum 2s",
		"step 3 (repeat): the repeat count shouldn't be negative",
		"step 3 (repeat) > step 1 (transform): the transform doesn't have a function",
		"step 4 (forever): the forever block has no steps",
		"step 5 (feed): feed step 'nothing' has no feeder",
		"step 6 (if): the conditional block has no condition",
		"step 7 (request): check 1 is not initialized",
		"step 8: the step is nil",
	} {
		assert.Contains(t, msg, exp)
	}

	assert.Error(t, Scenario{}.Validate())
}

func TestBodyFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bodies/game.json", []byte(`{"name":"#{name}"}`), 0o644))

	req := HTTP("Create game").Post("/api/games").BodyFile(fs, "/bodies/game.json")
	require.NotNil(t, req.BodyTemplate)
	body, err := req.BodyTemplate.Resolve(session.New(map[string]interface{}{"name": "chess"}))
	require.NoError(t, err)
	assert.Equal(t, `{"name":"chess"}`, body)

	missing := HTTP("Create game").Post("/api/games").BodyFile(fs, "/bodies/nope.json")
	sc := New("s").Exec(missing).Build()
	assert.ErrorContains(t, sc.Validate(), "body file")
}

func TestLogKeepsSession(t *testing.T) {
	t.Parallel()

	var seen session.Session
	step := Log("print", func(s session.Session) { seen = s })
	in := session.New(map[string]interface{}{"a": 1})
	out, err := step.Fn(in)
	require.NoError(t, err)
	assert.Equal(t, in.ToMap(), out.ToMap())
	assert.Equal(t, in.ToMap(), seen.ToMap())
	assert.Nil(t, Log("nil", nil).Fn)
}
