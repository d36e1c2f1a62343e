package vu

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/liuxd6825/surge/lib/check"
	"github.com/liuxd6825/surge/lib/feeder"
	"github.com/liuxd6825/surge/lib/netext/httpext"
	"github.com/liuxd6825/surge/lib/scenario"
	"github.com/liuxd6825/surge/lib/session"
	"github.com/liuxd6825/surge/lib/testutils"
	"github.com/liuxd6825/surge/metrics"
)

func newVU(t *testing.T, sc scenario.Scenario, client Doer) (*VU, *metrics.Collector) {
	t.Helper()
	collector := metrics.NewCollector()
	return &VU{
		ID:          1,
		Scenario:    sc,
		Client:      client,
		Collector:   collector,
		Logger:      testutils.NewLogger(t),
		StepTimeout: 5 * time.Second,
	}, collector
}

func stepNames(records []metrics.Record) []string {
	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.Step)
	}
	return names
}

// Sequential tests run before the parallel ones, nothing else is alive yet.
func TestRunDoesNotLeakGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	counted := 0
	sc := scenario.New("loop").
		Repeat(3, "i",
			scenario.PauseFor(10*time.Millisecond),
			scenario.Exec("count", func(s session.Session) (session.Session, error) {
				counted++
				return s, nil
			}),
		).
		Build()
	v, _ := newVU(t, sc, nil)

	out := v.Run(context.Background(), session.Session{})
	assert.Equal(t, metrics.Completed, out.Status)
	assert.Equal(t, 3, counted)
}

func TestRunRepeatedPause(t *testing.T) {
	t.Parallel()

	sc := scenario.New("pauses").Repeat(3, "", scenario.PauseFor(time.Second)).Build()
	v, collector := newVU(t, sc, nil)

	start := time.Now()
	out := v.Run(context.Background(), session.Session{})
	elapsed := time.Since(start)

	require.Equal(t, metrics.Completed, out.Status)
	assert.GreaterOrEqual(t, elapsed, 3*time.Second)
	assert.Less(t, elapsed, 4*time.Second)
	assert.Equal(t, []string{"pause", "pause", "pause"}, stepNames(collector.Records()))
}

func TestRunFailFast(t *testing.T) {
	t.Parallel()

	srv := testutils.NewHTTPBin(t)
	client := httpext.NewClient(httpext.ClientConfig{BaseURL: srv.Server.URL}, testutils.NewLogger(t))
	sc := scenario.New("fail fast").Exec(
		scenario.HTTP("A").Get("/status/200").Check(check.StatusIs(200)),
		scenario.HTTP("B").Get("/status/500").Check(check.StatusIs(200)),
		scenario.HTTP("C").Get("/get").Check(check.StatusIs(200)),
	).Build()
	v, collector := newVU(t, sc, client)

	out := v.Run(context.Background(), session.Session{})

	assert.Equal(t, metrics.Failed, out.Status)
	assert.Equal(t, "B", out.Step)
	assert.Contains(t, out.Reason, "actually found 500")
	var ferr *check.FailureError
	assert.ErrorAs(t, out.Err, &ferr)

	records := collector.Records()
	require.Equal(t, []string{"A", "B"}, stepNames(records))
	assert.True(t, records[0].OK)
	assert.False(t, records[1].OK)
	assert.Equal(t, http.StatusInternalServerError, records[1].Status)

	summary := collector.Summarize()
	assert.Equal(t, int64(1), summary.VUs.Failed)
}

func TestRunExtractionRoundTrip(t *testing.T) {
	t.Parallel()

	srv := testutils.NewHTTPBin(t)
	client := httpext.NewClient(httpext.ClientConfig{
		BaseURL: srv.Server.URL,
		Headers: map[string]string{"Content-Type": "application/json"},
	}, testutils.NewLogger(t))

	var seen string
	sc := scenario.New("games").Exec(
		scenario.HTTP("auth").Post("/api/auth").
			Body(`{"username": "#{user}", "password": "secret"}`).
			Check(check.StatusIs(200), check.Find(check.MustGJSON("token")).SaveAs("token")),
		scenario.HTTP("create").Post("/api/games").
			Header("Authorization", "Bearer #{token}").
			Body(`{"name": "chess"}`).
			Check(check.StatusIs(201), check.Find(check.MustJMESPath("id")).SaveAs("gameId")),
		scenario.Log("peek", func(s session.Session) {
			seen, _ = s.GetString("gameId")
		}),
		scenario.HTTP("Get game - #{gameId}").Get("/api/games/#{gameId}").
			Header("Authorization", "Bearer #{token}").
			Check(check.StatusIs(200), check.Equals(check.MustGJSON("owner"), "#{user}")),
	).Build()
	v, collector := newVU(t, sc, client)

	out := v.Run(context.Background(), session.New(map[string]interface{}{"user": "alice"}))

	require.Equal(t, metrics.Completed, out.Status, out.Reason)
	assert.Equal(t, "g-1", seen)
	token, err := out.Session.GetString("token")
	require.NoError(t, err)
	assert.Equal(t, "tok-alice", token)
	assert.Equal(t, []string{"auth", "create", "peek", "Get game - g-1"}, stepNames(collector.Records()))
	assert.Equal(t, 1, srv.Games.Calls("get"))
}

func TestRunFailedCheckDoesNotExtract(t *testing.T) {
	t.Parallel()

	srv := testutils.NewHTTPBin(t)
	client := httpext.NewClient(httpext.ClientConfig{BaseURL: srv.Server.URL}, testutils.NewLogger(t))
	sc := scenario.New("bad auth").Exec(
		scenario.HTTP("auth").Post("/api/auth").
			Body(`{"username": "bob", "password": "nope"}`).
			Check(check.StatusIs(200), check.BodyString().SaveAs("body")),
	).Build()
	v, _ := newVU(t, sc, client)

	out := v.Run(context.Background(), session.Session{})

	assert.Equal(t, metrics.Failed, out.Status)
	assert.False(t, out.Session.Has("body"))
}

func TestRunTransportError(t *testing.T) {
	t.Parallel()

	srv := testutils.NewHTTPBin(t)
	client := httpext.NewClient(httpext.ClientConfig{BaseURL: srv.Server.URL}, testutils.NewLogger(t))
	sc := scenario.New("slow").Exec(
		scenario.HTTP("slow").Get("/delay/2").WithTimeout(100 * time.Millisecond),
	).Build()
	v, collector := newVU(t, sc, client)

	out := v.Run(context.Background(), session.Session{})

	require.Equal(t, metrics.Failed, out.Status)
	var terr *httpext.TransportError
	require.ErrorAs(t, out.Err, &terr)
	assert.Equal(t, httpext.RequestTimeoutErrorCode, terr.Code)
	require.Len(t, collector.Records(), 1)
	assert.False(t, collector.Records()[0].OK)
}

func TestRunMissingKeyFailsStep(t *testing.T) {
	t.Parallel()

	sc := scenario.New("missing").Exec(
		scenario.HTTP("get").Get("/api/games/#{gameId}"),
	).Build()
	v, collector := newVU(t, sc, nil)

	out := v.Run(context.Background(), session.Session{})

	assert.Equal(t, metrics.Failed, out.Status)
	var merr *session.MissingKeyError
	require.ErrorAs(t, out.Err, &merr)
	assert.Equal(t, "gameId", merr.Key)
	assert.Len(t, collector.Records(), 1)
}

func TestRunCancelledDuringPause(t *testing.T) {
	t.Parallel()

	sc := scenario.New("idle").Pause(10*time.Second).Exec(scenario.Log("after", nil)).Build()
	v, collector := newVU(t, sc, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	out := v.Run(ctx, session.Session{})

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, metrics.Cancelled, out.Status)
	assert.Equal(t, "pause", out.Step)
	assert.Empty(t, out.Reason)
	assert.ErrorIs(t, out.Err, ErrCancelled)
	assert.Empty(t, collector.Records())
	assert.Equal(t, int64(1), collector.Summarize().VUs.Cancelled)
}

type doerFunc func(ctx context.Context, req *httpext.Request) (*httpext.Response, error)

func (f doerFunc) Do(ctx context.Context, req *httpext.Request) (*httpext.Response, error) {
	return f(ctx, req)
}

func TestRunCancelledDuringRequest(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var requestCtxErr error
	client := doerFunc(func(reqCtx context.Context, _ *httpext.Request) (*httpext.Response, error) {
		cancel()
		requestCtxErr = reqCtx.Err()
		res := httpext.NewResponse(http.StatusCreated, nil, []byte(`{"id": "g-1"}`))
		res.Duration = 20 * time.Millisecond
		return res, nil
	})

	ranNext := false
	sc := scenario.New("games").Exec(
		scenario.HTTP("Create game").Post("/api/games").
			Check(check.StatusIs(http.StatusCreated), check.Find(check.MustGJSON("id")).SaveAs("gameId")),
		scenario.Exec("next", func(s session.Session) (session.Session, error) {
			ranNext = true
			return s, nil
		}),
	).Build()
	v, collector := newVU(t, sc, client)

	out := v.Run(ctx, session.Session{})

	assert.NoError(t, requestCtxErr)
	assert.False(t, ranNext)
	assert.Equal(t, metrics.Cancelled, out.Status)
	assert.Equal(t, "next", out.Step)
	assert.Empty(t, out.Reason)
	assert.ErrorIs(t, out.Err, ErrCancelled)
	gameID, err := out.Session.GetString("gameId")
	require.NoError(t, err)
	assert.Equal(t, "g-1", gameID)

	records := collector.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "Create game", records[0].Step)
	assert.True(t, records[0].OK)
	assert.Equal(t, http.StatusCreated, records[0].Status)
	assert.Equal(t, 20*time.Millisecond, records[0].Duration)

	summary := collector.Summarize()
	assert.Equal(t, int64(1), summary.VUs.Cancelled)
	assert.Zero(t, summary.VUs.Failed)
}

func TestRunForeverObservesCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc := scenario.New("forever").Forever("n",
		scenario.Exec("tick", func(s session.Session) (session.Session, error) {
			if n, _ := s.GetInt("n"); n == 5 {
				cancel()
			}
			return s, nil
		}),
	).Build()
	v, collector := newVU(t, sc, nil)

	out := v.Run(ctx, session.Session{})

	assert.Equal(t, metrics.Cancelled, out.Status)
	assert.Equal(t, "forever", out.Step)
	assert.Len(t, collector.Records(), 6)
	n, err := out.Session.GetInt("n")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestRunRepeatCounter(t *testing.T) {
	t.Parallel()

	var seen []int64
	sc := scenario.New("counter").Exec(
		scenario.RepeatFrom("times", "i", scenario.Log("collect", func(s session.Session) {
			i, _ := s.GetInt("i")
			seen = append(seen, i)
		})),
	).Build()
	v, _ := newVU(t, sc, nil)

	out := v.Run(context.Background(), session.New(map[string]interface{}{"times": 3}))

	require.Equal(t, metrics.Completed, out.Status)
	assert.Equal(t, []int64{0, 1, 2}, seen)
	assert.False(t, out.Session.Has("i"))

	v, _ = newVU(t, sc, nil)
	out = v.Run(context.Background(), session.Session{})
	assert.Equal(t, metrics.Failed, out.Status)
	assert.Equal(t, "repeat", out.Step)
}

func TestRunFeedAndConditions(t *testing.T) {
	t.Parallel()

	users := feeder.New("users", []feeder.Record{{"user": "alice", "admin": "yes"}}, feeder.Queue, 1)
	var branches []string
	sc := scenario.New("feed").Exec(
		scenario.RepeatN(2, "",
			scenario.FeedFrom("users", users),
			scenario.DoIfEquals("admin", "yes", scenario.Log("admin", func(session.Session) {
				branches = append(branches, "admin")
			})),
		),
	).Build()
	v, collector := newVU(t, sc, nil)

	out := v.Run(context.Background(), session.Session{})

	assert.Equal(t, metrics.Failed, out.Status)
	assert.Equal(t, "feed users", out.Step)
	assert.ErrorIs(t, out.Err, feeder.ErrExhausted)
	assert.Equal(t, []string{"admin"}, branches)
	assert.Equal(t, []string{"feed users", "admin", "feed users"}, stepNames(collector.Records()))
}

func TestRunTransformError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	sc := scenario.New("transform").Exec(
		scenario.Exec("explode", func(s session.Session) (session.Session, error) {
			return s.Set("x", 1), boom
		}),
		scenario.Log("never", nil),
	).Build()
	v, collector := newVU(t, sc, nil)

	out := v.Run(context.Background(), session.Session{})

	assert.Equal(t, metrics.Failed, out.Status)
	assert.Equal(t, "explode", out.Step)
	assert.Equal(t, "boom", out.Reason)
	assert.False(t, out.Session.Has("x"))
	assert.Equal(t, []string{"explode"}, stepNames(collector.Records()))
}

func TestRunEmitsSpans(t *testing.T) {
	t.Parallel()

	srv := testutils.NewHTTPBin(t)
	client := httpext.NewClient(httpext.ClientConfig{BaseURL: srv.Server.URL}, testutils.NewLogger(t))
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	sc := scenario.New("traced").Exec(scenario.HTTP("status").Get("/status/204")).Build()
	v, _ := newVU(t, sc, client)
	v.ID = 7
	v.Tracer = tp.Tracer("test")

	out := v.Run(context.Background(), session.Session{})
	require.Equal(t, metrics.Completed, out.Status)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "status", spans[0].Name())
	assert.Equal(t, "vu 7", spans[1].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
}
