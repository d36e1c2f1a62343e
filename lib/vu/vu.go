// Package vu runs the steps of a scenario as one virtual user.
package vu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/liuxd6825/surge/lib/check"
	"github.com/liuxd6825/surge/lib/netext/httpext"
	"github.com/liuxd6825/surge/lib/scenario"
	"github.com/liuxd6825/surge/lib/session"
	"github.com/liuxd6825/surge/metrics"
)

// ErrCancelled is returned by steps interrupted by the cancellation of the run.
// A cancelled virtual user is not a failed one.
var ErrCancelled = errors.New("virtual user cancelled")

// Doer performs resolved requests, *httpext.Client in production.
type Doer interface {
	Do(ctx context.Context, req *httpext.Request) (*httpext.Response, error)
}

// Recorder receives the step records and the terminal outcome,
// *metrics.Collector in production.
type Recorder interface {
	Record(r metrics.Record)
	RecordOutcome(vu uint64, status metrics.Status, step, reason string)
}

// VU is one virtual user. A VU is run once and must not be shared between
// goroutines.
type VU struct {
	ID        uint64
	Scenario  scenario.Scenario
	Client    Doer
	Collector Recorder
	Logger    logrus.FieldLogger
	Tracer    trace.Tracer
	// Rand samples pause durations. Nil means the math/rand global source.
	Rand *rand.Rand
	// StepTimeout bounds request steps that do not set their own timeout.
	StepTimeout time.Duration
}

// Outcome is how a virtual user terminated.
type Outcome struct {
	Status metrics.Status
	// Step is the failed step, or the step that would have run next when
	// cancelled. Empty for completed users.
	Step   string
	Reason string
	Err    error
	// Session is the last session of the user.
	Session session.Session
}

// StepError is the failure of a single step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Run executes the scenario steps in order, starting from seed, until they
// are all done, one of them fails or ctx is done.
func (u *VU) Run(ctx context.Context, seed session.Session) Outcome {
	logger := u.logger()
	ctx, span := u.tracer().Start(ctx, "vu "+strconv.FormatUint(u.ID, 10), trace.WithAttributes(
		attribute.Int64("surge.vu", int64(u.ID)), //nolint:gosec
		attribute.String("surge.scenario", u.Scenario.Name),
	))
	defer span.End()

	sess, err := u.runSteps(ctx, u.Scenario.Steps, seed)
	out := Outcome{Status: metrics.Completed, Err: err, Session: sess}

	var serr *StepError
	if errors.As(err, &serr) {
		out.Step = serr.Step
		out.Reason = serr.Err.Error()
	}
	switch {
	case err == nil:
		logger.Debug("Virtual user completed")
	case errors.Is(err, ErrCancelled):
		out.Status = metrics.Cancelled
		out.Reason = ""
		logger.WithField("step", out.Step).Debug("Virtual user cancelled")
	default:
		out.Status = metrics.Failed
		if serr == nil {
			out.Reason = err.Error()
		}
		span.SetStatus(codes.Error, out.Reason)
		logger.WithFields(logrus.Fields{"step": out.Step, "reason": out.Reason}).Debug("Virtual user failed")
	}
	span.SetAttributes(attribute.String("surge.outcome", string(out.Status)))

	if u.Collector != nil {
		u.Collector.RecordOutcome(u.ID, out.Status, out.Step, out.Reason)
	}
	return out
}

func (u *VU) logger() logrus.FieldLogger {
	if u.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		u.Logger = l
	}
	return u.Logger.WithField("vu", u.ID)
}

func (u *VU) tracer() trace.Tracer {
	if u.Tracer == nil {
		u.Tracer = noop.NewTracerProvider().Tracer("")
	}
	return u.Tracer
}

func (u *VU) record(r metrics.Record) {
	if u.Collector == nil {
		return
	}
	r.VU = u.ID
	u.Collector.Record(r)
}

func (u *VU) runSteps(ctx context.Context, steps []scenario.Step, sess session.Session) (session.Session, error) {
	for _, step := range steps {
		if ctx.Err() != nil {
			return sess, &StepError{Step: label(step, sess), Err: ErrCancelled}
		}
		var err error
		sess, err = u.runStep(ctx, step, sess)
		if err != nil {
			return sess, err
		}
	}
	return sess, nil
}

func (u *VU) runStep(ctx context.Context, step scenario.Step, sess session.Session) (session.Session, error) {
	switch s := step.(type) {
	case *scenario.Request:
		return u.runRequest(ctx, s, sess)
	case *scenario.Pause:
		return sess, u.runPause(ctx, s)
	case *scenario.Repeat:
		return u.runRepeat(ctx, s, sess)
	case *scenario.Forever:
		return u.runForever(ctx, s, sess)
	case *scenario.Transform:
		return u.runTransform(s, sess)
	case *scenario.Feed:
		return u.runFeed(s, sess)
	case *scenario.If:
		if s.Condition(sess) {
			return u.runSteps(ctx, s.Then, sess)
		}
		return u.runSteps(ctx, s.Else, sess)
	default:
		return sess, &StepError{Step: string(step.Kind()), Err: fmt.Errorf("unsupported step %T", step)}
	}
}

// label names a step the way it is recorded.
func label(step scenario.Step, sess session.Session) string {
	switch s := step.(type) {
	case *scenario.Request:
		if name, err := s.Name.Resolve(sess); err == nil {
			return name
		}
		return s.Name.String()
	case *scenario.Pause:
		return s.Label
	case *scenario.Transform:
		return s.Name
	case *scenario.Feed:
		return "feed " + s.Name
	case *scenario.If:
		return s.Description
	default:
		return string(step.Kind())
	}
}

func (u *VU) runRequest(ctx context.Context, r *scenario.Request, sess session.Session) (session.Session, error) {
	name := label(r, sess)
	rec := metrics.Record{Step: name, Kind: string(scenario.KindRequest), Start: time.Now()}

	req, err := u.buildRequest(r, sess)
	if err != nil {
		rec.Error = err.Error()
		u.record(rec)
		return sess, &StepError{Step: name, Err: err}
	}

	ctx, span := u.tracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.full", req.URL),
	))
	defer span.End()

	// an in-flight request outlives the cancellation of the run, bounded by
	// its own timeout
	res, err := u.Client.Do(context.WithoutCancel(ctx), req)
	if err != nil {
		rec.Duration = time.Since(rec.Start)
		rec.Error = err.Error()
		u.record(rec)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		u.logger().WithError(err).WithField("step", name).Debug("Request failed")
		return sess, &StepError{Step: name, Err: err}
	}

	span.SetAttributes(attribute.Int("http.response.status_code", res.Status))
	rec.Duration = res.Duration
	rec.Status = res.Status

	next, _, err := check.EvaluateAll(res, sess, r.Checks)
	if err != nil {
		rec.Error = err.Error()
		u.record(rec)
		span.SetStatus(codes.Error, err.Error())
		return sess, &StepError{Step: name, Err: err}
	}
	rec.OK = true
	u.record(rec)
	return next, nil
}

func (u *VU) buildRequest(r *scenario.Request, sess session.Session) (*httpext.Request, error) {
	url, err := r.URL.Resolve(sess)
	if err != nil {
		return nil, err
	}
	req := &httpext.Request{
		Method:  r.Method,
		URL:     url,
		Header:  make(http.Header, len(r.Headers)),
		Timeout: u.StepTimeout,
	}
	if r.Timeout > 0 {
		req.Timeout = r.Timeout
	}
	for _, h := range r.Headers {
		v, err := h.Value.Resolve(sess)
		if err != nil {
			return nil, err
		}
		req.Header.Add(h.Name, v)
	}
	if r.BodyTemplate != nil {
		body, err := r.BodyTemplate.Resolve(sess)
		if err != nil {
			return nil, err
		}
		req.Body = []byte(body)
	}
	return req, nil
}

func (u *VU) pauseDuration(p *scenario.Pause) time.Duration {
	spread := int64(p.Max - p.Min)
	if spread <= 0 {
		return p.Min
	}
	if u.Rand != nil {
		return p.Min + time.Duration(u.Rand.Int63n(spread+1))
	}
	return p.Min + time.Duration(rand.Int63n(spread+1)) //nolint:gosec
}

func (u *VU) runPause(ctx context.Context, p *scenario.Pause) error {
	start := time.Now()
	t := time.NewTimer(u.pauseDuration(p))
	defer t.Stop()

	select {
	case <-ctx.Done():
		return &StepError{Step: p.Label, Err: ErrCancelled}
	case <-t.C:
	}
	u.record(metrics.Record{
		Step:     p.Label,
		Kind:     string(scenario.KindPause),
		Start:    start,
		Duration: time.Since(start),
		OK:       true,
	})
	return nil
}

func (u *VU) runRepeat(ctx context.Context, r *scenario.Repeat, sess session.Session) (session.Session, error) {
	times := r.Times
	if r.TimesKey != "" {
		n, err := sess.GetInt(r.TimesKey)
		if err != nil {
			return sess, &StepError{Step: string(scenario.KindRepeat), Err: err}
		}
		times = n
	}

	for i := int64(0); i < times; i++ {
		if ctx.Err() != nil {
			return sess, &StepError{Step: string(scenario.KindRepeat), Err: ErrCancelled}
		}
		if r.CounterKey != "" {
			sess = sess.Set(r.CounterKey, i)
		}
		var err error
		if sess, err = u.runSteps(ctx, r.Steps, sess); err != nil {
			return sess, err
		}
	}
	if r.CounterKey != "" {
		sess = sess.Remove(r.CounterKey)
	}
	return sess, nil
}

func (u *VU) runForever(ctx context.Context, f *scenario.Forever, sess session.Session) (session.Session, error) {
	for i := int64(0); ; i++ {
		if ctx.Err() != nil {
			return sess, &StepError{Step: string(scenario.KindForever), Err: ErrCancelled}
		}
		if f.CounterKey != "" {
			sess = sess.Set(f.CounterKey, i)
		}
		var err error
		if sess, err = u.runSteps(ctx, f.Steps, sess); err != nil {
			return sess, err
		}
	}
}

func (u *VU) runTransform(t *scenario.Transform, sess session.Session) (session.Session, error) {
	rec := metrics.Record{Step: t.Name, Kind: string(scenario.KindTransform), Start: time.Now()}
	next, err := sess, error(nil)
	if t.Fn != nil {
		next, err = t.Fn(sess)
	}
	rec.Duration = time.Since(rec.Start)
	if err != nil {
		rec.Error = err.Error()
		u.record(rec)
		return sess, &StepError{Step: t.Name, Err: err}
	}
	rec.OK = true
	u.record(rec)
	return next, nil
}

func (u *VU) runFeed(f *scenario.Feed, sess session.Session) (session.Session, error) {
	name := "feed " + f.Name
	rec := metrics.Record{Step: name, Kind: string(scenario.KindFeed), Start: time.Now()}
	values, err := f.Feeder.Next()
	rec.Duration = time.Since(rec.Start)
	if err != nil {
		rec.Error = err.Error()
		u.record(rec)
		return sess, &StepError{Step: name, Err: fmt.Errorf("feeder %s: %w", f.Name, err)}
	}
	rec.OK = true
	u.record(rec)
	return sess.SetAll(values), nil
}
