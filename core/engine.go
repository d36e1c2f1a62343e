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

// Package core turns an injection profile into running virtual users.
package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/liuxd6825/surge/errext"
	"github.com/liuxd6825/surge/errext/exitcodes"
	"github.com/liuxd6825/surge/lib/injection"
	"github.com/liuxd6825/surge/lib/scenario"
	"github.com/liuxd6825/surge/lib/session"
	"github.com/liuxd6825/surge/lib/vu"
	"github.com/liuxd6825/surge/metrics"
	"github.com/liuxd6825/surge/output"
)

// DefaultFlushInterval is how often new records are handed to the outputs.
const DefaultFlushInterval = time.Second

// Options tune a run. The zero value means no limits.
type Options struct {
	// MaxVUs bounds the number of concurrently live virtual users, 0 means
	// unbounded. Launches wait for a free slot.
	MaxVUs int64
	// MaxDuration stops the run, cancelling every live user, once elapsed.
	MaxDuration time.Duration
	// StepTimeout bounds request steps without their own timeout.
	StepTimeout time.Duration
	// Seed makes pause sampling reproducible, 0 means time-based.
	Seed int64
	// SeedValues are copied into the session of every new virtual user.
	SeedValues    map[string]interface{}
	FlushInterval time.Duration
}

func (o Options) validate() []error {
	var errs []error
	if o.MaxVUs < 0 {
		errs = append(errs, fmt.Errorf("maxVUs can't be negative, got %d", o.MaxVUs))
	}
	if o.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("maxDuration can't be negative, got %s", o.MaxDuration))
	}
	if o.StepTimeout < 0 {
		errs = append(errs, fmt.Errorf("the step timeout can't be negative, got %s", o.StepTimeout))
	}
	if o.FlushInterval < 0 {
		errs = append(errs, fmt.Errorf("the flush interval can't be negative, got %s", o.FlushInterval))
	}
	return errs
}

// The Engine runs one scenario following one injection profile.
type Engine struct {
	Scenario scenario.Scenario
	Profile  injection.Profile
	// Outputs receive the records periodically and the summary at the end.
	Outputs []output.Output
	// Tracer emits the run span, nil disables tracing.
	Tracer trace.Tracer

	opts      Options
	client    vu.Doer
	collector *metrics.Collector
	seed      session.Session

	logger   *logrus.Entry
	stopOnce sync.Once
	stopChan chan struct{}

	lastID atomic.Uint64
	active atomic.Int64
}

// NewEngine validates everything up-front. Any problem with the scenario, the
// profile or the options is reported as a single *errext.ConfigError and
// nothing is started.
func NewEngine(
	sc scenario.Scenario, profile injection.Profile, opts Options,
	client vu.Doer, collector *metrics.Collector, logger logrus.FieldLogger,
) (*Engine, error) {
	errs := []error{sc.Validate(), profile.Validate()}
	errs = append(errs, opts.validate()...)
	if client == nil && usesHTTP(sc) {
		errs = append(errs, errors.New("the scenario sends requests but no HTTP client was configured"))
	}
	if err := errext.NewConfigError("test configuration", errs...); err != nil {
		return nil, err
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}
	if opts.FlushInterval == 0 {
		opts.FlushInterval = DefaultFlushInterval
	}

	return &Engine{
		Scenario:  sc,
		Profile:   profile,
		opts:      opts,
		client:    client,
		collector: collector,
		seed:      session.New(opts.SeedValues),
		stopChan:  make(chan struct{}),
		logger:    logger.WithField("component", "engine"),
	}, nil
}

func usesHTTP(sc scenario.Scenario) (found bool) {
	scenario.Walk(sc.Steps, func(s scenario.Step) bool {
		if s.Kind() == scenario.KindRequest {
			found = true
		}
		return !found
	})
	return found
}

// Collector returns the collector the virtual users report to.
func (e *Engine) Collector() *metrics.Collector {
	return e.collector
}

// ActiveVUs returns the number of currently live virtual users.
func (e *Engine) ActiveVUs() int64 {
	return e.active.Load()
}

// LaunchedVUs returns the number of virtual users started so far.
func (e *Engine) LaunchedVUs() uint64 {
	return e.lastID.Load()
}

// Stop closes a signal channel, making a running Engine stop launching users
// and cancel the live ones.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
	})
}

// IsStopped returns a bool indicating whether the Engine has been stopped
func (e *Engine) IsStopped() bool {
	select {
	case <-e.stopChan:
		return true
	default:
		return false
	}
}

// Run launches a virtual user at every offset of the profile and waits for
// all of them to terminate. It returns early, with cancelled users, when ctx
// is done, Stop is called or MaxDuration elapses. Failed virtual users are
// not an error, they are part of the summary.
func (e *Engine) Run(ctx context.Context) (*metrics.Summary, error) {
	if err := e.startOutputs(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if e.opts.MaxDuration > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, e.opts.MaxDuration)
		defer cancelTimeout()
	}
	go func(done <-chan struct{}) {
		select {
		case <-e.stopChan:
			e.logger.Debug("Stopped by user, cancelling the run...")
			cancel()
		case <-done:
		}
	}(runCtx.Done())

	tracer := e.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	runCtx, span := tracer.Start(runCtx, "run "+e.Scenario.Name, trace.WithAttributes(
		attribute.String("surge.scenario", e.Scenario.Name),
		attribute.String("surge.profile", e.Profile.Describe()),
	))
	defer span.End()

	start := time.Now()
	e.collector.MarkStart(start)
	e.logger.WithFields(logrus.Fields{
		"scenario": e.Scenario.Name,
		"users":    e.Profile.TotalUsers(),
		"duration": e.Profile.Duration(),
	}).Info("Run starting...")

	flushDone := make(chan struct{})
	flushStop := make(chan struct{})
	go func() {
		defer close(flushDone)
		e.flushLoop(flushStop)
	}()

	wg := e.launch(runCtx, start)
	wg.Wait()

	e.collector.MarkEnd(time.Now())
	close(flushStop)
	<-flushDone

	summary := e.collector.Summarize()
	span.SetAttributes(
		attribute.Int64("surge.vus.launched", summary.VUs.Launched),
		attribute.Int64("surge.vus.failed", summary.VUs.Failed),
	)
	e.logger.WithFields(logrus.Fields{
		"launched":  summary.VUs.Launched,
		"completed": summary.VUs.Completed,
		"failed":    summary.VUs.Failed,
		"cancelled": summary.VUs.Cancelled,
		"duration":  summary.Duration,
	}).Info("Run finished")

	if err := e.stopOutputs(summary); err != nil {
		return summary, err
	}
	return summary, nil
}

// launch consumes the schedule on the calling goroutine and starts one
// goroutine per virtual user. The returned WaitGroup tracks the live users.
func (e *Engine) launch(ctx context.Context, start time.Time) *sync.WaitGroup {
	wg := &sync.WaitGroup{}
	offsets := make(chan time.Duration)
	go e.Profile.Stream(ctx, offsets)

	var slots chan struct{}
	if e.opts.MaxVUs > 0 {
		slots = make(chan struct{}, e.opts.MaxVUs)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for offset := range offsets {
		if wait := time.Until(start.Add(offset)); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return e.abandon(wg, offsets)
			case <-timer.C:
			}
		}
		if slots != nil {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return e.abandon(wg, offsets)
			}
		}
		if ctx.Err() != nil {
			return e.abandon(wg, offsets)
		}

		id := e.lastID.Add(1)
		e.collector.RecordLaunch()
		e.active.Add(1)
		wg.Add(1)
		go func() {
			defer func() {
				e.active.Add(-1)
				if slots != nil {
					<-slots
				}
				wg.Done()
			}()
			e.runVU(ctx, id)
		}()
	}
	return wg
}

// abandon drains the schedule after a stop, the producer exits on ctx.
func (e *Engine) abandon(wg *sync.WaitGroup, offsets <-chan time.Duration) *sync.WaitGroup {
	e.logger.WithField("launched", e.lastID.Load()).Debug("Run cancelled, no more users will be launched")
	for range offsets {
	}
	return wg
}

func (e *Engine) runVU(ctx context.Context, id uint64) {
	logger := e.logger.WithField("vu", id)
	var r *rand.Rand
	if e.opts.Seed != 0 {
		r = rand.New(rand.NewSource(e.opts.Seed + int64(id))) //nolint:gosec
	}
	u := &vu.VU{
		ID:          id,
		Scenario:    e.Scenario,
		Client:      e.client,
		Collector:   e.collector,
		Logger:      logger,
		Tracer:      e.Tracer,
		Rand:        r,
		StepTimeout: e.opts.StepTimeout,
	}

	logger.Debug("Virtual user starting")
	out := u.Run(ctx, e.seed)
	if out.Status == metrics.Failed {
		logger.WithFields(logrus.Fields{"step": out.Step, "reason": out.Reason}).Warn("Virtual user failed")
		return
	}
	logger.WithField("outcome", out.Status).Debug("Virtual user terminated")
}

func (e *Engine) flushLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(e.opts.FlushInterval)
	defer ticker.Stop()

	cursor := 0
	flush := func() {
		records := e.collector.RecordsSince(cursor)
		if len(records) == 0 {
			return
		}
		cursor += len(records)
		for _, out := range e.Outputs {
			out.AddRecords(records)
		}
	}
	for {
		select {
		case <-ticker.C:
			flush()
		case <-stop:
			flush()
			return
		}
	}
}

func (e *Engine) startOutputs() error {
	var g errgroup.Group
	for _, out := range e.Outputs {
		out := out
		g.Go(func() error {
			e.logger.WithField("output", out.Description()).Debug("Starting output...")
			if err := out.Start(); err != nil {
				return fmt.Errorf("error starting output %s: %w", out.Description(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.OutputFailed)
	}
	return nil
}

func (e *Engine) stopOutputs(summary *metrics.Summary) error {
	var g errgroup.Group
	for _, out := range e.Outputs {
		out := out
		g.Go(func() error {
			if err := out.Stop(summary); err != nil {
				e.logger.WithError(err).WithField("output", out.Description()).Error("Stopping output failed")
				return fmt.Errorf("error stopping output %s: %w", out.Description(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.OutputFailed)
	}
	return nil
}
