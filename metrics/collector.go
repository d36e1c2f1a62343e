package metrics

import (
	"sync"
	"time"
)

type stepAgg struct {
	name      string
	kind      string
	durations *TrendSink
	successes *RateSink
	errors    map[string]int64
}

// Collector accumulates records from every virtual user. It is safe for
// concurrent use and adding a record never does more than an append and a
// couple of counter updates under a mutex.
type Collector struct {
	mu      sync.Mutex
	records []Record
	steps   map[string]*stepAgg
	order   []string

	started, finished time.Time

	launched, completed, failed, cancelled int64
	reasons                                map[string]int64
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		steps:   make(map[string]*stepAgg),
		reasons: make(map[string]int64),
	}
}

// MarkStart sets the run start time reported in the summary.
func (c *Collector) MarkStart(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = t
}

// MarkEnd sets the run end time reported in the summary.
func (c *Collector) MarkEnd(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = t
}

// Record adds a step record.
func (c *Collector) Record(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = append(c.records, r)

	key := r.Kind + "\x00" + r.Step
	agg, ok := c.steps[key]
	if !ok {
		agg = &stepAgg{
			name:      r.Step,
			kind:      r.Kind,
			durations: NewTrendSink(),
			successes: &RateSink{},
			errors:    make(map[string]int64),
		}
		c.steps[key] = agg
		c.order = append(c.order, key)
	}
	agg.durations.AddDuration(r.Duration)
	if r.OK {
		agg.successes.Add(1)
	} else {
		agg.successes.Add(0)
		agg.errors[r.Error]++
	}
}

// RecordLaunch counts a started virtual user.
func (c *Collector) RecordLaunch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.launched++
}

// RecordOutcome counts the terminal outcome of a virtual user. step and
// reason are only meaningful for failed users.
func (c *Collector) RecordOutcome(vu uint64, status Status, step, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch status {
	case Completed:
		c.completed++
	case Failed:
		c.failed++
		c.reasons[step+": "+reason]++
	case Cancelled:
		c.cancelled++
	}
}

// Records returns a copy of every record so far.
func (c *Collector) Records() []Record {
	return c.RecordsSince(0)
}

// RecordsSince returns a copy of the records from index n on, so periodic
// consumers can keep a cursor.
func (c *Collector) RecordsSince(n int) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n >= len(c.records) {
		return nil
	}
	if n < 0 {
		n = 0
	}
	out := make([]Record, len(c.records)-n)
	copy(out, c.records[n:])
	return out
}

// Len returns the number of records.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Summarize aggregates everything collected so far.
func (c *Collector) Summarize() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Started:  c.started,
		Finished: c.finished,
		Steps:    make([]StepSummary, 0, len(c.order)),
		VUs: VUSummary{
			Launched:  c.launched,
			Completed: c.completed,
			Failed:    c.failed,
			Cancelled: c.cancelled,
			Reasons:   make(map[string]int64, len(c.reasons)),
		},
	}
	if !c.started.IsZero() {
		end := c.finished
		if end.IsZero() {
			end = time.Now()
		}
		s.Duration = end.Sub(c.started)
	}
	for k, v := range c.reasons {
		s.VUs.Reasons[k] = v
	}

	for _, key := range c.order {
		agg := c.steps[key]
		ss := StepSummary{
			Name:        agg.name,
			Kind:        agg.kind,
			Count:       agg.successes.Total,
			Successes:   agg.successes.Trues,
			Failures:    agg.successes.Total - agg.successes.Trues,
			SuccessRate: agg.successes.Rate(),
			Min:         ToD(agg.durations.Min()),
			Max:         ToD(agg.durations.Max()),
			Mean:        ToD(agg.durations.Avg()),
			Median:      ToD(agg.durations.P(0.5)),
			P90:         ToD(agg.durations.P(0.90)),
			P95:         ToD(agg.durations.P(0.95)),
			P99:         ToD(agg.durations.P(0.99)),
			Errors:      make(map[string]int64, len(agg.errors)),
		}
		for k, v := range agg.errors {
			ss.Errors[k] = v
		}
		s.Steps = append(s.Steps, ss)
	}
	return s
}
