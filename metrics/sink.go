package metrics

import (
	"time"

	"github.com/liuxd6825/surge/internal/ds/histogram"
)

var (
	_ Sink = NewTrendSink()
	_ Sink = &RateSink{}
)

// Sink accumulates values in a specific way.
type Sink interface {
	Add(v float64)              // Add a value to the sink.
	Format() map[string]float64 // Aggregated data.
	IsEmpty() bool              // Check if the Sink is empty.
}

// NewTrendSink makes a trend Sink with an HDR histogram-based implementation.
func NewTrendSink() *TrendSink {
	return &TrendSink{
		h: histogram.NewHdr(),
	}
}

// TrendSink is a sink for a distribution of values.
type TrendSink struct {
	h *histogram.Hdr
}

// IsEmpty indicates whether the TrendSink is empty.
func (t *TrendSink) IsEmpty() bool { return t.h.Count == 0 }

// Add a single value into the trend
func (t *TrendSink) Add(v float64) {
	t.h.Add(v)
}

// AddDuration adds d in milliseconds.
func (t *TrendSink) AddDuration(d time.Duration) {
	t.h.Add(D(d))
}

// P calculates the given percentile from sink values.
func (t *TrendSink) P(pct float64) float64 {
	switch t.h.Count {
	case 0:
		return 0
	case 1:
		return t.h.Min
	default:
		return t.h.Quantile(pct)
	}
}

// Min returns the minimum value.
func (t *TrendSink) Min() float64 {
	if t.IsEmpty() {
		return 0
	}
	return t.h.Min
}

// Max returns the maximum value.
func (t *TrendSink) Max() float64 {
	if t.IsEmpty() {
		return 0
	}
	return t.h.Max
}

// Count returns the number of recorded values.
func (t *TrendSink) Count() uint64 {
	return uint64(t.h.Count)
}

// Avg returns the average (i.e. mean) value.
func (t *TrendSink) Avg() float64 {
	if t.IsEmpty() {
		return 0
	}
	return t.h.Sum / float64(t.h.Count)
}

// Format trend and return a map
func (t *TrendSink) Format() map[string]float64 {
	return map[string]float64{
		"min":   t.Min(),
		"max":   t.Max(),
		"avg":   t.Avg(),
		"med":   t.P(0.5),
		"p(90)": t.P(0.90),
		"p(95)": t.P(0.95),
		"p(99)": t.P(0.99),
	}
}

// RateSink is a sink for the share of non-zero values.
type RateSink struct {
	Trues int64
	Total int64
}

// IsEmpty indicates whether the RateSink is empty.
func (r *RateSink) IsEmpty() bool { return r.Total == 0 }

// Add a single value to the rate
func (r *RateSink) Add(v float64) {
	r.Total++
	if v != 0 {
		r.Trues++
	}
}

// Rate returns Trues / Total, or 0 when empty.
func (r *RateSink) Rate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Trues) / float64(r.Total)
}

// Format rate and return a map
func (r *RateSink) Format() map[string]float64 {
	return map[string]float64{"rate": r.Rate()}
}

// D converts a duration to float64 milliseconds.
func D(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// ToD converts float64 milliseconds to a duration.
func ToD(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
