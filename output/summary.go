package output

import (
	"time"

	"github.com/liuxd6825/surge/metrics"
)

// SummaryEnvelope is the machine-readable form of a run summary. Durations
// are milliseconds.
type SummaryEnvelope struct {
	RunID      string         `json:"run_id"`
	Scenario   string         `json:"scenario,omitempty"`
	Started    time.Time      `json:"started"`
	Finished   time.Time      `json:"finished"`
	DurationMs float64        `json:"duration_ms"`
	Steps      []StepEnvelope `json:"steps"`
	VUs        VUEnvelope     `json:"vus"`
}

// StepEnvelope is one step line of a SummaryEnvelope.
type StepEnvelope struct {
	Name        string           `json:"name"`
	Kind        string           `json:"kind"`
	Count       int64            `json:"count"`
	Successes   int64            `json:"successes"`
	Failures    int64            `json:"failures"`
	SuccessRate float64          `json:"success_rate"`
	Min         float64          `json:"min"`
	Max         float64          `json:"max"`
	Mean        float64          `json:"mean"`
	Median      float64          `json:"median"`
	P90         float64          `json:"p90"`
	P95         float64          `json:"p95"`
	P99         float64          `json:"p99"`
	Errors      map[string]int64 `json:"errors,omitempty"`
}

// VUEnvelope holds the virtual user totals of a SummaryEnvelope.
type VUEnvelope struct {
	Launched  int64            `json:"launched"`
	Completed int64            `json:"completed"`
	Failed    int64            `json:"failed"`
	Cancelled int64            `json:"cancelled"`
	Reasons   map[string]int64 `json:"reasons,omitempty"`
}

// WrapSummary converts s for serialization.
func WrapSummary(runID, scenario string, s *metrics.Summary) SummaryEnvelope {
	env := SummaryEnvelope{
		RunID:      runID,
		Scenario:   scenario,
		Started:    s.Started,
		Finished:   s.Finished,
		DurationMs: metrics.D(s.Duration),
		Steps:      make([]StepEnvelope, 0, len(s.Steps)),
		VUs: VUEnvelope{
			Launched:  s.VUs.Launched,
			Completed: s.VUs.Completed,
			Failed:    s.VUs.Failed,
			Cancelled: s.VUs.Cancelled,
			Reasons:   s.VUs.Reasons,
		},
	}
	for _, st := range s.Steps {
		env.Steps = append(env.Steps, StepEnvelope{
			Name:        st.Name,
			Kind:        st.Kind,
			Count:       st.Count,
			Successes:   st.Successes,
			Failures:    st.Failures,
			SuccessRate: st.SuccessRate,
			Min:         metrics.D(st.Min),
			Max:         metrics.D(st.Max),
			Mean:        metrics.D(st.Mean),
			Median:      metrics.D(st.Median),
			P90:         metrics.D(st.P90),
			P95:         metrics.D(st.P95),
			P99:         metrics.D(st.P99),
			Errors:      st.Errors,
		})
	}
	return env
}
