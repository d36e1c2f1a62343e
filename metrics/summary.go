package metrics

import "time"

// Summary is the aggregated result of a run.
type Summary struct {
	Started  time.Time
	Finished time.Time
	Duration time.Duration
	// Steps are in the order their first record arrived.
	Steps []StepSummary
	VUs   VUSummary
}

// StepSummary aggregates the records sharing a step name and kind.
type StepSummary struct {
	Name        string
	Kind        string
	Count       int64
	Successes   int64
	Failures    int64
	SuccessRate float64

	Min, Max, Mean, Median, P90, P95, P99 time.Duration

	// Errors counts the failure reasons.
	Errors map[string]int64
}

// VUSummary counts virtual user outcomes.
type VUSummary struct {
	Launched  int64
	Completed int64
	Failed    int64
	Cancelled int64
	// Reasons counts failures keyed by "step: reason".
	Reasons map[string]int64
}

// Step returns the first summary with the given name.
func (s *Summary) Step(name string) (StepSummary, bool) {
	for _, ss := range s.Steps {
		if ss.Name == name {
			return ss, true
		}
	}
	return StepSummary{}, false
}

// Failures returns the number of failed step executions.
func (s *Summary) Failures() (n int64) {
	for _, ss := range s.Steps {
		n += ss.Failures
	}
	return n
}
