// Package metrics collects the per-step records produced by virtual users and
// aggregates them into the end-of-run summary.
package metrics

import "time"

// Record is the measurement of one executed step of one virtual user.
type Record struct {
	VU       uint64        `json:"vu"`
	Step     string        `json:"step"`
	Kind     string        `json:"kind"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	OK       bool          `json:"ok"`
	// Error is the failure reason, empty when OK.
	Error string `json:"error,omitempty"`
	// Status is the HTTP status of request steps, 0 otherwise or when no
	// response was received.
	Status int `json:"status,omitempty"`
}

// Status is the terminal outcome of a virtual user.
type Status string

// Virtual user outcomes.
const (
	Completed Status = "completed"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)
