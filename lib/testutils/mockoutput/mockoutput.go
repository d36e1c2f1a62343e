// Package mockoutput provides an in-memory output for engine tests.
package mockoutput

import (
	"sync"

	"github.com/liuxd6825/surge/metrics"
	"github.com/liuxd6825/surge/output"
)

// New exists so that the usage from tests avoids repetition, i.e. is
// mockoutput.New() instead of &mockoutput.MockOutput{}
func New() *MockOutput {
	return &MockOutput{}
}

// MockOutput can be used in tests to mock an actual output.
type MockOutput struct {
	mu      sync.Mutex
	records []metrics.Record
	batches int
	summary *metrics.Summary

	DescFn  func() string
	StartFn func() error
	StopFn  func(*metrics.Summary) error
}

var _ output.Output = &MockOutput{}

// AddRecords just saves the records in memory.
func (mo *MockOutput) AddRecords(records []metrics.Record) {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	mo.records = append(mo.records, records...)
	mo.batches++
}

// Records returns every record received so far.
func (mo *MockOutput) Records() []metrics.Record {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	return append([]metrics.Record(nil), mo.records...)
}

// Batches returns how many times AddRecords was called.
func (mo *MockOutput) Batches() int {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	return mo.batches
}

// Summary returns the summary passed to Stop, nil before that.
func (mo *MockOutput) Summary() *metrics.Summary {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	return mo.summary
}

// Description calls the supplied DescFn callback, if available.
func (mo *MockOutput) Description() string {
	if mo.DescFn != nil {
		return mo.DescFn()
	}
	return "mock"
}

// Start calls the supplied StartFn callback, if available.
func (mo *MockOutput) Start() error {
	if mo.StartFn != nil {
		return mo.StartFn()
	}
	return nil
}

// Stop saves the summary and calls the supplied StopFn callback, if available.
func (mo *MockOutput) Stop(summary *metrics.Summary) error {
	mo.mu.Lock()
	mo.summary = summary
	mo.mu.Unlock()
	if mo.StopFn != nil {
		return mo.StopFn(summary)
	}
	return nil
}
