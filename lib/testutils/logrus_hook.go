package testutils

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogHook is a logrus.Hook that keeps every entry it is fired with, so tests
// can assert on what the engine and the virtual users logged.
type LogHook struct {
	levels []logrus.Level

	mu      sync.Mutex
	entries []logrus.Entry
}

var _ logrus.Hook = &LogHook{}

// NewLogHook hooks the given levels, or all of them when none are given.
func NewLogHook(levels ...logrus.Level) *LogHook {
	if len(levels) == 0 {
		levels = logrus.AllLevels
	}
	return &LogHook{levels: levels}
}

// Levels implements logrus.Hook.
func (h *LogHook) Levels() []logrus.Level { return h.levels }

// Fire implements logrus.Hook.
func (h *LogHook) Fire(e *logrus.Entry) error {
	h.mu.Lock()
	h.entries = append(h.entries, *e)
	h.mu.Unlock()
	return nil
}

// Drain returns the kept entries and forgets them.
func (h *LogHook) Drain() []logrus.Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	res := h.entries
	h.entries = nil
	return res
}

// Last returns the most recent entry, or nil.
func (h *LogHook) Last() *logrus.Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return nil
	}
	e := h.entries[len(h.entries)-1]
	return &e
}

// Count returns how many kept entries have the given level.
func (h *LogHook) Count(level logrus.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Contains reports whether an entry with the given level has a message
// containing msg.
func (h *LogHook) Contains(level logrus.Level, msg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.entries {
		if e.Level == level && strings.Contains(e.Message, msg) {
			return true
		}
	}
	return false
}
