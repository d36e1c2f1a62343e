// Package feeder provides sources of per-virtual-user input records, drawn
// by feed steps and merged into the session.
package feeder

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// ErrExhausted is returned by non-repeating feeders once every record has
// been handed out.
var ErrExhausted = errors.New("feeder is exhausted")

// Record is one flat set of values merged into a session.
type Record map[string]interface{}

// Feeder hands out records. Implementations must be safe for concurrent use.
type Feeder interface {
	Next() (Record, error)
}

// Func adapts a generator function to the Feeder interface. The function
// must be safe for concurrent use, see Generator for one that isn't.
type Func func() (Record, error)

// Next calls f.
func (f Func) Next() (Record, error) {
	return f()
}

// Generator serializes calls to a generator function.
type Generator struct {
	mu sync.Mutex
	fn func() (Record, error)
}

// NewGenerator wraps fn.
func NewGenerator(fn func() (Record, error)) *Generator {
	return &Generator{fn: fn}
}

// Next calls the wrapped function under a lock.
func (g *Generator) Next() (Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fn()
}

// Strategy decides the order in which a Source hands out its records.
type Strategy int

// Feeder strategies.
const (
	// Queue hands out each record once, in order.
	Queue Strategy = iota
	// Shuffle hands out each record once, in random order.
	Shuffle
	// Circular goes through the records in order and wraps around.
	Circular
	// Random draws records uniformly, with replacement.
	Random
)

func (s Strategy) String() string {
	switch s {
	case Queue:
		return "queue"
	case Shuffle:
		return "shuffle"
	case Circular:
		return "circular"
	case Random:
		return "random"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses the names returned by Strategy.String.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "queue":
		return Queue, nil
	case "shuffle":
		return Shuffle, nil
	case "circular":
		return Circular, nil
	case "random":
		return Random, nil
	default:
		return 0, fmt.Errorf("unknown feeder strategy '%s', expected one of queue, shuffle, circular or random", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	v, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Source is an in-memory Feeder over a fixed list of records.
type Source struct {
	name     string
	records  []Record
	strategy Strategy

	mu    sync.Mutex
	pos   int
	order []int
	rand  *rand.Rand
}

var _ Feeder = &Source{}

// New returns a Source. A zero seed picks a time-based one.
func New(name string, records []Record, strategy Strategy, seed int64) *Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Source{
		name:     name,
		records:  records,
		strategy: strategy,
		rand:     rand.New(rand.NewSource(seed)), //nolint:gosec
	}
	if strategy == Shuffle {
		s.order = s.rand.Perm(len(records))
	}
	return s
}

// Name returns the feeder name.
func (s *Source) Name() string {
	return s.name
}

// Len returns the number of records.
func (s *Source) Len() int {
	return len(s.records)
}

// Strategy returns the draw strategy.
func (s *Source) Strategy() Strategy {
	return s.strategy
}

// Next draws the next record.
func (s *Source) Next() (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) == 0 {
		return nil, fmt.Errorf("feeder '%s' is empty: %w", s.name, ErrExhausted)
	}

	switch s.strategy {
	case Random:
		return s.records[s.rand.Intn(len(s.records))], nil
	case Circular:
		r := s.records[s.pos%len(s.records)]
		s.pos++
		return r, nil
	case Shuffle, Queue:
		if s.pos >= len(s.records) {
			return nil, fmt.Errorf("feeder '%s' handed out all its %d records: %w", s.name, len(s.records), ErrExhausted)
		}
		idx := s.pos
		if s.order != nil {
			idx = s.order[idx]
		}
		s.pos++
		return s.records[idx], nil
	default:
		return nil, fmt.Errorf("feeder '%s' has an unknown strategy %s", s.name, s.strategy)
	}
}
