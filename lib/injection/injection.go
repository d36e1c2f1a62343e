// Package injection describes when virtual users are started. A Profile is an
// ordered list of phases, each phase starting its users relative to the end
// of the previous one.
package injection

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/liuxd6825/surge/errext"
)

// Kind is the type of an injection phase.
type Kind int

// Phase kinds.
const (
	AtOnce Kind = iota + 1
	ConstantRate
	RampRate
	Nothing
	RampUsersOver
)

// Phase is one step of an injection profile. Which fields are meaningful
// depends on Kind.
type Phase struct {
	Kind     Kind
	Users    int64
	From     float64
	To       float64
	Duration time.Duration
}

// AtOnceUsers starts n users at the beginning of the phase.
func AtOnceUsers(n int64) Phase {
	return Phase{Kind: AtOnce, Users: n}
}

// ConstantUsersPerSec starts floor(rate*d) users evenly spaced over d.
func ConstantUsersPerSec(rate float64, d time.Duration) Phase {
	return Phase{Kind: ConstantRate, From: rate, To: rate, Duration: d}
}

// RampUsersPerSec starts users at a rate changing linearly from `from` to
// `to` users per second over d.
func RampUsersPerSec(from, to float64, d time.Duration) Phase {
	return Phase{Kind: RampRate, From: from, To: to, Duration: d}
}

// NothingFor starts nobody and delays the following phases by d.
func NothingFor(d time.Duration) Phase {
	return Phase{Kind: Nothing, Duration: d}
}

// RampUsers starts n users evenly spread over d.
func RampUsers(n int64, d time.Duration) Phase {
	return Phase{Kind: RampUsersOver, Users: n, Duration: d}
}

// Count returns how many users the phase starts.
func (p Phase) Count() int64 {
	secs := p.Duration.Seconds()
	switch p.Kind {
	case AtOnce, RampUsersOver:
		return p.Users
	case ConstantRate:
		return int64(math.Floor(p.From*secs + 1e-9))
	case RampRate:
		return int64(math.Round(secs * (p.From + p.To) / 2))
	default:
		return 0
	}
}

// Length returns how long the phase lasts.
func (p Phase) Length() time.Duration {
	if p.Kind == AtOnce {
		return 0
	}
	return p.Duration
}

// offset returns the start of user i (0-based) relative to the phase start.
func (p Phase) offset(i int64) time.Duration {
	switch p.Kind {
	case ConstantRate:
		return secondsToDuration(float64(i) / p.From)
	case RampRate:
		// solve from*t + (to-from)*t²/(2d) = i, in the form that doesn't
		// lose precision when from and to are close
		d := p.Duration.Seconds()
		fi := float64(i)
		disc := p.From*p.From + 2*fi*(p.To-p.From)/d
		if disc < 0 {
			disc = 0
		}
		den := p.From + math.Sqrt(disc)
		if den <= 0 {
			return 0
		}
		return secondsToDuration(2 * fi / den)
	case RampUsersOver:
		return time.Duration(float64(p.Duration) * float64(i) / float64(p.Users))
	default:
		return 0
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func formatRate(r float64) string {
	return strconv.FormatFloat(r, 'f', -1, 64)
}

func (p Phase) String() string {
	switch p.Kind {
	case AtOnce:
		return fmt.Sprintf("atOnceUsers(%d)", p.Users)
	case ConstantRate:
		return fmt.Sprintf("constantUsersPerSec(%s) during %s", formatRate(p.From), p.Duration)
	case RampRate:
		return fmt.Sprintf("rampUsersPerSec(%s to %s) during %s", formatRate(p.From), formatRate(p.To), p.Duration)
	case Nothing:
		return fmt.Sprintf("nothingFor(%s)", p.Duration)
	case RampUsersOver:
		return fmt.Sprintf("rampUsers(%d) during %s", p.Users, p.Duration)
	default:
		return fmt.Sprintf("unknown phase kind %d", p.Kind)
	}
}

func (p Phase) validate(num int) []error {
	var errors []error
	if p.Duration < 0 {
		errors = append(errors, fmt.Errorf("the duration for phase %d shouldn't be negative", num))
	}
	switch p.Kind {
	case AtOnce, RampUsersOver:
		if p.Users < 0 {
			errors = append(errors, fmt.Errorf("the number of users for phase %d shouldn't be negative", num))
		}
		if p.Kind == RampUsersOver && p.Users > 0 && p.Duration == 0 {
			errors = append(errors, fmt.Errorf("phase %d has to ramp its users over a positive duration", num))
		}
	case ConstantRate, RampRate:
		if p.From < 0 || p.To < 0 {
			errors = append(errors, fmt.Errorf("the rate for phase %d shouldn't be negative", num))
		}
		if math.IsNaN(p.From) || math.IsInf(p.From, 0) || math.IsNaN(p.To) || math.IsInf(p.To, 0) {
			errors = append(errors, fmt.Errorf("the rate for phase %d has to be a finite number", num))
		}
	case Nothing:
	default:
		errors = append(errors, fmt.Errorf("phase %d has an unknown kind %d", num, p.Kind))
	}
	return errors
}

// Profile is an ordered list of phases executed strictly in sequence.
type Profile struct {
	Phases []Phase
}

// NewProfile returns a profile made of phases.
func NewProfile(phases ...Phase) Profile {
	return Profile{Phases: phases}
}

// Validate returns an *errext.ConfigError listing every problem with the
// profile, or nil.
func (p Profile) Validate() error {
	var errors []error
	if len(p.Phases) == 0 {
		errors = append(errors, fmt.Errorf("at least one injection phase has to be specified"))
	}
	for i, phase := range p.Phases {
		errors = append(errors, phase.validate(i+1)...)
	}
	return errext.NewConfigError("injection profile", errors...)
}

// Duration returns the sum of the phase lengths.
func (p Profile) Duration() (result time.Duration) {
	for _, phase := range p.Phases {
		result += phase.Length()
	}
	return result
}

// TotalUsers returns how many users the profile starts.
func (p Profile) TotalUsers() (result int64) {
	for _, phase := range p.Phases {
		result += phase.Count()
	}
	return result
}

// Describe returns a single-line summary of the phases.
func (p Profile) Describe() string {
	parts := make([]string, len(p.Phases))
	for i, phase := range p.Phases {
		parts[i] = phase.String()
	}
	return strings.Join(parts, ", ")
}

// Schedule returns a lazy iterator over the start offsets.
func (p Profile) Schedule() *Schedule {
	return &Schedule{phases: p.Phases}
}

// Offsets returns every start offset. Only meant for small profiles.
func (p Profile) Offsets() []time.Duration {
	offsets := make([]time.Duration, 0, p.TotalUsers())
	s := p.Schedule()
	for {
		off, ok := s.Next()
		if !ok {
			return offsets
		}
		offsets = append(offsets, off)
	}
}

// Stream sends every start offset on ch, in order, and closes ch when the
// profile is exhausted or ctx is done.
func (p Profile) Stream(ctx context.Context, ch chan<- time.Duration) {
	defer close(ch)
	s := p.Schedule()
	for {
		off, ok := s.Next()
		if !ok {
			return
		}
		select {
		case ch <- off:
		case <-ctx.Done():
			return
		}
	}
}

// Schedule iterates over the start offsets of a profile. Offsets are
// relative to the start of the run and never decrease.
type Schedule struct {
	phases []Phase
	phase  int
	i      int64
	count  int64
	base   time.Duration
	last   time.Duration
	inited bool
}

// Next returns the next offset, or false once every user was scheduled.
func (s *Schedule) Next() (time.Duration, bool) {
	for s.phase < len(s.phases) {
		p := s.phases[s.phase]
		if !s.inited {
			s.count, s.i, s.inited = p.Count(), 0, true
		}
		if s.i < s.count {
			local := p.offset(s.i)
			if length := p.Length(); length > 0 && local >= length {
				local = length - 1
			}
			off := s.base + local
			if off < s.last {
				off = s.last
			}
			s.i++
			s.last = off
			return off, true
		}
		s.base += p.Length()
		s.phase++
		s.inited = false
	}
	return 0, false
}
