// Package scenario contains the steps a virtual user executes and the
// builders used to assemble them into a Scenario.
package scenario

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/liuxd6825/surge/lib/check"
	"github.com/liuxd6825/surge/lib/feeder"
	"github.com/liuxd6825/surge/lib/session"
)

// Kind identifies the step variant, it is also the kind of the metric records
// a step produces.
type Kind string

// Step kinds.
const (
	KindRequest   Kind = "request"
	KindPause     Kind = "pause"
	KindRepeat    Kind = "repeat"
	KindForever   Kind = "forever"
	KindTransform Kind = "transform"
	KindFeed      Kind = "feed"
	KindIf        Kind = "if"
)

// Step is one of *Request, *Pause, *Repeat, *Forever, *Transform, *Feed or *If.
type Step interface {
	Kind() Kind
	validate(path string) []error
}

// Header is a request header whose value may hold placeholders.
type Header struct {
	Name  string
	Value session.Template
}

// Request performs one HTTP call and evaluates its checks.
type Request struct {
	Name    session.Template
	Method  string
	URL     session.Template
	Headers []Header

	// BodyTemplate is nil for requests without a body.
	BodyTemplate *session.Template
	Checks       []check.Check
	Timeout      time.Duration

	errs []error
}

// HTTP starts building a request. name may hold placeholders, its resolved
// value names the metric records of the step.
func HTTP(name string) *Request {
	r := &Request{Method: http.MethodGet}
	r.Name = r.parse("name", name)
	return r
}

func (r *Request) parse(what, s string) session.Template {
	t, err := session.ParseTemplate(s)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", what, err))
	}
	return t
}

// Call sets the HTTP method and the URL template.
func (r *Request) Call(method, url string) *Request {
	r.Method = strings.ToUpper(strings.TrimSpace(method))
	r.URL = r.parse("url", url)
	return r
}

// Get is Call(http.MethodGet, url).
func (r *Request) Get(url string) *Request { return r.Call(http.MethodGet, url) }

// Post is Call(http.MethodPost, url).
func (r *Request) Post(url string) *Request { return r.Call(http.MethodPost, url) }

// Put is Call(http.MethodPut, url).
func (r *Request) Put(url string) *Request { return r.Call(http.MethodPut, url) }

// Patch is Call(http.MethodPatch, url).
func (r *Request) Patch(url string) *Request { return r.Call(http.MethodPatch, url) }

// Delete is Call(http.MethodDelete, url).
func (r *Request) Delete(url string) *Request { return r.Call(http.MethodDelete, url) }

// Header adds a header, value may hold placeholders.
func (r *Request) Header(name, value string) *Request {
	r.Headers = append(r.Headers, Header{Name: name, Value: r.parse("header "+name, value)})
	return r
}

// Body sets the body template.
func (r *Request) Body(tmpl string) *Request {
	t := r.parse("body", tmpl)
	r.BodyTemplate = &t
	return r
}

// BodyFile reads the body template from a file.
func (r *Request) BodyFile(fs afero.Fs, path string) *Request {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("body file: %w", err))
		return r
	}
	return r.Body(string(data))
}

// Check appends response checks.
func (r *Request) Check(checks ...check.Check) *Request {
	r.Checks = append(r.Checks, checks...)
	return r
}

// WithTimeout overrides the client timeout for this step.
func (r *Request) WithTimeout(d time.Duration) *Request {
	r.Timeout = d
	return r
}

// Kind implements Step.
func (r *Request) Kind() Kind { return KindRequest }

func (r *Request) validate(path string) []error {
	var errors []error
	for _, err := range r.errs {
		errors = append(errors, fmt.Errorf("%s: %w", path, err))
	}
	if strings.TrimSpace(r.Name.String()) == "" {
		errors = append(errors, fmt.Errorf("%s: the request doesn't have a name", path))
	}
	if !validMethod(r.Method) {
		errors = append(errors, fmt.Errorf("%s: invalid http method '%s'", path, r.Method))
	}
	if r.URL.String() == "" {
		errors = append(errors, fmt.Errorf("%s: the request doesn't have a url", path))
	}
	if r.Timeout < 0 {
		errors = append(errors, fmt.Errorf("%s: the timeout shouldn't be negative", path))
	}
	for i, c := range r.Checks {
		if !c.Valid() {
			errors = append(errors, fmt.Errorf("%s: check %d is not initialized", path, i+1))
		}
	}
	return errors
}

func validMethod(m string) bool {
	if m == "" {
		return false
	}
	for _, c := range m {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// Pause suspends the virtual user for a duration drawn uniformly from
// [Min, Max]. Max equal to Min is a fixed pause.
type Pause struct {
	Label string
	Min   time.Duration
	Max   time.Duration
}

// PauseFor is a fixed pause.
func PauseFor(d time.Duration) *Pause {
	return &Pause{Label: "pause", Min: d, Max: d}
}

// PauseBetween is a uniformly random pause.
func PauseBetween(min, max time.Duration) *Pause {
	return &Pause{Label: "pause", Min: min, Max: max}
}

// Named sets the metric name of the pause.
func (p *Pause) Named(label string) *Pause {
	p.Label = label
	return p
}

// Kind implements Step.
func (p *Pause) Kind() Kind { return KindPause }

func (p *Pause) validate(path string) []error {
	var errors []error
	if p.Min < 0 {
		errors = append(errors, fmt.Errorf("%s: the pause duration shouldn't be negative", path))
	}
	if p.Max < p.Min {
		errors = append(errors, fmt.Errorf("%s: the maximum pause %s is lower than the minimum %s", path, p.Max, p.Min))
	}
	if p.Label == "" {
		errors = append(errors, fmt.Errorf("%s: the pause doesn't have a name", path))
	}
	return errors
}

// Repeat runs Steps Times times, or as many times as the integer stored under
// TimesKey. When CounterKey is set the 0-based iteration index is visible
// under it while the body runs, and removed afterwards.
type Repeat struct {
	Times      int64
	TimesKey   string
	CounterKey string
	Steps      []Step
}

// RepeatN repeats steps n times.
func RepeatN(n int64, counterKey string, steps ...Step) *Repeat {
	return &Repeat{Times: n, CounterKey: counterKey, Steps: steps}
}

// RepeatFrom repeats steps as many times as the session value under key.
func RepeatFrom(key, counterKey string, steps ...Step) *Repeat {
	return &Repeat{TimesKey: key, CounterKey: counterKey, Steps: steps}
}

// Kind implements Step.
func (r *Repeat) Kind() Kind { return KindRepeat }

func (r *Repeat) validate(path string) []error {
	var errors []error
	if r.TimesKey == "" && r.Times < 0 {
		errors = append(errors, fmt.Errorf("%s: the repeat count shouldn't be negative", path))
	}
	if len(r.Steps) == 0 {
		errors = append(errors, fmt.Errorf("%s: the repeat block has no steps", path))
	}
	return append(errors, validateSteps(path, r.Steps)...)
}

// Forever runs Steps until the virtual user is cancelled.
type Forever struct {
	CounterKey string
	Steps      []Step
}

// LoopForever loops over steps until the run stops.
func LoopForever(counterKey string, steps ...Step) *Forever {
	return &Forever{CounterKey: counterKey, Steps: steps}
}

// Kind implements Step.
func (f *Forever) Kind() Kind { return KindForever }

func (f *Forever) validate(path string) []error {
	var errors []error
	if len(f.Steps) == 0 {
		errors = append(errors, fmt.Errorf("%s: the forever block has no steps", path))
	}
	return append(errors, validateSteps(path, f.Steps)...)
}

// TransformFunc computes the next session. It must not keep references to
// mutable state shared with other virtual users.
type TransformFunc func(session.Session) (session.Session, error)

// Transform applies Fn to the session.
type Transform struct {
	Name string
	Fn   TransformFunc
}

// Exec is a session transform.
func Exec(name string, fn TransformFunc) *Transform {
	return &Transform{Name: name, Fn: fn}
}

// Log is a transform run for its side effect only, the session is kept as is.
func Log(name string, fn func(session.Session)) *Transform {
	var tf TransformFunc
	if fn != nil {
		tf = func(s session.Session) (session.Session, error) {
			fn(s)
			return s, nil
		}
	}
	return &Transform{Name: name, Fn: tf}
}

// Kind implements Step.
func (t *Transform) Kind() Kind { return KindTransform }

func (t *Transform) validate(path string) []error {
	var errors []error
	if t.Name == "" {
		errors = append(errors, fmt.Errorf("%s: the transform doesn't have a name", path))
	}
	if t.Fn == nil {
		errors = append(errors, fmt.Errorf("%s: the transform doesn't have a function", path))
	}
	return errors
}

// Feed draws a record from Feeder and merges it into the session.
type Feed struct {
	Name   string
	Feeder feeder.Feeder
}

// FeedFrom feeds from f. The step is recorded as "feed <name>".
func FeedFrom(name string, f feeder.Feeder) *Feed {
	return &Feed{Name: name, Feeder: f}
}

// Kind implements Step.
func (f *Feed) Kind() Kind { return KindFeed }

func (f *Feed) validate(path string) []error {
	if f.Feeder == nil {
		return []error{fmt.Errorf("%s: feed step '%s' has no feeder", path, f.Name)}
	}
	return nil
}

// If runs Then when Condition holds and Else otherwise.
type If struct {
	Description string
	Condition   func(session.Session) bool
	Then        []Step
	Else        []Step
}

// DoIf runs steps only when cond holds.
func DoIf(desc string, cond func(session.Session) bool, steps ...Step) *If {
	return &If{Description: desc, Condition: cond, Then: steps}
}

// DoIfOrElse picks one of two branches.
func DoIfOrElse(desc string, cond func(session.Session) bool, then, otherwise []Step) *If {
	return &If{Description: desc, Condition: cond, Then: then, Else: otherwise}
}

// DoIfEquals runs steps when the session value under key stringifies to value.
func DoIfEquals(key, value string, steps ...Step) *If {
	return DoIf(fmt.Sprintf("#{%s} == %s", key, value), func(s session.Session) bool {
		v, err := s.GetString(key)
		return err == nil && v == value
	}, steps...)
}

// Kind implements Step.
func (i *If) Kind() Kind { return KindIf }

func (i *If) validate(path string) []error {
	var errors []error
	if i.Condition == nil {
		errors = append(errors, fmt.Errorf("%s: the conditional block has no condition", path))
	}
	errors = append(errors, validateSteps(path+" > then", i.Then)...)
	return append(errors, validateSteps(path+" > else", i.Else)...)
}
