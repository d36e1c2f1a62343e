// Package check contains the response predicates attached to request steps
// and the extraction of response values into the session.
package check

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/liuxd6825/surge/lib/netext/httpext"
	"github.com/liuxd6825/surge/lib/session"
)

// FailureError describes the first failing check of a request step.
type FailureError struct {
	Check  string
	Reason string
}

func (e *FailureError) Error() string {
	return e.Reason
}

// extractor pulls the checked value out of a response.
type extractor func(res *httpext.Response) (value interface{}, found bool, err error)

// predicate decides on an extracted value. A non-empty reason means the check
// failed.
type predicate func(value interface{}, found bool, sess session.Session) (reason string)

// Check is a predicate over a response with an optional extraction target.
// Checks are immutable values, SaveAs returns a modified copy.
type Check struct {
	name    string
	extract extractor
	test    predicate
	saveAs  string
}

// Result is the outcome of evaluating one Check.
type Result struct {
	Check  string
	Passed bool
	Found  bool
	Value  interface{}
	Reason string
	// SaveAs is the session key the value was written to, empty when the
	// check has no extraction or did not pass.
	SaveAs string
}

// Name describes the check, e.g. `status.in(200, 201)`.
func (c Check) Name() string {
	if c.saveAs != "" {
		return c.name + ".saveAs(" + c.saveAs + ")"
	}
	return c.name
}

// SaveAs writes the checked value under key when the check passes.
func (c Check) SaveAs(key string) Check {
	c.saveAs = key
	return c
}

// SaveKey returns the extraction target, if any.
func (c Check) SaveKey() string {
	return c.saveAs
}

// Valid reports whether the check was built through one of the constructors.
func (c Check) Valid() bool {
	return c.extract != nil && c.test != nil
}

// Evaluate runs the check against res. Templates in the expectation are
// resolved against sess.
func (c Check) Evaluate(res *httpext.Response, sess session.Session) Result {
	r := Result{Check: c.Name()}
	if !c.Valid() {
		r.Reason = "check is not initialized"
		return r
	}
	value, found, err := c.extract(res)
	if err != nil {
		r.Reason = fmt.Sprintf("%s failed: %s", c.name, err.Error())
		return r
	}
	r.Value, r.Found = value, found
	if reason := c.test(value, found, sess); reason != "" {
		r.Reason = reason
		return r
	}
	r.Passed = true
	if c.saveAs != "" && found {
		r.SaveAs = c.saveAs
	}
	return r
}

// EvaluateAll evaluates every check in order against the incoming session and
// returns that session with the values of the passing extractions written to
// it. The error is a *FailureError naming the first failing check.
func EvaluateAll(res *httpext.Response, sess session.Session, checks []Check) (session.Session, []Result, error) {
	results := make([]Result, len(checks))
	var failure *FailureError
	extracted := make(map[string]interface{})
	for i, c := range checks {
		r := c.Evaluate(res, sess)
		results[i] = r
		if !r.Passed {
			if failure == nil {
				failure = &FailureError{Check: r.Check, Reason: r.Reason}
			}
			continue
		}
		if r.SaveAs != "" {
			extracted[r.SaveAs] = r.Value
		}
	}
	next := sess.SetAll(extracted)
	if failure != nil {
		return next, results, failure
	}
	return next, results, nil
}

func actually(name string, value interface{}, found bool) string {
	if !found {
		return name + ", but actually found nothing"
	}
	return fmt.Sprintf("%s, but actually found %s", name, session.Stringify(value))
}

func statusExtractor(res *httpext.Response) (interface{}, bool, error) {
	return int64(res.Status), true, nil
}

// StatusIs passes when the response status is code.
func StatusIs(code int) Check {
	name := fmt.Sprintf("status.find.is(%d)", code)
	return Check{
		name:    name,
		extract: statusExtractor,
		test: func(v interface{}, found bool, _ session.Session) string {
			if v.(int64) != int64(code) {
				return actually(name, v, found)
			}
			return ""
		},
	}
}

// StatusIn passes when the response status is one of codes.
func StatusIn(codes ...int) Check {
	strs := make([]string, len(codes))
	for i, c := range codes {
		strs[i] = strconv.Itoa(c)
	}
	name := fmt.Sprintf("status.find.in(%s)", strings.Join(strs, ", "))
	return Check{
		name:    name,
		extract: statusExtractor,
		test: func(v interface{}, found bool, _ session.Session) string {
			for _, c := range codes {
				if v.(int64) == int64(c) {
					return ""
				}
			}
			return actually(name, v, found)
		},
	}
}

// StatusNot passes when the response status is anything but code.
func StatusNot(code int) Check {
	name := fmt.Sprintf("status.find.not(%d)", code)
	return Check{
		name:    name,
		extract: statusExtractor,
		test: func(v interface{}, found bool, _ session.Session) string {
			if v.(int64) == int64(code) {
				return fmt.Sprintf("%s, but actually unexpectedly found %d", name, code)
			}
			return ""
		},
	}
}

func bodyExtractor(res *httpext.Response) (interface{}, bool, error) {
	return res.Text(), true, nil
}

// BodyString always passes and yields the whole body, to be used with SaveAs.
func BodyString() Check {
	return Check{
		name:    "bodyString.find.exists",
		extract: bodyExtractor,
		test:    func(interface{}, bool, session.Session) string { return "" },
	}
}

// BodyIs passes when the body equals expected. Placeholders in expected are
// resolved against the session.
func BodyIs(expected string) Check {
	name := fmt.Sprintf("bodyString.find.is(%s)", expected)
	return Check{
		name:    name,
		extract: bodyExtractor,
		test: func(v interface{}, found bool, sess session.Session) string {
			exp, err := sess.Resolve(expected)
			if err != nil {
				return fmt.Sprintf("%s: %s", name, err.Error())
			}
			if v.(string) != exp {
				return actually(name, v, found)
			}
			return ""
		},
	}
}

func headerExtractor(name string) extractor {
	return func(res *httpext.Response) (interface{}, bool, error) {
		vals := res.Header.Values(name)
		if len(vals) == 0 {
			return nil, false, nil
		}
		return vals[0], true, nil
	}
}

// HeaderExists passes when the response carries the header.
func HeaderExists(header string) Check {
	name := fmt.Sprintf("header(%s).find.exists", http.CanonicalHeaderKey(header))
	return Check{
		name:    name,
		extract: headerExtractor(header),
		test: func(v interface{}, found bool, _ session.Session) string {
			if !found {
				return actually(name, v, found)
			}
			return ""
		},
	}
}

// HeaderIs passes when the first value of the header equals value, which may
// hold placeholders.
func HeaderIs(header, value string) Check {
	name := fmt.Sprintf("header(%s).find.is(%s)", http.CanonicalHeaderKey(header), value)
	return Check{
		name:    name,
		extract: headerExtractor(header),
		test: func(v interface{}, found bool, sess session.Session) string {
			exp, err := sess.Resolve(value)
			if err != nil {
				return fmt.Sprintf("%s: %s", name, err.Error())
			}
			if !found || v.(string) != exp {
				return actually(name, v, found)
			}
			return ""
		},
	}
}

func queryExtractor(q Query) extractor {
	return q.Run
}

// Exists passes when the query matches a non-null value.
func Exists(q Query) Check {
	name := q.String() + ".find.exists"
	return Check{
		name:    name,
		extract: queryExtractor(q),
		test: func(v interface{}, found bool, _ session.Session) string {
			if !found {
				return actually(name, v, found)
			}
			return ""
		},
	}
}

// Find is Exists under the name used for pure extractions.
func Find(q Query) Check {
	c := Exists(q)
	c.name = q.String() + ".find"
	return c
}

// Equals passes when the queried value equals expected. A string expected
// value may hold placeholders resolved against the session.
func Equals(q Query, expected interface{}) Check {
	name := fmt.Sprintf("%s.find.is(%s)", q, session.Stringify(expected))
	return Check{
		name:    name,
		extract: queryExtractor(q),
		test: func(v interface{}, found bool, sess session.Session) string {
			exp := expected
			if s, ok := expected.(string); ok {
				resolved, err := sess.Resolve(s)
				if err != nil {
					return fmt.Sprintf("%s: %s", name, err.Error())
				}
				exp = resolved
			}
			if !found || !valuesEqual(v, exp) {
				return actually(name, v, found)
			}
			return ""
		},
	}
}

// ListEquals passes when the query yields a list equal, in order, to expected.
func ListEquals(q Query, expected []interface{}) Check {
	if expected == nil {
		expected = []interface{}{}
	}
	name := fmt.Sprintf("%s.findAll.is(%s)", q, session.Stringify(expected))
	return Check{
		name:    name,
		extract: queryExtractor(q),
		test: func(v interface{}, _ bool, _ session.Session) string {
			if v == nil {
				v = []interface{}{}
			}
			if !valuesEqual(v, expected) {
				return actually(name, v, true)
			}
			return ""
		},
	}
}

// Satisfies passes when fn accepts the queried value. fn also sees the
// session, which allows comparing against values extracted earlier.
func Satisfies(q Query, desc string, fn func(value interface{}, sess session.Session) bool) Check {
	name := fmt.Sprintf("%s.find.validate(%s)", q, desc)
	return Check{
		name:    name,
		extract: queryExtractor(q),
		test: func(v interface{}, found bool, sess session.Session) string {
			if fn == nil {
				return name + ": no validation function"
			}
			if !found || !fn(v, sess) {
				return actually(name, v, found)
			}
			return ""
		},
	}
}
