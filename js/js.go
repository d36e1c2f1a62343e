// Package js compiles the small JavaScript snippets scenario files use for
// session transforms, conditions and check predicates.
//
// A snippet is compiled once. Every call runs it in a fresh goja.Runtime, so
// the returned functions are safe to share between virtual users.
package js

import (
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/surge/lib/scenario"
	"github.com/liuxd6825/surge/lib/session"
)

// DefaultTimeout interrupts snippets that run away, e.g. an endless loop.
const DefaultTimeout = 5 * time.Second

// Program is a compiled snippet.
type Program struct {
	Name    string
	Timeout time.Duration

	pgm    *goja.Program
	logger logrus.FieldLogger
}

// Compile parses src. logger receives the output of log() calls, nil
// discards it.
func Compile(name, src string, logger logrus.FieldLogger) (*Program, error) {
	pgm, err := goja.Compile(name, src, true)
	if err != nil {
		return nil, fmt.Errorf("couldn't compile %s: %w", name, err)
	}
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	return &Program{Name: name, Timeout: DefaultTimeout, pgm: pgm, logger: logger}, nil
}

// run executes the program in a new runtime with vars (and any extra
// globals) defined. It returns the completion value and the runtime, which
// the caller uses to export values.
func (p *Program) run(vars map[string]interface{}, globals map[string]interface{}) (goja.Value, *goja.Runtime, error) {
	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("js", true))

	if vars == nil {
		vars = map[string]interface{}{}
	}
	// A plain JS object, so scripts can add and delete keys.
	obj := rt.NewObject()
	for k, v := range vars {
		if err := obj.Set(k, deepCopy(v)); err != nil {
			return nil, nil, err
		}
	}
	if err := rt.Set("vars", obj); err != nil {
		return nil, nil, err
	}
	for k, v := range globals {
		if err := rt.Set(k, v); err != nil {
			return nil, nil, err
		}
	}
	if err := rt.Set("log", newConsole(p.logger.WithField("script", p.Name)).log); err != nil {
		return nil, nil, err
	}

	if p.Timeout > 0 {
		timer := time.AfterFunc(p.Timeout, func() {
			rt.Interrupt(fmt.Sprintf("%s ran for longer than %s", p.Name, p.Timeout))
		})
		defer timer.Stop()
	}

	v, err := rt.RunProgram(p.pgm)
	if err != nil {
		return nil, nil, scriptError(p.Name, err)
	}
	return v, rt, nil
}

// deepCopy detaches lists and objects from the session, which scripts may
// modify in place.
func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case []interface{}:
		c := make([]interface{}, len(t))
		for i, e := range t {
			c[i] = deepCopy(e)
		}
		return c
	case map[string]interface{}:
		c := make(map[string]interface{}, len(t))
		for k, e := range t {
			c[k] = deepCopy(e)
		}
		return c
	default:
		return v
	}
}

func scriptError(name string, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("%s was interrupted: %v", name, interrupted.Value())
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return fmt.Errorf("%s: %s", name, exc.Value().String())
	}
	return fmt.Errorf("%s: %w", name, err)
}

// Transform runs the program against a copy of the session values exposed as
// `vars`. What `vars` holds afterwards is the next session.
func (p *Program) Transform(s session.Session) (session.Session, error) {
	_, rt, err := p.run(s.ToMap(), nil)
	if err != nil {
		return s, err
	}
	exported, ok := rt.Get("vars").Export().(map[string]interface{})
	if !ok {
		return s, fmt.Errorf("%s: vars has to remain an object", p.Name)
	}
	return session.New(exported), nil
}

// Bool runs the program and coerces its completion value. value is exposed
// as `value` when non-nil.
func (p *Program) Bool(value interface{}, s session.Session) (bool, error) {
	var globals map[string]interface{}
	if value != nil {
		globals = map[string]interface{}{"value": value}
	}
	v, _, err := p.run(s.ToMap(), globals)
	if err != nil {
		return false, err
	}
	return v != nil && v.ToBoolean(), nil
}

// CompileTransform returns a session transform, e.g.
//
//	vars.counter = (vars.counter || 0) + 1
func CompileTransform(name, src string, logger logrus.FieldLogger) (scenario.TransformFunc, error) {
	p, err := Compile(name, src, logger)
	if err != nil {
		return nil, err
	}
	return p.Transform, nil
}

// CompilePredicate returns a check predicate, e.g. `value > vars.minimum`.
// Script errors make the predicate fail and are logged.
func CompilePredicate(src string, logger logrus.FieldLogger) (func(interface{}, session.Session) bool, error) {
	p, err := Compile("predicate", src, logger)
	if err != nil {
		return nil, err
	}
	return func(value interface{}, s session.Session) bool {
		if value == nil {
			// `value` has to be defined for the script, even when nothing was found.
			value = goja.Null()
		}
		ok, err := p.Bool(value, s)
		if err != nil {
			p.logger.WithError(err).Warn("Predicate failed")
		}
		return ok
	}, nil
}

// CompileCondition returns a condition for conditional blocks, e.g.
// `vars.status === "open"`.
func CompileCondition(src string, logger logrus.FieldLogger) (func(session.Session) bool, error) {
	p, err := Compile("condition", src, logger)
	if err != nil {
		return nil, err
	}
	return func(s session.Session) bool {
		ok, err := p.Bool(nil, s)
		if err != nil {
			p.logger.WithError(err).Warn("Condition failed")
		}
		return ok
	}, nil
}
