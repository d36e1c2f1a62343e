package scenario

import (
	"fmt"
	"time"

	"github.com/liuxd6825/surge/errext"
)

// Scenario is the journey of one virtual user.
type Scenario struct {
	Name  string
	Steps []Step
}

// Validate walks the step tree and returns an *errext.ConfigError listing
// every problem found, or nil.
func (sc Scenario) Validate() error {
	var errors []error
	if sc.Name == "" {
		errors = append(errors, fmt.Errorf("the scenario doesn't have a name"))
	}
	if len(sc.Steps) == 0 {
		errors = append(errors, fmt.Errorf("scenario '%s' has no steps", sc.Name))
	}
	errors = append(errors, validateSteps(fmt.Sprintf("scenario '%s'", sc.Name), sc.Steps)...)
	return errext.NewConfigError("scenario", errors...)
}

func validateSteps(path string, steps []Step) []error {
	var errors []error
	for i, step := range steps {
		stepPath := fmt.Sprintf("%s > step %d", path, i+1)
		if step == nil {
			errors = append(errors, fmt.Errorf("%s: the step is nil", stepPath))
			continue
		}
		errors = append(errors, step.validate(stepPath+" ("+string(step.Kind())+")")...)
	}
	return errors
}

// Walk calls fn for every step of the tree, depth first, in declaration
// order. Returning false stops the descent into the children of a step.
func Walk(steps []Step, fn func(Step) bool) {
	for _, step := range steps {
		if step == nil || !fn(step) {
			continue
		}
		switch s := step.(type) {
		case *Repeat:
			Walk(s.Steps, fn)
		case *Forever:
			Walk(s.Steps, fn)
		case *If:
			Walk(s.Then, fn)
			Walk(s.Else, fn)
		}
	}
}

// Builder assembles a Scenario in the order its methods are called.
type Builder struct {
	sc Scenario
}

// New starts building a scenario.
func New(name string) *Builder {
	return &Builder{sc: Scenario{Name: name}}
}

// Exec appends steps.
func (b *Builder) Exec(steps ...Step) *Builder {
	b.sc.Steps = append(b.sc.Steps, steps...)
	return b
}

// Pause appends a fixed pause.
func (b *Builder) Pause(d time.Duration) *Builder {
	return b.Exec(PauseFor(d))
}

// PauseBetween appends a random pause.
func (b *Builder) PauseBetween(min, max time.Duration) *Builder {
	return b.Exec(PauseBetween(min, max))
}

// Repeat appends a repeat block.
func (b *Builder) Repeat(n int64, counterKey string, steps ...Step) *Builder {
	return b.Exec(RepeatN(n, counterKey, steps...))
}

// Forever appends a loop that only ends with the run.
func (b *Builder) Forever(counterKey string, steps ...Step) *Builder {
	return b.Exec(LoopForever(counterKey, steps...))
}

// Build returns the scenario. The builder must not be used afterwards.
func (b *Builder) Build() Scenario {
	return b.sc
}

// Chain groups steps into a reusable fragment.
func Chain(steps ...Step) []Step {
	return steps
}
