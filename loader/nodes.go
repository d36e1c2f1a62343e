package loader

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"

	"github.com/liuxd6825/surge/js"
	"github.com/liuxd6825/surge/lib/check"
	"github.com/liuxd6825/surge/lib/feeder"
	"github.com/liuxd6825/surge/lib/injection"
	"github.com/liuxd6825/surge/lib/scenario"
	"github.com/liuxd6825/surge/lib/session"
	"github.com/liuxd6825/surge/lib/types"
)

type fileNode struct {
	Name                  string                `yaml:"name"`
	BaseURL               string                `yaml:"baseUrl"`
	Headers               map[string]string     `yaml:"headers"`
	UserAgent             string                `yaml:"userAgent"`
	InsecureSkipTLSVerify bool                  `yaml:"insecureSkipTLSVerify"`
	MaxIdleConnsPerHost   int                   `yaml:"maxIdleConnsPerHost"`
	NoConnectionReuse     bool                  `yaml:"noConnectionReuse"`
	Options               optionsNode           `yaml:"options"`
	Feeders               map[string]feederNode `yaml:"feeders"`
	Injection             []phaseNode           `yaml:"injection"`
	Steps                 []stepNode            `yaml:"steps"`
}

// null.v3 types only know JSON and text, pointers mark what was set.
type optionsNode struct {
	MaxVUs      *int64             `yaml:"maxVUs"`
	MaxDuration types.NullDuration `yaml:"maxDuration"`
	Timeout     types.NullDuration `yaml:"timeout"`
	RPS         *float64           `yaml:"rps"`
	Seed        *int64             `yaml:"seed"`
	FailOnError *bool              `yaml:"failOnError"`
}

func (o optionsNode) toFileOptions() FileOptions {
	return FileOptions{
		MaxVUs:      null.IntFromPtr(o.MaxVUs),
		MaxDuration: o.MaxDuration,
		Timeout:     o.Timeout,
		RPS:         null.FloatFromPtr(o.RPS),
		Seed:        null.IntFromPtr(o.Seed),
		FailOnError: null.BoolFromPtr(o.FailOnError),
	}
}

type feederNode struct {
	File      string          `yaml:"file"`
	Format    string          `yaml:"format"`
	Separator string          `yaml:"separator"`
	Strategy  string          `yaml:"strategy"`
	Records   []feeder.Record `yaml:"records"`
}

type rateNode struct {
	Rate   float64        `yaml:"rate"`
	From   float64        `yaml:"from"`
	To     float64        `yaml:"to"`
	Users  int64          `yaml:"users"`
	During types.Duration `yaml:"during"`
}

type phaseNode struct {
	AtOnceUsers         *int64          `yaml:"atOnceUsers"`
	NothingFor          *types.Duration `yaml:"nothingFor"`
	ConstantUsersPerSec *rateNode       `yaml:"constantUsersPerSec"`
	RampUsersPerSec     *rateNode       `yaml:"rampUsersPerSec"`
	RampUsers           *rateNode       `yaml:"rampUsers"`
}

func (p phaseNode) toPhase() (injection.Phase, error) {
	var phases []injection.Phase
	if p.AtOnceUsers != nil {
		phases = append(phases, injection.AtOnceUsers(*p.AtOnceUsers))
	}
	if p.NothingFor != nil {
		phases = append(phases, injection.NothingFor(p.NothingFor.TimeDuration()))
	}
	if r := p.ConstantUsersPerSec; r != nil {
		phases = append(phases, injection.ConstantUsersPerSec(r.Rate, r.During.TimeDuration()))
	}
	if r := p.RampUsersPerSec; r != nil {
		phases = append(phases, injection.RampUsersPerSec(r.From, r.To, r.During.TimeDuration()))
	}
	if r := p.RampUsers; r != nil {
		phases = append(phases, injection.RampUsers(r.Users, r.During.TimeDuration()))
	}
	if len(phases) != 1 {
		return injection.Phase{}, errors.New("exactly one of atOnceUsers, nothingFor, " +
			"constantUsersPerSec, rampUsersPerSec or rampUsers has to be set")
	}
	return phases[0], nil
}

type stepNode struct {
	Request *requestNode `yaml:"request"`
	Pause   *pauseNode   `yaml:"pause"`
	Repeat  *repeatNode  `yaml:"repeat"`
	Forever *foreverNode `yaml:"forever"`
	Exec    *execNode    `yaml:"exec"`
	Feed    string       `yaml:"feed"`
	If      *ifNode      `yaml:"if"`
}

type requestNode struct {
	Name     string            `yaml:"name"`
	Method   string            `yaml:"method"`
	URL      string            `yaml:"url"`
	Headers  map[string]string `yaml:"headers"`
	Body     *string           `yaml:"body"`
	BodyFile string            `yaml:"bodyFile"`
	Timeout  types.Duration    `yaml:"timeout"`
	Checks   []checkNode       `yaml:"checks"`
}

// pauseNode is either a duration or {min, max, name}.
type pauseNode struct {
	Min  types.Duration `yaml:"min"`
	Max  types.Duration `yaml:"max"`
	Name string         `yaml:"name"`
}

func (p *pauseNode) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var d types.Duration
		if err := node.Decode(&d); err != nil {
			return err
		}
		p.Min, p.Max = d, d
		return nil
	}
	type plain pauseNode
	return node.Decode((*plain)(p))
}

type repeatNode struct {
	Times    int64      `yaml:"times"`
	TimesKey string     `yaml:"timesKey"`
	Counter  string     `yaml:"counter"`
	Steps    []stepNode `yaml:"steps"`
}

type foreverNode struct {
	Counter string     `yaml:"counter"`
	Steps   []stepNode `yaml:"steps"`
}

type execNode struct {
	Name   string `yaml:"name"`
	Script string `yaml:"script"`
}

type equalsNode struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

type ifNode struct {
	Condition string      `yaml:"condition"`
	Equals    *equalsNode `yaml:"equals"`
	Then      []stepNode  `yaml:"then"`
	Else      []stepNode  `yaml:"else"`
}

type checkNode struct {
	Status     *int    `yaml:"status"`
	StatusIn   []int   `yaml:"statusIn"`
	StatusNot  *int    `yaml:"statusNot"`
	Body       *string `yaml:"body"`
	BodyString bool    `yaml:"bodyString"`
	Header     string  `yaml:"header"`
	GJSON      string  `yaml:"gjson"`
	JMESPath   string  `yaml:"jmespath"`

	// Expectations for header and query checks.
	Is         interface{}   `yaml:"is"`
	ListEquals []interface{} `yaml:"listEquals"`
	Validate   string        `yaml:"validate"`

	SaveAs string `yaml:"saveAs"`
}

func (b *builder) steps(path string, nodes []stepNode) []scenario.Step {
	steps := make([]scenario.Step, 0, len(nodes))
	for i, n := range nodes {
		stepPath := fmt.Sprintf("%s[%d]", path, i)
		if s := b.step(stepPath, n); s != nil {
			steps = append(steps, s)
		}
	}
	return steps
}

func (b *builder) step(path string, n stepNode) scenario.Step {
	set := 0
	for _, ok := range []bool{
		n.Request != nil, n.Pause != nil, n.Repeat != nil, n.Forever != nil,
		n.Exec != nil, n.Feed != "", n.If != nil,
	} {
		if ok {
			set++
		}
	}
	if set != 1 {
		b.errorf("%s: a step has to be exactly one of request, pause, repeat, forever, exec, feed or if", path)
		return nil
	}

	switch {
	case n.Request != nil:
		return b.request(path, *n.Request)
	case n.Pause != nil:
		p := scenario.PauseBetween(n.Pause.Min.TimeDuration(), n.Pause.Max.TimeDuration())
		if n.Pause.Name != "" {
			p.Named(n.Pause.Name)
		}
		return p
	case n.Repeat != nil:
		r := n.Repeat
		steps := b.steps(path+".repeat.steps", r.Steps)
		if r.TimesKey != "" {
			return scenario.RepeatFrom(r.TimesKey, r.Counter, steps...)
		}
		return scenario.RepeatN(r.Times, r.Counter, steps...)
	case n.Forever != nil:
		return scenario.LoopForever(n.Forever.Counter, b.steps(path+".forever.steps", n.Forever.Steps)...)
	case n.Exec != nil:
		fn, err := js.CompileTransform(n.Exec.Name, n.Exec.Script, b.logger)
		if err != nil {
			b.errorf("%s: %w", path, err)
		}
		return scenario.Exec(n.Exec.Name, fn)
	case n.Feed != "":
		f, ok := b.feeders[n.Feed]
		if !ok {
			b.errorf("%s: there is no feeder named '%s'", path, n.Feed)
			return nil
		}
		return scenario.FeedFrom(n.Feed, f)
	default:
		return b.conditional(path, *n.If)
	}
}

func (b *builder) conditional(path string, n ifNode) scenario.Step {
	then := b.steps(path+".if.then", n.Then)
	otherwise := b.steps(path+".if.else", n.Else)
	switch {
	case n.Equals != nil && n.Condition == "":
		eq := scenario.DoIfEquals(n.Equals.Key, n.Equals.Value, then...)
		eq.Else = otherwise
		return eq
	case n.Condition != "" && n.Equals == nil:
		cond, err := js.CompileCondition(n.Condition, b.logger)
		if err != nil {
			b.errorf("%s: %w", path, err)
		}
		return scenario.DoIfOrElse(n.Condition, cond, then, otherwise)
	default:
		b.errorf("%s: a conditional block needs either a condition or an equals clause", path)
		return nil
	}
}

func (b *builder) request(path string, n requestNode) scenario.Step {
	method := n.Method
	if method == "" {
		method = "GET"
	}
	r := scenario.HTTP(n.Name).Call(method, n.URL)
	for _, name := range sortedKeys(n.Headers) {
		r.Header(name, n.Headers[name])
	}
	switch {
	case n.Body != nil && n.BodyFile != "":
		b.errorf("%s: a request can't have both body and bodyFile", path)
	case n.Body != nil:
		r.Body(*n.Body)
	case n.BodyFile != "":
		r.BodyFile(b.fs, b.resolve(n.BodyFile))
	}
	if n.Timeout > 0 {
		r.WithTimeout(n.Timeout.TimeDuration())
	}
	for i, cn := range n.Checks {
		c, err := b.check(cn)
		if err != nil {
			b.errorf("%s.checks[%d]: %w", path, i, err)
			continue
		}
		r.Check(c)
	}
	return r
}

func (b *builder) check(n checkNode) (check.Check, error) {
	c, err := b.baseCheck(n)
	if err != nil {
		return c, err
	}
	if n.SaveAs != "" {
		c = c.SaveAs(n.SaveAs)
	}
	return c, nil
}

func (b *builder) baseCheck(n checkNode) (check.Check, error) {
	switch {
	case n.Status != nil:
		return check.StatusIs(*n.Status), nil
	case len(n.StatusIn) > 0:
		return check.StatusIn(n.StatusIn...), nil
	case n.StatusNot != nil:
		return check.StatusNot(*n.StatusNot), nil
	case n.Body != nil:
		return check.BodyIs(*n.Body), nil
	case n.BodyString:
		return check.BodyString(), nil
	case n.Header != "":
		if n.Is == nil {
			return check.HeaderExists(n.Header), nil
		}
		return check.HeaderIs(n.Header, session.Stringify(n.Is)), nil
	case n.GJSON != "" && n.JMESPath != "":
		return check.Check{}, errors.New("a check can't have both gjson and jmespath queries")
	case n.GJSON != "":
		return b.queryCheck(check.GJSON, n.GJSON, n)
	case n.JMESPath != "":
		return b.queryCheck(check.JMESPath, n.JMESPath, n)
	default:
		return check.Check{}, errors.New("unknown check, expected one of status, statusIn, statusNot, " +
			"body, bodyString, header, gjson or jmespath")
	}
}

func (b *builder) queryCheck(lang check.Lang, expr string, n checkNode) (check.Check, error) {
	q, err := check.NewQuery(lang, expr)
	if err != nil {
		return check.Check{}, err
	}
	switch {
	case n.Is != nil:
		return check.Equals(q, n.Is), nil
	case n.ListEquals != nil:
		return check.ListEquals(q, n.ListEquals), nil
	case n.Validate != "":
		fn, err := js.CompilePredicate(n.Validate, b.logger)
		if err != nil {
			return check.Check{}, err
		}
		return check.Satisfies(q, strings.TrimSpace(n.Validate), fn), nil
	default:
		return check.Find(q), nil
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
