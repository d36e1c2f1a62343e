package check

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmespath/go-jmespath"
	"github.com/tidwall/gjson"

	"github.com/liuxd6825/surge/lib/netext/httpext"
)

// Lang is a structured query language evaluated against a response body.
type Lang int

// Supported query languages.
const (
	// GJSON paths run against the raw body, see github.com/tidwall/gjson.
	GJSON Lang = iota + 1
	// JMESPath expressions run against the parsed body.
	JMESPath
)

func (l Lang) String() string {
	switch l {
	case GJSON:
		return "gjson"
	case JMESPath:
		return "jmesPath"
	default:
		return fmt.Sprintf("Lang(%d)", int(l))
	}
}

// ParseLang accepts the names used in scenario files.
func ParseLang(s string) (Lang, error) {
	switch strings.ToLower(s) {
	case "gjson", "jsonpath":
		return GJSON, nil
	case "jmespath":
		return JMESPath, nil
	default:
		return 0, fmt.Errorf("unknown query language '%s'", s)
	}
}

// Query is a compiled structured query.
type Query struct {
	Lang Lang
	Expr string

	jmes *jmespath.JMESPath
}

// NewQuery compiles expr.
func NewQuery(lang Lang, expr string) (Query, error) {
	q := Query{Lang: lang, Expr: expr}
	switch lang {
	case GJSON:
		if strings.TrimSpace(expr) == "" {
			return Query{}, fmt.Errorf("empty gjson path")
		}
	case JMESPath:
		compiled, err := jmespath.Compile(expr)
		if err != nil {
			return Query{}, fmt.Errorf("invalid jmesPath expression '%s': %w", expr, err)
		}
		q.jmes = compiled
	default:
		return Query{}, fmt.Errorf("unsupported query language %s", lang)
	}
	return q, nil
}

// MustGJSON compiles a gjson path and panics on error.
func MustGJSON(expr string) Query {
	return mustQuery(GJSON, expr)
}

// MustJMESPath compiles a JMESPath expression and panics on error.
func MustJMESPath(expr string) Query {
	return mustQuery(JMESPath, expr)
}

func mustQuery(lang Lang, expr string) Query {
	q, err := NewQuery(lang, expr)
	if err != nil {
		panic(err)
	}
	return q
}

func (q Query) String() string {
	return fmt.Sprintf("%s(%q)", q.Lang, q.Expr)
}

// Run evaluates the query. found is false when the query matched nothing,
// matched null or matched an empty list.
func (q Query) Run(res *httpext.Response) (value interface{}, found bool, err error) {
	switch q.Lang {
	case GJSON:
		result, ok := res.Select(q.Expr)
		if !ok {
			return nil, false, nil
		}
		switch result.Type { //nolint:exhaustive
		case gjson.Number:
			value = httpext.Number(json.Number(result.Raw))
		case gjson.JSON:
			if value, err = httpext.DecodeJSON([]byte(result.Raw)); err != nil {
				return nil, false, err
			}
		default:
			value = result.Value()
		}
	case JMESPath:
		if q.jmes == nil {
			return nil, false, fmt.Errorf("query %s was not compiled", q)
		}
		data, err := res.JSON()
		if err != nil {
			return nil, false, err
		}
		value, err = q.jmes.Search(data)
		if err != nil {
			return nil, false, err
		}
	default:
		return nil, false, fmt.Errorf("unsupported query language %s", q.Lang)
	}
	return value, !isAbsent(value), nil
}

func isAbsent(v interface{}) bool {
	switch tv := v.(type) {
	case nil:
		return true
	case []interface{}:
		return len(tv) == 0
	}
	return false
}
