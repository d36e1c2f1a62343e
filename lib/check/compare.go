package check

import (
	"github.com/liuxd6825/surge/lib/session"
)

// valuesEqual compares a queried value with an expectation. Numbers compare
// numerically whatever their Go type, and a string expectation matches the
// stringified form of a non-string value.
func valuesEqual(actual, expected interface{}) bool {
	actual, expected = session.Normalize(actual), session.Normalize(expected)

	if ai, ok := actual.(int64); ok {
		if ei, ok := expected.(int64); ok {
			return ai == ei
		}
	}
	if af, ok := toFloat(actual); ok {
		if ef, ok := toFloat(expected); ok {
			return af == ef
		}
	}
	if es, ok := expected.(string); ok {
		if as, ok := actual.(string); ok {
			return as == es
		}
		return session.Stringify(actual) == es
	}

	switch ev := expected.(type) {
	case []interface{}:
		al, ok := actual.([]interface{})
		if !ok || len(al) != len(ev) {
			return false
		}
		for i := range ev {
			if !valuesEqual(al[i], ev[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		am, ok := actual.(map[string]interface{})
		if !ok || len(am) != len(ev) {
			return false
		}
		for k, v := range ev {
			av, ok := am[k]
			if !ok || !valuesEqual(av, v) {
				return false
			}
		}
		return true
	}
	return actual == expected
}

func toFloat(v interface{}) (float64, bool) {
	switch tv := v.(type) {
	case int64:
		return float64(tv), true
	case float64:
		return tv, true
	}
	return 0, false
}
