// Package session contains the per-virtual-user key/value store that is
// threaded through a scenario, and the `#{key}` templates resolved against it.
package session

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Session is an immutable mapping from string keys to values. Every mutator
// returns a new Session and leaves the receiver untouched, so a Session value
// can be handed to code that runs later without any locking.
//
// Values are normalized on the way in: Go integers become int64, float32
// becomes float64, typed slices become []interface{} and string-keyed maps
// become map[string]interface{}. The zero value is an empty Session.
type Session struct {
	values map[string]interface{}
}

// New returns a Session holding a normalized copy of values.
func New(values map[string]interface{}) Session {
	if len(values) == 0 {
		return Session{}
	}
	m := make(map[string]interface{}, len(values))
	for k, v := range values {
		m[k] = Normalize(v)
	}
	return Session{values: m}
}

// Get returns the value stored under key.
func (s Session) Get(key string) (interface{}, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Has reports whether key is present.
func (s Session) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// GetString returns the stringified value stored under key.
func (s Session) GetString(key string) (string, error) {
	v, ok := s.values[key]
	if !ok {
		return "", &MissingKeyError{Key: key}
	}
	return Stringify(v), nil
}

// GetInt returns the value under key as an integer. Strings holding a
// decimal integer and integral floats are converted.
func (s Session) GetInt(key string) (int64, error) {
	v, ok := s.values[key]
	if !ok {
		return 0, &MissingKeyError{Key: key}
	}
	switch tv := v.(type) {
	case int64:
		return tv, nil
	case float64:
		if tv == math.Trunc(tv) && !math.IsInf(tv, 0) {
			return int64(tv), nil
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(tv), 10, 64); err == nil {
			return i, nil
		}
	}
	return 0, fmt.Errorf("session key '%s' holds %s, not an integer", key, describe(v))
}

// GetFloat returns the value under key as a float.
func (s Session) GetFloat(key string) (float64, error) {
	v, ok := s.values[key]
	if !ok {
		return 0, &MissingKeyError{Key: key}
	}
	switch tv := v.(type) {
	case int64:
		return float64(tv), nil
	case float64:
		return tv, nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(tv), 64); err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("session key '%s' holds %s, not a number", key, describe(v))
}

// GetList returns the value under key as a list.
func (s Session) GetList(key string) ([]interface{}, error) {
	v, ok := s.values[key]
	if !ok {
		return nil, &MissingKeyError{Key: key}
	}
	l, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("session key '%s' holds %s, not a list", key, describe(v))
	}
	return l, nil
}

// Set returns a new Session where key maps to value.
func (s Session) Set(key string, value interface{}) Session {
	m := s.clone(1)
	m[key] = Normalize(value)
	return Session{values: m}
}

// SetAll returns a new Session with every entry of values added or replaced.
func (s Session) SetAll(values map[string]interface{}) Session {
	if len(values) == 0 {
		return s
	}
	m := s.clone(len(values))
	for k, v := range values {
		m[k] = Normalize(v)
	}
	return Session{values: m}
}

// Remove returns a new Session without key.
func (s Session) Remove(key string) Session {
	if !s.Has(key) {
		return s
	}
	m := s.clone(0)
	delete(m, key)
	return Session{values: m}
}

// Len returns the number of keys.
func (s Session) Len() int {
	return len(s.values)
}

// Keys returns the keys in lexical order.
func (s Session) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToMap returns a shallow copy of the stored values.
func (s Session) ToMap() map[string]interface{} {
	return s.clone(0)
}

// Resolve parses tmpl and resolves it against the session.
func (s Session) Resolve(tmpl string) (string, error) {
	t, err := ParseTemplate(tmpl)
	if err != nil {
		return "", err
	}
	return t.Resolve(s)
}

func (s Session) String() string {
	b, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Sprintf("%v", s.values)
	}
	return string(b)
}

func (s Session) clone(extra int) map[string]interface{} {
	m := make(map[string]interface{}, len(s.values)+extra)
	for k, v := range s.values {
		m[k] = v
	}
	return m
}

// Normalize converts v to one of the value shapes a Session stores.
func Normalize(v interface{}) interface{} {
	switch tv := v.(type) {
	case nil, string, bool, int64, float64, []interface{}, map[string]interface{}:
		return v
	case int:
		return int64(tv)
	case int8:
		return int64(tv)
	case int16:
		return int64(tv)
	case int32:
		return int64(tv)
	case uint:
		return uintValue(uint64(tv))
	case uint8:
		return int64(tv)
	case uint16:
		return int64(tv)
	case uint32:
		return int64(tv)
	case uint64:
		return uintValue(tv)
	case float32:
		return float64(tv)
	case json.Number:
		if i, err := tv.Int64(); err == nil {
			return i
		}
		if f, err := tv.Float64(); err == nil {
			return f
		}
		return tv.String()
	case []string:
		l := make([]interface{}, len(tv))
		for i, e := range tv {
			l[i] = e
		}
		return l
	case map[string]string:
		m := make(map[string]interface{}, len(tv))
		for k, e := range tv {
			m[k] = e
		}
		return m
	case fmt.Stringer:
		return tv.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() { //nolint:exhaustive
	case reflect.Slice, reflect.Array:
		l := make([]interface{}, rv.Len())
		for i := range l {
			l[i] = Normalize(rv.Index(i).Interface())
		}
		return l
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = Normalize(iter.Value().Interface())
		}
		return m
	case reflect.String:
		return rv.String()
	}
	return v
}

func uintValue(u uint64) interface{} {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

// Stringify renders a session value the way templates substitute it: strings
// verbatim, numbers in their shortest decimal form, booleans as true/false and
// lists or objects as compact JSON.
func Stringify(v interface{}) string {
	switch tv := Normalize(v).(type) {
	case nil:
		return "null"
	case string:
		return tv
	case bool:
		return strconv.FormatBool(tv)
	case int64:
		return strconv.FormatInt(tv, 10)
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case []interface{}, map[string]interface{}:
		b, err := json.Marshal(tv)
		if err != nil {
			return fmt.Sprintf("%v", tv)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", tv)
	}
}

func describe(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("the string %q", v)
	case []interface{}:
		return "a list"
	case map[string]interface{}:
		return "an object"
	default:
		return fmt.Sprintf("%T %v", v, v)
	}
}
