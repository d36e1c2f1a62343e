package session

import (
	"fmt"
	"strings"
)

// MissingKeyError is returned when a template references a key that is not
// present in the session it is resolved against.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("no attribute named '%s' is defined", e.Key)
}

type segment struct {
	literal string
	key     string
}

// Template is a pre-parsed string with `#{key}` placeholders. A backslash
// before the hash (`\#{`) produces a literal `#{`.
type Template struct {
	raw      string
	segments []segment
}

// ParseTemplate parses s. It fails on an unterminated placeholder or on one
// with an empty key.
func ParseTemplate(s string) (Template, error) {
	t := Template{raw: s}
	var lit strings.Builder
	for i := 0; i < len(s); {
		switch {
		case strings.HasPrefix(s[i:], `\#{`):
			lit.WriteString("#{")
			i += 3
		case strings.HasPrefix(s[i:], "#{"):
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				return Template{}, fmt.Errorf("unterminated placeholder at position %d in %q", i, s)
			}
			key := strings.TrimSpace(s[i+2 : i+2+end])
			if key == "" {
				return Template{}, fmt.Errorf("empty placeholder at position %d in %q", i, s)
			}
			if lit.Len() > 0 {
				t.segments = append(t.segments, segment{literal: lit.String()})
				lit.Reset()
			}
			t.segments = append(t.segments, segment{key: key})
			i += end + 3
		default:
			lit.WriteByte(s[i])
			i++
		}
	}
	if lit.Len() > 0 {
		t.segments = append(t.segments, segment{literal: lit.String()})
	}
	return t, nil
}

// MustParseTemplate is like ParseTemplate but panics on error. It is meant for
// templates that are constants in Go code.
func MustParseTemplate(s string) Template {
	t, err := ParseTemplate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Resolve substitutes every placeholder with the stringified session value.
func (t Template) Resolve(s Session) (string, error) {
	if t.IsStatic() {
		return t.literal(), nil
	}
	var b strings.Builder
	for _, seg := range t.segments {
		if seg.key == "" {
			b.WriteString(seg.literal)
			continue
		}
		v, ok := s.Get(seg.key)
		if !ok {
			return "", &MissingKeyError{Key: seg.key}
		}
		b.WriteString(Stringify(v))
	}
	return b.String(), nil
}

// Keys returns the referenced keys in order of appearance, without duplicates.
func (t Template) Keys() []string {
	var keys []string
	seen := make(map[string]struct{})
	for _, seg := range t.segments {
		if seg.key == "" {
			continue
		}
		if _, ok := seen[seg.key]; ok {
			continue
		}
		seen[seg.key] = struct{}{}
		keys = append(keys, seg.key)
	}
	return keys
}

// IsStatic reports whether the template holds no placeholders.
func (t Template) IsStatic() bool {
	for _, seg := range t.segments {
		if seg.key != "" {
			return false
		}
	}
	return true
}

func (t Template) literal() string {
	if len(t.segments) == 1 {
		return t.segments[0].literal
	}
	var b strings.Builder
	for _, seg := range t.segments {
		b.WriteString(seg.literal)
	}
	return b.String()
}

// String returns the template source.
func (t Template) String() string {
	return t.raw
}
