// Package strvals parses the `key=value,key2=[a,b]` configuration lines used
// by --log-output, --out and --traces-output.
package strvals

import (
	"fmt"
	"strings"
)

// Token is one key=value pair. Inside is '[' when the value was bracketed.
type Token struct {
	Key    string
	Value  string
	Inside rune
}

// Parse splits line into tokens. Values wrapped in square brackets may
// contain commas.
func Parse(line string) ([]Token, error) {
	var tokens []Token
	for len(line) > 0 {
		eq := strings.IndexByte(line, '=')
		comma := strings.IndexByte(line, ',')
		if eq < 0 || (comma >= 0 && comma < eq) {
			end := comma
			if end < 0 {
				end = len(line)
			}
			return nil, fmt.Errorf("key `%s` with no value", line[:end])
		}
		key := line[:eq]
		rest := line[eq+1:]

		tok := Token{Key: key}
		switch {
		case strings.HasPrefix(rest, "["):
			closing := strings.IndexByte(rest, ']')
			if closing < 0 {
				return nil, fmt.Errorf("value for key `%s` has an unclosed `[`", key)
			}
			tok.Value, tok.Inside = rest[1:closing], '['
			rest = rest[closing+1:]
			if rest != "" && rest[0] != ',' {
				return nil, fmt.Errorf("unexpected `%s` after the value of key `%s`", rest, key)
			}
		default:
			end := strings.IndexByte(rest, ',')
			if end < 0 {
				end = len(rest)
			}
			tok.Value = rest[:end]
			rest = rest[end:]
		}
		if tok.Value == "" && tok.Inside == 0 {
			return nil, fmt.Errorf("key `%s=` with no value", key)
		}
		tokens = append(tokens, tok)
		line = strings.TrimPrefix(rest, ",")
	}
	return tokens, nil
}
