package httpext

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// Response is a fully read HTTP response. The body is already decompressed.
type Response struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	Duration time.Duration

	jsonOnce sync.Once
	json     interface{}
	jsonErr  error
}

// NewResponse builds a Response out of already available parts.
func NewResponse(status int, header http.Header, body []byte) *Response {
	if header == nil {
		header = make(http.Header)
	}
	return &Response{Status: status, Header: header, Body: body}
}

// Text returns the body as a string.
func (res *Response) Text() string {
	return string(res.Body)
}

// JSON parses the body as JSON. The body is parsed at most once, later calls
// return the cached value.
func (res *Response) JSON() (interface{}, error) {
	res.jsonOnce.Do(func() {
		if len(res.Body) == 0 {
			res.jsonErr = errors.New("the body is empty so we can't transform it to JSON")
			return
		}
		v, err := DecodeJSON(res.Body)
		if err != nil {
			var syntaxError *json.SyntaxError
			if errors.As(err, &syntaxError) {
				err = checkErrorInJSON(res.Body, int(syntaxError.Offset), err)
			}
			res.jsonErr = err
			return
		}
		res.json = v
	})
	return res.json, res.jsonErr
}

// Select runs a gjson path against the raw body.
func (res *Response) Select(path string) (gjson.Result, bool) {
	if !gjson.ValidBytes(res.Body) {
		return gjson.Result{}, false
	}
	result := gjson.GetBytes(res.Body, path)
	return result, result.Exists()
}

// DecodeJSON decodes a single JSON document. Numbers become float64, except
// integers a float64 can't hold exactly, which are kept as json.Number so
// large identifiers survive being chained into later requests.
func DecodeJSON(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			err = fmt.Errorf("invalid data after the top-level value at offset %d", dec.InputOffset())
		}
		return nil, err
	}
	return numbers(v), nil
}

func numbers(v interface{}) interface{} {
	switch tv := v.(type) {
	case json.Number:
		return Number(tv)
	case []interface{}:
		for i, e := range tv {
			tv[i] = numbers(e)
		}
	case map[string]interface{}:
		for k, e := range tv {
			tv[k] = numbers(e)
		}
	}
	return v
}

// Integers beyond ±2^53 lose precision as float64.
const maxExactInt = 1 << 53

// Number converts a JSON number literal to float64 when that is lossless.
func Number(n json.Number) interface{} {
	if i, err := n.Int64(); err == nil {
		if i > maxExactInt || i < -maxExactInt {
			return n
		}
		return float64(i)
	}
	if !strings.ContainsAny(n.String(), ".eE") {
		return n
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n
}

func checkErrorInJSON(input []byte, offset int, err error) error {
	lf := '\n'
	str := string(input)

	// Humans tend to count from 1.
	line := 1
	character := 0

	for i, b := range str {
		if b == lf {
			line++
			character = 0
		}
		character++
		if i == offset {
			break
		}
	}

	return fmt.Errorf("cannot parse json due to an error at line %d, character %d , error: %w", line, character, err)
}
