package httpext

import (
	"net/http"
	"time"
)

// Request is a request with every template already resolved.
type Request struct {
	Method string
	// URL is either absolute or relative to ClientConfig.BaseURL.
	URL    string
	Header http.Header
	Body   []byte
	// Timeout overrides ClientConfig.Timeout when positive.
	Timeout time.Duration
}
