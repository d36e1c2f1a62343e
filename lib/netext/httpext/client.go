package httpext

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/oxtoacart/bpool"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/liuxd6825/surge/lib/consts"
)

// DefaultTimeout is used when neither the request nor the client set one.
const DefaultTimeout = 60 * time.Second

// ClientConfig holds the protocol-level defaults shared by every request.
type ClientConfig struct {
	// BaseURL is prepended to request URLs that are not absolute.
	BaseURL string
	// Headers are sent with every request unless the request sets them.
	Headers             map[string]string
	Timeout             time.Duration
	RPS                 float64
	InsecureSkipVerify  bool
	MaxIdleConnsPerHost int
	NoConnectionReuse   bool
	UserAgent           string
}

// Client executes Requests. It is safe for concurrent use by any number of
// virtual users.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	pool    *bpool.BufferPool
	logger  logrus.FieldLogger
}

// NewClient returns a Client backed by its own transport.
func NewClient(cfg ClientConfig, logger logrus.FieldLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = consts.UserAgent()
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 100
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec
		},
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        0,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   cfg.NoConnectionReuse,
		DisableCompression:  true,
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Transport: transport},
		limiter: limiter,
		pool:    bpool.NewBufferPool(100),
		logger:  logger.WithField("component", "http-client"),
	}
}

// Config returns the effective configuration.
func (c *Client) Config() ClientConfig {
	return c.cfg
}

// ResolveURL joins u with the base URL unless u is already absolute.
func (c *Client) ResolveURL(u string) string {
	if c.cfg.BaseURL == "" || strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	if u == "" {
		return c.cfg.BaseURL
	}
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(u, "/")
}

// Do executes req and reads the whole response body. Every failure to obtain
// a response is returned as a *TransportError. A non-2xx status is not an
// error.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	timeout := c.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, NewTransportError(fmt.Errorf("waiting for the rps limit: %w", limiterError(ctx, err)))
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	url := c.ResolveURL(req.URL)
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, NewTransportError(err)
	}
	c.setHeaders(httpReq, req.Header)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		terr := NewTransportError(err)
		c.logger.WithFields(logrus.Fields{
			"method": method, "url": url, "code": terr.Code,
		}).WithError(err).Debug("Request failed")
		return nil, terr
	}
	respBody, err := readResponseBody(c.pool, resp)
	if err != nil {
		return nil, NewTransportError(err)
	}

	return &Response{
		URL:      url,
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     respBody,
		Duration: time.Since(start),
	}, nil
}

func (c *Client) setHeaders(httpReq *http.Request, header http.Header) {
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, vs := range header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if httpReq.Header.Get("Accept-Encoding") == "" {
		httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	}
	if host := httpReq.Header.Get("Host"); host != "" {
		httpReq.Host = host
	}
}

// rate.Limiter.Wait fails early when the deadline would be exceeded before the
// next token, report that as a timeout as well.
func limiterError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, err.Error())
	}
	return err
}

// CloseIdleConnections closes idle keep-alive connections.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}
