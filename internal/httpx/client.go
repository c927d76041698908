package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries a per-request identifier for server-side tracing.
const RequestIDHeader = "X-Request-Id"

// RetryPolicy controls the retry behaviour for transient failures.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64
	RetryIf    func(resp *http.Response, err error) bool
}

// NoRetryPolicy sends every request exactly once. The filesystem client never
// retries on its own; callers that want a resilience layer opt in through
// WithRetryPolicy.
var NoRetryPolicy = RetryPolicy{}

// ConservativeRetryPolicy is a reasonable opt-in policy for idempotent calls.
var ConservativeRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  250 * time.Millisecond,
	MaxDelay:   2 * time.Second,
	Jitter:     0.25,
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used by the helper.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithHeaders assigns default headers added to every request.
func WithHeaders(h http.Header) Option {
	return func(c *Client) {
		for k, values := range h {
			for _, v := range values {
				c.headers.Add(k, v)
			}
		}
	}
}

// WithRetryPolicy overrides the default (no retry) configuration.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithResponseHeaderTimeout bounds how long the client waits for a server to
// start answering. Bodies may stream for longer.
func WithResponseHeaderTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.headerTimeout = d
	}
}

// WithFollowRedirects lets the underlying http.Client follow 3xx responses.
// Redirects are returned to the caller by default.
func WithFollowRedirects(follow bool) Option {
	return func(c *Client) {
		c.followRedirects = follow
	}
}

// WithLogger routes retry diagnostics to the given logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client wraps http.Client providing base URL resolution and optional retries.
type Client struct {
	baseURL         *url.URL
	httpClient      *http.Client
	headers         http.Header
	retryPolicy     RetryPolicy
	headerTimeout   time.Duration
	followRedirects bool
	log             logrus.FieldLogger
}

// Request describes a single outbound request.
type Request struct {
	Method string
	// Path is resolved against the base URL. URL, when set, is used verbatim
	// instead (e.g. a data-node address handed out by a redirect).
	Path          string
	URL           string
	Query         url.Values
	Header        http.Header
	DisableRetry  bool
	Body          io.Reader
	ContentLength int64
	GetBody       func() (io.ReadCloser, error)
}

// NewClient creates a Client for the provided base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("httpx: base URL is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httpx: invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("httpx: unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("httpx: base URL has no host")
	}

	c := &Client{
		baseURL:     parsed,
		headers:     make(http.Header),
		retryPolicy: NoRetryPolicy,
		log:         logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = c.headerTimeout
		c.httpClient = &http.Client{Transport: transport}
	}
	if !c.followRedirects {
		hc := *c.httpClient
		hc.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
		c.httpClient = &hc
	}

	if c.retryPolicy.MaxRetries < 0 {
		c.retryPolicy.MaxRetries = 0
	}
	return c, nil
}

// BaseURL returns a copy of the configured base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// CloseIdleConnections releases pooled connections held by the transport.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Do executes the provided request and returns the response, or an HTTPError
// for statuses >= 400. 3xx responses are returned as-is unless redirects are
// followed.
func (c *Client) Do(ctx context.Context, req *Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("httpx: request is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Method == "" {
		return nil, errors.New("httpx: HTTP method is required")
	}

	if req.DisableRetry || c.retryPolicy.MaxRetries == 0 {
		req.GetBody = nil
	} else if req.GetBody == nil && req.Body != nil {
		// Buffer the body so it can be replayed.
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("httpx: read request body: %w", err)
		}
		req.Body = bytes.NewReader(data)
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
	}

	fullURL, err := c.resolve(req)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	attempt := 0
	var backoff *Backoff
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := c.prepareBody(req, attempt == 0)
		if err != nil {
			return nil, err
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
		if err != nil {
			return nil, err
		}
		if req.ContentLength > 0 {
			httpReq.ContentLength = req.ContentLength
		}
		httpReq.Header = cloneHeader(c.headers)
		for k, values := range req.Header {
			for _, v := range values {
				httpReq.Header.Add(k, v)
			}
		}
		if httpReq.Header.Get(RequestIDHeader) == "" {
			httpReq.Header.Set(RequestIDHeader, requestID)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err == nil && resp.StatusCode >= 400 {
			err = c.handleError(resp)
		}
		if err == nil {
			return resp, nil
		}
		if !c.shouldRetry(req, attempt, resp, err) {
			if resp != nil && resp.StatusCode < 400 {
				closeBody(resp.Body)
			}
			return nil, err
		}
		if backoff == nil {
			backoff = NewBackoff(c.retryPolicy)
		}
		delay := backoff.ForAttempt(attempt)
		c.log.WithFields(logrus.Fields{
			"method":     req.Method,
			"url":        redact(fullURL),
			"attempt":    attempt + 1,
			"delay":      delay,
			"request_id": requestID,
		}).WithError(err).Debug("httpx: retrying request")
		attempt++
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) resolve(req *Request) (string, error) {
	if req.URL != "" {
		u, err := url.Parse(req.URL)
		if err != nil {
			return "", fmt.Errorf("httpx: invalid request URL: %w", err)
		}
		if len(req.Query) > 0 {
			q := u.Query()
			for k, values := range req.Query {
				for _, v := range values {
					q.Add(k, v)
				}
			}
			u.RawQuery = q.Encode()
		}
		return u.String(), nil
	}
	return c.buildURL(req.Path, req.Query)
}

func (c *Client) prepareBody(req *Request, first bool) (io.ReadCloser, error) {
	if first && req.Body != nil {
		body := req.Body
		req.Body = nil
		if rc, ok := body.(io.ReadCloser); ok {
			return rc, nil
		}
		return io.NopCloser(body), nil
	}
	if req.GetBody != nil {
		return req.GetBody()
	}
	return http.NoBody, nil
}

func (c *Client) shouldRetry(req *Request, attempt int, resp *http.Response, err error) bool {
	if req.DisableRetry {
		return false
	}
	if attempt >= c.retryPolicy.MaxRetries {
		return false
	}
	if c.retryPolicy.RetryIf != nil {
		return c.retryPolicy.RetryIf(resp, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	return true
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func closeBody(rc io.ReadCloser) {
	if rc != nil {
		_ = rc.Close()
	}
}

func (c *Client) buildURL(path string, q url.Values) (string, error) {
	base := *c.baseURL
	base.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	base.RawPath = ""
	if len(q) > 0 {
		base.RawQuery = q.Encode()
	} else {
		base.RawQuery = ""
	}
	return base.String(), nil
}

func (c *Client) handleError(resp *http.Response) error {
	defer closeBody(resp.Body)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpx: read error body: %w", err)
	}
	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header.Clone(),
	}
	if isJSON(resp.Header.Get("Content-Type")) {
		httpErr.JSON = decodeJSONBody(body)
	}
	return httpErr
}

// ReadAllAndClose drains the reader and ensures it is closed.
func ReadAllAndClose(rc io.ReadCloser) ([]byte, error) {
	defer closeBody(rc)
	return io.ReadAll(rc)
}

// DrainAndClose discards the remainder of rc so the connection can be reused.
func DrainAndClose(rc io.ReadCloser) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 64<<10))
	_ = rc.Close()
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.TrimSpace(contentType) == "application/json"
}

func cloneHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, values := range src {
		vCopy := make([]string, len(values))
		copy(vCopy, values)
		dst[k] = vCopy
	}
	return dst
}

// redact strips delegation tokens from URLs before they reach the logs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("delegation") {
		q.Set("delegation", "xxx")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
