package hdfs

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hsdata/hdfs_sdk_go/internal/httpx"
	"github.com/sirupsen/logrus"
)

// Option customises Open and OpenWithBackend.
type Option func(*openOptions)

type openOptions struct {
	logger     logrus.FieldLogger
	httpClient *http.Client
	retry      httpx.RetryPolicy
}

func defaultOpenOptions() *openOptions {
	return &openOptions{
		logger: logrus.StandardLogger(),
		retry:  httpx.NoRetryPolicy,
	}
}

// WithLogger routes session diagnostics to l.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *openOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHTTPClient overrides the HTTP client used by the WebHDFS backend.
func WithHTTPClient(c *http.Client) Option {
	return func(o *openOptions) {
		o.httpClient = c
	}
}

// WithRetries enables transport retries for idempotent WebHDFS calls. The
// client does not retry unless this option is given.
func WithRetries(max int, base, maxDelay time.Duration) Option {
	return func(o *openOptions) {
		o.retry = httpx.RetryPolicy{
			MaxRetries: max,
			BaseDelay:  base,
			MaxDelay:   maxDelay,
			Jitter:     0.25,
		}
	}
}

// newBackend builds the backend matching the URI scheme of cfg.
func newBackend(cfg Config, o *openOptions) (Backend, error) {
	scheme, hostport, err := resolveURI(cfg.URI)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "http", "https":
		opts := []httpx.Option{
			httpx.WithResponseHeaderTimeout(cfg.Timeout),
			httpx.WithRetryPolicy(o.retry),
			httpx.WithLogger(o.logger),
		}
		if o.httpClient != nil {
			opts = append(opts, httpx.WithHTTPClient(o.httpClient))
		}
		return NewWebHDFSBackend(scheme+"://"+hostport, cfg.User, opts...)
	case "hdfs":
		return NewNativeBackend(hostport, cfg.User)
	case "mock":
		return nil, fmt.Errorf("mock URIs are served by the hdfs_sdk package")
	}
	return nil, fmt.Errorf("unsupported URI scheme %q", scheme)
}
