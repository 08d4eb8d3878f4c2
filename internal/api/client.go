package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/time/rate"

	"github.com/rickgao/appsync-client/internal/auth"
	"github.com/rickgao/appsync-client/internal/metrics"
	"github.com/rickgao/appsync-client/internal/retry"
)

// Client executes GraphQL operations against one endpoint.
type Client struct {
	url        string
	signer     auth.Signer
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    *metrics.Metrics

	responseTimeout time.Duration
	retry           retry.Config
	rand            retry.Source

	executor *Executor
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a GraphQL client for url.
func NewClient(url string, signer auth.Signer, opts ...ClientOption) *Client {
	c := &Client{
		url:             url,
		signer:          signer,
		httpClient:      cleanhttp.DefaultPooledClient(),
		logger:          slog.Default(),
		responseTimeout: retry.DefaultResponseTimeout,
		retry:           retry.DefaultConfig(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.executor = NewExecutor(c.url, c.signer, c.httpClient, c.limiter, c.logger)
	return c
}

// WithTimeout sets the response timeout of the initial attempt.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.responseTimeout = d
	}
}

// WithRetries sets the retry strategy.
func WithRetries(cfg retry.Config) ClientOption {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client. Per-attempt deadlines are
// enforced through the request context, so its Timeout may stay zero.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit throttles outgoing attempts to r per second with the given burst.
func WithRateLimit(r float64, burst int) ClientOption {
	return func(c *Client) {
		if r > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(r), max(burst, 1))
		}
	}
}

// WithMetrics records attempt and operation metrics.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithRandSource sets the jitter source. Used by tests for determinism.
func WithRandSource(src retry.Source) ClientOption {
	return func(c *Client) {
		c.rand = src
	}
}
