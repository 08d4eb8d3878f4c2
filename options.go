package appsync

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/appsync-client/internal/auth"
	"github.com/rickgao/appsync-client/internal/retry"
	"github.com/rickgao/appsync-client/internal/subscription"
)

type settings struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	signer     auth.Signer
	httpClient *http.Client

	responseTimeout time.Duration
	retry           *retry.Config
	rand            retry.Source
	rateLimit       float64
	rateBurst       int

	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	subscriptions    subscription.Config
}

func defaultSettings() *settings {
	return &settings{logger: slog.Default()}
}

// Option configures a Client.
type Option func(*settings)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics registers the client's Prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *settings) {
		s.registerer = reg
	}
}

// WithSigner replaces the signer derived from Config.
func WithSigner(signer Signer) Option {
	return func(s *settings) {
		s.signer = signer
	}
}

// WithHTTPClient sets the HTTP client. The default is a pooled
// go-cleanhttp client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) {
		s.httpClient = hc
	}
}

// WithResponseTimeout sets the response timeout of the first attempt of
// every Post (default 3s).
func WithResponseTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.responseTimeout = d
	}
}

// WithRetry sets the retry strategy of Post. Zero fields take their
// defaults, so Retries: 0 still means 2 retries; use Retries: NoRetries to
// send the initial attempt only.
func WithRetry(cfg RetryConfig) Option {
	return func(s *settings) {
		s.retry = &cfg
	}
}

// WithRandSource sets the jitter source of generated retries.
func WithRandSource(src RandSource) Option {
	return func(s *settings) {
		s.rand = src
	}
}

// WithRateLimit throttles Post attempts to r per second.
func WithRateLimit(r float64, burst int) Option {
	return func(s *settings) {
		s.rateLimit = r
		s.rateBurst = burst
	}
}

// WithHandshakeTimeout bounds the realtime handshake (default 10s).
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.handshakeTimeout = d
	}
}

// WithWriteTimeout bounds each realtime frame write (default 5s).
func WithWriteTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.writeTimeout = d
	}
}

// WithEstablishTimeout bounds the wait for start_ack (default 5s).
func WithEstablishTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.subscriptions.EstablishTimeout = d
	}
}

// WithUnsubscribeTimeout bounds the wait for complete after stop (default 5s).
func WithUnsubscribeTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.subscriptions.UnsubscribeTimeout = d
	}
}

// WithStopOnEstablishTimeout sends stop for subscriptions whose
// establishment timed out.
func WithStopOnEstablishTimeout(enabled bool) Option {
	return func(s *settings) {
		s.subscriptions.StopOnEstablishTimeout = enabled
	}
}

// WithStreamBuffer sets the initial per-stream buffer capacity. Buffers
// grow as needed.
func WithStreamBuffer(n int) Option {
	return func(s *settings) {
		s.subscriptions.BufferSize = n
	}
}
