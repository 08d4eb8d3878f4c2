// Package appsync is a client for a managed GraphQL endpoint. Queries and
// mutations travel over signed HTTPS with bounded, jittered retries.
// Subscriptions share one realtime websocket that is opened on demand,
// monitored with server keep-alives and released once idle.
//
// A Client is constructed once and closed explicitly:
//
//	c, err := appsync.New(ctx, appsync.Config{
//		GraphQLURL: "https://example.appsync-api.us-east-1.amazonaws.com/graphql",
//		Region:     "us-east-1",
//		Credentials: appsync.StaticCredentials(id, secret, ""),
//	})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	data, err := c.Post(ctx, `query { items { id } }`, nil)
package appsync

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/hashicorp/go-cleanhttp"

	"github.com/rickgao/appsync-client/internal/api"
	"github.com/rickgao/appsync-client/internal/auth"
	"github.com/rickgao/appsync-client/internal/connection"
	"github.com/rickgao/appsync-client/internal/metrics"
	"github.com/rickgao/appsync-client/internal/retry"
	"github.com/rickgao/appsync-client/internal/subscription"
)

// Config holds the required endpoint and credential settings.
type Config struct {
	GraphQLURL  string // HTTPS GraphQL endpoint
	RealtimeURL string // Realtime endpoint; derived from GraphQLURL when empty
	Region      string // Signing region for IAM auth

	// Credentials selects IAM auth. APIKey selects api_key auth and takes
	// precedence when both are set.
	Credentials aws.CredentialsProvider
	APIKey      string
}

// Client executes operations and manages subscriptions for one endpoint.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client

	http  *api.Client
	conns *connection.Manager
	subs  *subscription.Multiplexer

	mu     sync.Mutex
	closed bool
}

// New builds a client. It fails with *MissingCredentialsError when the
// selected auth mode lacks a value. ctx bounds the initial credential
// retrieval only.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.GraphQLURL == "" {
		return nil, errors.New("appsync: graphql url is required")
	}

	s := defaultSettings()
	for _, opt := range opts {
		opt(s)
	}

	signer := s.signer
	if signer == nil {
		var err error
		if signer, err = newSigner(ctx, cfg); err != nil {
			return nil, err
		}
	}

	httpClient := s.httpClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}

	var m *metrics.Metrics
	if s.registerer != nil {
		m = metrics.New(s.registerer)
	}

	httpOpts := []api.ClientOption{
		api.WithLogger(s.logger),
		api.WithHTTPClient(httpClient),
		api.WithMetrics(m),
		api.WithRateLimit(s.rateLimit, s.rateBurst),
		api.WithRandSource(s.rand),
	}
	if s.responseTimeout > 0 {
		httpOpts = append(httpOpts, api.WithTimeout(s.responseTimeout))
	}
	if s.retry != nil {
		httpOpts = append(httpOpts, api.WithRetries(*s.retry))
	}

	conns := connection.NewManager(connection.ManagerConfig{
		GraphQLURL:       cfg.GraphQLURL,
		RealtimeURL:      cfg.RealtimeURL,
		HandshakeTimeout: s.handshakeTimeout,
		WriteTimeout:     s.writeTimeout,
	}, signer, s.logger, m)

	subCfg := s.subscriptions
	subCfg.GraphQLURL = cfg.GraphQLURL

	c := &Client{
		cfg:        cfg,
		logger:     s.logger,
		httpClient: httpClient,
		http:       api.NewClient(cfg.GraphQLURL, signer, httpOpts...),
		conns:      conns,
		subs:       subscription.NewMultiplexer(subCfg, conns, signer, s.logger, m),
	}
	return c, nil
}

func newSigner(ctx context.Context, cfg Config) (auth.Signer, error) {
	if cfg.APIKey != "" {
		return auth.NewAPIKeySigner(cfg.APIKey)
	}
	return auth.NewSigV4Signer(ctx, cfg.Region, cfg.Credentials)
}

// Post executes a query or mutation with the client's retry strategy and
// returns the response's data member.
func (c *Client) Post(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	return c.PostWithOptions(ctx, query, variables, PostOptions{})
}

// PostWithOptions is Post with per-call overrides of the initial response
// timeout and the retry schedule.
func (c *Client) PostWithOptions(ctx context.Context, query string, variables map[string]any, opts PostOptions) (json.RawMessage, error) {
	if c.isClosed() {
		return nil, ErrClientClosing
	}
	return c.http.Post(ctx, query, variables, opts)
}

// Subscribe starts a subscription. Establishment happens in the background;
// use Stream.WaitReady to observe it.
func (c *Client) Subscribe(query string, variables map[string]any) (*Stream, error) {
	if c.isClosed() {
		return nil, ErrClientClosing
	}
	return c.subs.Subscribe(query, variables)
}

// Subscriptions returns the number of registered subscriptions.
func (c *Client) Subscriptions() int {
	return c.subs.Len()
}

// Close fails every subscription with ErrClientClosing, closes the realtime
// connection and releases idle HTTP connections. Streams observe the
// failure before Close returns. The client cannot be reused.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.subs.Close()
	c.httpClient.CloseIdleConnections()
	c.logger.Debug("client closed")
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// StaticCredentials returns a credentials provider for fixed keys.
func StaticCredentials(accessKeyID, secretAccessKey, sessionToken string) aws.CredentialsProvider {
	return auth.StaticCredentials(accessKeyID, secretAccessKey, sessionToken)
}

// GenerateRetries returns a retry schedule for cfg, suitable for
// PostOptions.Attempts.
func GenerateRetries(cfg RetryConfig) []Attempt {
	return retry.Generate(cfg, nil)
}
