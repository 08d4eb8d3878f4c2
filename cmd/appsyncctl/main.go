// appsyncctl runs GraphQL operations and subscriptions against a managed
// GraphQL endpoint.
//
// Usage:
//
//	appsyncctl post --config configs/appsyncctl.yaml -q 'query { items { id } }'
//	appsyncctl subscribe --config configs/appsyncctl.yaml -f onItem.graphql --count 10
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	appsync "github.com/rickgao/appsync-client"
	"github.com/rickgao/appsync-client/internal/config"
	"github.com/rickgao/appsync-client/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "appsyncctl",
		Short:         "Run GraphQL operations and subscriptions against a managed endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/appsyncctl.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level")

	cmd.AddCommand(
		newPostCmd(opts),
		newSubscribeCmd(opts),
		newPollCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// env is what every command needs after startup.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	close  func()
}

// setup loads the config and builds the logger.
func (o *rootOptions) setup() (*env, error) {
	cfg, err := config.LoadWithDefaults(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = strings.ToLower(o.logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, out, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	return &env{
		cfg:    cfg,
		logger: logger,
		close:  func() { out.Close() },
	}, nil
}

// newClient builds an appsync client from cfg. reg may be nil.
func newClient(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*appsync.Client, error) {
	clientCfg := appsync.Config{
		GraphQLURL:  cfg.GraphQL.URL,
		RealtimeURL: cfg.GraphQL.RealtimeURL,
		Region:      cfg.GraphQL.Region,
	}
	switch cfg.Auth.Mode {
	case "api_key":
		clientCfg.APIKey = cfg.Auth.APIKey
	default:
		clientCfg.Credentials = appsync.StaticCredentials(cfg.Auth.AccessKeyID, cfg.Auth.SecretAccessKey, cfg.Auth.SessionToken)
	}

	transport := cleanhttp.DefaultPooledTransport()
	transport.MaxIdleConnsPerHost = cfg.HTTP.MaxIdleConns

	opts := []appsync.Option{
		appsync.WithLogger(logger),
		appsync.WithHTTPClient(&http.Client{Transport: transport}),
		appsync.WithResponseTimeout(cfg.HTTP.ResponseTimeout),
		appsync.WithRetry(appsync.RetryConfig{
			Retries:               cfg.Retry.Retries,
			BaseDelay:             cfg.Retry.BaseDelay,
			DelayFactor:           cfg.Retry.DelayFactor,
			BaseResponseTimeout:   cfg.Retry.BaseResponseTimeout,
			ResponseTimeoutFactor: cfg.Retry.ResponseTimeoutFactor,
		}),
		appsync.WithRateLimit(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst),
		appsync.WithHandshakeTimeout(cfg.Realtime.HandshakeTimeout),
		appsync.WithWriteTimeout(cfg.Realtime.WriteTimeout),
		appsync.WithEstablishTimeout(cfg.Realtime.EstablishTimeout),
		appsync.WithUnsubscribeTimeout(cfg.Realtime.UnsubscribeTimeout),
		appsync.WithStopOnEstablishTimeout(cfg.Realtime.StopOnEstablishTimeout),
	}
	if reg != nil {
		opts = append(opts, appsync.WithMetrics(reg))
	}

	return appsync.New(ctx, clientCfg, opts...)
}
