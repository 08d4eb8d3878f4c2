package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	appsync "github.com/rickgao/appsync-client"
	"github.com/rickgao/appsync-client/internal/archive"
	"github.com/rickgao/appsync-client/internal/config"
	"github.com/rickgao/appsync-client/internal/database"
	"github.com/rickgao/appsync-client/internal/gql"
)

type subscribeOptions struct {
	queries  []string
	files    []string
	vars     string
	count    int
	duration time.Duration
}

func newSubscribeCmd(root *rootOptions) *cobra.Command {
	opts := &subscribeOptions{}

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Run subscriptions and print each event as a JSON line",
		Long: `Run one or more subscriptions over a single realtime connection.

Each event is printed as {"subscription":<id>,"operation":<name>,"data":<payload>}.
With archive.enabled set, events are also written to PostgreSQL. With
metrics.enabled set, Prometheus metrics are served while the command runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			queries, err := readQueries(opts.queries, opts.files, cmd.InOrStdin(), "subscription")
			if err != nil {
				return err
			}
			variables, err := parseVariables(opts.vars)
			if err != nil {
				return err
			}

			e, err := root.setup()
			if err != nil {
				return err
			}
			defer e.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if opts.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.duration)
				defer cancel()
			}

			return runSubscribe(ctx, e, queries, variables, opts.count, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringArrayVarP(&opts.queries, "query", "q", nil, "subscription query (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.files, "file", "f", nil, "file holding a subscription query (repeatable, - for stdin)")
	cmd.Flags().StringVar(&opts.vars, "vars", "", "variables as a JSON object, shared by all subscriptions")
	cmd.Flags().IntVar(&opts.count, "count", 0, "stop each subscription after this many events (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func runSubscribe(ctx context.Context, e *env, queries []string, variables map[string]any, count int, out io.Writer) error {
	logger := e.logger

	var reg *prometheus.Registry
	if e.cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	client, err := newClient(ctx, e.cfg, logger, registerer(reg))
	if err != nil {
		return err
	}
	defer client.Close()

	var writer *archive.Writer
	if e.cfg.Archive.Enabled {
		w, closeDB, err := startArchive(ctx, e.cfg, logger)
		if err != nil {
			return err
		}
		defer closeDB()
		writer = w
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			writer.Stop(stopCtx)
		}()
	}

	p := newPrinter(out)

	g, gctx := errgroup.WithContext(ctx)
	streamsDone := make(chan struct{})

	if reg != nil {
		g.Go(func() error {
			return serveMetrics(gctx, streamsDone, e.cfg.Metrics, reg, logger)
		})
	}

	sg, sctx := errgroup.WithContext(gctx)
	for _, q := range queries {
		stream, err := client.Subscribe(q, variables)
		if err != nil {
			return err
		}
		op := gql.ParseOperation(q).String()
		logger.Info("subscription started", "id", stream.ID(), "operation", op)

		sg.Go(func() error {
			return consume(sctx, stream, op, count, p, writer)
		})
	}

	g.Go(func() error {
		defer close(streamsDone)
		return sg.Wait()
	})

	return g.Wait()
}

// consume prints events of one stream until it ends, count is reached or
// ctx is done.
func consume(ctx context.Context, stream *appsync.Stream, op string, count int, p *printer, writer *archive.Writer) error {
	defer stream.Close()

	if err := stream.WaitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscription %d (%s): %w", stream.ID(), op, err)
	}

	n := 0
	for payload, err := range stream.All(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("subscription %d (%s): %w", stream.ID(), op, err)
		}

		if err := p.print(stream.ID(), op, payload); err != nil {
			return err
		}
		if writer != nil {
			writer.Add(archive.NewEvent(stream.ID(), op, payload))
		}

		n++
		if count > 0 && n >= count {
			return nil
		}
	}
	return nil
}

func startArchive(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*archive.Writer, func(), error) {
	logger.Info("connecting to archive database",
		"host", cfg.Archive.Database.Host,
		"port", cfg.Archive.Database.Port,
		"database", cfg.Archive.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Archive.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect archive database: %w", err)
	}
	if err := archive.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	w := archive.NewWriter(archive.Config{
		BatchSize:     cfg.Archive.BatchSize,
		FlushInterval: cfg.Archive.FlushInterval,
		BufferSize:    cfg.Archive.BufferSize,
	}, pool, logger)
	w.Start(ctx)
	return w, pool.Close, nil
}

// serveMetrics serves reg until ctx is done or stop is closed.
func serveMetrics(ctx context.Context, stop <-chan struct{}, cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting metrics server", "port", cfg.Port, "path", cfg.Path)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case <-ctx.Done():
	case <-stop:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func registerer(reg *prometheus.Registry) prometheus.Registerer {
	if reg == nil {
		return nil
	}
	return reg
}

// printer writes events as JSON lines. It is safe for concurrent use.
type printer struct {
	mu  sync.Mutex
	enc *jsoniter.Encoder
}

type printedEvent struct {
	Subscription uint64          `json:"subscription"`
	Operation    string          `json:"operation"`
	Data         json.RawMessage `json:"data"`
}

func newPrinter(w io.Writer) *printer {
	return &printer{enc: codec.NewEncoder(w)}
}

func (p *printer) print(id uint64, op string, data json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(printedEvent{Subscription: id, Operation: op, Data: data})
}
