package poller

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Poster executes one query. *appsync.Client satisfies it.
type Poster interface {
	Post(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error)
}

// Query is one polled operation.
type Query struct {
	Name      string
	Query     string
	Variables map[string]any
}

// Result is the outcome of one query in one cycle.
type Result struct {
	Query    Query
	Data     json.RawMessage
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Handler receives results. It may be called concurrently.
type Handler interface {
	HandleResult(r Result) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(Result) error

func (f HandlerFunc) HandleResult(r Result) error {
	return f(r)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 1m)
	Concurrency int           // Max concurrent queries (default: 4)
	Timeout     time.Duration // Per-query deadline, retries included (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		Concurrency: 4,
		Timeout:     30 * time.Second,
	}
}

// Stats summarizes one cycle.
type Stats struct {
	Succeeded int64
	Failed    int64
}

// Poller periodically executes queries.
type Poller struct {
	cfg     Config
	client  Poster
	queries []Query
	handler Handler
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. Zero config fields take defaults.
func New(cfg Config, client Poster, queries []Query, handler Handler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	return &Poller{
		cfg:     cfg,
		client:  client,
		queries: queries,
		handler: handler,
		logger:  logger.With("component", "poller"),
	}
}

// Start begins the polling loop. The first cycle runs immediately.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("poller started",
		"queries", len(p.queries),
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)
}

// Stop cancels the loop and waits for the running cycle to finish.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.PollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs one cycle over all queries and waits for it to finish.
func (p *Poller) PollOnce(ctx context.Context) Stats {
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	var succeeded, failed atomic.Int64
	for _, q := range p.queries {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := p.poll(ctx, q); err != nil {
				p.logger.Warn("poll failed", "query", q.Name, "error", err)
				failed.Add(1)
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	g.Wait()

	stats := Stats{Succeeded: succeeded.Load(), Failed: failed.Load()}
	p.logger.Info("poll cycle complete",
		"queries", len(p.queries),
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"duration", time.Since(start),
	)
	return stats
}

func (p *Poller) poll(ctx context.Context, q Query) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	r := Result{Query: q, Started: time.Now()}
	r.Data, r.Err = p.client.Post(ctx, q.Query, q.Variables)
	r.Duration = time.Since(r.Started)

	if p.handler != nil {
		if err := p.handler.HandleResult(r); err != nil {
			return err
		}
	}
	return r.Err
}
