package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/appsync-client/internal/archive"
	"github.com/rickgao/appsync-client/internal/gql"
	"github.com/rickgao/appsync-client/internal/poller"
)

type pollOptions struct {
	queries  []string
	files    []string
	vars     string
	once     bool
	duration time.Duration
	cfg      poller.Config
}

func newPollCmd(root *rootOptions) *cobra.Command {
	opts := &pollOptions{}

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run queries on an interval and print each result as a JSON line",
		Long: `Run a fixed set of queries every --interval, at most --concurrency at a time.

Each result is printed as {"query":<operation>,"data":<data>} or, on failure,
{"query":<operation>,"error":<message>}. With archive.enabled set, successful
results are also written to PostgreSQL with subscription id 0.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			queries, err := readQueries(opts.queries, opts.files, cmd.InOrStdin(), "query")
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

			polled := make([]poller.Query, len(queries))
			for i, q := range queries {
				polled[i] = poller.Query{Name: gql.ParseOperation(q).String(), Query: q, Variables: variables}
			}
			return runPoll(ctx, e, polled, opts, cmd.OutOrStdout())
		},
	}

	def := poller.DefaultConfig()
	cmd.Flags().StringArrayVarP(&opts.queries, "query", "q", nil, "query (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.files, "file", "f", nil, "file holding a query (repeatable, - for stdin)")
	cmd.Flags().StringVar(&opts.vars, "vars", "", "variables as a JSON object, shared by all queries")
	cmd.Flags().DurationVar(&opts.cfg.Interval, "interval", def.Interval, "time between poll cycles")
	cmd.Flags().IntVar(&opts.cfg.Concurrency, "concurrency", def.Concurrency, "max queries in flight")
	cmd.Flags().DurationVar(&opts.cfg.Timeout, "timeout", def.Timeout, "deadline of one query, retries included")
	cmd.Flags().BoolVar(&opts.once, "once", false, "run a single cycle and exit")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func runPoll(ctx context.Context, e *env, queries []poller.Query, opts *pollOptions, out io.Writer) error {
	logger := e.logger

	client, err := newClient(ctx, e.cfg, logger, nil)
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
	handler := poller.HandlerFunc(func(r poller.Result) error {
		if r.Err != nil {
			return p.printResult(r.Query.Name, nil, r.Err)
		}
		if writer != nil {
			writer.Add(archive.NewEvent(0, r.Query.Name, r.Data))
		}
		return p.printResult(r.Query.Name, r.Data, nil)
	})

	pl := poller.New(opts.cfg, client, queries, handler, logger)

	if opts.once {
		stats := pl.PollOnce(ctx)
		if stats.Failed > 0 {
			return fmt.Errorf("%d of %d queries failed", stats.Failed, len(queries))
		}
		return nil
	}

	pl.Start(ctx)
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), opts.cfg.Timeout+5*time.Second)
	defer cancel()
	return pl.Stop(stopCtx)
}

type printedResult struct {
	Query string          `json:"query"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

func (p *printer) printResult(name string, data json.RawMessage, err error) error {
	r := printedResult{Query: name, Data: data}
	if err != nil {
		r.Error = err.Error()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(r)
}
