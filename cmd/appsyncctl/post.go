package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	appsync "github.com/rickgao/appsync-client"
)

func newPostCmd(root *rootOptions) *cobra.Command {
	var (
		query   string
		file    string
		vars    string
		timeout time.Duration
		retries int
	)

	cmd := &cobra.Command{
		Use:   "post",
		Short: "Execute a query or mutation and print its data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := readQuery(query, file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			variables, err := parseVariables(vars)
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

			client, err := newClient(ctx, e.cfg, e.logger, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			opts := appsync.PostOptions{ResponseTimeout: timeout}
			if cmd.Flags().Changed("retries") {
				cfg := appsync.RetryConfig{
					Retries:               retries,
					BaseDelay:             e.cfg.Retry.BaseDelay,
					DelayFactor:           e.cfg.Retry.DelayFactor,
					BaseResponseTimeout:   e.cfg.Retry.BaseResponseTimeout,
					ResponseTimeoutFactor: e.cfg.Retry.ResponseTimeoutFactor,
				}
				opts.Attempts = appsync.GenerateRetries(cfg)
				if retries <= 0 {
					opts.Attempts = []appsync.Attempt{}
				}
			}

			data, err := client.PostWithOptions(ctx, q, variables, opts)
			if err != nil {
				return err
			}

			var out bytes.Buffer
			if err := json.Indent(&out, data, "", "  "); err != nil {
				out.Reset()
				out.Write(data)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "GraphQL query or mutation")
	cmd.Flags().StringVarP(&file, "file", "f", "", "file holding the query (- for stdin)")
	cmd.Flags().StringVar(&vars, "vars", "", "variables as a JSON object")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "response timeout of the first attempt (default from config)")
	cmd.Flags().IntVar(&retries, "retries", 0, "retries after the first attempt (default from config)")
	return cmd
}
