package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/rickgao/appsync-client/internal/gql"
	"github.com/rickgao/appsync-client/internal/retry"
)

// Options overrides per-call behavior of Post.
type Options struct {
	// ResponseTimeout of the initial attempt. Zero uses the client default.
	ResponseTimeout time.Duration
	// Attempts replaces the generated retry schedule. Nil generates one from
	// the client's retry config; an empty slice disables retries.
	Attempts []retry.Attempt
}

// Post executes a query or mutation and returns the response's data member.
// At most 1+len(retries) requests are sent. Non-retryable failures and
// GraphQL errors are returned on first occurrence; otherwise the last
// failure is returned once the schedule is exhausted.
func (c *Client) Post(ctx context.Context, query string, variables map[string]any, opts Options) (json.RawMessage, error) {
	body, err := gql.Request{Query: query, Variables: variables}.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	timeout := opts.ResponseTimeout
	if timeout <= 0 {
		timeout = c.responseTimeout
	}
	retries := opts.Attempts
	if retries == nil {
		retries = retry.Generate(c.retry, c.rand)
	}
	plan := retry.NewPlan(timeout, retries)

	op := gql.ParseOperation(query)
	logger := c.logger.With(
		"request_id", uuid.NewString(),
		"operation", op.String(),
	)
	logger.Debug("executing graphql operation",
		"attempts", plan.Len(),
		"budget", plan.Budget(),
	)

	attempt := 0
	operation := func() (json.RawMessage, error) {
		a := plan.At(attempt)
		attempt++

		start := time.Now()
		data, err := c.executor.Execute(ctx, body, a.ResponseTimeout)
		c.metrics.ObserveAttempt(op.Type, resultLabel(err), time.Since(start))
		if err == nil {
			return data, nil
		}
		if !IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}

		logger.Warn("graphql attempt failed",
			"attempt", attempt,
			"of", plan.Len(),
			"error", err,
		)
		return nil, err
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(plan.BackOff()),
		backoff.WithMaxTries(uint(plan.Len())),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		c.metrics.ObserveOperation(op.Type, "error")
		return nil, err
	}

	c.metrics.ObserveOperation(op.Type, "ok")
	return data, nil
}

func resultLabel(err error) string {
	var (
		timeout   *ResponseTimeoutError
		limited   *RateLimitedError
		transport *TransportError
		rejected  *NonRetryableFetchError
		gqlErr    *gql.Error
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &limited):
		return "rate_limited"
	case errors.As(err, &transport):
		return "transport"
	case errors.As(err, &rejected):
		return "rejected"
	case errors.As(err, &gqlErr):
		return "graphql_error"
	default:
		return "error"
	}
}
