package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rickgao/appsync-client/internal/auth"
	"github.com/rickgao/appsync-client/internal/gql"
)

const contentTypeJSON = "application/json"

// Executor issues single signed GraphQL POSTs. It holds no per-call state
// and is safe for concurrent use.
type Executor struct {
	url        string
	signer     auth.Signer
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewExecutor creates an executor for url. A nil limiter disables throttling.
func NewExecutor(url string, signer auth.Signer, httpClient *http.Client, limiter *rate.Limiter, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		url:        url,
		signer:     signer,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
	}
}

// Execute sends body and returns the data member of a successful response.
// The timeout covers the request from send until the body is fully read.
func (e *Executor) Execute(ctx context.Context, body []byte, timeout time.Duration) (json.RawMessage, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	headers, err := e.signer.Sign(ctx, auth.Request{
		Method: http.MethodPost,
		URL:    e.url,
		Header: map[string]string{"Content-Type": contentTypeJSON},
		Body:   body,
	})
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		if strings.EqualFold(k, "host") {
			continue
		}
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", contentTypeJSON)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, e.classify(ctx, attemptCtx, timeout, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, e.classify(ctx, attemptCtx, timeout, err)
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitedError{Body: respBody}
	case resp.StatusCode != http.StatusOK:
		return nil, &NonRetryableFetchError{StatusCode: resp.StatusCode, ContentType: contentType, Body: respBody}
	case !isJSON(contentType):
		return nil, &NonRetryableFetchError{StatusCode: resp.StatusCode, ContentType: contentType, Body: respBody}
	}

	gqlResp, err := gql.DecodeResponse(respBody)
	if err != nil {
		return nil, &NonRetryableFetchError{
			StatusCode:  resp.StatusCode,
			ContentType: contentType,
			Body:        respBody,
			Err:         fmt.Errorf("decode response: %w", err),
		}
	}
	if err := gqlResp.Err(); err != nil {
		return nil, err
	}

	e.logger.Debug("graphql response",
		"status", resp.StatusCode,
		"bytes", len(respBody),
	)
	return gqlResp.Data, nil
}

// classify maps a failed send or read onto the error taxonomy. Cancellation
// of the caller's context is returned as-is.
func (e *Executor) classify(parent, attempt context.Context, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return context.Cause(parent)
	}
	if errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return &ResponseTimeoutError{Timeout: timeout}
	}
	return &TransportError{Err: err}
}

// isJSON accepts application/json with no charset or a utf-8 charset.
func isJSON(contentType string) bool {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != contentTypeJSON {
		return false
	}
	charset, ok := params["charset"]
	return !ok || strings.EqualFold(charset, "utf-8")
}
