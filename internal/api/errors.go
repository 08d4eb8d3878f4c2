package api

import (
	"errors"
	"fmt"
	"time"
)

// maxErrorBody bounds how much of a response body is echoed in error strings.
const maxErrorBody = 512

// NonRetryableFetchError is returned for any status other than 200 and 429,
// for a response whose content type is not JSON, or for a JSON response
// that does not decode. Err holds the decode failure in the last case.
type NonRetryableFetchError struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Err         error
}

func (e *NonRetryableFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("graphql fetch failed: status %d, content-type %q: %v: %s",
			e.StatusCode, e.ContentType, e.Err, truncate(e.Body))
	}
	return fmt.Sprintf("graphql fetch failed: status %d, content-type %q: %s",
		e.StatusCode, e.ContentType, truncate(e.Body))
}

func (e *NonRetryableFetchError) Unwrap() error {
	return e.Err
}

// RateLimitedError is returned for HTTP 429.
type RateLimitedError struct {
	Body []byte
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("graphql rate limited: %s", truncate(e.Body))
}

// ResponseTimeoutError is returned when an attempt's response deadline elapses.
type ResponseTimeoutError struct {
	Timeout time.Duration
}

func (e *ResponseTimeoutError) Error() string {
	return fmt.Sprintf("graphql response timeout after %s", e.Timeout)
}

// TransportError wraps a connection-level failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("graphql transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient failure worth another attempt.
func IsRetryable(err error) bool {
	var (
		timeout   *ResponseTimeoutError
		limited   *RateLimitedError
		transport *TransportError
	)
	return errors.As(err, &timeout) || errors.As(err, &limited) || errors.As(err, &transport)
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
