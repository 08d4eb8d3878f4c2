package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/appsync-client/internal/auth"
	"github.com/rickgao/appsync-client/internal/gql"
	"github.com/rickgao/appsync-client/internal/retry"
)

type zeroSource struct{}

func (zeroSource) Float64() float64 { return 0 }

var testSigner = auth.SignerFunc(func(_ context.Context, req auth.Request) (map[string]string, error) {
	headers := map[string]string{"host": "example.com", "X-Test-Signature": "sig"}
	for k, v := range req.Header {
		headers[k] = v
	}
	return headers, nil
})

// fastRetries keeps the schedule short so tests stay quick.
var fastRetries = retry.Config{
	BaseDelay:           time.Millisecond,
	BaseResponseTimeout: time.Second,
}

func newTestClient(t *testing.T, url string, opts ...ClientOption) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]ClientOption{WithLogger(logger), WithRetries(fastRetries), WithRandSource(zeroSource{})}, opts...)
	return NewClient(url, testSigner, opts...)
}

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://api.example.com/graphql", testSigner)

		if c.url != "https://api.example.com/graphql" {
			t.Errorf("url = %q, want %q", c.url, "https://api.example.com/graphql")
		}
		if c.responseTimeout != 3*time.Second {
			t.Errorf("responseTimeout = %v, want %v", c.responseTimeout, 3*time.Second)
		}
		if c.retry != retry.DefaultConfig() {
			t.Errorf("retry = %+v, want defaults", c.retry)
		}
		if c.httpClient == nil || c.logger == nil || c.executor == nil {
			t.Error("httpClient, logger and executor should not be nil")
		}
		if c.limiter != nil {
			t.Error("limiter should be disabled by default")
		}
	})

	t.Run("with options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		hc := &http.Client{}
		c := NewClient("https://api.example.com/graphql", testSigner,
			WithTimeout(5*time.Second),
			WithRetries(retry.Config{Retries: 4}),
			WithLogger(logger),
			WithHTTPClient(hc),
			WithRateLimit(10, 0),
		)

		if c.responseTimeout != 5*time.Second {
			t.Errorf("responseTimeout = %v, want %v", c.responseTimeout, 5*time.Second)
		}
		if c.retry.Retries != 4 {
			t.Errorf("retries = %d, want 4", c.retry.Retries)
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
		if c.httpClient != hc || c.executor.httpClient != hc {
			t.Error("custom HTTP client not set")
		}
		if c.limiter == nil || c.limiter.Burst() != 1 {
			t.Error("rate limiter not configured")
		}
	})

	t.Run("nil logger keeps default", func(t *testing.T) {
		c := NewClient("https://api.example.com/graphql", testSigner, WithLogger(nil))
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})
}

func TestPost_Success(t *testing.T) {
	var gotReq gql.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("X-Test-Signature"); got != "sig" {
			t.Errorf("signature header = %q, want %q", got, "sig")
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"getItem":{"id":"1"}}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	data, err := c.Post(context.Background(), "query GetItem($id: ID!) { getItem(id: $id) { id } }",
		map[string]any{"id": "1"}, Options{})
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	if string(data) != `{"getItem":{"id":"1"}}` {
		t.Errorf("data = %s", data)
	}
	if gotReq.Variables["id"] != "1" {
		t.Errorf("variables = %v", gotReq.Variables)
	}
}

func TestPost_RateLimitedExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Post(context.Background(), "{ items }", nil, Options{})

	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("error = %v, want *RateLimitedError", err)
	}
	if string(limited.Body) != "slow down" {
		t.Errorf("body = %q", limited.Body)
	}
	if got := calls.Load(); got != 1+retry.DefaultRetries {
		t.Errorf("calls = %d, want %d", got, 1+retry.DefaultRetries)
	}
}

func TestPost_NonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"denied"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Post(context.Background(), "{ items }", nil, Options{})

	var fetchErr *NonRetryableFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("error = %v, want *NonRetryableFetchError", err)
	}
	if fetchErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", fetchErr.StatusCode)
	}
	if string(fetchErr.Body) != `{"message":"denied"}` {
		t.Errorf("Body = %s", fetchErr.Body)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestPost_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Post(context.Background(), "{ items }", nil, Options{})

	var fetchErr *NonRetryableFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("error = %v, want *NonRetryableFetchError", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestPost_MalformedJSONNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, "<html>oops</html>")
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Post(context.Background(), "{ items }", nil, Options{})

	var fetchErr *NonRetryableFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("error = %v, want *NonRetryableFetchError", err)
	}
	if fetchErr.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", fetchErr.StatusCode)
	}
	if string(fetchErr.Body) != "<html>oops</html>" {
		t.Errorf("Body = %q", fetchErr.Body)
	}
	if fetchErr.Err == nil {
		t.Error("expected decode cause")
	}
	if IsRetryable(err) {
		t.Error("malformed body reported as retryable")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestPost_GraphQLError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errors":[{"message":"x"}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Post(context.Background(), "{ items }", nil, Options{})

	var gqlErr *gql.Error
	if !errors.As(err, &gqlErr) {
		t.Fatalf("error = %v, want *gql.Error", err)
	}
	if gqlErr.Error() != "x" {
		t.Errorf("message = %q, want %q", gqlErr.Error(), "x")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestPost_ContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		wantErr     bool
	}{
		{"plain json", "application/json", false},
		{"utf-8 charset", "application/json; charset=UTF-8", false},
		{"other params ignored", "application/json; profile=x", false},
		{"wrong charset", "application/json; charset=iso-8859-1", true},
		{"html", "text/html", true},
		{"missing", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header()["Content-Type"] = []string{tt.contentType}
				w.Write([]byte(`{"data":{}}`))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL)
			_, err := c.Post(context.Background(), "{ items }", nil, Options{})

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Post() error = %v", err)
				}
				return
			}

			var fetchErr *NonRetryableFetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("error = %v, want *NonRetryableFetchError", err)
			}
			if got := calls.Load(); got != 1 {
				t.Errorf("calls = %d, want 1", got)
			}
		})
	}
}

func TestPost_ResponseTimeout(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Post(context.Background(), "{ items }", nil, Options{
		ResponseTimeout: 20 * time.Millisecond,
		Attempts: []retry.Attempt{
			{Delay: time.Millisecond, ResponseTimeout: 20 * time.Millisecond},
		},
	})

	var timeoutErr *ResponseTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("error = %v, want *ResponseTimeoutError", err)
	}
	if timeoutErr.Timeout != 20*time.Millisecond {
		t.Errorf("Timeout = %v, want 20ms", timeoutErr.Timeout)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestPost_RecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"ok":true}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	data, err := c.Post(context.Background(), "{ ok }", nil, Options{})
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("data = %s", data)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestPost_NoRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Post(context.Background(), "{ items }", nil, Options{Attempts: []retry.Attempt{}})

	if !IsRetryable(err) {
		t.Fatalf("error = %v, want retryable failure", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestPost_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := newTestClient(t, url)
	_, err := c.Post(context.Background(), "{ items }", nil, Options{})

	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
}

func TestPost_ContextCanceled(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(t, server.URL)
	_, err := c.Post(ctx, "{ items }", nil, Options{})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("calls = %d, want 0", got)
	}
}

func TestPost_SignerFailure(t *testing.T) {
	boom := errors.New("no credentials")
	c := NewClient("http://127.0.0.1:1/graphql", auth.SignerFunc(func(context.Context, auth.Request) (map[string]string, error) {
		return nil, boom
	}), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	_, err := c.Post(context.Background(), "{ items }", nil, Options{})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", &ResponseTimeoutError{Timeout: time.Second}, true},
		{"rate limited", &RateLimitedError{}, true},
		{"transport", &TransportError{Err: io.EOF}, true},
		{"wrapped transport", errors.Join(errors.New("ctx"), &TransportError{Err: io.EOF}), true},
		{"non-retryable", &NonRetryableFetchError{StatusCode: 403}, false},
		{"graphql", &gql.Error{Errors: []gql.ErrorEntry{{Message: "x"}}}, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNonRetryableFetchError_TruncatesBody(t *testing.T) {
	body := make([]byte, 2*maxErrorBody)
	for i := range body {
		body[i] = 'a'
	}
	err := &NonRetryableFetchError{StatusCode: 500, ContentType: "text/plain", Body: body}

	if got := len(err.Error()); got > maxErrorBody+100 {
		t.Errorf("error string length = %d, want bounded", got)
	}
}
