// Package auth signs GraphQL requests for the managed endpoint.
//
// Two modes are supported:
//   - iam: AWS Signature Version 4 over method, host, path and body
//   - api_key: a static x-api-key header
//
// Signers return a header map. The HTTP path applies it to the request; the
// realtime path embeds it in the handshake URL and in each start frame.
package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// ServiceName is the SigV4 service name of the managed GraphQL endpoint.
const ServiceName = "appsync"

// Auth modes.
const (
	ModeIAM    = "iam"
	ModeAPIKey = "api_key"
)

// Request is the part of an HTTP request covered by a signature.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Body   []byte
}

// Signer produces authentication headers for one request. Signatures cover
// the body, so a fresh call is required for every payload.
type Signer interface {
	Sign(ctx context.Context, req Request) (map[string]string, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, req Request) (map[string]string, error)

func (f SignerFunc) Sign(ctx context.Context, req Request) (map[string]string, error) {
	return f(ctx, req)
}

// MissingCredentialsError is returned at construction time when the
// configured auth mode lacks a required value.
type MissingCredentialsError struct {
	Mode  string
	Field string
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("missing credentials: %s mode requires %s", e.Mode, e.Field)
}

// SigV4Signer signs requests with AWS Signature Version 4.
type SigV4Signer struct {
	region      string
	credentials aws.CredentialsProvider
	signer      *v4.Signer
	now         func() time.Time
}

// NewSigV4Signer creates a signer for region. Credentials are resolved once
// to fail fast on an empty provider and cached afterwards.
func NewSigV4Signer(ctx context.Context, region string, provider aws.CredentialsProvider) (*SigV4Signer, error) {
	if region == "" {
		return nil, &MissingCredentialsError{Mode: ModeIAM, Field: "region"}
	}
	if provider == nil {
		return nil, &MissingCredentialsError{Mode: ModeIAM, Field: "credentials provider"}
	}

	cache := aws.NewCredentialsCache(provider)
	creds, err := cache.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve credentials: %w", err)
	}
	if !creds.HasKeys() {
		return nil, &MissingCredentialsError{Mode: ModeIAM, Field: "access key id and secret access key"}
	}

	return &SigV4Signer{
		region:      region,
		credentials: cache,
		signer:      v4.NewSigner(),
		now:         time.Now,
	}, nil
}

// StaticCredentials returns a provider for fixed keys.
func StaticCredentials(accessKeyID, secretAccessKey, sessionToken string) aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken)
}

// Sign computes SigV4 headers for req. The returned map includes host.
func (s *SigV4Signer) Sign(ctx context.Context, req Request) (map[string]string, error) {
	creds, err := s.credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve credentials: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build signing request: %w", err)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	sum := sha256.Sum256(req.Body)
	if err := s.signer.SignHTTP(ctx, creds, httpReq, hex.EncodeToString(sum[:]), ServiceName, s.region, s.now()); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	headers := make(map[string]string, len(httpReq.Header)+1)
	for k := range httpReq.Header {
		headers[k] = httpReq.Header.Get(k)
	}
	headers["host"] = httpReq.URL.Host
	return headers, nil
}

// APIKeySigner authenticates with a static API key.
type APIKeySigner struct {
	key string
}

// NewAPIKeySigner creates an API key signer.
func NewAPIKeySigner(key string) (*APIKeySigner, error) {
	if key == "" {
		return nil, &MissingCredentialsError{Mode: ModeAPIKey, Field: "api key"}
	}
	return &APIKeySigner{key: key}, nil
}

// Sign returns the host and x-api-key headers.
func (s *APIKeySigner) Sign(_ context.Context, req Request) (map[string]string, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	headers := make(map[string]string, len(req.Header)+2)
	for k, v := range req.Header {
		headers[k] = v
	}
	headers["host"] = u.Host
	headers["x-api-key"] = s.key
	return headers, nil
}
