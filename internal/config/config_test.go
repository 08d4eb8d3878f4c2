package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
graphql:
  url: https://abc.appsync-api.eu-west-1.amazonaws.com/graphql
auth:
  mode: api_key
  api_key: da2-abc
http:
  response_timeout: 2s
  rate_limit: 5
realtime:
  establish_timeout: 750ms
  stop_on_establish_timeout: true
archive:
  enabled: true
  database:
    host: localhost
    name: events
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.GraphQL.URL != "https://abc.appsync-api.eu-west-1.amazonaws.com/graphql" {
		t.Errorf("GraphQL.URL = %q", cfg.GraphQL.URL)
	}
	if cfg.Auth.APIKey != "da2-abc" {
		t.Errorf("Auth.APIKey = %q, want %q", cfg.Auth.APIKey, "da2-abc")
	}
	if cfg.HTTP.ResponseTimeout != 2*time.Second {
		t.Errorf("HTTP.ResponseTimeout = %v, want 2s", cfg.HTTP.ResponseTimeout)
	}
	if cfg.Realtime.EstablishTimeout != 750*time.Millisecond {
		t.Errorf("Realtime.EstablishTimeout = %v, want 750ms", cfg.Realtime.EstablishTimeout)
	}
	if !cfg.Realtime.StopOnEstablishTimeout {
		t.Error("Realtime.StopOnEstablishTimeout = false, want true")
	}
	if cfg.Archive.Database.Host != "localhost" {
		t.Errorf("Archive.Database.Host = %q, want %q", cfg.Archive.Database.Host, "localhost")
	}
	// Load applies no defaults
	if cfg.Retry.Retries != 0 {
		t.Errorf("Retry.Retries = %d, want 0", cfg.Retry.Retries)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_APPSYNC_KEY", "da2-secret")

	yaml := `
graphql:
  url: https://abc.appsync-api.us-east-1.amazonaws.com/graphql
auth:
  api_key: ${TEST_APPSYNC_KEY}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.APIKey != "da2-secret" {
		t.Errorf("Auth.APIKey = %q, want %q", cfg.Auth.APIKey, "da2-secret")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
graphql:
  url: https://abc.appsync-api.us-east-1.amazonaws.com/graphql
auth:
  api_key: da2-abc
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Auth.Mode != "api_key" {
		t.Errorf("Auth.Mode = %q, want %q", cfg.Auth.Mode, "api_key")
	}
	if cfg.GraphQL.Region != "us-east-1" {
		t.Errorf("GraphQL.Region = %q, want %q", cfg.GraphQL.Region, "us-east-1")
	}
	if cfg.HTTP.ResponseTimeout != DefaultResponseTimeout {
		t.Errorf("HTTP.ResponseTimeout = %v, want default %v", cfg.HTTP.ResponseTimeout, DefaultResponseTimeout)
	}
	if cfg.Retry.Retries != DefaultRetries {
		t.Errorf("Retry.Retries = %d, want default %d", cfg.Retry.Retries, DefaultRetries)
	}
	if cfg.Retry.BaseResponseTimeout != DefaultBaseResponseTimeout {
		t.Errorf("Retry.BaseResponseTimeout = %v, want default %v", cfg.Retry.BaseResponseTimeout, DefaultBaseResponseTimeout)
	}
	if cfg.Realtime.HandshakeTimeout != DefaultHandshakeTimeout {
		t.Errorf("Realtime.HandshakeTimeout = %v, want default %v", cfg.Realtime.HandshakeTimeout, DefaultHandshakeTimeout)
	}
	if cfg.Log.Level != DefaultLogLevel || cfg.Log.Format != DefaultLogFormat {
		t.Errorf("Log = %+v, want level %q format %q", cfg.Log, DefaultLogLevel, DefaultLogFormat)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if cfg.Archive.Database.Port != DefaultDBPort {
		t.Errorf("Archive.Database.Port = %d, want default %d", cfg.Archive.Database.Port, DefaultDBPort)
	}
}

func TestLoadWithDefaults_RetriesDisabled(t *testing.T) {
	path := writeTempFile(t, `
graphql:
  url: https://abc.appsync-api.us-east-1.amazonaws.com/graphql
auth:
  api_key: da2-key
retry:
  retries: -1
`)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if cfg.Retry.Retries != -1 {
		t.Errorf("Retry.Retries = %d, want -1", cfg.Retry.Retries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "graphql:\n  url: https://abc.appsync-api.us-east-1.amazonaws.com/graphql\n")

	_, err := LoadAndValidate(path)
	if err == nil {
		t.Fatal("LoadAndValidate() expected error for missing iam credentials")
	}
	if !strings.Contains(err.Error(), "auth.access_key_id") {
		t.Errorf("LoadAndValidate() error = %q", err)
	}

	if _, err := LoadAndValidate(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadAndValidate() expected error for missing file")
	}
}

func TestRegionFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://abc.appsync-api.us-east-1.amazonaws.com/graphql", "us-east-1"},
		{"https://abc.appsync-api.ap-southeast-2.amazonaws.com/graphql", "ap-southeast-2"},
		{"https://api.example.com/graphql", ""},
		{"::bad", ""},
	}

	for _, tt := range tests {
		if got := RegionFromURL(tt.url); got != tt.want {
			t.Errorf("RegionFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{
			GraphQL: GraphQLConfig{URL: "https://abc.appsync-api.us-east-1.amazonaws.com/graphql"},
			Auth:    AuthConfig{APIKey: "da2-abc"},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "missing url",
			mutate:  func(c *Config) { c.GraphQL.URL = "" },
			wantErr: "graphql.url is required",
		},
		{
			name:    "non http url",
			mutate:  func(c *Config) { c.GraphQL.URL = "ftp://x/graphql" },
			wantErr: `graphql.url must be an http(s) url, got "ftp://x/graphql"`,
		},
		{
			name:    "bad realtime url",
			mutate:  func(c *Config) { c.GraphQL.RealtimeURL = "https://x/graphql" },
			wantErr: `graphql.realtime_url must be a ws(s) url, got "https://x/graphql"`,
		},
		{
			name:    "unknown auth mode",
			mutate:  func(c *Config) { c.Auth.Mode = "oidc" },
			wantErr: `auth.mode must be iam or api_key, got "oidc"`,
		},
		{
			name: "iam without region",
			mutate: func(c *Config) {
				c.Auth = AuthConfig{Mode: "iam", AccessKeyID: "a", SecretAccessKey: "b"}
				c.GraphQL.Region = ""
			},
			wantErr: "graphql.region is required when auth.mode is iam",
		},
		{
			name:    "iam with credentials",
			mutate:  func(c *Config) { c.Auth = AuthConfig{Mode: "iam", AccessKeyID: "a", SecretAccessKey: "b"} },
			wantErr: "",
		},
		{
			name:    "delay factor below one",
			mutate:  func(c *Config) { c.Retry.DelayFactor = 0.5 },
			wantErr: "retry.delay_factor must be >= 1, got 0.5",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "trace" },
			wantErr: `log.level must be one of debug, info, warn, error, got "trace"`,
		},
		{
			name:    "bad metrics port",
			mutate:  func(c *Config) { c.Metrics = MetricsConfig{Enabled: true, Port: 70000} },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "archive missing host",
			mutate:  func(c *Config) { c.Archive.Enabled = true },
			wantErr: "archive.database.host is required",
		},
		{
			name: "archive min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Database = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 5, MinConns: 10}
			},
			wantErr: "archive.database.min_conns (10) cannot exceed max_conns (5)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
