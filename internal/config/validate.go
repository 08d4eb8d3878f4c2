package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.GraphQL.URL == "" {
		return errors.New("graphql.url is required")
	}
	u, err := url.Parse(c.GraphQL.URL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("graphql.url must be an http(s) url, got %q", c.GraphQL.URL)
	}
	if c.GraphQL.RealtimeURL != "" {
		u, err := url.Parse(c.GraphQL.RealtimeURL)
		if err != nil || (u.Scheme != "wss" && u.Scheme != "ws") {
			return fmt.Errorf("graphql.realtime_url must be a ws(s) url, got %q", c.GraphQL.RealtimeURL)
		}
	}

	if err := c.Auth.validate(c.GraphQL.Region); err != nil {
		return err
	}

	if c.HTTP.ResponseTimeout <= 0 {
		return errors.New("http.response_timeout must be > 0")
	}
	if c.HTTP.RateLimit < 0 {
		return errors.New("http.rate_limit must be >= 0")
	}

	if c.Retry.DelayFactor < 1 {
		return fmt.Errorf("retry.delay_factor must be >= 1, got %g", c.Retry.DelayFactor)
	}
	if c.Retry.ResponseTimeoutFactor < 1 {
		return fmt.Errorf("retry.response_timeout_factor must be >= 1, got %g", c.Retry.ResponseTimeoutFactor)
	}
	if c.Retry.BaseDelay < 0 || c.Retry.BaseResponseTimeout <= 0 {
		return errors.New("retry.base_delay must be >= 0 and retry.base_response_timeout > 0")
	}

	if c.Realtime.HandshakeTimeout <= 0 {
		return errors.New("realtime.handshake_timeout must be > 0")
	}
	if c.Realtime.EstablishTimeout <= 0 {
		return errors.New("realtime.establish_timeout must be > 0")
	}
	if c.Realtime.UnsubscribeTimeout <= 0 {
		return errors.New("realtime.unsubscribe_timeout must be > 0")
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if c.Archive.Enabled {
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if c.Archive.BufferSize < 1 {
			return errors.New("archive.buffer_size must be >= 1")
		}
		if err := c.Archive.Database.validate("archive.database"); err != nil {
			return err
		}
	}

	return nil
}

func (a *AuthConfig) validate(region string) error {
	switch a.Mode {
	case "api_key":
		if a.APIKey == "" {
			return errors.New("auth.api_key is required when auth.mode is api_key")
		}
	case "iam":
		if region == "" {
			return errors.New("graphql.region is required when auth.mode is iam")
		}
		if a.AccessKeyID == "" || a.SecretAccessKey == "" {
			return errors.New("auth.access_key_id and auth.secret_access_key are required when auth.mode is iam")
		}
	default:
		return fmt.Errorf("auth.mode must be iam or api_key, got %q", a.Mode)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
