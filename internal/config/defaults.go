package config

import (
	"net/url"
	"strings"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultResponseTimeout       = 3 * time.Second
	DefaultRetries               = 2
	DefaultBaseDelay             = 50 * time.Millisecond
	DefaultDelayFactor           = 2.0
	DefaultBaseResponseTimeout   = 300 * time.Millisecond
	DefaultResponseTimeoutFactor = 1.5
	DefaultMaxIdleConns          = 100
	DefaultHandshakeTimeout      = 10 * time.Second
	DefaultEstablishTimeout      = 5 * time.Second
	DefaultUnsubscribeTimeout    = 5 * time.Second
	DefaultWriteTimeout          = 5 * time.Second
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "text"
	DefaultLogMaxSizeMB          = 100
	DefaultLogMaxBackups         = 3
	DefaultLogMaxAgeDays         = 28
	DefaultMetricsPort           = 9090
	DefaultMetricsPath           = "/metrics"
	DefaultArchiveBatchSize      = 500
	DefaultArchiveFlushInterval  = 1 * time.Second
	DefaultArchiveBufferSize     = 10000
	DefaultDBPort                = 5432
	DefaultDBSSLMode             = "prefer"
	DefaultMaxConns              = 10
	DefaultMinConns              = 2
)

func (c *Config) applyDefaults() {
	// Endpoint and auth defaults
	if c.GraphQL.Region == "" {
		c.GraphQL.Region = RegionFromURL(c.GraphQL.URL)
	}
	if c.Auth.Mode == "" {
		if c.Auth.APIKey != "" {
			c.Auth.Mode = "api_key"
		} else {
			c.Auth.Mode = "iam"
		}
	}

	// HTTP defaults
	if c.HTTP.ResponseTimeout == 0 {
		c.HTTP.ResponseTimeout = DefaultResponseTimeout
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.RateBurst == 0 {
		c.HTTP.RateBurst = 1
	}
	if c.HTTP.MaxIdleConns == 0 {
		c.HTTP.MaxIdleConns = DefaultMaxIdleConns
	}

	// Retry defaults
	if c.Retry.Retries == 0 {
		c.Retry.Retries = DefaultRetries
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = DefaultBaseDelay
	}
	if c.Retry.DelayFactor == 0 {
		c.Retry.DelayFactor = DefaultDelayFactor
	}
	if c.Retry.BaseResponseTimeout == 0 {
		c.Retry.BaseResponseTimeout = DefaultBaseResponseTimeout
	}
	if c.Retry.ResponseTimeoutFactor == 0 {
		c.Retry.ResponseTimeoutFactor = DefaultResponseTimeoutFactor
	}

	// Realtime defaults
	if c.Realtime.HandshakeTimeout == 0 {
		c.Realtime.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Realtime.EstablishTimeout == 0 {
		c.Realtime.EstablishTimeout = DefaultEstablishTimeout
	}
	if c.Realtime.UnsubscribeTimeout == 0 {
		c.Realtime.UnsubscribeTimeout = DefaultUnsubscribeTimeout
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultWriteTimeout
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = DefaultLogMaxBackups
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = DefaultLogMaxAgeDays
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Archive defaults
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultArchiveBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultArchiveFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultArchiveBufferSize
	}
	applyDBDefaults(&c.Archive.Database)
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

// RegionFromURL extracts the region from a managed endpoint host such as
// abc.appsync-api.us-east-1.amazonaws.com. It returns "" for other hosts.
func RegionFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	labels := strings.Split(u.Hostname(), ".")
	for i, label := range labels {
		if label == "appsync-api" && i+1 < len(labels) {
			return labels[i+1]
		}
	}
	return ""
}
