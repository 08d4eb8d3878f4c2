// Package config loads the appsyncctl YAML configuration.
//
// Values may reference environment variables as ${VAR}; they are expanded
// before parsing so secrets can stay out of the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	GraphQL  GraphQLConfig  `yaml:"graphql"`
	Auth     AuthConfig     `yaml:"auth"`
	HTTP     HTTPConfig     `yaml:"http"`
	Retry    RetryConfig    `yaml:"retry"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// GraphQLConfig identifies the endpoint.
type GraphQLConfig struct {
	URL         string `yaml:"url"`
	RealtimeURL string `yaml:"realtime_url"`
	Region      string `yaml:"region"`
}

// AuthConfig selects and configures request signing.
type AuthConfig struct {
	Mode            string `yaml:"mode"` // iam or api_key
	APIKey          string `yaml:"api_key"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// HTTPConfig configures the query and mutation path.
type HTTPConfig struct {
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	RateLimit       float64       `yaml:"rate_limit"` // Requests per second, 0 disables
	RateBurst       int           `yaml:"rate_burst"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
}

// RetryConfig mirrors the retry strategy. retries: 0 (or unset) selects the
// default of 2; a negative value disables retrying.
type RetryConfig struct {
	Retries               int           `yaml:"retries"`
	BaseDelay             time.Duration `yaml:"base_delay"`
	DelayFactor           float64       `yaml:"delay_factor"`
	BaseResponseTimeout   time.Duration `yaml:"base_response_timeout"`
	ResponseTimeoutFactor float64       `yaml:"response_timeout_factor"`
}

// RealtimeConfig configures the subscription path.
type RealtimeConfig struct {
	HandshakeTimeout       time.Duration `yaml:"handshake_timeout"`
	EstablishTimeout       time.Duration `yaml:"establish_timeout"`
	UnsubscribeTimeout     time.Duration `yaml:"unsubscribe_timeout"`
	WriteTimeout           time.Duration `yaml:"write_timeout"`
	StopOnEstablishTimeout bool          `yaml:"stop_on_establish_timeout"`
}

// LogConfig configures logging. An empty File logs to stderr.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// ArchiveConfig configures persistence of subscription events.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Load reads path, expands environment variables and parses the YAML.
// No defaults are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults loads path and fills unset fields with defaults.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads path, applies defaults and validates the result.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
