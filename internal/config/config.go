// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Classify ClassifyConfig `mapstructure:"classify"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	RecentLimit    int `mapstructure:"recent_limit"`
	PopularLimit   int `mapstructure:"popular_limit"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CaptureConfig governs page fetching and screenshot rendering.
type CaptureConfig struct {
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RenderEnabled     bool    `mapstructure:"render_enabled"`
	RenderMaxParallel int     `mapstructure:"render_max_parallel"`
	RenderTimeoutSec  int     `mapstructure:"render_timeout_seconds"`
	RenderDomainQPS   float64 `mapstructure:"render_domain_qps"`
	ViewportWidth     int     `mapstructure:"viewport_width"`
	ViewportHeight    int     `mapstructure:"viewport_height"`
}

// StorageConfig selects and configures the artifact store.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"` // "gcs", "local", or "memory"
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// DBConfig selects and configures the metadata store.
type DBConfig struct {
	Provider        string `mapstructure:"provider"` // "postgres" or "memory"
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for archive-completed notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// ClassifyConfig configures the AI summary/genre collaborator.
type ClassifyConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	BaseURL      string `mapstructure:"base_url"`
	MaxHTMLBytes int    `mapstructure:"max_html_bytes"`
}

// PipelineConfig controls the periodic re-scrape loop.
type PipelineConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("server.recent_limit", 16)
	v.SetDefault("server.popular_limit", 10)
	v.SetDefault("capture.user_agent", "internet-archiver-bot/0.1")
	v.SetDefault("capture.timeout_seconds", 30)
	v.SetDefault("capture.render_enabled", false)
	v.SetDefault("capture.render_max_parallel", 1)
	v.SetDefault("capture.render_timeout_seconds", 25)
	v.SetDefault("capture.render_domain_qps", 1)
	v.SetDefault("capture.viewport_width", 800)
	v.SetDefault("capture.viewport_height", 600)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("classify.model", "gpt-4o-mini")
	v.SetDefault("classify.max_html_bytes", 40000)
	v.SetDefault("pipeline.enabled", false)
	v.SetDefault("pipeline.interval_minutes", 60)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Capture.TimeoutSeconds <= 0 {
		return fmt.Errorf("capture.timeout_seconds must be > 0")
	}
	if c.Capture.RenderEnabled && c.Capture.RenderMaxParallel <= 0 {
		return fmt.Errorf("capture.render_max_parallel must be > 0 when rendering is enabled")
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.provider is local")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.provider must be gcs, local, or memory")
	}
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("db.provider must be postgres or memory")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_id must be set when pubsub is enabled")
	}
	if c.Classify.Enabled && c.Classify.APIKey == "" {
		return fmt.Errorf("classify.api_key must be set when classify is enabled")
	}
	if c.Pipeline.Enabled && c.Pipeline.IntervalMinutes <= 0 {
		return fmt.Errorf("pipeline.interval_minutes must be > 0 when the pipeline is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// CaptureTimeout returns the page fetch timeout as a duration.
func (c Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Capture.TimeoutSeconds) * time.Second
}

// RenderTimeout returns the screenshot render timeout as a duration.
func (c Config) RenderTimeout() time.Duration {
	return time.Duration(c.Capture.RenderTimeoutSec) * time.Second
}

// ServerTimeout returns the per-request HTTP timeout as a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// PipelineInterval returns the re-scrape sweep interval as a duration.
func (c Config) PipelineInterval() time.Duration {
	return time.Duration(c.Pipeline.IntervalMinutes) * time.Minute
}
