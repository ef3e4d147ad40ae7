// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Site    SiteConfig    `mapstructure:"site"`
	Fetcher FetcherConfig `mapstructure:"fetcher"`
	DB      DBConfig      `mapstructure:"db"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Server  ServerConfig  `mapstructure:"server"`
	Digest  DigestConfig  `mapstructure:"digest"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SiteConfig identifies the scraped marketplace.
type SiteConfig struct {
	BaseURL          string   `mapstructure:"base_url"`
	CategorySeeds    []string `mapstructure:"category_seeds"`
	MaxDepth         int      `mapstructure:"max_depth"`
	FeaturedMaxDepth int      `mapstructure:"featured_max_depth"`
}

// FetcherConfig governs the rate-limited fetcher.
type FetcherConfig struct {
	DelayMs        int `mapstructure:"delay_ms"`
	MaxConcurrency int `mapstructure:"max_concurrency"`
	MaxRetries     int `mapstructure:"max_retries"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// QueueConfig selects and configures the job queue backend.
type QueueConfig struct {
	Provider       string `mapstructure:"provider"` // "memory" or "pubsub"
	Depth          int    `mapstructure:"depth"`
	ProjectID      string `mapstructure:"project_id"`
	TopicID        string `mapstructure:"topic_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// ArchiveConfig selects the raw-HTML archive backend.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"` // "none", "memory", or "gcs"
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// WorkerConfig governs the job consumer loop.
type WorkerConfig struct {
	DispatchIntervalSeconds int `mapstructure:"dispatch_interval_seconds"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DigestConfig controls daily digest mail.
type DigestConfig struct {
	FromAddress string `mapstructure:"from_address"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("APPSCRAPER")
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
	v.SetDefault("site.base_url", "https://apps.example.com")
	v.SetDefault("site.max_depth", 3)
	v.SetDefault("site.featured_max_depth", 2)
	v.SetDefault("fetcher.delay_ms", 1500)
	v.SetDefault("fetcher.max_concurrency", 2)
	v.SetDefault("fetcher.max_retries", 3)
	v.SetDefault("fetcher.timeout_seconds", 30)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("queue.depth", 1024)
	v.SetDefault("archive.provider", "none")
	v.SetDefault("worker.dispatch_interval_seconds", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("digest.from_address", "digest@storepulse.dev")
	v.SetDefault("logging.development", false)
}

// Validate checks cross-field constraints before the config is handed out.
func (c Config) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url is required")
	}
	if c.Fetcher.DelayMs < 0 {
		return fmt.Errorf("fetcher.delay_ms must not be negative")
	}
	if c.Fetcher.MaxConcurrency < 1 {
		return fmt.Errorf("fetcher.max_concurrency must be at least 1")
	}
	if c.Fetcher.MaxRetries < 0 {
		return fmt.Errorf("fetcher.max_retries must not be negative")
	}
	switch c.Queue.Provider {
	case "memory":
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.TopicID == "" || c.Queue.SubscriptionID == "" {
			return fmt.Errorf("queue.project_id, queue.topic_id and queue.subscription_id are required for the pubsub queue")
		}
	default:
		return fmt.Errorf("unknown queue provider %q", c.Queue.Provider)
	}
	switch c.Archive.Provider {
	case "none", "memory":
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("unknown archive provider %q", c.Archive.Provider)
	}
	if c.Worker.DispatchIntervalSeconds < 1 {
		return fmt.Errorf("worker.dispatch_interval_seconds must be at least 1")
	}
	return nil
}

// FetchDelay returns the minimum spacing between outbound requests.
func (c FetcherConfig) FetchDelay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// Timeout returns the per-request HTTP timeout.
func (c FetcherConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DispatchInterval returns the minimum spacing between job dispatches.
func (c WorkerConfig) DispatchInterval() time.Duration {
	return time.Duration(c.DispatchIntervalSeconds) * time.Second
}
