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
	Server  ServerConfig  `mapstructure:"server"`
	HN      HNConfig      `mapstructure:"hn"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Filter  FilterConfig  `mapstructure:"filter"`
	Poller  PollerConfig  `mapstructure:"poller"`
	Redis   RedisConfig   `mapstructure:"redis"`
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// HNConfig governs discovery-API access.
type HNConfig struct {
	BaseURL       string  `mapstructure:"base_url"`
	UserAgent     string  `mapstructure:"user_agent"`
	Concurrency   int     `mapstructure:"concurrency"`
	TopLimit      int     `mapstructure:"top_limit"`
	NewLimit      int     `mapstructure:"new_limit"`
	ExtendedLists bool    `mapstructure:"extended_lists"`
	RateLimit     float64 `mapstructure:"rate_limit"`
	RateBurst     int     `mapstructure:"rate_burst"`
}

// HTTPConfig configures HTTP client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
}

// FilterConfig carries the ingestion quality thresholds.
type FilterConfig struct {
	MinScore      int `mapstructure:"min_score"`
	MinComments   int `mapstructure:"min_comments"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

// PollerConfig selects the run mode and catch-up pacing.
type PollerConfig struct {
	Mode            string `mapstructure:"mode"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	SeenTTLSeconds  int    `mapstructure:"seen_ttl_seconds"`
	UpdatesCap      int    `mapstructure:"updates_cap"`
	CatchupBatchMax int    `mapstructure:"catchup_batch_max"`
}

// RedisConfig controls access to the coordination store.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HNINGEST")
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
	v.SetDefault("hn.base_url", "https://hacker-news.firebaseio.com/v0")
	v.SetDefault("hn.user_agent", "hn-ingest/1.0")
	v.SetDefault("hn.concurrency", 24)
	v.SetDefault("hn.top_limit", 200)
	v.SetDefault("hn.new_limit", 200)
	v.SetDefault("hn.extended_lists", false)
	v.SetDefault("hn.rate_limit", 0)
	v.SetDefault("hn.rate_burst", 1)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 300)
	v.SetDefault("filter.min_score", 50)
	v.SetDefault("filter.min_comments", 20)
	v.SetDefault("filter.window_seconds", 36*3600)
	v.SetDefault("poller.mode", "snapshot")
	v.SetDefault("poller.interval_seconds", 0)
	v.SetDefault("poller.seen_ttl_seconds", 7*24*3600)
	v.SetDefault("poller.updates_cap", 200)
	v.SetDefault("poller.catchup_batch_max", 500)
	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HN.BaseURL == "" {
		return fmt.Errorf("hn.base_url is required")
	}
	if c.HN.Concurrency <= 0 {
		return fmt.Errorf("hn.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Filter.WindowSeconds <= 0 {
		return fmt.Errorf("filter.window_seconds must be > 0")
	}
	if c.Poller.Mode != "snapshot" && c.Poller.Mode != "catchup" {
		return fmt.Errorf("poller.mode must be snapshot or catchup")
	}
	if c.Poller.Mode == "catchup" && c.Poller.IntervalSeconds <= 0 {
		return fmt.Errorf("poller.interval_seconds must be > 0 in catchup mode")
	}
	if c.Poller.SeenTTLSeconds <= 0 {
		return fmt.Errorf("poller.seen_ttl_seconds must be > 0")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial converts the initial backoff config into a duration.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// Window converts the recency window config into a duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.Filter.WindowSeconds) * time.Second
}

// SeenTTL converts the seen-set retention config into a duration.
func (c Config) SeenTTL() time.Duration {
	return time.Duration(c.Poller.SeenTTLSeconds) * time.Second
}
