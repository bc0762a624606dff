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
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Query   QueryConfig   `mapstructure:"query"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DBConfig locates the sqlite database file.
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig toggles zap development features and the log level.
type LoggingConfig struct {
	Debug bool   `mapstructure:"debug"`
	Level string `mapstructure:"level"`
}

// CrawlerConfig governs the live crawl pipeline.
type CrawlerConfig struct {
	BaseURL         string  `mapstructure:"base_url"`
	UserAgent       string  `mapstructure:"user_agent"`
	CacheTTLMinutes int     `mapstructure:"cache_ttl_minutes"`
	RateRPS         float64 `mapstructure:"rate_rps"`
	RateBurst       int     `mapstructure:"rate_burst"`
}

// HTTPConfig configures outbound HTTP client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// QueryConfig bounds the advanced query system.
type QueryConfig struct {
	MaxLimit int `mapstructure:"max_limit"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MALODY")
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
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("db.path", "malody_rankings.db")
	v.SetDefault("logging.debug", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("crawler.base_url", "https://m.mugzone.net")
	v.SetDefault("crawler.user_agent", "malody-api/1.2")
	v.SetDefault("crawler.cache_ttl_minutes", 5)
	v.SetDefault("crawler.rate_rps", 2)
	v.SetDefault("crawler.rate_burst", 4)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("query.max_limit", 500)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}
	if c.Crawler.BaseURL == "" {
		return fmt.Errorf("crawler.base_url is required")
	}
	if c.Crawler.CacheTTLMinutes <= 0 {
		return fmt.Errorf("crawler.cache_ttl_minutes must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Query.MaxLimit <= 0 {
		return fmt.Errorf("query.max_limit must be > 0")
	}
	return nil
}

// CacheTTL converts the configured TTL into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Crawler.CacheTTLMinutes) * time.Minute
}

// FetchTimeout converts the HTTP timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffBase converts the initial backoff config into a duration.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax converts the backoff ceiling config into a duration.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
