package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingWriteKey is returned when no tracking backend credential is configured.
var ErrMissingWriteKey = errors.New("segment_write_key is required (set SEGMENT_WRITE_KEY)")

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName          string `mapstructure:"app_name"`
	Env              string `mapstructure:"app_env"`
	LogLevel         string `mapstructure:"log_level"`
	MarketplacesFile string `mapstructure:"marketplaces_file"`
	MarketplaceID    string `mapstructure:"marketplace_id"`
	SinksFile        string `mapstructure:"sinks_file"`

	StorageType string `mapstructure:"storage_type"`
	ReviewsDir  string `mapstructure:"reviews_dir"`
	BBoltPath   string `mapstructure:"bbolt_path"`

	SegmentWriteKey string `mapstructure:"segment_write_key"`
	SegmentEndpoint string `mapstructure:"segment_endpoint"`

	HTTPTimeoutSeconds int64         `mapstructure:"http_timeout_seconds"`
	HTTPTimeout        time.Duration `mapstructure:"-"`
	RunIntervalSeconds int64         `mapstructure:"run_interval_seconds"`
	RunInterval        time.Duration `mapstructure:"-"`

	MetricsTextfile string `mapstructure:"metrics_textfile"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "review-watcher")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("marketplaces_file", "./configs/marketplaces.yaml")
	v.SetDefault("marketplace_id", "") // all enabled marketplaces
	v.SetDefault("sinks_file", "")
	v.SetDefault("storage_type", "file")
	v.SetDefault("reviews_dir", "./reviews")
	v.SetDefault("bbolt_path", "./data/reviews.db")
	v.SetDefault("segment_write_key", "")
	v.SetDefault("segment_endpoint", "https://api.segment.io")
	v.SetDefault("http_timeout_seconds", 30)
	v.SetDefault("run_interval_seconds", 0) // run once
	v.SetDefault("metrics_textfile", "")

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// finalize validates raw values and derives durations.
func (c *Config) finalize() error {
	c.SegmentWriteKey = strings.TrimSpace(c.SegmentWriteKey)
	if c.SegmentWriteKey == "" {
		return ErrMissingWriteKey
	}

	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid http_timeout_seconds (must be positive seconds)")
	}
	c.HTTPTimeout = time.Duration(c.HTTPTimeoutSeconds) * time.Second

	if c.RunIntervalSeconds < 0 {
		return fmt.Errorf("invalid run_interval_seconds (must be zero or positive seconds)")
	}
	c.RunInterval = time.Duration(c.RunIntervalSeconds) * time.Second

	c.StorageType = strings.ToLower(strings.TrimSpace(c.StorageType))
	c.MarketplaceID = strings.TrimSpace(c.MarketplaceID)
	return nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.SegmentWriteKey != "" {
		c.SegmentWriteKey = "***"
	}
	return c
}
