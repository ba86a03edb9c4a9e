// Package config provides configuration management for the zoom-extractor application
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DateLayout is the layout used for from/to dates in config and flags
const DateLayout = "2006-01-02"

// ZoomConfig holds Zoom API authentication and connection settings
type ZoomConfig struct {
	AccountID         string `yaml:"account_id" json:"account_id"`
	ClientID          string `yaml:"client_id" json:"client_id"`
	ClientSecret      string `yaml:"client_secret" json:"-"`
	BaseURL           string `yaml:"base_url" json:"base_url"`
	TokenURL          string `yaml:"token_url" json:"token_url"`
	TokenCacheFile    string `yaml:"token_cache_file" json:"token_cache_file"`
	APITimeoutSeconds int    `yaml:"api_timeout_seconds" json:"api_timeout_seconds"`
}

// APITimeout returns the metadata call timeout as a time.Duration
func (z ZoomConfig) APITimeout() time.Duration {
	return time.Duration(z.APITimeoutSeconds) * time.Second
}

// ExtractionConfig holds settings for a single extraction run
type ExtractionConfig struct {
	OutputDir              string `yaml:"output_dir" json:"output_dir"`
	FromDate               string `yaml:"from_date" json:"from_date"`
	ToDate                 string `yaml:"to_date" json:"to_date"`
	Concurrency            int    `yaml:"concurrency" json:"concurrency"`
	PageSizeUsers          int    `yaml:"page_size_users" json:"page_size_users"`
	PageSizeRecordings     int    `yaml:"page_size_recordings" json:"page_size_recordings"`
	IncludeTrash           bool   `yaml:"include_trash" json:"include_trash"`
	IncludeInactive        bool   `yaml:"include_inactive" json:"include_inactive"`
	DryRun                 bool   `yaml:"dry_run" json:"dry_run"`
	FlushEvery             int    `yaml:"flush_every" json:"flush_every"`
	ProgressEvery          int    `yaml:"progress_every" json:"progress_every"`
	DownloadTimeoutSeconds int    `yaml:"download_timeout_seconds" json:"download_timeout_seconds"`
}

// DownloadTimeout returns the per-request download timeout as a time.Duration
func (e ExtractionConfig) DownloadTimeout() time.Duration {
	return time.Duration(e.DownloadTimeoutSeconds) * time.Second
}

// DateRange parses FromDate and ToDate. ToDate defaults to today.
func (e ExtractionConfig) DateRange(now time.Time) (time.Time, time.Time, error) {
	from, err := time.ParseInLocation(DateLayout, e.FromDate, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from_date %q: %w", e.FromDate, err)
	}
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if e.ToDate != "" {
		to, err = time.ParseInLocation(DateLayout, e.ToDate, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to_date %q: %w", e.ToDate, err)
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to_date %s is before from_date %s", e.ToDate, e.FromDate)
	}
	return from, to, nil
}

// RetryConfig holds HTTP retry and pacing settings
type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts" json:"max_attempts"`
	BaseDelayMS       int     `yaml:"base_delay_ms" json:"base_delay_ms"`
	MaxDelayMS        int     `yaml:"max_delay_ms" json:"max_delay_ms"`
	Factor            float64 `yaml:"factor" json:"factor"`
	Jitter            bool    `yaml:"jitter" json:"jitter"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	Console    bool   `yaml:"console" json:"console"`
	JSONFormat bool   `yaml:"json_format" json:"json_format"`
}

// UsersConfig holds user filtering settings
type UsersConfig struct {
	Filter     []string `yaml:"filter" json:"filter"`
	FilterFile string   `yaml:"filter_file" json:"filter_file"`
	Watch      bool     `yaml:"watch" json:"watch"`
}

// MetricsConfig controls the optional Prometheus endpoint
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// Config represents the complete application configuration
type Config struct {
	Zoom       ZoomConfig       `yaml:"zoom" json:"zoom"`
	Extraction ExtractionConfig `yaml:"extraction" json:"extraction"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Users      UsersConfig      `yaml:"users" json:"users"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
}

// Default returns a configuration with every default applied and no credentials
func Default() *Config {
	c := &Config{
		Retry:   RetryConfig{Jitter: true},
		Logging: LoggingConfig{Console: true},
	}
	c.setDefaults()
	return c
}

// LoadConfig loads configuration from a YAML file with defaults and environment variable overrides.
// A missing file is tolerated so credentials can come from the environment alone.
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	if err := config.loadFromFile(configPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	config.setDefaults()
	config.loadFromEnvironment()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file on top of the current values
func (c *Config) loadFromFile(configPath string) error {
	if configPath == "" {
		return os.ErrNotExist
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// setDefaults applies default values for missing configuration
func (c *Config) setDefaults() {
	if c.Zoom.BaseURL == "" {
		c.Zoom.BaseURL = "https://api.zoom.us/v2"
	}
	if c.Zoom.TokenURL == "" {
		c.Zoom.TokenURL = "https://zoom.us/oauth/token"
	}
	if c.Zoom.APITimeoutSeconds == 0 {
		c.Zoom.APITimeoutSeconds = 30
	}

	if c.Extraction.OutputDir == "" {
		c.Extraction.OutputDir = "./zoom_extraction"
	}
	if c.Extraction.FromDate == "" {
		c.Extraction.FromDate = "2020-01-01"
	}
	if c.Extraction.Concurrency == 0 {
		c.Extraction.Concurrency = 2
	}
	if c.Extraction.PageSizeUsers == 0 {
		c.Extraction.PageSizeUsers = 30
	}
	if c.Extraction.PageSizeRecordings == 0 {
		c.Extraction.PageSizeRecordings = 300
	}
	if c.Extraction.FlushEvery == 0 {
		c.Extraction.FlushEvery = 10
	}
	if c.Extraction.ProgressEvery == 0 {
		c.Extraction.ProgressEvery = 10
	}
	if c.Extraction.DownloadTimeoutSeconds == 0 {
		c.Extraction.DownloadTimeoutSeconds = 300
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.BaseDelayMS == 0 {
		c.Retry.BaseDelayMS = 1000
	}
	if c.Retry.MaxDelayMS == 0 {
		c.Retry.MaxDelayMS = 60000
	}
	if c.Retry.Factor == 0 {
		c.Retry.Factor = 2.0
	}
	if c.Retry.RequestsPerSecond == 0 {
		c.Retry.RequestsPerSecond = 10
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
}

// loadFromEnvironment overrides configuration with environment variables
func (c *Config) loadFromEnvironment() {
	if val := os.Getenv("ZOOM_ACCOUNT_ID"); val != "" {
		c.Zoom.AccountID = val
	}
	if val := os.Getenv("ZOOM_CLIENT_ID"); val != "" {
		c.Zoom.ClientID = val
	}
	if val := os.Getenv("ZOOM_CLIENT_SECRET"); val != "" {
		c.Zoom.ClientSecret = val
	}
	if val := os.Getenv("ZOOM_BASE_URL"); val != "" {
		c.Zoom.BaseURL = val
	}
	if val := os.Getenv("ZOOM_OUTPUT_DIR"); val != "" {
		c.Extraction.OutputDir = val
	}
	if val := os.Getenv("ZOOM_FROM_DATE"); val != "" {
		c.Extraction.FromDate = val
	}
	if val := os.Getenv("ZOOM_TO_DATE"); val != "" {
		c.Extraction.ToDate = val
	}
	if val := os.Getenv("ZOOM_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Extraction.Concurrency = n
		}
	}
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	if c.Zoom.AccountID == "" {
		return fmt.Errorf("zoom.account_id is required")
	}
	if c.Zoom.ClientID == "" {
		return fmt.Errorf("zoom.client_id is required")
	}
	if c.Zoom.ClientSecret == "" {
		return fmt.Errorf("zoom.client_secret is required")
	}
	if c.Zoom.APITimeoutSeconds <= 0 {
		return fmt.Errorf("zoom.api_timeout_seconds must be greater than 0")
	}

	if _, _, err := c.Extraction.DateRange(time.Now().UTC()); err != nil {
		return fmt.Errorf("extraction: %w", err)
	}
	if c.Extraction.Concurrency < 1 || c.Extraction.Concurrency > 10 {
		return fmt.Errorf("extraction.concurrency must be between 1 and 10")
	}
	if c.Extraction.PageSizeUsers < 1 || c.Extraction.PageSizeUsers > 300 {
		return fmt.Errorf("extraction.page_size_users must be between 1 and 300")
	}
	if c.Extraction.PageSizeRecordings < 1 || c.Extraction.PageSizeRecordings > 300 {
		return fmt.Errorf("extraction.page_size_recordings must be between 1 and 300")
	}
	if c.Extraction.FlushEvery < 1 {
		return fmt.Errorf("extraction.flush_every must be >= 1")
	}
	if c.Extraction.DownloadTimeoutSeconds <= 0 {
		return fmt.Errorf("extraction.download_timeout_seconds must be greater than 0")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Retry.Factor < 1 {
		return fmt.Errorf("retry.factor must be >= 1")
	}
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		return fmt.Errorf("retry.max_delay_ms must be >= retry.base_delay_ms")
	}
	if c.Retry.RequestsPerSecond <= 0 {
		return fmt.Errorf("retry.requests_per_second must be greater than 0")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	return nil
}
