package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearZoomEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ZOOM_ACCOUNT_ID", "ZOOM_CLIENT_ID", "ZOOM_CLIENT_SECRET", "ZOOM_BASE_URL",
		"ZOOM_OUTPUT_DIR", "ZOOM_FROM_DATE", "ZOOM_TO_DATE", "ZOOM_CONCURRENCY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name               string
		configYAML         string
		expectedZoom       ZoomConfig
		expectedExtraction ExtractionConfig
		shouldError        bool
	}{
		{
			name: "complete configuration",
			configYAML: `
zoom:
  account_id: "test_account_id"
  client_id: "test_client_id"
  client_secret: "test_client_secret"
  base_url: "https://api.zoom.us/v2"
  token_url: "https://zoom.us/oauth/token"
  token_cache_file: "/tmp/token.json"
  api_timeout_seconds: 20

extraction:
  output_dir: "./out"
  from_date: "2024-01-05"
  to_date: "2024-03-20"
  concurrency: 3
  page_size_users: 30
  page_size_recordings: 100
  include_trash: true
  dry_run: true
  flush_every: 5
  progress_every: 20
  download_timeout_seconds: 120

logging:
  level: "debug"
  console: false
`,
			expectedZoom: ZoomConfig{
				AccountID:         "test_account_id",
				ClientID:          "test_client_id",
				ClientSecret:      "test_client_secret",
				BaseURL:           "https://api.zoom.us/v2",
				TokenURL:          "https://zoom.us/oauth/token",
				TokenCacheFile:    "/tmp/token.json",
				APITimeoutSeconds: 20,
			},
			expectedExtraction: ExtractionConfig{
				OutputDir:              "./out",
				FromDate:               "2024-01-05",
				ToDate:                 "2024-03-20",
				Concurrency:            3,
				PageSizeUsers:          30,
				PageSizeRecordings:     100,
				IncludeTrash:           true,
				DryRun:                 true,
				FlushEvery:             5,
				ProgressEvery:          20,
				DownloadTimeoutSeconds: 120,
			},
		},
		{
			name: "minimal configuration with defaults",
			configYAML: `
zoom:
  account_id: "test_account"
  client_id: "test_client"
  client_secret: "test_secret"
`,
			expectedZoom: ZoomConfig{
				AccountID:         "test_account",
				ClientID:          "test_client",
				ClientSecret:      "test_secret",
				BaseURL:           "https://api.zoom.us/v2",
				TokenURL:          "https://zoom.us/oauth/token",
				APITimeoutSeconds: 30,
			},
			expectedExtraction: ExtractionConfig{
				OutputDir:              "./zoom_extraction",
				FromDate:               "2020-01-01",
				Concurrency:            2,
				PageSizeUsers:          30,
				PageSizeRecordings:     300,
				FlushEvery:             10,
				ProgressEvery:          10,
				DownloadTimeoutSeconds: 300,
			},
		},
		{
			name: "missing required zoom fields",
			configYAML: `
zoom:
  account_id: "test_account"
`,
			shouldError: true,
		},
		{
			name: "page size over provider limit",
			configYAML: `
zoom:
  account_id: "a"
  client_id: "b"
  client_secret: "c"
extraction:
  page_size_recordings: 500
`,
			shouldError: true,
		},
		{
			name: "to date before from date",
			configYAML: `
zoom:
  account_id: "a"
  client_id: "b"
  client_secret: "c"
extraction:
  from_date: "2024-03-01"
  to_date: "2024-01-01"
`,
			shouldError: true,
		},
		{
			name:        "invalid YAML",
			configYAML:  "invalid: yaml: content: [unclosed",
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearZoomEnv(t)
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create temp config file: %v", err)
			}

			config, err := LoadConfig(configPath)

			if tt.shouldError {
				if err == nil {
					t.Errorf("Expected error, but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if config.Zoom != tt.expectedZoom {
				t.Errorf("Zoom config = %+v, want %+v", config.Zoom, tt.expectedZoom)
			}
			if config.Extraction != tt.expectedExtraction {
				t.Errorf("Extraction config = %+v, want %+v", config.Extraction, tt.expectedExtraction)
			}
		})
	}
}

func TestLoadConfigConsoleDefault(t *testing.T) {
	clearZoomEnv(t)
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yaml := `
zoom:
  account_id: "a"
  client_id: "b"
  client_secret: "c"
`
	if err := os.WriteFile(configPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !config.Logging.Console {
		t.Error("Expected console logging to default to true")
	}
	if !config.Retry.Jitter {
		t.Error("Expected retry jitter to default to true")
	}
	if config.Retry.MaxAttempts != 5 {
		t.Errorf("Expected 5 retry attempts by default, got %d", config.Retry.MaxAttempts)
	}
}

func TestLoadConfigEnvironmentOnly(t *testing.T) {
	clearZoomEnv(t)
	t.Setenv("ZOOM_ACCOUNT_ID", "env_account")
	t.Setenv("ZOOM_CLIENT_ID", "env_client")
	t.Setenv("ZOOM_CLIENT_SECRET", "env_secret")
	t.Setenv("ZOOM_OUTPUT_DIR", "/data/zoom")
	t.Setenv("ZOOM_CONCURRENCY", "4")

	config, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Expected missing config file to be tolerated, got: %v", err)
	}

	if config.Zoom.AccountID != "env_account" {
		t.Errorf("Expected account id from env, got %s", config.Zoom.AccountID)
	}
	if config.Extraction.OutputDir != "/data/zoom" {
		t.Errorf("Expected output dir from env, got %s", config.Extraction.OutputDir)
	}
	if config.Extraction.Concurrency != 4 {
		t.Errorf("Expected concurrency 4 from env, got %d", config.Extraction.Concurrency)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	clearZoomEnv(t)
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yaml := `
zoom:
  account_id: "file_account"
  client_id: "file_client"
  client_secret: "file_secret"
`
	if err := os.WriteFile(configPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ZOOM_CLIENT_SECRET", "env_secret")

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if config.Zoom.ClientSecret != "env_secret" {
		t.Errorf("Expected env to override client secret, got %s", config.Zoom.ClientSecret)
	}
	if config.Zoom.AccountID != "file_account" {
		t.Errorf("Expected file account id to be kept, got %s", config.Zoom.AccountID)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero concurrency", func(c *Config) { c.Extraction.Concurrency = 0 }, "concurrency"},
		{"too much concurrency", func(c *Config) { c.Extraction.Concurrency = 11 }, "concurrency"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad from date", func(c *Config) { c.Extraction.FromDate = "01/05/2024" }, "from_date"},
		{"max delay below base", func(c *Config) { c.Retry.MaxDelayMS = 10 }, "max_delay_ms"},
		{"missing secret", func(c *Config) { c.Zoom.ClientSecret = "" }, "client_secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.Zoom.AccountID = "a"
			c.Zoom.ClientID = "b"
			c.Zoom.ClientSecret = "c"
			tt.mutate(c)

			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDateRange(t *testing.T) {
	now := time.Date(2024, 6, 15, 13, 45, 0, 0, time.UTC)

	from, to, err := ExtractionConfig{FromDate: "2024-01-05"}.DateRange(now)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !from.Equal(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("from = %v", from)
	}
	if !to.Equal(time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected to_date to default to today, got %v", to)
	}
}

func TestTimeoutDurations(t *testing.T) {
	c := Default()
	if c.Zoom.APITimeout() != 30*time.Second {
		t.Errorf("APITimeout() = %v, want 30s", c.Zoom.APITimeout())
	}
	if c.Extraction.DownloadTimeout() != 300*time.Second {
		t.Errorf("DownloadTimeout() = %v, want 300s", c.Extraction.DownloadTimeout())
	}
}
