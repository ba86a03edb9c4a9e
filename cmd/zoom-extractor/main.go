package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/curtbushko/zoom-extractor/internal/config"
	"github.com/curtbushko/zoom-extractor/internal/dates"
	"github.com/curtbushko/zoom-extractor/internal/directory"
	"github.com/curtbushko/zoom-extractor/internal/download"
	"github.com/curtbushko/zoom-extractor/internal/logging"
	"github.com/curtbushko/zoom-extractor/internal/metrics"
	"github.com/curtbushko/zoom-extractor/internal/processor"
	"github.com/curtbushko/zoom-extractor/internal/progress"
	"github.com/curtbushko/zoom-extractor/internal/retry"
	"github.com/curtbushko/zoom-extractor/internal/state"
	"github.com/curtbushko/zoom-extractor/internal/users"
	"github.com/curtbushko/zoom-extractor/internal/zoom"
)

var (
	// Version information - will be set during build
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile   string
	outputDir    string
	fromDate     string
	toDate       string
	userFlags    []string
	concurrency  int
	dryRun       bool
	includeTrash bool
	resetState   bool
	verbose      bool
	metricsAddr  string
)

// dryRunStateName keeps dry runs from marking files a real run still has to download
const dryRunStateName = "extraction_state.dry_run.json"

// recentErrors is the number of error records the status command prints
const recentErrors = 10

// createRootCommand creates and configures the root command
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zoom-extractor",
		Short: "Extract every Zoom cloud recording of an account to local disk",
		Long: `zoom-extractor walks every user of a Zoom account, lists their cloud
recordings month by month and downloads each file into a deterministic
directory tree.

Progress is checkpointed, so an interrupted run picks up where it stopped:
- Users, date windows, meetings and files already finished are skipped
- Partial downloads resume with HTTP range requests
- Every file outcome is appended to an inventory log
- meta.json and files.csv are written next to each meeting's files`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				printConfigGuidance(cmd, err)
				return err
			}

			if err := runExtraction(cmd.Context(), cmd, cfg); err != nil {
				cmd.PrintErrf("Extraction failed: %v\n", err)
				return err
			}
			return nil
		},
	}

	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
	rootCmd.AddCommand(createStatusCommand())
	rootCmd.AddCommand(createResetCommand())

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.yaml", "configuration file path")
	rootCmd.PersistentFlags().StringVar(&outputDir, "output-dir", "", "base output directory (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "list what would be downloaded without writing files")
	rootCmd.Flags().StringVar(&fromDate, "from", "", "first day to extract, YYYY-MM-DD (overrides config)")
	rootCmd.Flags().StringVar(&toDate, "to", "", "last day to extract, YYYY-MM-DD (default: today)")
	rootCmd.Flags().StringSliceVar(&userFlags, "user", nil, "only extract this user email or ID (repeatable)")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 0, "simultaneous downloads (overrides config)")
	rootCmd.Flags().BoolVar(&includeTrash, "include-trash", false, "include recordings in the trash")
	rootCmd.Flags().BoolVar(&resetState, "reset", false, "discard the checkpoint before starting")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if concurrency < 0 {
			return fmt.Errorf("concurrency must be a positive number, got: %d", concurrency)
		}
		for _, value := range []string{fromDate, toDate} {
			if value == "" {
				continue
			}
			if _, err := dates.Parse(value); err != nil {
				return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", value)
			}
		}
		return nil
	}

	return rootCmd
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display version, commit, and build information for zoom-extractor",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("zoom-extractor version %s\n", version)
			cmd.Printf("Commit: %s\n", commit)
			cmd.Printf("Build date: %s\n", buildDate)
		},
	}
}

// createConfigCommand creates the config help subcommand
func createConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show configuration file structure and examples",
		Long:  "Display the configuration file structure, environment variables and the output layout",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(configHelp)
		},
	}
}

// createStatusCommand prints the checkpoint summary without calling Zoom
func createStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show extraction progress from the checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := directory.NewResolver(statusOutputDir())
			path := statePath(resolver, dryRun)
			found, err := checkpointExists(path)
			if err != nil {
				return err
			}
			if !found {
				cmd.Printf("No checkpoint found at %s\n", path)
				return nil
			}

			st, outcome, err := state.Open(path, 0)
			if err != nil {
				return err
			}
			if outcome == state.OutcomeCorrupt {
				return fmt.Errorf("checkpoint %s is corrupt", path)
			}
			progress.PrintStatus(cmd.OutOrStdout(), st.Summary())
			progress.PrintRecentErrors(cmd.OutOrStdout(), st.Errors(), recentErrors)
			return nil
		},
	}
}

// checkpointExists reports whether path or a leftover of an interrupted save exists
func checkpointExists(path string) (bool, error) {
	for _, p := range []string{path, path + ".tmp", path + ".bak"} {
		_, err := os.Stat(p)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return false, err
		}
	}
	return false, nil
}

// createResetCommand deletes the checkpoints of the output directory
func createResetCommand() *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the extraction checkpoint",
		Long:  "Delete the extraction checkpoints so the next run starts over. Downloaded files are kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := directory.NewResolver(statusOutputDir())
			if !confirmed {
				cmd.Printf("This deletes the checkpoints in %s. Re-run with --yes to confirm.\n", resolver.MetadataDir())
				return nil
			}

			for _, name := range []string{state.FileName, dryRunStateName} {
				path := filepath.Join(resolver.MetadataDir(), name)
				for _, p := range []string{path, path + ".bak", path + ".tmp"} {
					if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
						return fmt.Errorf("failed to remove %s: %w", p, err)
					}
				}
			}
			cmd.Printf("Checkpoint removed from %s\n", resolver.MetadataDir())
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the reset")
	return cmd
}

// loadConfig loads the config file and environment, then applies command line overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if outputDir != "" {
		cfg.Extraction.OutputDir = outputDir
	}
	if fromDate != "" {
		cfg.Extraction.FromDate = fromDate
	}
	if toDate != "" {
		cfg.Extraction.ToDate = toDate
	}
	if concurrency > 0 {
		cfg.Extraction.Concurrency = concurrency
	}
	if flags.Changed("dry-run") {
		cfg.Extraction.DryRun = dryRun
	}
	if flags.Changed("include-trash") {
		cfg.Extraction.IncludeTrash = includeTrash
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddr = metricsAddr
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// runExtraction wires the components and runs one extraction
func runExtraction(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := logging.InitializeLogging(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger := logging.GetDefaultLogger()
	defer logger.Close()

	from, to, err := cfg.Extraction.DateRange(time.Now().UTC())
	if err != nil {
		return err
	}

	resolver := directory.NewResolver(cfg.Extraction.OutputDir)
	if err := resolver.Prepare(); err != nil {
		return err
	}

	collector := metrics.NewCollector()
	if cfg.Metrics.Enabled {
		go func() {
			if err := collector.Serve(ctx, cfg.Metrics.ListenAddr); err != nil {
				logger.Error("Metrics endpoint stopped: %v", err)
			}
		}()
		logger.Info("Serving metrics on %s/metrics", cfg.Metrics.ListenAddr)
	}

	policy := retry.FromConfig(cfg.Retry)
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		collector.RecordRetry()
		logger.Debug("Retry %d in %s after: %v", attempt, delay, err)
	}
	limiter := retry.NewRateLimiter(cfg.Retry.RequestsPerSecond, int(cfg.Retry.RequestsPerSecond))

	cachePath := cfg.Zoom.TokenCacheFile
	if cachePath == "" {
		cachePath = filepath.Join(resolver.MetadataDir(), "token_cache.json")
	}
	creds := zoom.NewCredentialStore(cfg.Zoom, cachePath)
	creds.OnRefresh = collector.RecordTokenRefresh

	transport := zoom.NewRetryTransport(&http.Client{Timeout: cfg.Zoom.APITimeout()}, creds, policy, limiter, collector)
	client := zoom.NewClient(transport, cfg.Zoom.BaseURL, zoom.ClientOptions{
		PageSizeUsers:      cfg.Extraction.PageSizeUsers,
		PageSizeRecordings: cfg.Extraction.PageSizeRecordings,
		IncludeTrash:       cfg.Extraction.IncludeTrash,
	})

	filter, err := users.FromConfig(cfg.Users, userFlags)
	if err != nil {
		return err
	}
	defer filter.Close()

	st, outcome, err := state.Open(statePath(resolver, cfg.Extraction.DryRun), cfg.Extraction.FlushEvery)
	if err != nil {
		return err
	}
	if resetState {
		if err := st.Reset(); err != nil {
			return fmt.Errorf("failed to reset checkpoint: %w", err)
		}
	} else {
		logger.Info("Checkpoint: %s (%s)", st.Path(), outcome)
	}
	if err := st.UpdateSettings(state.Settings{
		FromDate:     from.Format(dates.Layout),
		ToDate:       to.Format(dates.Layout),
		OutputDir:    resolver.Base(),
		DryRun:       cfg.Extraction.DryRun,
		IncludeTrash: cfg.Extraction.IncludeTrash,
		Concurrency:  cfg.Extraction.Concurrency,
		UserFilter:   filter.Entries(),
	}); err != nil {
		return err
	}

	inventory, err := state.OpenInventory(filepath.Join(resolver.LogsDir(), state.InventoryFileName))
	if err != nil {
		return err
	}
	defer inventory.Close()

	manager := download.NewManager(&http.Client{}, creds, policy, limiter, collector, download.ConfigFrom(cfg.Extraction))
	extractor, err := processor.NewExtractor(processor.Dependencies{
		Client:    client,
		Users:     users.NewLister(client, filter, cfg.Extraction.IncludeInactive),
		State:     st,
		Inventory: inventory,
		Resolver:  resolver,
		Downloads: download.NewPool(manager, cfg.Extraction.Concurrency),
		Reporter: progress.NewReporter(progress.ReporterConfig{
			Writer: cmd.OutOrStdout(),
			Every:  cfg.Extraction.ProgressEvery,
		}, logger),
		Metrics: collector,
		Logger:  logger,
	}, processor.Config{From: from, To: to, DryRun: cfg.Extraction.DryRun})
	if err != nil {
		return err
	}

	logger.Info("Extracting recordings from %s to %s into %s", from.Format(dates.Layout), to.Format(dates.Layout), resolver.Base())
	summary, err := extractor.Run(ctx)
	if summary != nil && summary.Cancelled {
		cmd.Printf("Interrupted. Run the same command again to resume.\n")
		return nil
	}
	return err
}

// statePath returns the checkpoint file for real or dry runs
func statePath(resolver *directory.Resolver, dryRun bool) string {
	if dryRun {
		return filepath.Join(resolver.MetadataDir(), dryRunStateName)
	}
	return filepath.Join(resolver.MetadataDir(), state.FileName)
}

// statusOutputDir finds the output directory without requiring credentials
func statusOutputDir() string {
	if outputDir != "" {
		return outputDir
	}
	if cfg, err := config.LoadConfig(configFile); err == nil {
		return cfg.Extraction.OutputDir
	}
	if val := os.Getenv("ZOOM_OUTPUT_DIR"); val != "" {
		return val
	}
	return config.Default().Extraction.OutputDir
}

func printConfigGuidance(cmd *cobra.Command, err error) {
	w := cmd.ErrOrStderr()
	fmt.Fprintf(w, "Configuration error: %v\n\n", err)

	hasEnvCreds := os.Getenv("ZOOM_ACCOUNT_ID") != "" &&
		os.Getenv("ZOOM_CLIENT_ID") != "" &&
		os.Getenv("ZOOM_CLIENT_SECRET") != ""
	if !hasEnvCreds && strings.Contains(err.Error(), "is required") {
		fmt.Fprintf(w, "Provide Zoom Server-to-Server OAuth credentials in %s or the environment:\n", configFile)
		fmt.Fprintf(w, "   export ZOOM_ACCOUNT_ID='your-account-id'\n")
		fmt.Fprintf(w, "   export ZOOM_CLIENT_ID='your-client-id'\n")
		fmt.Fprintf(w, "   export ZOOM_CLIENT_SECRET='your-client-secret'\n\n")
	}
	fmt.Fprintf(w, "For the configuration structure: zoom-extractor config\n")
}

const configHelp = `Configuration File Structure (config.yaml):

ZOOM API CONFIGURATION (Required):
=================================
zoom:
  account_id: "your_zoom_account_id"       # Account ID of the Server-to-Server OAuth app
  client_id: "your_zoom_client_id"
  client_secret: "your_zoom_client_secret"
  base_url: "https://api.zoom.us/v2"       # default
  token_url: "https://zoom.us/oauth/token" # default
  token_cache_file: ""                     # default: <output_dir>/_metadata/token_cache.json
  api_timeout_seconds: 30

# REQUIRED SCOPES: user:read:admin, recording:read:admin

EXTRACTION CONFIGURATION:
========================
extraction:
  output_dir: "./zoom_extraction"
  from_date: "2020-01-01"          # YYYY-MM-DD
  to_date: ""                      # YYYY-MM-DD, default: today
  concurrency: 2                   # simultaneous downloads (1-10)
  page_size_users: 30
  page_size_recordings: 300
  include_trash: false
  include_inactive: true
  dry_run: false
  flush_every: 10                  # checkpoint writes every N changes
  progress_every: 10               # progress line every N meetings
  download_timeout_seconds: 300

RETRY CONFIGURATION:
===================
retry:
  max_attempts: 5
  base_delay_ms: 1000
  max_delay_ms: 60000
  factor: 2.0
  jitter: true
  requests_per_second: 10

LOGGING CONFIGURATION:
=====================
logging:
  level: "info"                    # debug, info, warn, error
  file: ""                         # optional log file
  console: true
  json_format: false

USER FILTERING (Optional):
=========================
users:
  filter: []                       # emails or user IDs, case-insensitive
  filter_file: ""                  # one email or ID per line, # for comments
  watch: false                     # reload filter_file when it changes

METRICS (Optional):
==================
metrics:
  enabled: false
  listen_addr: ":9090"             # serves /metrics

ENVIRONMENT VARIABLES:
=====================
  ZOOM_ACCOUNT_ID, ZOOM_CLIENT_ID, ZOOM_CLIENT_SECRET
  ZOOM_BASE_URL, ZOOM_OUTPUT_DIR, ZOOM_FROM_DATE, ZOOM_TO_DATE, ZOOM_CONCURRENCY

EXAMPLE USAGE:
=============
  zoom-extractor --from 2023-01-01 --to 2023-12-31
  zoom-extractor --user alice@example.com --user bob@example.com --dry-run
  zoom-extractor status
  zoom-extractor reset --yes

DIRECTORY STRUCTURE:
==================
zoom_extraction/
├── _metadata/
│   ├── extraction_state.json
│   └── token_cache.json
├── _logs/
│   └── inventory.jsonl
└── alice@example.com/
    └── 20240115_100000_Weekly_sync_123456789/
        ├── 20240115_100000_MP4.mp4
        ├── meta.json
        └── files.csv
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := createRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
