// Package progress reports extraction progress to the console and the log
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/curtbushko/zoom-extractor/internal/logging"
	"github.com/curtbushko/zoom-extractor/internal/state"
)

// DefaultEvery is the number of meetings between progress lines
const DefaultEvery = 10

// Totals are the outcome counts of a single run
type Totals struct {
	Downloaded int
	Skipped    int
	Failed     int
	Errors     int
	DryRun     int
	Bytes      int64
	Duration   time.Duration
}

// Add counts one file outcome
func (t *Totals) Add(status state.FileStatus, bytes int64) {
	switch status {
	case state.StatusDownloaded:
		t.Downloaded++
		t.Bytes += bytes
	case state.StatusSkipped:
		t.Skipped++
	case state.StatusFailed:
		t.Failed++
	case state.StatusError:
		t.Errors++
	case state.StatusDryRun:
		t.DryRun++
	}
}

// ReporterConfig holds configuration for progress reporting
type ReporterConfig struct {
	Writer io.Writer // Where summaries are printed (default: os.Stdout)
	Every  int       // Meetings between progress lines
}

// Reporter prints a progress line every N meetings and a final summary
type Reporter struct {
	config ReporterConfig
	logger logging.Logger

	mu       sync.Mutex
	meetings int
}

// NewReporter creates a reporter. logger may be nil to use the default logger.
func NewReporter(config ReporterConfig, logger logging.Logger) *Reporter {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	if config.Every <= 0 {
		config.Every = DefaultEvery
	}
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &Reporter{config: config, logger: logger}
}

// MeetingDone counts a finished meeting and logs progress on every Nth one.
// It reports whether a line was logged.
func (r *Reporter) MeetingDone(summary state.ProgressSummary) bool {
	r.mu.Lock()
	r.meetings++
	due := r.meetings%r.config.Every == 0
	r.mu.Unlock()

	if due {
		r.logger.Info("%s", ProgressLine(summary))
	}
	return due
}

// Finish prints the run totals and the overall checkpoint progress
func (r *Reporter) Finish(totals Totals, summary state.ProgressSummary) {
	w := r.config.Writer
	fmt.Fprintf(w, "\nSummary:\n")
	fmt.Fprintf(w, "- Downloaded: %d\n", totals.Downloaded)
	fmt.Fprintf(w, "- Skipped: %d\n", totals.Skipped)
	fmt.Fprintf(w, "- Failed: %d\n", totals.Failed)
	fmt.Fprintf(w, "- Errors: %d\n", totals.Errors)
	fmt.Fprintf(w, "- Dry run: %d\n", totals.DryRun)
	if totals.Bytes > 0 {
		fmt.Fprintf(w, "- Total size: %s\n", formatBytes(totals.Bytes))
	}
	fmt.Fprintf(w, "- Time elapsed: %s\n", formatDuration(totals.Duration))
	fmt.Fprintf(w, "- Overall: [%s] %.1f%% (%d files remaining)\n",
		createProgressBar(summary.PercentComplete, 30), summary.PercentComplete, summary.Remaining)

	r.logger.LogPerformance(logging.PerformanceMetrics{
		Operation:      "extraction",
		Duration:       totals.Duration,
		BytesProcessed: totals.Bytes,
		Success:        totals.Failed == 0 && totals.Errors == 0,
		Metadata: map[string]interface{}{
			"downloaded": totals.Downloaded,
			"skipped":    totals.Skipped,
			"failed":     totals.Failed,
			"errors":     totals.Errors,
			"dry_run":    totals.DryRun,
		},
	})
}

// PrintStatus writes a checkpoint summary without touching the network
func PrintStatus(w io.Writer, summary state.ProgressSummary) {
	fmt.Fprintf(w, "Extraction: %s\n", summary.ExtractionID)
	if !summary.StartTime.IsZero() {
		fmt.Fprintf(w, "Started: %s\n", summary.StartTime.Format(time.RFC3339))
	}
	if !summary.LastUpdate.IsZero() {
		fmt.Fprintf(w, "Last update: %s\n", summary.LastUpdate.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Users: %d/%d\n", summary.UsersProcessed, summary.UsersTotal)
	fmt.Fprintf(w, "Date windows: %d\n", summary.WindowsProcessed)
	fmt.Fprintf(w, "Meetings: %d/%d\n", summary.MeetingsProcessed, summary.MeetingsTotal)
	fmt.Fprintf(w, "Files: %d total, %d remaining\n", summary.FilesTotal, summary.Remaining)
	for _, status := range []state.FileStatus{state.StatusDownloaded, state.StatusSkipped, state.StatusFailed, state.StatusError, state.StatusDryRun} {
		fmt.Fprintf(w, "  %-10s %d\n", status, summary.FilesByStatus[status])
	}
	fmt.Fprintf(w, "Errors: %d\n", summary.Errors)
	fmt.Fprintf(w, "[%s] %.1f%%\n", createProgressBar(summary.PercentComplete, 40), summary.PercentComplete)
}

// PrintRecentErrors writes the last limit error records, newest last
func PrintRecentErrors(w io.Writer, records []state.ErrorRecord, limit int) {
	if len(records) == 0 {
		return
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	fmt.Fprintf(w, "Recent errors:\n")
	for _, record := range records {
		target := record.FileID
		if target == "" {
			target = record.MeetingUUID
		}
		if target == "" {
			target = record.UserID
		}
		fmt.Fprintf(w, "  %s %-16s %s: %s\n", record.Timestamp.Format(time.RFC3339), record.Context, target, record.Error)
	}
}

// ProgressLine renders a one-line progress update
func ProgressLine(summary state.ProgressSummary) string {
	return fmt.Sprintf("Progress: users %d/%d, meetings %d, files %d/%d (%.1f%%), %d errors",
		summary.UsersProcessed, summary.UsersTotal,
		summary.MeetingsProcessed,
		summary.FilesTotal-summary.Remaining, summary.FilesTotal,
		summary.PercentComplete, summary.Errors)
}

// createProgressBar creates a visual progress bar string
func createProgressBar(percent float64, width int) string {
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// formatBytes formats byte count as human readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), units[exp])
}

// formatDuration formats duration as human readable string
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) - minutes*60
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) - hours*60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
