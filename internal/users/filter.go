// Package users selects which Zoom users an extraction covers
package users

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/curtbushko/zoom-extractor/internal/config"
	"github.com/curtbushko/zoom-extractor/internal/email"
	"github.com/curtbushko/zoom-extractor/internal/logging"
	"github.com/curtbushko/zoom-extractor/internal/zoom"
)

// FilterConfig holds configuration for the user filter
type FilterConfig struct {
	Entries   []string // Emails or user ids given directly
	FilePath  string   // File with one email or id per line; empty disables it
	WatchFile bool     // Reload the file when it changes
}

// FilterStats provides statistics about the filter
type FilterStats struct {
	TotalEntries int
	LastUpdated  time.Time
	FilePath     string
	FileSize     int64
	IsWatching   bool
}

// Filter matches users by email or id, ignoring case. An empty filter allows everyone.
type Filter struct {
	config FilterConfig

	mu          sync.RWMutex
	static      []string
	fromFile    []string
	entries     map[string]bool
	stats       FilterStats
	watcher     *fsnotify.Watcher
	stopWatch   chan struct{}
	watchClosed sync.Once
}

// FromConfig builds a filter from the users config section. CLI entries replace the configured list.
func FromConfig(cfg config.UsersConfig, cliEntries []string) (*Filter, error) {
	entries := cfg.Filter
	if len(cliEntries) > 0 {
		entries = cliEntries
	}
	return NewFilter(FilterConfig{
		Entries:   entries,
		FilePath:  cfg.FilterFile,
		WatchFile: cfg.Watch,
	})
}

// NewFilter creates a filter, loading and optionally watching the filter file
func NewFilter(cfg FilterConfig) (*Filter, error) {
	f := &Filter{
		config:    cfg,
		static:    parseEntries(cfg.Entries),
		stopWatch: make(chan struct{}),
		stats: FilterStats{
			FilePath:   cfg.FilePath,
			IsWatching: cfg.WatchFile && cfg.FilePath != "",
		},
	}
	f.rebuild()

	if cfg.FilePath == "" {
		return f, nil
	}

	if err := f.Reload(); err != nil {
		return nil, fmt.Errorf("failed to load user filter: %w", err)
	}

	if cfg.WatchFile {
		if err := f.setupFileWatcher(); err != nil {
			return nil, fmt.Errorf("failed to setup file watcher: %w", err)
		}
	}

	return f, nil
}

// Enabled reports whether any entry restricts the users
func (f *Filter) Enabled() bool {
	if f == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries) > 0
}

// Allows reports whether user matches an entry by email or id
func (f *Filter) Allows(user zoom.User) bool {
	if f == nil {
		return true
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.entries) == 0 {
		return true
	}
	return f.entries[email.Normalize(user.Email)] || f.entries[strings.ToLower(user.ID)]
}

// Entries returns the normalized entries in load order
func (f *Filter) Entries() []string {
	if f == nil {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make([]string, 0, len(f.static)+len(f.fromFile))
	seen := make(map[string]bool)
	for _, entry := range append(append([]string{}, f.static...), f.fromFile...) {
		if !seen[entry] {
			seen[entry] = true
			result = append(result, entry)
		}
	}
	return result
}

// Stats returns statistics about the filter
func (f *Filter) Stats() FilterStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stats
}

// Reload reads the filter file again. A failed reload keeps the previous entries.
func (f *Filter) Reload() error {
	if f.config.FilePath == "" {
		return nil
	}

	file, err := os.Open(f.config.FilePath)
	if err != nil {
		return fmt.Errorf("failed to open user filter file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading user filter file: %w", err)
	}

	entries := parseEntries(lines)

	f.mu.Lock()
	f.fromFile = entries
	f.stats.LastUpdated = time.Now()
	f.stats.FileSize = info.Size()
	f.rebuildLocked()
	f.mu.Unlock()

	logging.Debug("Loaded %d user filter entries from %s", len(entries), f.config.FilePath)
	return nil
}

// Close stops the file watcher
func (f *Filter) Close() error {
	if f == nil || f.watcher == nil {
		return nil
	}
	var err error
	f.watchClosed.Do(func() {
		close(f.stopWatch)
		err = f.watcher.Close()
	})
	return err
}

func (f *Filter) rebuild() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuildLocked()
}

func (f *Filter) rebuildLocked() {
	f.entries = make(map[string]bool, len(f.static)+len(f.fromFile))
	for _, entry := range f.static {
		f.entries[entry] = true
	}
	for _, entry := range f.fromFile {
		f.entries[entry] = true
	}
	f.stats.TotalEntries = len(f.entries)
}

// parseEntries normalizes raw lines. Blank lines and # comments are ignored,
// as are entries that look like emails but are not valid.
func parseEntries(lines []string) []string {
	var entries []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(line, "@") && !email.IsValid(line) {
			logging.Warn("Ignoring invalid email in user filter: %q", line)
			continue
		}
		entries = append(entries, strings.ToLower(line))
	}
	return entries
}

// setupFileWatcher watches the directory so editors that replace the file are noticed
func (f *Filter) setupFileWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(f.config.FilePath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch file: %w", err)
	}

	f.watcher = watcher
	go f.watchFileChanges()
	return nil
}

func (f *Filter) watchFileChanges() {
	target := filepath.Clean(f.config.FilePath)
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				// Small delay to let the writer finish
				time.Sleep(10 * time.Millisecond)
				if err := f.Reload(); err != nil {
					logging.Warn("Failed to reload user filter: %v", err)
				}
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("User filter watcher error: %v", err)

		case <-f.stopWatch:
			return
		}
	}
}
