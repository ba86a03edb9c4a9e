// Package state persists extraction progress so an interrupted run can resume
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/curtbushko/zoom-extractor/internal/logging"
)

// FileName is the checkpoint file name inside the metadata directory
const FileName = "extraction_state.json"

// DefaultFlushEvery is the number of mutations between automatic saves
const DefaultFlushEvery = 10

// ErrCorruptCheckpoint is returned when a checkpoint file exists but cannot be parsed
var ErrCorruptCheckpoint = errors.New("checkpoint is corrupt")

// FileStatus is the terminal outcome of a recording file
type FileStatus string

const (
	StatusDownloaded FileStatus = "downloaded"
	StatusSkipped    FileStatus = "skipped"
	StatusFailed     FileStatus = "failed"
	StatusError      FileStatus = "error"
	StatusDryRun     FileStatus = "dry_run"
)

// Valid reports whether s is a terminal status
func (s FileStatus) Valid() bool {
	switch s {
	case StatusDownloaded, StatusSkipped, StatusFailed, StatusError, StatusDryRun:
		return true
	}
	return false
}

// LoadOutcome tells the caller what Open found on disk
type LoadOutcome int

const (
	// OutcomeFresh means no checkpoint existed
	OutcomeFresh LoadOutcome = iota
	// OutcomeResumed means the checkpoint loaded cleanly
	OutcomeResumed
	// OutcomeCorrupt means the checkpoint and its backup were unreadable; progress was lost
	OutcomeCorrupt
	// OutcomeRecoveredFromBackup means the checkpoint was missing or unreadable and a
	// leftover .tmp or .bak from an interrupted save loaded
	OutcomeRecoveredFromBackup
)

func (o LoadOutcome) String() string {
	switch o {
	case OutcomeFresh:
		return "fresh"
	case OutcomeResumed:
		return "resumed"
	case OutcomeCorrupt:
		return "corrupt"
	case OutcomeRecoveredFromBackup:
		return "recovered_from_backup"
	default:
		return "unknown"
	}
}

// FileRecord is a processed file entry in the checkpoint
type FileRecord struct {
	FileID    string     `json:"file_id"`
	Status    FileStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorRecord is a non-fatal failure kept for diagnosis
type ErrorRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Context     string    `json:"context"`
	UserID      string    `json:"user_id,omitempty"`
	MeetingUUID string    `json:"meeting_uuid,omitempty"`
	FileID      string    `json:"file_id,omitempty"`
	Error       string    `json:"error"`
}

// Settings records the options of the run that produced the checkpoint
type Settings struct {
	FromDate     string   `json:"from_date,omitempty"`
	ToDate       string   `json:"to_date,omitempty"`
	OutputDir    string   `json:"output_dir,omitempty"`
	DryRun       bool     `json:"dry_run"`
	IncludeTrash bool     `json:"include_trash"`
	Concurrency  int      `json:"concurrency,omitempty"`
	UserFilter   []string `json:"user_filter,omitempty"`
}

// Progress holds the processed sets and counters
type Progress struct {
	UsersProcessed       []string     `json:"users_processed"`
	DateWindowsProcessed []string     `json:"date_windows_processed"`
	MeetingsProcessed    []string     `json:"meetings_processed"`
	FilesProcessed       []FileRecord `json:"files_processed"`
	TotalUsers           int          `json:"total_users"`
	TotalMeetings        int          `json:"total_meetings"`
	TotalFiles           int          `json:"total_files"`
	FilesDownloaded      int          `json:"files_downloaded"`
	FilesSkipped         int          `json:"files_skipped"`
	FilesFailed          int          `json:"files_failed"`
	FilesErrored         int          `json:"files_errored"`
	FilesDryRun          int          `json:"files_dry_run"`
}

// Checkpoint is the on-disk representation of the state
type Checkpoint struct {
	ExtractionID string        `json:"extraction_id"`
	StartTime    time.Time     `json:"start_time"`
	LastUpdate   time.Time     `json:"last_update"`
	Settings     Settings      `json:"settings"`
	Progress     Progress      `json:"progress"`
	Errors       []ErrorRecord `json:"errors"`
}

// ProgressSummary is a point-in-time view of the run
type ProgressSummary struct {
	ExtractionID      string
	StartTime         time.Time
	LastUpdate        time.Time
	UsersProcessed    int
	UsersTotal        int
	WindowsProcessed  int
	MeetingsProcessed int
	MeetingsTotal     int
	FilesTotal        int
	FilesByStatus     map[FileStatus]int
	Remaining         int
	PercentComplete   float64
	Errors            int
}

// ExtractionState tracks processed users, windows, meetings and files. Lists are kept
// for the JSON checkpoint and maps for lookups. All methods are safe for concurrent use.
type ExtractionState struct {
	mu         sync.Mutex
	path       string
	flushEvery int
	dirty      int
	now        func() time.Time
	logger     logging.Logger

	checkpoint Checkpoint
	users      map[string]struct{}
	windows    map[string]struct{}
	meetings   map[string]struct{}
	files      map[string]FileStatus
}

// Open loads the checkpoint at path. A missing or corrupt file is not an error: the
// newest complete .tmp or .bak is used, or an empty state is returned, and the outcome
// says which case applied. Only I/O failures other than a missing file are returned
// as errors.
func Open(path string, flushEvery int) (*ExtractionState, LoadOutcome, error) {
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	s := &ExtractionState{
		path:       path,
		flushEvery: flushEvery,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logging.GetDefaultLogger(),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, OutcomeFresh, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	checkpoint, err := readCheckpoint(path)
	switch {
	case err == nil:
		s.setCheckpoint(*checkpoint)
		s.logger.Info("Resuming extraction %s from %s", checkpoint.ExtractionID, path)
		return s, OutcomeResumed, nil

	case errors.Is(err, os.ErrNotExist):
		if recovered, from, ok := readFallback(path); ok {
			s.logger.Warn("Checkpoint %s is missing, recovered progress from %s", path, from)
			s.setCheckpoint(*recovered)
			return s, OutcomeRecoveredFromBackup, nil
		}
		s.logger.Warn("No checkpoint found at %s, starting fresh", path)
		s.setCheckpoint(s.newCheckpoint())
		return s, OutcomeFresh, nil

	case errors.Is(err, ErrCorruptCheckpoint):
		s.logger.Warn("Checkpoint is corrupt: %v", err)
		if recovered, from, ok := readFallback(path); ok {
			s.logger.Warn("Recovered progress from %s", from)
			s.setCheckpoint(*recovered)
			return s, OutcomeRecoveredFromBackup, nil
		}
		s.logger.Warn("No usable checkpoint backup, starting fresh; earlier progress is lost")
		s.setCheckpoint(s.newCheckpoint())
		return s, OutcomeCorrupt, nil

	default:
		return nil, OutcomeFresh, fmt.Errorf("failed to read checkpoint: %w", err)
	}
}

// Path returns the checkpoint file path
func (s *ExtractionState) Path() string {
	return s.path
}

// ExtractionID returns the identifier of the run that created the checkpoint
func (s *ExtractionState) ExtractionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint.ExtractionID
}

// Settings returns the recorded run settings
func (s *ExtractionState) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint.Settings
}

// UpdateSettings records the settings of the current run
func (s *ExtractionState) UpdateSettings(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint.Settings = settings
	return s.mutatedLocked()
}

// SetTotals adds to the discovered totals
func (s *ExtractionState) SetTotals(users, meetings, files int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint.Progress.TotalUsers += users
	s.checkpoint.Progress.TotalMeetings += meetings
	s.checkpoint.Progress.TotalFiles += files
	return s.mutatedLocked()
}

// IsUserProcessed reports whether every window of the user is done
func (s *ExtractionState) IsUserProcessed(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[userID]
	return ok
}

// MarkUserProcessed records a finished user. Marking twice is a no-op.
func (s *ExtractionState) MarkUserProcessed(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; ok {
		return nil
	}
	s.users[userID] = struct{}{}
	s.checkpoint.Progress.UsersProcessed = append(s.checkpoint.Progress.UsersProcessed, userID)
	return s.mutatedLocked()
}

// WindowKey builds the checkpoint key of a user's date window
func WindowKey(userID, start, end string) string {
	return userID + ":" + start + ":" + end
}

// IsWindowProcessed reports whether the user's window [start, end] is done.
// start and end are YYYY-MM-DD dates.
func (s *ExtractionState) IsWindowProcessed(userID, start, end string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.windows[WindowKey(userID, start, end)]
	return ok
}

// MarkWindowProcessed records a finished window. Marking twice is a no-op.
func (s *ExtractionState) MarkWindowProcessed(userID, start, end string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := WindowKey(userID, start, end)
	if _, ok := s.windows[key]; ok {
		return nil
	}
	s.windows[key] = struct{}{}
	s.checkpoint.Progress.DateWindowsProcessed = append(s.checkpoint.Progress.DateWindowsProcessed, key)
	return s.mutatedLocked()
}

// IsMeetingProcessed reports whether every file of the meeting has a terminal status
func (s *ExtractionState) IsMeetingProcessed(uuid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.meetings[uuid]
	return ok
}

// MarkMeetingProcessed records a finished meeting. Marking twice is a no-op.
func (s *ExtractionState) MarkMeetingProcessed(uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[uuid]; ok {
		return nil
	}
	s.meetings[uuid] = struct{}{}
	s.checkpoint.Progress.MeetingsProcessed = append(s.checkpoint.Progress.MeetingsProcessed, uuid)
	return s.mutatedLocked()
}

// IsFileProcessed reports whether the file has a terminal status
func (s *ExtractionState) IsFileProcessed(fileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[fileID]
	return ok
}

// FileStatus returns the recorded status of a file
func (s *ExtractionState) FileStatus(fileID string) (FileStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.files[fileID]
	return status, ok
}

// MarkFileProcessed records the terminal status of a file. Marking an already
// recorded file changes neither its status nor the counters.
func (s *ExtractionState) MarkFileProcessed(fileID string, status FileStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid file status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[fileID]; ok {
		return nil
	}
	s.files[fileID] = status
	s.checkpoint.Progress.FilesProcessed = append(s.checkpoint.Progress.FilesProcessed, FileRecord{
		FileID:    fileID,
		Status:    status,
		Timestamp: s.now(),
	})
	s.countLocked(status)
	return s.mutatedLocked()
}

// RecordError appends a diagnostic error record
func (s *ExtractionState) RecordError(record ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.Timestamp.IsZero() {
		record.Timestamp = s.now()
	}
	s.checkpoint.Errors = append(s.checkpoint.Errors, record)
	return s.mutatedLocked()
}

// Errors returns a copy of the recorded errors
func (s *ExtractionState) Errors() []ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ErrorRecord(nil), s.checkpoint.Errors...)
}

// Summary returns the current progress
func (s *ExtractionState) Summary() ProgressSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.checkpoint.Progress
	byStatus := map[FileStatus]int{
		StatusDownloaded: p.FilesDownloaded,
		StatusSkipped:    p.FilesSkipped,
		StatusFailed:     p.FilesFailed,
		StatusError:      p.FilesErrored,
		StatusDryRun:     p.FilesDryRun,
	}

	finished := p.FilesDownloaded + p.FilesSkipped + p.FilesFailed + p.FilesErrored + p.FilesDryRun
	remaining := p.TotalFiles - finished
	if remaining < 0 {
		remaining = 0
	}

	var percent float64
	if p.TotalFiles > 0 {
		percent = float64(p.FilesDownloaded+p.FilesSkipped+p.FilesDryRun) / float64(p.TotalFiles) * 100
	}

	return ProgressSummary{
		ExtractionID:      s.checkpoint.ExtractionID,
		StartTime:         s.checkpoint.StartTime,
		LastUpdate:        s.checkpoint.LastUpdate,
		UsersProcessed:    len(p.UsersProcessed),
		UsersTotal:        p.TotalUsers,
		WindowsProcessed:  len(p.DateWindowsProcessed),
		MeetingsProcessed: len(p.MeetingsProcessed),
		MeetingsTotal:     p.TotalMeetings,
		FilesTotal:        p.TotalFiles,
		FilesByStatus:     byStatus,
		Remaining:         remaining,
		PercentComplete:   percent,
		Errors:            len(s.checkpoint.Errors),
	}
}

// Flush saves the state if there are unsaved mutations
func (s *ExtractionState) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty == 0 {
		return nil
	}
	return s.saveLocked()
}

// Save writes the state to disk unconditionally
func (s *ExtractionState) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// Reset discards all progress and starts a new extraction ID
func (s *ExtractionState) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCheckpoint(s.newCheckpoint())
	s.logger.Info("Extraction state reset")
	return s.saveLocked()
}

func (s *ExtractionState) countLocked(status FileStatus) {
	p := &s.checkpoint.Progress
	switch status {
	case StatusDownloaded:
		p.FilesDownloaded++
	case StatusSkipped:
		p.FilesSkipped++
	case StatusFailed:
		p.FilesFailed++
	case StatusError:
		p.FilesErrored++
	case StatusDryRun:
		p.FilesDryRun++
	}
}

func (s *ExtractionState) mutatedLocked() error {
	s.dirty++
	if s.dirty >= s.flushEvery {
		return s.saveLocked()
	}
	return nil
}

// saveLocked writes <path>.tmp, copies the current file to <path>.bak and renames the
// temp file over the current one. The primary file is never absent once written.
func (s *ExtractionState) saveLocked() error {
	s.checkpoint.LastUpdate = s.now()

	data, err := json.MarshalIndent(s.checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := writeFileSync(tmpPath, data); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	current, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if err := writeFileSync(s.path+".bak", current); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to back up checkpoint: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		os.Remove(tmpPath)
		return fmt.Errorf("failed to back up checkpoint: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}

	s.dirty = 0
	return nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// readFallback loads the newest usable leftover of an interrupted save. A complete
// temp file is newer than the backup.
func readFallback(path string) (*Checkpoint, string, bool) {
	for _, candidate := range []string{path + ".tmp", path + ".bak"} {
		if checkpoint, err := readCheckpoint(candidate); err == nil {
			return checkpoint, candidate, true
		}
	}
	return nil, "", false
}

func readCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptCheckpoint, path, err)
	}
	if checkpoint.ExtractionID == "" {
		return nil, fmt.Errorf("%w: %s: missing extraction_id", ErrCorruptCheckpoint, path)
	}
	return &checkpoint, nil
}

func (s *ExtractionState) newCheckpoint() Checkpoint {
	now := s.now()
	return Checkpoint{
		ExtractionID: uuid.NewString(),
		StartTime:    now,
		LastUpdate:   now,
		Progress: Progress{
			UsersProcessed:       []string{},
			DateWindowsProcessed: []string{},
			MeetingsProcessed:    []string{},
			FilesProcessed:       []FileRecord{},
		},
		Errors: []ErrorRecord{},
	}
}

// setCheckpoint installs cp and rebuilds the lookup maps, dropping duplicate entries
func (s *ExtractionState) setCheckpoint(cp Checkpoint) {
	s.users = make(map[string]struct{}, len(cp.Progress.UsersProcessed))
	s.windows = make(map[string]struct{}, len(cp.Progress.DateWindowsProcessed))
	s.meetings = make(map[string]struct{}, len(cp.Progress.MeetingsProcessed))
	s.files = make(map[string]FileStatus, len(cp.Progress.FilesProcessed))

	cp.Progress.UsersProcessed = dedupe(cp.Progress.UsersProcessed, s.users)
	cp.Progress.DateWindowsProcessed = dedupe(cp.Progress.DateWindowsProcessed, s.windows)
	cp.Progress.MeetingsProcessed = dedupe(cp.Progress.MeetingsProcessed, s.meetings)

	files := make([]FileRecord, 0, len(cp.Progress.FilesProcessed))
	for _, record := range cp.Progress.FilesProcessed {
		if _, ok := s.files[record.FileID]; ok {
			continue
		}
		s.files[record.FileID] = record.Status
		files = append(files, record)
	}
	cp.Progress.FilesProcessed = files
	if cp.Errors == nil {
		cp.Errors = []ErrorRecord{}
	}

	s.checkpoint = cp
	s.dirty = 0
}

func dedupe(values []string, seen map[string]struct{}) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
