// Package processor walks users, monthly windows, meetings and files and drives
// each recording file to a terminal status in the checkpoint.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/curtbushko/zoom-extractor/internal/dates"
	"github.com/curtbushko/zoom-extractor/internal/directory"
	"github.com/curtbushko/zoom-extractor/internal/download"
	"github.com/curtbushko/zoom-extractor/internal/logging"
	"github.com/curtbushko/zoom-extractor/internal/metrics"
	"github.com/curtbushko/zoom-extractor/internal/progress"
	"github.com/curtbushko/zoom-extractor/internal/state"
	"github.com/curtbushko/zoom-extractor/internal/tracking"
	"github.com/curtbushko/zoom-extractor/internal/users"
	"github.com/curtbushko/zoom-extractor/internal/zoom"
)

// Error record contexts
const (
	ContextListRecordings = "list_recordings"
	ContextRefetchMeeting = "refetch_meeting"
	ContextDownloadFile   = "download_file"
	ContextWriteSidecars  = "write_sidecars"
	ContextInventory      = "inventory"
)

// UserSource lists the users to extract
type UserSource interface {
	List(ctx context.Context) ([]zoom.User, users.ListStats, error)
}

// DownloadRunner downloads a batch and returns results in submission order
type DownloadRunner interface {
	Run(ctx context.Context, reqs []download.DownloadRequest) []*download.DownloadResult
}

// Dependencies are the collaborators of an Extractor. Metrics and Logger are optional.
type Dependencies struct {
	Client    zoom.RecordingsClient
	Users     UserSource
	State     *state.ExtractionState
	Inventory *state.Inventory
	Resolver  *directory.Resolver
	Downloads DownloadRunner
	Reporter  *progress.Reporter
	Metrics   *metrics.Collector
	Logger    logging.Logger
}

// Config holds the run parameters
type Config struct {
	From   time.Time
	To     time.Time
	DryRun bool
}

// RunSummary is the outcome of one Run
type RunSummary struct {
	progress.Totals
	Users     int
	Windows   int
	Meetings  int
	Cancelled bool
}

// Extractor runs the extraction
type Extractor struct {
	deps   Dependencies
	config Config
	logger logging.Logger
	now    func() time.Time
}

// NewExtractor validates deps and creates an extractor
func NewExtractor(deps Dependencies, config Config) (*Extractor, error) {
	switch {
	case deps.Client == nil:
		return nil, errors.New("recordings client is required")
	case deps.Users == nil:
		return nil, errors.New("user source is required")
	case deps.State == nil:
		return nil, errors.New("extraction state is required")
	case deps.Inventory == nil:
		return nil, errors.New("inventory is required")
	case deps.Resolver == nil:
		return nil, errors.New("path resolver is required")
	case deps.Downloads == nil:
		return nil, errors.New("download runner is required")
	}
	if config.To.Before(config.From) {
		return nil, fmt.Errorf("from date %s is after to date %s",
			config.From.Format(dates.Layout), config.To.Format(dates.Layout))
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	if deps.Reporter == nil {
		deps.Reporter = progress.NewReporter(progress.ReporterConfig{}, logger)
	}

	return &Extractor{deps: deps, config: config, logger: logger, now: time.Now}, nil
}

// Run extracts every user. Entity failures are recorded and skipped; an auth failure,
// a state write failure or cancellation stops the run. The checkpoint is saved and the
// summary printed in every case once users have been listed.
func (e *Extractor) Run(ctx context.Context) (*RunSummary, error) {
	start := e.now()
	summary := &RunSummary{}

	if err := e.deps.Resolver.Prepare(); err != nil {
		return nil, err
	}

	userList, stats, err := e.deps.Users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	e.logger.Info("Found %d users (%d active, %d inactive, %d duplicates, %d filtered out)",
		len(userList), stats.Active, stats.Inactive, stats.Duplicates, stats.Filtered)

	var runErr error
	if e.deps.State.Summary().UsersTotal == 0 {
		runErr = e.deps.State.SetTotals(len(userList), 0, 0)
	}

	for _, user := range userList {
		if runErr != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		runErr = e.processUser(ctx, user, summary)
	}

	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	if errors.Is(runErr, context.Canceled) {
		summary.Cancelled = true
		e.logger.Warn("Extraction interrupted, saving checkpoint")
	}

	if err := e.deps.State.Save(); err != nil {
		e.logger.Error("Failed to save checkpoint: %v", err)
		if runErr == nil {
			runErr = err
		}
	}

	summary.Duration = e.now().Sub(start)
	e.deps.Reporter.Finish(summary.Totals, e.deps.State.Summary())
	return summary, runErr
}

func (e *Extractor) processUser(ctx context.Context, user zoom.User, summary *RunSummary) error {
	if e.deps.State.IsUserProcessed(user.ID) {
		e.transition(KindUser, user.ID, "", UnitSkipped, nil)
		return nil
	}
	e.transition(KindUser, user.ID, "", UnitInProgress, nil)
	e.logger.Info("Processing user %s (%s)", user.Email, user.ID)

	complete := true
	for window := range dates.Monthly(e.config.From, e.config.To) {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := e.processWindow(ctx, user, window, summary)
		if err != nil {
			return err
		}
		if !done {
			complete = false
		}
	}

	if !complete {
		e.transition(KindUser, user.ID, "", UnitFailed, errors.New("one or more windows did not complete"))
		return nil
	}
	if err := e.deps.State.MarkUserProcessed(user.ID); err != nil {
		return err
	}
	summary.Users++
	e.transition(KindUser, user.ID, "", UnitDone, nil)
	return nil
}

// processWindow reports whether the window completed. The returned error is fatal.
func (e *Extractor) processWindow(ctx context.Context, user zoom.User, window dates.Window, summary *RunSummary) (bool, error) {
	start, end := window.Start.Format(dates.Layout), window.End.Format(dates.Layout)
	key := window.Key(user.ID)
	if e.deps.State.IsWindowProcessed(user.ID, start, end) {
		e.transition(KindWindow, key, user.ID, UnitSkipped, nil)
		return true, nil
	}
	e.transition(KindWindow, key, user.ID, UnitInProgress, nil)
	e.logger.Debug("Listing recordings of %s for %s (%d days)", user.ID, window, window.Days())

	meetings, files := 0, 0
	complete := true
	for meeting, err := range e.deps.Client.ListUserRecordings(ctx, user.ID, window.Start, window.End) {
		if err != nil {
			if fatal(ctx, err) {
				return false, err
			}
			e.logger.Error("Failed to list recordings for %s in %s: %v", user.Email, window, err)
			if recErr := e.recordError(ContextListRecordings, user.ID, "", "", err); recErr != nil {
				return false, recErr
			}
			e.transition(KindWindow, key, user.ID, UnitFailed, err)
			return false, nil
		}

		meetings++
		ready, _ := zoom.ProcessFiles(meeting.RecordingFiles)
		files += len(ready)

		done, err := e.processMeeting(ctx, user, window, meeting, summary)
		if err != nil {
			return false, err
		}
		if !done {
			complete = false
		}
	}

	if !complete {
		e.transition(KindWindow, key, user.ID, UnitFailed, errors.New("one or more meetings did not complete"))
		return false, nil
	}
	if err := e.deps.State.SetTotals(0, meetings, files); err != nil {
		return false, err
	}
	if err := e.deps.State.MarkWindowProcessed(user.ID, start, end); err != nil {
		return false, err
	}
	summary.Windows++
	e.transition(KindWindow, key, user.ID, UnitDone, nil)
	return true, nil
}

// fileOutcome pairs a downloaded file with its result
type fileOutcome struct {
	file   zoom.ProcessedFile
	result *download.DownloadResult
	status state.FileStatus
}

// processMeeting reports whether every file of the meeting reached a terminal status.
// The returned error is fatal.
func (e *Extractor) processMeeting(ctx context.Context, user zoom.User, window dates.Window, meeting zoom.Meeting, summary *RunSummary) (bool, error) {
	if e.deps.State.IsMeetingProcessed(meeting.UUID) {
		e.transition(KindMeeting, meeting.UUID, user.ID, UnitSkipped, nil)
		return true, nil
	}
	e.transition(KindMeeting, meeting.UUID, user.ID, UnitInProgress, nil)

	ready, pending := zoom.ProcessFiles(meeting.RecordingFiles)
	if pending > 0 {
		e.logger.Debug("Meeting %s has %d files still processing, fetching it again", meeting.UUID, pending)
		refreshed, err := e.deps.Client.GetMeetingRecordings(ctx, meeting.UUID)
		switch {
		case err == nil:
			meeting.RecordingFiles = refreshed.RecordingFiles
			ready, pending = zoom.ProcessFiles(meeting.RecordingFiles)
		case fatal(ctx, err):
			return false, err
		default:
			e.logger.Warn("Failed to re-fetch meeting %s: %v", meeting.UUID, err)
			if recErr := e.recordError(ContextRefetchMeeting, user.ID, meeting.UUID, "", err); recErr != nil {
				return false, recErr
			}
		}
	}

	var (
		reqs  []download.DownloadRequest
		queue []zoom.ProcessedFile
	)
	for _, file := range ready {
		if e.deps.State.IsFileProcessed(file.ID) {
			e.transition(KindFile, file.ID, meeting.UUID, UnitSkipped, nil)
			continue
		}
		e.transition(KindFile, file.ID, meeting.UUID, UnitInProgress, nil)
		reqs = append(reqs, download.DownloadRequest{
			ID:          file.ID,
			URL:         file.DownloadURL,
			Destination: e.deps.Resolver.Resolve(user, meeting, file),
			FileSize:    file.Size,
		})
		queue = append(queue, file)
	}

	results := e.deps.Downloads.Run(ctx, reqs)

	complete := pending == 0
	outcomes := make([]fileOutcome, 0, len(results))
	for i, result := range results {
		status, ok := fileStatus(result)
		if !ok {
			complete = false
			continue
		}
		outcomes = append(outcomes, fileOutcome{file: queue[i], result: result, status: status})
	}

	if !e.config.DryRun {
		dir, err := e.deps.Resolver.EnsureMeetingDir(user, meeting)
		if err == nil {
			rows := e.sidecarRows(dir, ready, outcomes)
			err = tracking.WriteSidecars(dir, tracking.NewMeetingMeta(user, meeting, window, rows, e.now()))
		}
		if err != nil {
			e.logger.Error("Failed to write sidecars for meeting %s: %v", meeting.UUID, err)
			if recErr := e.recordError(ContextWriteSidecars, user.ID, meeting.UUID, "", err); recErr != nil {
				return false, recErr
			}
			complete = false
		}
	}

	for _, outcome := range outcomes {
		if err := e.deps.Inventory.Append(e.inventoryEntry(user, meeting, outcome)); err != nil {
			e.logger.Error("Failed to append inventory entry for %s: %v", outcome.file.ID, err)
			if recErr := e.recordError(ContextInventory, user.ID, meeting.UUID, outcome.file.ID, err); recErr != nil {
				return false, recErr
			}
		}
	}

	for _, outcome := range outcomes {
		result := outcome.result
		if err := e.deps.State.MarkFileProcessed(outcome.file.ID, outcome.status); err != nil {
			return false, err
		}
		e.deps.Metrics.RecordFile(string(outcome.status), result.Transferred, result.Duration)
		summary.Add(outcome.status, result.Size)
		e.transition(KindFile, outcome.file.ID, meeting.UUID, unitFor(outcome.status), result.Error)

		if result.Error != nil {
			e.logger.Error("Failed to download %s for meeting %s: %v", outcome.file.ID, meeting.UUID, result.Error)
			if err := e.recordError(ContextDownloadFile, user.ID, meeting.UUID, outcome.file.ID, result.Error); err != nil {
				return false, err
			}
		}
	}

	if !complete {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		e.transition(KindMeeting, meeting.UUID, user.ID, UnitFailed, errors.New("files still pending"))
		return false, nil
	}
	if err := e.deps.State.MarkMeetingProcessed(meeting.UUID); err != nil {
		return false, err
	}
	summary.Meetings++
	e.transition(KindMeeting, meeting.UUID, user.ID, UnitDone, nil)
	if e.deps.Reporter.MeetingDone(e.deps.State.Summary()) {
		if err := e.deps.State.Flush(); err != nil {
			return false, err
		}
	}
	return true, nil
}

// sidecarRows lists every ready file in API order. New outcomes win, then the rows of a
// previous run's files.csv, then the bare checkpoint status.
func (e *Extractor) sidecarRows(dir string, ready []zoom.ProcessedFile, outcomes []fileOutcome) []tracking.FileRow {
	fresh := make(map[string]fileOutcome, len(outcomes))
	for _, outcome := range outcomes {
		fresh[outcome.file.ID] = outcome
	}

	previous := make(map[string]tracking.FileRow)
	existing, err := tracking.ReadFilesCSV(filepath.Join(dir, tracking.FilesCSVName))
	switch {
	case err == nil:
		for _, row := range existing {
			previous[row.FileID] = row
		}
	case !errors.Is(err, os.ErrNotExist):
		e.logger.Warn("Ignoring unreadable %s in %s: %v", tracking.FilesCSVName, dir, err)
	}

	rows := make([]tracking.FileRow, 0, len(ready))
	for _, file := range ready {
		row := tracking.FileRow{
			FileID:       file.ID,
			FileType:     file.Type,
			ExpectedSize: file.Size,
			DownloadURL:  file.DownloadURL,
		}
		if outcome, ok := fresh[file.ID]; ok {
			row.FileSize = outcome.result.Size
			row.SHA256 = outcome.result.SHA256
			row.Status = string(outcome.status)
		} else if prior, ok := previous[file.ID]; ok {
			row = prior
		} else if status, ok := e.deps.State.FileStatus(file.ID); ok {
			row.Status = string(status)
		} else {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func (e *Extractor) inventoryEntry(user zoom.User, meeting zoom.Meeting, outcome fileOutcome) state.InventoryEntry {
	result := outcome.result
	entry := state.InventoryEntry{
		Timestamp: e.now(),
		User:      state.InventoryUser{ID: user.ID, Email: user.Email},
		Meeting: state.InventoryMeeting{
			ID:        meeting.ID.String(),
			UUID:      meeting.UUID,
			Topic:     meeting.Topic,
			StartTime: meeting.StartTime,
		},
		File: state.InventoryFile{
			ID:           outcome.file.ID,
			Type:         outcome.file.Type,
			Extension:    outcome.file.Extension,
			Size:         result.Size,
			ExpectedSize: outcome.file.Size,
			SHA256:       result.SHA256,
			Path:         e.deps.Resolver.Relative(result.Path),
			DownloadURL:  outcome.file.DownloadURL,
			Status:       outcome.status,
			SizeMismatch: result.SizeMismatch,
		},
	}
	if result.Error != nil {
		entry.File.Error = result.Error.Error()
	}
	return entry
}

func (e *Extractor) recordError(where, userID, meetingUUID, fileID string, err error) error {
	return e.deps.State.RecordError(state.ErrorRecord{
		Timestamp:   e.now(),
		Context:     where,
		UserID:      userID,
		MeetingUUID: meetingUUID,
		FileID:      fileID,
		Error:       err.Error(),
	})
}

func (e *Extractor) transition(kind, id, parent string, to UnitState, err error) {
	transition(e.logger, e.deps.Metrics, kind, id, parent, to, err)
}

// fatal reports whether err must stop the run instead of failing one entity
func fatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return true
	}
	var authErr *zoom.AuthError
	return errors.As(err, &authErr)
}
