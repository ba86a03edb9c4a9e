// Package download fetches recording files with resume support, checksums and a bounded worker pool
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/curtbushko/zoom-extractor/internal/config"
	"github.com/curtbushko/zoom-extractor/internal/logging"
	"github.com/curtbushko/zoom-extractor/internal/metrics"
	"github.com/curtbushko/zoom-extractor/internal/retry"
)

// PartSuffix is appended to the destination while a download is in progress
const PartSuffix = ".part"

var (
	// ErrSizeMismatch means the finished file differs from the size Zoom reported. The file is kept.
	ErrSizeMismatch = errors.New("downloaded size does not match expected size")

	// ErrRangeMismatch means a 206 response did not start where the partial file ends
	ErrRangeMismatch = errors.New("content range does not match resume offset")
)

// Credentials supplies bearer headers and the raw token for the query parameter fallback.
// Refresh replaces a token the download host rejected.
type Credentials interface {
	AuthHeaders(ctx context.Context) (map[string]string, error)
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// Downloader downloads a single file
type Downloader interface {
	Download(ctx context.Context, req DownloadRequest) (*DownloadResult, error)
}

// DownloadConfig holds configuration for the download manager
type DownloadConfig struct {
	ChunkSize int           // Copy buffer size in bytes
	Timeout   time.Duration // Per request timeout, covering the body transfer
	UserAgent string
	DryRun    bool // Resolve and report but never write
}

// ConfigFrom builds a DownloadConfig from the extraction settings
func ConfigFrom(cfg config.ExtractionConfig) DownloadConfig {
	return DownloadConfig{
		Timeout: cfg.DownloadTimeout(),
		DryRun:  cfg.DryRun,
	}
}

// DownloadRequest represents a single download request
type DownloadRequest struct {
	ID          string // Recording file id
	URL         string // Zoom download URL
	Destination string // Final path; the transfer goes to Destination + PartSuffix
	FileSize    int64  // Size reported by Zoom, 0 when unknown
}

// DownloadState is the terminal state of a download
type DownloadState int

const (
	DownloadStateQueued DownloadState = iota
	DownloadStateCompleted
	DownloadStateSkipped
	DownloadStateDryRun
	DownloadStateFailed
	DownloadStateCancelled
)

func (s DownloadState) String() string {
	switch s {
	case DownloadStateQueued:
		return "queued"
	case DownloadStateCompleted:
		return "completed"
	case DownloadStateSkipped:
		return "skipped"
	case DownloadStateDryRun:
		return "dry_run"
	case DownloadStateFailed:
		return "failed"
	case DownloadStateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// DownloadResult represents the outcome of a download
type DownloadResult struct {
	DownloadID   string
	Path         string
	State        DownloadState
	Size         int64 // Bytes on disk after the download
	ExpectedSize int64
	Transferred  int64 // Bytes received during this call
	SHA256       string
	Duration     time.Duration
	Resumed      bool
	QueryAuth    bool // The access_token query parameter fallback was used
	RetryCount   int
	SizeMismatch bool
	Error        error
}

// StatusError is a non-2xx download response
type StatusError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download %s: HTTP %d", e.URL, e.StatusCode)
}

// HTTPStatus returns the response status code
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// RetryAfterHint returns the server-provided wait, if any
func (e *StatusError) RetryAfterHint() (time.Duration, bool) {
	return e.RetryAfter, e.RetryAfter > 0
}

// Manager downloads files into .part files, resumes them with Range requests,
// checksums the result and renames it into place. It is safe for concurrent use.
type Manager struct {
	config  DownloadConfig
	client  *http.Client
	creds   Credentials
	policy  *retry.Policy
	limiter *retry.RateLimiter
	metrics *metrics.Collector
	logger  logging.Logger
}

// NewManager creates a download manager. limiter and collector may be nil.
func NewManager(client *http.Client, creds Credentials, policy *retry.Policy, limiter *retry.RateLimiter, collector *metrics.Collector, cfg DownloadConfig) *Manager {
	if client == nil {
		client = &http.Client{}
	}
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	if limiter == nil {
		limiter = retry.Unlimited()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 8 * 1024 * 1024
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "zoom-extractor/1.0"
	}
	return &Manager{
		config:  cfg,
		client:  client,
		creds:   creds,
		policy:  policy,
		limiter: limiter,
		metrics: collector,
		logger:  logging.GetDefaultLogger(),
	}
}

// Download fetches req. The returned result is never nil; on failure its Error matches the returned error.
func (m *Manager) Download(ctx context.Context, req DownloadRequest) (*DownloadResult, error) {
	result := &DownloadResult{
		DownloadID:   req.ID,
		Path:         req.Destination,
		State:        DownloadStateQueued,
		ExpectedSize: req.FileSize,
	}

	if size, ok := IsComplete(req.Destination, req.FileSize); ok {
		result.State = DownloadStateSkipped
		result.Size = size
		if !m.config.DryRun {
			if sum, err := FileChecksum(req.Destination); err == nil {
				result.SHA256 = sum
			}
		}
		m.logger.Debug("File %s already exists with expected size, skipping", req.Destination)
		return result, nil
	}

	if m.config.DryRun {
		result.State = DownloadStateDryRun
		m.logger.Info("[dry run] would download %s to %s", req.ID, req.Destination)
		return result, nil
	}

	if err := os.MkdirAll(filepath.Dir(req.Destination), 0755); err != nil {
		return m.fail(result, fmt.Errorf("failed to create destination directory: %w", err))
	}

	m.metrics.DownloadStarted()
	defer m.metrics.DownloadFinished()

	start := time.Now()
	partPath := req.Destination + PartSuffix

	var err error
	partial := partSize(partPath)
	switch {
	case req.FileSize > 0 && partial == req.FileSize:
		m.logger.Info("Partial file for %s already holds all %d bytes, verifying", req.ID, partial)
		result.Resumed = true
	case req.FileSize > 0 && partial > req.FileSize:
		m.logger.Warn("Partial file for %s is larger than expected (%d > %d), starting over", req.ID, partial, req.FileSize)
		if err = os.Remove(partPath); err == nil {
			err = m.transferWithAuth(ctx, req, partPath, result)
		}
	default:
		err = m.transferWithAuth(ctx, req, partPath, result)
	}
	result.Duration = time.Since(start)
	if err != nil {
		return m.fail(result, err)
	}

	info, err := os.Stat(partPath)
	if err != nil {
		return m.fail(result, fmt.Errorf("failed to stat partial file: %w", err))
	}
	result.Size = info.Size()
	if req.FileSize > 0 && result.Size != req.FileSize {
		result.SizeMismatch = true
		m.logger.Warn("%v for %s: expected %d, got %d", ErrSizeMismatch, req.ID, req.FileSize, result.Size)
	}

	sum, err := FileChecksum(partPath)
	if err != nil {
		return m.fail(result, err)
	}
	result.SHA256 = sum

	if err := os.Rename(partPath, req.Destination); err != nil {
		return m.fail(result, fmt.Errorf("failed to move %s into place: %w", partPath, err))
	}

	result.State = DownloadStateCompleted
	m.logger.LogPerformance(logging.PerformanceMetrics{
		Operation:      "download",
		Duration:       result.Duration,
		BytesProcessed: result.Transferred,
		Success:        true,
		Metadata: map[string]interface{}{
			"file_id": req.ID,
			"resumed": result.Resumed,
			"retries": result.RetryCount,
		},
	})
	return result, nil
}

func (m *Manager) fail(result *DownloadResult, err error) (*DownloadResult, error) {
	result.Error = err
	result.State = DownloadStateFailed
	if errors.Is(err, context.Canceled) {
		result.State = DownloadStateCancelled
	}
	return result, err
}

// transferWithAuth downloads with bearer headers. A 401 refreshes the token once and
// tries headers again; a remaining 401 or 403 falls back to the access_token parameter.
func (m *Manager) transferWithAuth(ctx context.Context, req DownloadRequest, partPath string, result *DownloadResult) error {
	err := m.transfer(ctx, req, partPath, false, result)
	if err != nil && isStatus(err, http.StatusUnauthorized) {
		m.logger.WarnWithContext(ctx, "Download of %s was rejected with 401, refreshing token", req.ID)
		if refreshErr := m.creds.Refresh(ctx); refreshErr != nil {
			m.logger.WarnWithContext(ctx, "Token refresh failed: %v", refreshErr)
		} else {
			err = m.transfer(ctx, req, partPath, false, result)
		}
	}
	if err != nil && isAuthFailure(err) {
		m.logger.WarnWithContext(ctx, "Header auth failed for %s, retrying with access_token query parameter", req.ID)
		result.QueryAuth = true
		err = m.transfer(ctx, req, partPath, true, result)
	}
	return err
}

// transfer runs the retry loop around single attempts
func (m *Manager) transfer(ctx context.Context, req DownloadRequest, partPath string, queryAuth bool, result *DownloadResult) error {
	return m.policy.Do(ctx, func(attempt int) error {
		if attempt > 0 {
			result.RetryCount++
		}
		return m.fetch(ctx, req, partPath, queryAuth, result)
	})
}

// fetch performs one GET, appending to or truncating the partial file
func (m *Manager) fetch(ctx context.Context, req DownloadRequest, partPath string, queryAuth bool, result *DownloadResult) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	var offset int64
	if info, err := os.Stat(partPath); err == nil {
		offset = info.Size()
	}

	target := req.URL
	if queryAuth {
		token, err := m.creds.Token(ctx)
		if err != nil {
			return err
		}
		if target, err = withAccessToken(req.URL, token); err != nil {
			return err
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("User-Agent", m.config.UserAgent)
	if !queryAuth {
		headers, err := m.creds.AuthHeaders(ctx)
		if err != nil {
			return err
		}
		for key, value := range headers {
			httpReq.Header.Set(key, value)
		}
	}
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("GET %s: %w", redactURL(req.URL), err)
	}
	defer resp.Body.Close()

	flags := os.O_WRONLY | os.O_CREATE
	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, ok := contentRangeStart(resp.Header.Get("Content-Range"))
		switch {
		case ok && start == offset:
			flags |= os.O_APPEND
		case ok && start == 0:
			flags |= os.O_TRUNC
			offset = 0
		default:
			os.Remove(partPath)
			return fmt.Errorf("%w: requested %d, got %q: %w", ErrRangeMismatch, offset, resp.Header.Get("Content-Range"), io.ErrUnexpectedEOF)
		}
	case http.StatusRequestedRangeNotSatisfiable:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		if offset == 0 {
			return &StatusError{URL: redactURL(req.URL), StatusCode: resp.StatusCode}
		}
		if total, ok := contentRangeTotal(resp.Header.Get("Content-Range")); ok && total == offset {
			m.logger.Info("Partial file for %s is already complete", req.ID)
			result.Resumed = true
			return nil
		}
		m.logger.Warn("Server rejected resume offset %d for %s, starting over", offset, req.ID)
		if err := os.Remove(partPath); err != nil {
			return fmt.Errorf("failed to remove partial file: %w", err)
		}
		return m.fetch(ctx, req, partPath, queryAuth, result)
	case http.StatusOK:
		if offset > 0 {
			m.logger.Warn("Server ignored range request for %s, starting over", req.ID)
			offset = 0
		}
		flags |= os.O_TRUNC
	default:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		statusErr := &StatusError{URL: redactURL(req.URL), StatusCode: resp.StatusCode}
		if resp.StatusCode == http.StatusTooManyRequests {
			if d, ok := retry.RetryAfter(resp); ok {
				statusErr.RetryAfter = d
			}
		}
		return statusErr
	}

	if resp.ContentLength >= 0 && req.FileSize > 0 && offset+resp.ContentLength != req.FileSize {
		m.logger.Warn("Size mismatch announced for %s: expected %d, got %d", req.ID, req.FileSize, offset+resp.ContentLength)
	}

	file, err := os.OpenFile(partPath, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open partial file: %w", err)
	}
	defer file.Close()

	result.Resumed = offset > 0
	written, err := io.CopyBuffer(file, resp.Body, make([]byte, m.config.ChunkSize))
	result.Transferred += written
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return nil
}

// IsComplete reports whether path holds a finished download. With an unknown
// expected size any non-empty regular file counts.
func IsComplete(path string, expected int64) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	if expected > 0 {
		return info.Size(), info.Size() == expected
	}
	return info.Size(), info.Size() > 0
}

// partSize returns the size of the partial file, 0 when there is none
func partSize(partPath string) int64 {
	info, err := os.Stat(partPath)
	if err != nil || !info.Mode().IsRegular() {
		return 0
	}
	return info.Size()
}

func isStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

func isAuthFailure(err error) bool {
	return isStatus(err, http.StatusUnauthorized) || isStatus(err, http.StatusForbidden)
}

// contentRangeStart parses the first byte position of "bytes N-M/T"
func contentRangeStart(value string) (int64, bool) {
	value = strings.TrimSpace(value)
	rest, ok := strings.CutPrefix(value, "bytes ")
	if !ok {
		return 0, false
	}
	first, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return 0, false
	}
	return start, true
}

// contentRangeTotal parses the complete length of "bytes */T" or "bytes N-M/T"
func contentRangeTotal(value string) (int64, bool) {
	_, total, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok || total == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func withAccessToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid download URL: %w", err)
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redactURL drops the query string, which may carry a token
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
