package zoom

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// File statuses reported by Zoom
const (
	FileStatusCompleted  = "completed"
	FileStatusProcessing = "processing"
)

// FlexibleID is an identifier Zoom sends as either a JSON number or a string
type FlexibleID string

// UnmarshalJSON accepts both 123 and "123"
func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = FlexibleID(n.String())
	return nil
}

// String returns the identifier as a string
func (id FlexibleID) String() string {
	return string(id)
}

// User is an account member returned by the list users endpoint
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Type        int    `json:"type,omitempty"`
	Status      string `json:"status,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// RecordingFile represents a single recording file within a meeting recording
type RecordingFile struct {
	ID             string `json:"id"`
	MeetingID      string `json:"meeting_id"`
	RecordingStart string `json:"recording_start"`
	RecordingEnd   string `json:"recording_end"`
	FileType       string `json:"file_type"`
	FileExtension  string `json:"file_extension,omitempty"`
	FileSize       int64  `json:"file_size"`
	DownloadURL    string `json:"download_url"`
	PlayURL        string `json:"play_url,omitempty"`
	Status         string `json:"status"`
	RecordingType  string `json:"recording_type,omitempty"`
}

// Meeting represents a meeting or webinar recording with all associated files
type Meeting struct {
	UUID           string          `json:"uuid"`
	ID             FlexibleID      `json:"id"`
	AccountID      string          `json:"account_id,omitempty"`
	HostID         string          `json:"host_id"`
	HostEmail      string          `json:"host_email,omitempty"`
	Topic          string          `json:"topic"`
	Type           int             `json:"type"`
	StartTime      string          `json:"start_time"`
	Duration       int             `json:"duration"`
	TotalSize      int64           `json:"total_size"`
	RecordingCount int             `json:"recording_count"`
	RecordingFiles []RecordingFile `json:"recording_files"`
}

// StartedAt parses StartTime. ok is false when Zoom sent an empty or malformed value.
func (m Meeting) StartedAt() (time.Time, bool) {
	return ParseTimestamp(m.StartTime)
}

// ProcessedFile is a recording file that is ready to download
type ProcessedFile struct {
	ID             string `json:"id"`
	MeetingID      string `json:"meeting_id,omitempty"`
	Type           string `json:"type"`
	Extension      string `json:"extension"`
	Size           int64  `json:"size"`
	DownloadURL    string `json:"download_url"`
	Status         string `json:"status"`
	RecordingStart string `json:"recording_start,omitempty"`
	RecordingType  string `json:"recording_type,omitempty"`
}

// ProcessFiles keeps only files that can be downloaded now. Files still processing or
// without a download URL are counted in pending so the caller can look again later.
func ProcessFiles(files []RecordingFile) (ready []ProcessedFile, pending int) {
	for _, f := range files {
		if strings.EqualFold(f.Status, FileStatusProcessing) || f.DownloadURL == "" {
			pending++
			continue
		}
		ready = append(ready, ProcessedFile{
			ID:             f.ID,
			MeetingID:      f.MeetingID,
			Type:           f.FileType,
			Extension:      strings.ToLower(f.FileExtension),
			Size:           f.FileSize,
			DownloadURL:    f.DownloadURL,
			Status:         f.Status,
			RecordingStart: f.RecordingStart,
			RecordingType:  f.RecordingType,
		})
	}
	return ready, pending
}

// ParseTimestamp parses the timestamp formats Zoom uses (RFC 3339 with or without fraction)
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05Z", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
