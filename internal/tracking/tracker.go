// Package tracking writes the per-meeting sidecar files, meta.json and files.csv
package tracking

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/curtbushko/zoom-extractor/internal/dates"
	"github.com/curtbushko/zoom-extractor/internal/zoom"
)

const (
	// MetaFileName is the meeting metadata sidecar
	MetaFileName = "meta.json"
	// FilesCSVName is the file listing sidecar
	FilesCSVName = "files.csv"
)

// CSVHeader is the header row of files.csv
var CSVHeader = []string{"file_id", "file_type", "file_size", "expected_size", "sha256", "status", "download_url"}

// FileRow is one file outcome in a meeting's sidecars
type FileRow struct {
	FileID       string `json:"file_id"`
	FileType     string `json:"file_type"`
	FileSize     int64  `json:"file_size"`
	ExpectedSize int64  `json:"expected_size"`
	SHA256       string `json:"sha256,omitempty"`
	Status       string `json:"download_status"`
	DownloadURL  string `json:"download_url"`
}

// MeetingInfo is the meeting section of meta.json
type MeetingInfo struct {
	ID        string `json:"id"`
	UUID      string `json:"uuid"`
	Topic     string `json:"topic"`
	StartTime string `json:"start_time"`
	Duration  int    `json:"duration"`
	HostID    string `json:"host_id"`
	HostEmail string `json:"host_email,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	Type      int    `json:"type"`
}

// UserInfo is the user section of meta.json
type UserInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// ExtractionInfo records when and for which window the meeting was extracted
type ExtractionInfo struct {
	ExtractedAt time.Time `json:"extracted_at"`
	WindowStart string    `json:"date_window_start"`
	WindowEnd   string    `json:"date_window_end"`
	TotalFiles  int       `json:"total_files"`
}

// MeetingMeta is the content of meta.json
type MeetingMeta struct {
	Meeting    MeetingInfo    `json:"meeting"`
	User       UserInfo       `json:"user"`
	Extraction ExtractionInfo `json:"extraction"`
	Files      []FileRow      `json:"files"`
}

// NewMeetingMeta assembles the metadata of a meeting extracted in window
func NewMeetingMeta(user zoom.User, meeting zoom.Meeting, window dates.Window, rows []FileRow, extractedAt time.Time) MeetingMeta {
	if rows == nil {
		rows = []FileRow{}
	}
	return MeetingMeta{
		Meeting: MeetingInfo{
			ID:        meeting.ID.String(),
			UUID:      meeting.UUID,
			Topic:     meeting.Topic,
			StartTime: meeting.StartTime,
			Duration:  meeting.Duration,
			HostID:    meeting.HostID,
			HostEmail: meeting.HostEmail,
			AccountID: meeting.AccountID,
			Type:      meeting.Type,
		},
		User: UserInfo{
			ID:          user.ID,
			Email:       user.Email,
			FirstName:   user.FirstName,
			LastName:    user.LastName,
			DisplayName: user.DisplayName,
		},
		Extraction: ExtractionInfo{
			ExtractedAt: extractedAt.UTC(),
			WindowStart: window.Start.Format(dates.Layout),
			WindowEnd:   window.End.Format(dates.Layout),
			TotalFiles:  len(rows),
		},
		Files: rows,
	}
}

// WriteMeta writes meta.json into dir, replacing any previous copy
func WriteMeta(dir string, meta MeetingMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal meeting metadata: %w", err)
	}
	return writeFile(filepath.Join(dir, MetaFileName), append(data, '\n'))
}

// WriteFilesCSV writes files.csv into dir, replacing any previous copy. Rows keep the
// order they are given in.
func WriteFilesCSV(dir string, rows []FileRow) error {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(CSVHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.FileID,
			row.FileType,
			strconv.FormatInt(row.FileSize, 10),
			strconv.FormatInt(row.ExpectedSize, 10),
			row.SHA256,
			row.Status,
			row.DownloadURL,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to write files.csv: %w", err)
	}

	return writeFile(filepath.Join(dir, FilesCSVName), buf.Bytes())
}

// WriteSidecars writes both meta.json and files.csv
func WriteSidecars(dir string, meta MeetingMeta) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create meeting directory: %w", err)
	}
	if err := WriteMeta(dir, meta); err != nil {
		return err
	}
	return WriteFilesCSV(dir, meta.Files)
}

// ReadFilesCSV parses a files.csv written by WriteFilesCSV
func ReadFilesCSV(path string) ([]FileRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}

	rows := make([]FileRow, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) != len(CSVHeader) {
			return nil, fmt.Errorf("%s: expected %d columns, got %d", path, len(CSVHeader), len(record))
		}
		size, _ := strconv.ParseInt(record[2], 10, 64)
		expected, _ := strconv.ParseInt(record[3], 10, 64)
		rows = append(rows, FileRow{
			FileID:       record[0],
			FileType:     record[1],
			FileSize:     size,
			ExpectedSize: expected,
			SHA256:       record[4],
			Status:       record[5],
			DownloadURL:  record[6],
		})
	}
	return rows, nil
}

func writeFile(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
