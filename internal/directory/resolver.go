// Package directory derives the on-disk layout of an extraction
package directory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/curtbushko/zoom-extractor/internal/email"
	"github.com/curtbushko/zoom-extractor/internal/filename"
	"github.com/curtbushko/zoom-extractor/internal/zoom"
)

const (
	// MetadataDirName holds the checkpoint and token cache
	MetadataDirName = "_metadata"
	// LogsDirName holds the inventory and log files
	LogsDirName = "_logs"

	timestampLayout = "20060102_150405"
	unknownDate     = "unknown_date"

	componentMaxLength = 100
	entryMaxLength     = 200
	meetingIDMaxLength = 20
	topicMaxBytes      = 200
)

// Resolver maps users, meetings and files to paths under a base directory:
//
//	<base>/<user>/<YYYYMMDD_HHMMSS>_<topic>_<meeting id>/<YYYYMMDD_HHMMSS>_<TYPE>.<ext>
//
// All path methods are pure. The same inputs always produce the same path, which is what
// lets an interrupted run find files it already wrote.
type Resolver struct {
	base string
}

// NewResolver creates a resolver rooted at base
func NewResolver(base string) *Resolver {
	return &Resolver{base: filepath.Clean(base)}
}

// Base returns the base directory
func (r *Resolver) Base() string {
	return r.base
}

// MetadataDir returns <base>/_metadata
func (r *Resolver) MetadataDir() string {
	return filepath.Join(r.base, MetadataDirName)
}

// LogsDir returns <base>/_logs
func (r *Resolver) LogsDir() string {
	return filepath.Join(r.base, LogsDirName)
}

// UserDir returns the directory name for a user: the sanitized email when it is a valid
// address, otherwise user_<id>.
func (r *Resolver) UserDir(user zoom.User) string {
	if email.IsValid(user.Email) {
		return filename.Sanitize(user.Email, componentMaxLength)
	}
	id := user.ID
	if id == "" {
		id = "unknown"
	}
	return filename.Sanitize("user_"+id, componentMaxLength)
}

// MeetingDir returns the directory name for a meeting
func (r *Resolver) MeetingDir(meeting zoom.Meeting) string {
	id := meeting.ID.String()
	if id == "" {
		id = meeting.UUID
	}
	if id == "" {
		id = "unknown"
	}
	if runes := []rune(id); len(runes) > meetingIDMaxLength {
		id = string(runes[:meetingIDMaxLength])
	}

	// the topic gets whatever the timestamp and id leave of the component byte limit
	prefix := timestamp(meeting.StartTime)
	budget := min(topicMaxBytes, filename.MaxComponentBytes-len(prefix)-len(id)-2)
	topic := filename.TruncateBytes(filename.Sanitize(meeting.Topic, componentMaxLength), budget)
	name := fmt.Sprintf("%s_%s_%s", prefix, topic, id)
	return filename.Sanitize(name, entryMaxLength)
}

// FileName returns the name of a recording file. The timestamp comes from the file's
// recording start, falling back to the meeting start.
func (r *Resolver) FileName(meeting zoom.Meeting, file zoom.ProcessedFile) string {
	start := file.RecordingStart
	if _, ok := zoom.ParseTimestamp(start); !ok {
		start = meeting.StartTime
	}

	fileType := strings.ToUpper(strings.TrimSpace(file.Type))
	if fileType == "" {
		fileType = "UNKNOWN"
	}

	name := fmt.Sprintf("%s_%s.%s", timestamp(start), fileType, filename.Extension(file.Type, file.Extension))
	return filename.Sanitize(name, entryMaxLength)
}

// MeetingPath returns <base>/<user>/<meeting>
func (r *Resolver) MeetingPath(user zoom.User, meeting zoom.Meeting) string {
	return filepath.Join(r.base, r.UserDir(user), r.MeetingDir(meeting))
}

// Resolve returns the full path of a recording file
func (r *Resolver) Resolve(user zoom.User, meeting zoom.Meeting, file zoom.ProcessedFile) string {
	return filepath.Join(r.MeetingPath(user, meeting), r.FileName(meeting, file))
}

// Relative returns path relative to the base directory, or path unchanged if it is outside it
func (r *Resolver) Relative(path string) string {
	rel, err := filepath.Rel(r.base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// Prepare creates the base, metadata and logs directories
func (r *Resolver) Prepare() error {
	for _, dir := range []string{r.base, r.MetadataDir(), r.LogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureMeetingDir creates the meeting directory and returns its path
func (r *Resolver) EnsureMeetingDir(user zoom.User, meeting zoom.Meeting) (string, error) {
	dir := r.MeetingPath(user, meeting)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return dir, nil
}

func timestamp(value string) string {
	t, ok := zoom.ParseTimestamp(value)
	if !ok {
		return unknownDate
	}
	return t.Format(timestampLayout)
}
