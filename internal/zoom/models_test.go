package zoom

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMeetingUnmarshalNumericAndStringID(t *testing.T) {
	tests := []struct {
		name     string
		jsonData string
		wantID   string
	}{
		{"numeric id", `{"uuid":"abc==","id":85746065432,"topic":"Standup"}`, "85746065432"},
		{"string id", `{"uuid":"abc==","id":"85746065432","topic":"Standup"}`, "85746065432"},
		{"null id", `{"uuid":"abc==","id":null,"topic":"Standup"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Meeting
			if err := json.Unmarshal([]byte(tt.jsonData), &m); err != nil {
				t.Fatalf("Failed to unmarshal: %v", err)
			}
			if m.ID.String() != tt.wantID {
				t.Errorf("ID = %q, want %q", m.ID, tt.wantID)
			}
		})
	}
}

func TestMeetingUnmarshal(t *testing.T) {
	data := `{
		"uuid": "/ajXp112QmuoKj4854875==",
		"id": 123,
		"host_id": "u1",
		"topic": "Quarterly Review",
		"start_time": "2024-01-10T15:04:05Z",
		"recording_files": [
			{"id": "f1", "file_type": "MP4", "file_extension": "MP4", "file_size": 100,
			 "download_url": "https://zoom.us/rec/download/f1", "status": "completed",
			 "recording_start": "2024-01-10T15:05:00Z"},
			{"id": "f2", "file_type": "TRANSCRIPT", "status": "processing"}
		]
	}`

	var meeting Meeting
	if err := json.Unmarshal([]byte(data), &meeting); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if meeting.ID.String() != "123" || meeting.HostID != "u1" {
		t.Errorf("Unexpected meeting: %+v", meeting)
	}
	if len(meeting.RecordingFiles) != 2 || meeting.RecordingFiles[0].FileSize != 100 {
		t.Fatalf("Unexpected recording files: %+v", meeting.RecordingFiles)
	}
	start, ok := meeting.StartedAt()
	if !ok || !start.Equal(time.Date(2024, 1, 10, 15, 4, 5, 0, time.UTC)) {
		t.Errorf("StartedAt() = %v, %v", start, ok)
	}
}

func TestProcessFiles(t *testing.T) {
	files := []RecordingFile{
		{ID: "a", FileType: "MP4", FileExtension: "MP4", FileSize: 10, DownloadURL: "https://x/a", Status: "completed"},
		{ID: "b", FileType: "TRANSCRIPT", DownloadURL: "https://x/b", Status: "processing"},
		{ID: "c", FileType: "CHAT", Status: "completed"},
		{ID: "d", FileType: "TIMELINE", DownloadURL: "https://x/d", Status: "Processing"},
		{ID: "e", FileType: "M4A", FileExtension: "M4A", DownloadURL: "https://x/e"},
	}

	ready, pending := ProcessFiles(files)
	if pending != 3 {
		t.Errorf("pending = %d, want 3", pending)
	}
	if len(ready) != 2 {
		t.Fatalf("ready = %d files, want 2", len(ready))
	}
	if ready[0].ID != "a" || ready[0].Extension != "mp4" || ready[0].Size != 10 {
		t.Errorf("Unexpected first file: %+v", ready[0])
	}
	if ready[1].ID != "e" || ready[1].Extension != "m4a" {
		t.Errorf("Unexpected second file: %+v", ready[1])
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		value  string
		wantOK bool
	}{
		{"2024-01-10T15:04:05Z", true},
		{"2024-01-10T15:04:05.123Z", true},
		{"2024-01-10T15:04:05+02:00", true},
		{"2024-01-10T15:04:05", true},
		{"", false},
		{"yesterday", false},
	}
	for _, tt := range tests {
		if _, ok := ParseTimestamp(tt.value); ok != tt.wantOK {
			t.Errorf("ParseTimestamp(%q) ok = %v, want %v", tt.value, ok, tt.wantOK)
		}
	}

	got, _ := ParseTimestamp("2024-01-10T15:04:05+02:00")
	if got.Hour() != 13 || got.Location() != time.UTC {
		t.Errorf("Expected conversion to UTC, got %v", got)
	}
}
