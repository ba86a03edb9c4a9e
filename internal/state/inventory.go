package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// InventoryFileName is the inventory log name inside the logs directory
const InventoryFileName = "inventory.jsonl"

// InventoryUser identifies the owner of a file
type InventoryUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// InventoryMeeting identifies the meeting of a file
type InventoryMeeting struct {
	ID        string `json:"id"`
	UUID      string `json:"uuid"`
	Topic     string `json:"topic"`
	StartTime string `json:"start_time"`
}

// InventoryFile describes a file outcome
type InventoryFile struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Extension    string     `json:"extension"`
	Size         int64      `json:"size"`
	ExpectedSize int64      `json:"expected_size"`
	SHA256       string     `json:"sha256,omitempty"`
	Path         string     `json:"path"`
	DownloadURL  string     `json:"download_url"`
	Status       FileStatus `json:"status"`
	Error        string     `json:"error,omitempty"`
	SizeMismatch bool       `json:"size_mismatch"`
}

// InventoryEntry is one line of the inventory log
type InventoryEntry struct {
	Timestamp time.Time        `json:"timestamp"`
	User      InventoryUser    `json:"user"`
	Meeting   InventoryMeeting `json:"meeting"`
	File      InventoryFile    `json:"file"`
}

// UserInventorySummary aggregates a user's file outcomes
type UserInventorySummary struct {
	UserID   string
	ByStatus map[FileStatus]int
	Bytes    int64
}

// Inventory is an append-only JSON Lines log with one entry per file outcome
type Inventory struct {
	mu   sync.Mutex
	path string
	file *os.File
	now  func() time.Time
}

// OpenInventory opens path for appending, creating it and its directory if needed
func OpenInventory(path string) (*Inventory, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create inventory directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open inventory: %w", err)
	}
	return &Inventory{
		path: path,
		file: f,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Path returns the inventory file path
func (inv *Inventory) Path() string {
	return inv.path
}

// Append writes entry as a single line. A zero timestamp is set to now.
func (inv *Inventory) Append(entry InventoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = inv.now()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal inventory entry: %w", err)
	}
	line = append(line, '\n')

	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.file == nil {
		return errors.New("inventory is closed")
	}
	if _, err := inv.file.Write(line); err != nil {
		return fmt.Errorf("failed to append inventory entry: %w", err)
	}
	return nil
}

// Close closes the underlying file
func (inv *Inventory) Close() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.file == nil {
		return nil
	}
	err := inv.file.Close()
	inv.file = nil
	return err
}

// ReadInventory reads every well-formed entry of the log at path. Malformed lines, such as
// a line cut short by a crash, are skipped and counted.
func ReadInventory(path string) (entries []InventoryEntry, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry InventoryEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, skipped, fmt.Errorf("failed to read inventory: %w", err)
	}
	return entries, skipped, nil
}

// LookupFile returns the latest entry for fileID
func LookupFile(entries []InventoryEntry, fileID string) (InventoryEntry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].File.ID == fileID {
			return entries[i], true
		}
	}
	return InventoryEntry{}, false
}

// SummarizeUser counts a user's latest outcome per file and the bytes on disk
func SummarizeUser(entries []InventoryEntry, userID string) UserInventorySummary {
	summary := UserInventorySummary{UserID: userID, ByStatus: make(map[FileStatus]int)}

	latest := make(map[string]InventoryEntry)
	var order []string
	for _, entry := range entries {
		if entry.User.ID != userID {
			continue
		}
		if _, ok := latest[entry.File.ID]; !ok {
			order = append(order, entry.File.ID)
		}
		latest[entry.File.ID] = entry
	}

	for _, id := range order {
		entry := latest[id]
		summary.ByStatus[entry.File.Status]++
		if entry.File.Status == StatusDownloaded || entry.File.Status == StatusSkipped {
			summary.Bytes += entry.File.Size
		}
	}
	return summary
}
