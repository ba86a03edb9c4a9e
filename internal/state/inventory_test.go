package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(userID, fileID string, status FileStatus, size int64) InventoryEntry {
	return InventoryEntry{
		User:    InventoryUser{ID: userID, Email: userID + "@example.com"},
		Meeting: InventoryMeeting{ID: "1", UUID: "m1", Topic: "Standup", StartTime: "2024-01-10T15:00:00Z"},
		File: InventoryFile{
			ID:           fileID,
			Type:         "MP4",
			Extension:    "mp4",
			Size:         size,
			ExpectedSize: size,
			Status:       status,
		},
	}
}

func TestInventoryAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "_logs", InventoryFileName)

	inv, err := OpenInventory(path)
	require.NoError(t, err)
	require.NoError(t, inv.Append(entry("u1", "f1", StatusDownloaded, 100)))
	require.NoError(t, inv.Append(entry("u1", "f2", StatusFailed, 0)))
	require.NoError(t, inv.Close())

	// appending after reopening keeps earlier lines
	inv, err = OpenInventory(path)
	require.NoError(t, err)
	require.NoError(t, inv.Append(entry("u2", "f3", StatusSkipped, 50)))
	require.NoError(t, inv.Close())

	entries, skipped, err := ReadInventory(path)
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	require.Len(t, entries, 3)
	assert.Equal(t, "f1", entries[0].File.ID)
	assert.False(t, entries[0].Timestamp.IsZero())
	assert.Equal(t, "u2", entries[2].User.ID)
}

func TestInventorySkipsTruncatedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), InventoryFileName)

	inv, err := OpenInventory(path)
	require.NoError(t, err)
	require.NoError(t, inv.Append(entry("u1", "f1", StatusDownloaded, 100)))
	require.NoError(t, inv.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"timestamp":"2024-01-01T00:00:00Z","user":{"id"` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, skipped, err := ReadInventory(path)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 1, skipped)
}

func TestInventoryAppendAfterClose(t *testing.T) {
	inv, err := OpenInventory(filepath.Join(t.TempDir(), InventoryFileName))
	require.NoError(t, err)
	require.NoError(t, inv.Close())
	assert.Error(t, inv.Append(entry("u1", "f1", StatusDownloaded, 1)))
	assert.NoError(t, inv.Close())
}

func TestLookupFileReturnsLatest(t *testing.T) {
	entries := []InventoryEntry{
		entry("u1", "f1", StatusFailed, 0),
		entry("u1", "f2", StatusDownloaded, 10),
		entry("u1", "f1", StatusDownloaded, 100),
	}

	found, ok := LookupFile(entries, "f1")
	require.True(t, ok)
	assert.Equal(t, StatusDownloaded, found.File.Status)

	_, ok = LookupFile(entries, "missing")
	assert.False(t, ok)
}

func TestSummarizeUser(t *testing.T) {
	entries := []InventoryEntry{
		entry("u1", "f1", StatusFailed, 0),
		entry("u1", "f1", StatusDownloaded, 100),
		entry("u1", "f2", StatusSkipped, 40),
		entry("u1", "f3", StatusDryRun, 999),
		entry("u2", "f4", StatusDownloaded, 7),
	}

	summary := SummarizeUser(entries, "u1")
	assert.Equal(t, "u1", summary.UserID)
	assert.Equal(t, 1, summary.ByStatus[StatusDownloaded])
	assert.Equal(t, 1, summary.ByStatus[StatusSkipped])
	assert.Equal(t, 1, summary.ByStatus[StatusDryRun])
	assert.Equal(t, 0, summary.ByStatus[StatusFailed])
	assert.Equal(t, int64(140), summary.Bytes)
}
