package users

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/curtbushko/zoom-extractor/internal/zoom"
)

type fakeClient struct {
	users map[string][]zoom.User
	errs  map[string]error
}

func (f *fakeClient) ListUsers(ctx context.Context, status string) iter.Seq2[zoom.User, error] {
	return func(yield func(zoom.User, error) bool) {
		for _, user := range f.users[status] {
			if !yield(user, nil) {
				return
			}
		}
		if err := f.errs[status]; err != nil {
			yield(zoom.User{}, err)
		}
	}
}

func (f *fakeClient) ListUserRecordings(ctx context.Context, userID string, from, to time.Time) iter.Seq2[zoom.Meeting, error] {
	return func(yield func(zoom.Meeting, error) bool) {}
}

func (f *fakeClient) GetMeetingRecordings(ctx context.Context, meetingUUID string) (*zoom.Meeting, error) {
	return nil, errors.New("not implemented")
}

func TestListerList(t *testing.T) {
	client := &fakeClient{users: map[string][]zoom.User{
		zoom.UserStatusActive: {
			{ID: "u1", Email: "one@example.com"},
			{ID: "u2", Email: "two@example.com"},
		},
		zoom.UserStatusInactive: {
			{ID: "u2", Email: "two@example.com"},
			{ID: "u3", Email: "three@example.com"},
		},
	}}

	tests := []struct {
		name            string
		includeInactive bool
		entries         []string
		expectedIDs     []string
		expectedStats   ListStats
	}{
		{
			name:          "active only",
			expectedIDs:   []string{"u1", "u2"},
			expectedStats: ListStats{Active: 2},
		},
		{
			name:            "active and inactive de-duplicated",
			includeInactive: true,
			expectedIDs:     []string{"u1", "u2", "u3"},
			expectedStats:   ListStats{Active: 2, Inactive: 2, Duplicates: 1},
		},
		{
			name:            "filtered",
			includeInactive: true,
			entries:         []string{"THREE@example.com", "u1"},
			expectedIDs:     []string{"u1", "u3"},
			expectedStats:   ListStats{Active: 2, Inactive: 2, Duplicates: 1, Filtered: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := NewFilter(FilterConfig{Entries: tt.entries})
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			users, stats, err := NewLister(client, filter, tt.includeInactive).List(context.Background())
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(users) != len(tt.expectedIDs) {
				t.Fatalf("Expected %d users, got %d", len(tt.expectedIDs), len(users))
			}
			for i, id := range tt.expectedIDs {
				if users[i].ID != id {
					t.Errorf("User %d: expected %s, got %s", i, id, users[i].ID)
				}
			}
			if stats != tt.expectedStats {
				t.Errorf("Expected stats %+v, got %+v", tt.expectedStats, stats)
			}
		})
	}
}

func TestListerErrors(t *testing.T) {
	tests := []struct {
		name          string
		errs          map[string]error
		expectedError bool
		expectedUsers int
	}{
		{
			name:          "active listing failure is returned",
			errs:          map[string]error{zoom.UserStatusActive: errors.New("boom")},
			expectedError: true,
		},
		{
			name:          "inactive listing failure is skipped",
			errs:          map[string]error{zoom.UserStatusInactive: errors.New("boom")},
			expectedUsers: 2,
		},
		{
			name:          "inactive auth failure is returned",
			errs:          map[string]error{zoom.UserStatusInactive: &zoom.AuthError{Type: "unauthorized", Reason: "nope"}},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{
				users: map[string][]zoom.User{
					zoom.UserStatusActive:   {{ID: "u1"}},
					zoom.UserStatusInactive: {{ID: "u2"}},
				},
				errs: tt.errs,
			}

			users, _, err := NewLister(client, nil, true).List(context.Background())
			if tt.expectedError {
				if err == nil {
					t.Fatal("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(users) != tt.expectedUsers {
				t.Errorf("Expected %d users, got %d", tt.expectedUsers, len(users))
			}
		})
	}
}
