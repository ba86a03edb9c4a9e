package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/curtbushko/zoom-extractor/internal/logging"
	"github.com/curtbushko/zoom-extractor/internal/zoom"
)

// Lister enumerates the account's users
type Lister struct {
	client          zoom.RecordingsClient
	filter          *Filter
	includeInactive bool
}

// NewLister creates a lister. filter may be nil.
func NewLister(client zoom.RecordingsClient, filter *Filter, includeInactive bool) *Lister {
	return &Lister{client: client, filter: filter, includeInactive: includeInactive}
}

// ListStats counts what a listing saw
type ListStats struct {
	Active     int
	Inactive   int
	Duplicates int
	Filtered   int
}

// List returns active users followed by inactive ones, de-duplicated by id and
// restricted by the filter. A failed inactive listing is logged and skipped.
func (l *Lister) List(ctx context.Context) ([]zoom.User, ListStats, error) {
	var (
		result []zoom.User
		stats  ListStats
		seen   = make(map[string]bool)
	)

	add := func(user zoom.User) {
		if seen[user.ID] {
			stats.Duplicates++
			return
		}
		seen[user.ID] = true
		if !l.filter.Allows(user) {
			stats.Filtered++
			return
		}
		result = append(result, user)
	}

	for user, err := range l.client.ListUsers(ctx, zoom.UserStatusActive) {
		if err != nil {
			return nil, stats, fmt.Errorf("failed to list active users: %w", err)
		}
		stats.Active++
		add(user)
	}

	if l.includeInactive {
		for user, err := range l.client.ListUsers(ctx, zoom.UserStatusInactive) {
			if err != nil {
				var authErr *zoom.AuthError
				if ctx.Err() != nil || errors.As(err, &authErr) {
					return nil, stats, fmt.Errorf("failed to list inactive users: %w", err)
				}
				logging.Warn("Could not list inactive users: %v", err)
				break
			}
			stats.Inactive++
			add(user)
		}
	}

	logging.Info("Found %d active and %d inactive users, %d selected", stats.Active, stats.Inactive, len(result))
	return result, stats, nil
}
