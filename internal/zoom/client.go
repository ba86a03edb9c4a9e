// Package zoom provides an API client for the Zoom users and cloud recording endpoints
package zoom

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// User listing statuses
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

const dateLayout = "2006-01-02"

// RecordingsClient defines the Zoom API operations used by an extraction run
type RecordingsClient interface {
	ListUsers(ctx context.Context, status string) iter.Seq2[User, error]
	ListUserRecordings(ctx context.Context, userID string, from, to time.Time) iter.Seq2[Meeting, error]
	GetMeetingRecordings(ctx context.Context, meetingUUID string) (*Meeting, error)
}

// ClientOptions controls page sizes and trash inclusion
type ClientOptions struct {
	PageSizeUsers      int
	PageSizeRecordings int
	IncludeTrash       bool
}

// Client implements RecordingsClient on top of a Transport
type Client struct {
	transport Transport
	baseURL   string
	options   ClientOptions
}

// NewClient creates a new Zoom API client
func NewClient(transport Transport, baseURL string, options ClientOptions) *Client {
	if options.PageSizeUsers <= 0 {
		options.PageSizeUsers = 30
	}
	if options.PageSizeRecordings <= 0 {
		options.PageSizeRecordings = 300
	}
	return &Client{
		transport: transport,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		options:   options,
	}
}

// ListUsers lazily lists account users with the given status
func (c *Client) ListUsers(ctx context.Context, status string) iter.Seq2[User, error] {
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	return NewPager[User](c.transport, c.baseURL+"/users", "users", params, c.options.PageSizeUsers).All(ctx)
}

// ListUserRecordings lazily lists the meetings with cloud recordings that started
// between from and to, both inclusive dates.
func (c *Client) ListUserRecordings(ctx context.Context, userID string, from, to time.Time) iter.Seq2[Meeting, error] {
	params := url.Values{}
	params.Set("from", from.Format(dateLayout))
	params.Set("to", to.Format(dateLayout))
	if c.options.IncludeTrash {
		params.Set("trash", "true")
	}
	endpoint := fmt.Sprintf("%s/users/%s/recordings", c.baseURL, url.PathEscape(userID))
	return NewPager[Meeting](c.transport, endpoint, "meetings", params, c.options.PageSizeRecordings).All(ctx)
}

// GetMeetingRecordings fetches one meeting's recordings by UUID
func (c *Client) GetMeetingRecordings(ctx context.Context, meetingUUID string) (*Meeting, error) {
	endpoint := fmt.Sprintf("%s/meetings/%s/recordings", c.baseURL, EncodeMeetingUUID(meetingUUID))

	resp, err := c.transport.Do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var meeting Meeting
	if err := json.NewDecoder(resp.Body).Decode(&meeting); err != nil {
		return nil, fmt.Errorf("failed to decode meeting %s: %w", meetingUUID, err)
	}
	return &meeting, nil
}

// EncodeMeetingUUID escapes a meeting UUID for a path segment. UUIDs containing "/" are
// encoded twice; Zoom requires it for a leading "/" or "//" and accepts it for any slash.
func EncodeMeetingUUID(uuid string) string {
	encoded := url.QueryEscape(uuid)
	if strings.Contains(uuid, "/") {
		encoded = url.QueryEscape(encoded)
	}
	return encoded
}
