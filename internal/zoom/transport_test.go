package zoom

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/curtbushko/zoom-extractor/internal/metrics"
	"github.com/curtbushko/zoom-extractor/internal/retry"
)

type fakeAuth struct {
	token      string
	refreshes  int
	refreshErr error
}

func (f *fakeAuth) AuthHeaders(ctx context.Context) (map[string]string, error) {
	return map[string]string{"Authorization": "Bearer " + f.token}, nil
}

func (f *fakeAuth) Refresh(ctx context.Context) error {
	f.refreshes++
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.token = "refreshed"
	return nil
}

// testPolicy records delays instead of sleeping
func testPolicy(delays *[]time.Duration) *retry.Policy {
	return &retry.Policy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Factor:      2.0,
		Sleep: func(ctx context.Context, d time.Duration) error {
			*delays = append(*delays, d)
			return nil
		},
	}
}

func TestRetryTransportSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer initial" {
			t.Errorf("Expected bearer header, got %q", got)
		}
		if got := r.URL.Query().Get("page_size"); got != "30" {
			t.Errorf("Expected page_size=30, got %q", got)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	var delays []time.Duration
	transport := NewRetryTransport(server.Client(), &fakeAuth{token: "initial"}, testPolicy(&delays), nil, nil)

	resp, err := transport.Do(context.Background(), http.MethodGet, server.URL+"/users", map[string][]string{"page_size": {"30"}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"ok":true}` {
		t.Errorf("Expected response body to be readable, got %q", body)
	}
	if len(delays) != 0 {
		t.Errorf("Expected no retries, got %v", delays)
	}
}

func TestRetryTransportExhaustsOnServiceUnavailable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var delays []time.Duration
	collector := metrics.NewCollector()
	transport := NewRetryTransport(server.Client(), &fakeAuth{token: "t"}, testPolicy(&delays), nil, collector)

	_, err := transport.Do(context.Background(), http.MethodGet, server.URL+"/users", nil)

	var exhausted *retry.RetriesExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected RetriesExhaustedError, got %v", err)
	}
	var transient *TransientHTTPError
	if !errors.As(err, &transient) || transient.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected the last error to be a 503 TransientHTTPError, got %v", err)
	}
	if got := calls.Load(); got != 5 {
		t.Errorf("Expected 5 requests, got %d", got)
	}

	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	if len(delays) != len(expected) {
		t.Fatalf("Expected %d waits, got %v", len(expected), delays)
	}
	for i := range expected {
		if delays[i] != expected[i] {
			t.Errorf("Wait %d: expected %v, got %v", i, expected[i], delays[i])
		}
	}
}

func TestRetryTransportHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	var delays []time.Duration
	transport := NewRetryTransport(server.Client(), &fakeAuth{token: "t"}, testPolicy(&delays), nil, nil)

	resp, err := transport.Do(context.Background(), http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(delays) != 1 || delays[0] != 7*time.Second {
		t.Errorf("Expected a single 7s wait, got %v", delays)
	}
}

func TestRetryTransportRefreshesOnceOn401(t *testing.T) {
	tests := []struct {
		name           string
		acceptRefresh  bool
		expectedCalls  int32
		expectAuthFail bool
	}{
		{name: "refreshed token accepted", acceptRefresh: true, expectedCalls: 2},
		{name: "still unauthorized after refresh", acceptRefresh: false, expectedCalls: 2, expectAuthFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				if tt.acceptRefresh && r.Header.Get("Authorization") == "Bearer refreshed" {
					w.Write([]byte(`{}`))
					return
				}
				w.WriteHeader(http.StatusUnauthorized)
			}))
			defer server.Close()

			var delays []time.Duration
			auth := &fakeAuth{token: "stale"}
			transport := NewRetryTransport(server.Client(), auth, testPolicy(&delays), nil, nil)

			resp, err := transport.Do(context.Background(), http.MethodGet, server.URL, nil)
			if tt.expectAuthFail {
				var authErr *AuthError
				if !errors.As(err, &authErr) {
					t.Fatalf("Expected AuthError, got %v", err)
				}
			} else {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				resp.Body.Close()
			}

			if auth.refreshes != 1 {
				t.Errorf("Expected exactly one refresh, got %d", auth.refreshes)
			}
			if got := calls.Load(); got != tt.expectedCalls {
				t.Errorf("Expected %d requests, got %d", tt.expectedCalls, got)
			}
			if len(delays) != 0 {
				t.Errorf("Expected no backoff waits, got %v", delays)
			}
		})
	}
}

func TestRetryTransportRefreshFailureIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	var delays []time.Duration
	auth := &fakeAuth{token: "stale", refreshErr: &AuthError{Type: "token_exchange", Reason: "bad secret"}}
	transport := NewRetryTransport(server.Client(), auth, testPolicy(&delays), nil, nil)

	_, err := transport.Do(context.Background(), http.MethodGet, server.URL, nil)
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Type != "token_exchange" {
		t.Fatalf("Expected token_exchange AuthError, got %v", err)
	}
	if len(delays) != 0 {
		t.Errorf("Expected auth failures not to be retried, got %v", delays)
	}
}

func TestRetryTransportPermanentErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		notFound bool
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"code":3301,"message":"This recording does not exist."}`, notFound: true},
		{name: "bad request", status: http.StatusBadRequest, body: `{"code":300,"message":"Invalid parameter"}`},
		{name: "forbidden", status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			var delays []time.Duration
			transport := NewRetryTransport(server.Client(), &fakeAuth{token: "t"}, testPolicy(&delays), nil, nil)

			_, err := transport.Do(context.Background(), http.MethodGet, server.URL+"/meetings/x/recordings", nil)
			var perm *PermanentHTTPError
			if !errors.As(err, &perm) {
				t.Fatalf("Expected PermanentHTTPError, got %v", err)
			}
			if perm.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, perm.StatusCode)
			}
			if tt.body != "" && (perm.API == nil || perm.API.Message == "") {
				t.Errorf("Expected Zoom error body to be parsed, got %+v", perm.API)
			}
			if IsNotFound(err) != tt.notFound {
				t.Errorf("Expected IsNotFound=%v", tt.notFound)
			}
			if got := calls.Load(); got != 1 {
				t.Errorf("Expected 1 request, got %d", got)
			}
		})
	}
}

func TestRetryTransportCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	policy := &retry.Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Second,
		Factor:      2.0,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}
	transport := NewRetryTransport(server.Client(), &fakeAuth{token: "t"}, policy, nil, nil)

	_, err := transport.Do(ctx, http.MethodGet, server.URL, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
