package zoom

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// pagedServer serves pages of users; page i is reached with next_page_token "p<i>"
func pagedServer(t *testing.T, pages int, perPage int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		page := 0
		if token := r.URL.Query().Get("next_page_token"); token != "" {
			page, _ = strconv.Atoi(token[1:])
		}

		next := ""
		if page+1 < pages {
			next = fmt.Sprintf("p%d", page+1)
		}
		users := ""
		for i := 0; i < perPage; i++ {
			if i > 0 {
				users += ","
			}
			users += fmt.Sprintf(`{"id":"u%d-%d","email":"u%d-%d@example.com"}`, page, i, page, i)
		}
		fmt.Fprintf(w, `{"page_size":%d,"next_page_token":%q,"users":[%s]}`, perPage, next, users)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestTransport(server *httptest.Server) *RetryTransport {
	var delays []time.Duration
	return NewRetryTransport(server.Client(), &fakeAuth{token: "t"}, testPolicy(&delays), nil, nil)
}

func TestPagerFetchesEveryPage(t *testing.T) {
	tests := []struct {
		name          string
		pages         int
		perPage       int
		expectedItems int
	}{
		{name: "single page", pages: 1, perPage: 3, expectedItems: 3},
		{name: "three pages", pages: 3, perPage: 2, expectedItems: 6},
		{name: "ten pages", pages: 10, perPage: 1, expectedItems: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := pagedServer(t, tt.pages, tt.perPage, &calls)
			pager := NewPager[User](newTestTransport(server), server.URL+"/users", "users", nil, tt.perPage)

			users, err := Collect(pager.All(context.Background()))
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(users) != tt.expectedItems {
				t.Errorf("Expected %d users, got %d", tt.expectedItems, len(users))
			}
			if got := int(calls.Load()); got != tt.pages {
				t.Errorf("Expected %d page requests, got %d", tt.pages, got)
			}
		})
	}
}

func TestPagerIsLazy(t *testing.T) {
	var calls atomic.Int32
	server := pagedServer(t, 5, 2, &calls)
	pager := NewPager[User](newTestTransport(server), server.URL+"/users", "users", nil, 2)

	seq := pager.All(context.Background())
	if got := calls.Load(); got != 0 {
		t.Fatalf("Expected no requests before iteration, got %d", got)
	}

	count := 0
	for _, err := range seq {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		count++
		if count == 3 {
			break
		}
	}

	if got := calls.Load(); got != 2 {
		t.Errorf("Expected 2 page requests after consuming 3 items, got %d", got)
	}
}

func TestPagerListPageKinds(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected ResultKind
		items    int
		next     string
	}{
		{name: "ok", status: http.StatusOK, body: `{"next_page_token":"abc","users":[{"id":"1"}]}`, expected: ResultOK, items: 1, next: "abc"},
		{name: "no items", status: http.StatusOK, body: `{"users":[]}`, expected: ResultEmpty},
		{name: "null items", status: http.StatusOK, body: `{"users":null,"next_page_token":""}`, expected: ResultEmpty},
		{name: "not found", status: http.StatusNotFound, body: `{"code":1001,"message":"User does not exist"}`, expected: ResultEmpty},
		{name: "bad request", status: http.StatusBadRequest, body: `{"code":300}`, expected: ResultError},
		{name: "malformed body", status: http.StatusOK, body: `{"users":`, expected: ResultError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			pager := NewPager[User](newTestTransport(server), server.URL+"/users", "users", nil, 30)
			page := pager.ListPage(context.Background(), "")

			if page.Kind != tt.expected {
				t.Fatalf("Expected kind %s, got %s (err=%v)", tt.expected, page.Kind, page.Err)
			}
			if len(page.Items) != tt.items {
				t.Errorf("Expected %d items, got %d", tt.items, len(page.Items))
			}
			if page.NextCursor != tt.next {
				t.Errorf("Expected cursor %q, got %q", tt.next, page.NextCursor)
			}
			if tt.expected == ResultError && page.Err == nil {
				t.Error("Expected an error for ResultError")
			}
		})
	}
}

func TestPagerYieldsErrorAfterPartialResults(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte(`{"next_page_token":"p1","users":[{"id":"a"},{"id":"b"}]}`))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	pager := NewPager[User](newTestTransport(server), server.URL+"/users", "users", nil, 2)
	users, err := Collect(pager.All(context.Background()))

	var perm *PermanentHTTPError
	if !errors.As(err, &perm) {
		t.Fatalf("Expected PermanentHTTPError, got %v", err)
	}
	if len(users) != 2 {
		t.Errorf("Expected the first page to be kept, got %d users", len(users))
	}
}

func TestPagerStopsOnRepeatedCursor(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"next_page_token":"same","users":[{"id":"a"}]}`))
	}))
	defer server.Close()

	pager := NewPager[User](newTestTransport(server), server.URL+"/users", "users", nil, 1)
	if _, err := Collect(pager.All(context.Background())); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("Expected 2 requests before the loop is detected, got %d", got)
	}
}
