package zoom

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
)

// ResultKind tags a page fetch outcome
type ResultKind int

const (
	ResultOK ResultKind = iota
	ResultEmpty
	ResultError
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultEmpty:
		return "empty"
	default:
		return "error"
	}
}

// PageResult is one page of a listing. Callers switch on Kind instead of inspecting errors.
type PageResult[T any] struct {
	Kind       ResultKind
	Items      []T
	NextCursor string
	Err        error
}

// Pager walks a cursor-paginated listing endpoint
type Pager[T any] struct {
	transport Transport
	url       string
	itemsKey  string
	params    url.Values
	pageSize  int
}

// NewPager creates a pager over rawURL. itemsKey names the JSON array holding the items
// (for example "users" or "meetings").
func NewPager[T any](transport Transport, rawURL, itemsKey string, params url.Values, pageSize int) *Pager[T] {
	return &Pager[T]{
		transport: transport,
		url:       rawURL,
		itemsKey:  itemsKey,
		params:    params,
		pageSize:  pageSize,
	}
}

// ListPage fetches the page at cursor. An empty cursor means the first page.
// A 404 is reported as ResultEmpty.
func (p *Pager[T]) ListPage(ctx context.Context, cursor string) PageResult[T] {
	query := url.Values{}
	for key, values := range p.params {
		query[key] = append([]string(nil), values...)
	}
	if p.pageSize > 0 {
		query.Set("page_size", strconv.Itoa(p.pageSize))
	}
	if cursor != "" {
		query.Set("next_page_token", cursor)
	}

	resp, err := p.transport.Do(ctx, http.MethodGet, p.url, query)
	if err != nil {
		if IsNotFound(err) {
			return PageResult[T]{Kind: ResultEmpty}
		}
		return PageResult[T]{Kind: ResultError, Err: err}
	}
	defer resp.Body.Close()

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return PageResult[T]{Kind: ResultError, Err: fmt.Errorf("failed to decode %s page: %w", p.itemsKey, err)}
	}

	var items []T
	if data, ok := raw[p.itemsKey]; ok && len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &items); err != nil {
			return PageResult[T]{Kind: ResultError, Err: fmt.Errorf("failed to decode %s: %w", p.itemsKey, err)}
		}
	}

	var next string
	if data, ok := raw["next_page_token"]; ok {
		_ = json.Unmarshal(data, &next)
	}

	if len(items) == 0 && next == "" {
		return PageResult[T]{Kind: ResultEmpty}
	}
	return PageResult[T]{Kind: ResultOK, Items: items, NextCursor: next}
}

// All yields every item lazily, fetching one page per advance. Stopping the range loop
// stops fetching. A failed page yields its error once and ends the sequence; items already
// yielded stay valid.
func (p *Pager[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		cursor := ""
		seen := make(map[string]bool)
		for {
			page := p.ListPage(ctx, cursor)
			switch page.Kind {
			case ResultEmpty:
				return
			case ResultError:
				var zero T
				yield(zero, page.Err)
				return
			}

			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}

			if page.NextCursor == "" || seen[page.NextCursor] {
				return
			}
			seen[page.NextCursor] = true
			cursor = page.NextCursor
		}
	}
}

// Collect drains a sequence into a slice, stopping at the first error
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}
