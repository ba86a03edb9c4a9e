package zoom

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/curtbushko/zoom-extractor/internal/logging"
	"github.com/curtbushko/zoom-extractor/internal/metrics"
	"github.com/curtbushko/zoom-extractor/internal/retry"
)

// Transport performs authenticated Zoom API requests
type Transport interface {
	Do(ctx context.Context, method, rawURL string, query url.Values) (*http.Response, error)
}

// RetryTransport composes rate limiting, retry with backoff and a single token refresh on 401.
// A successful response is returned with an open body; every error response is drained and closed.
type RetryTransport struct {
	client  *http.Client
	auth    Authorizer
	policy  *retry.Policy
	limiter *retry.RateLimiter
	metrics *metrics.Collector
	logger  logging.Logger
}

// NewRetryTransport creates a transport. limiter and collector may be nil.
func NewRetryTransport(client *http.Client, auth Authorizer, policy *retry.Policy, limiter *retry.RateLimiter, collector *metrics.Collector) *RetryTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if limiter == nil {
		limiter = retry.Unlimited()
	}
	return &RetryTransport{
		client:  client,
		auth:    auth,
		policy:  policy,
		limiter: limiter,
		metrics: collector,
		logger:  logging.GetDefaultLogger(),
	}
}

// Do executes the request. Errors are *AuthError, *PermanentHTTPError, or a
// *retry.RetriesExhaustedError wrapping the last transient failure.
func (t *RetryTransport) Do(ctx context.Context, method, rawURL string, query url.Values) (*http.Response, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL %q: %w", rawURL, err)
	}
	if len(query) > 0 {
		merged := target.Query()
		for key, values := range query {
			for _, v := range values {
				merged.Add(key, v)
			}
		}
		target.RawQuery = merged.Encode()
	}

	requestID := logging.GenerateRequestID()
	ctx = logging.WithRequestID(ctx, requestID)

	var result *http.Response
	refreshed := false

	err = t.policy.Do(ctx, func(attempt int) error {
		for {
			resp, req, err := t.send(ctx, method, target, attempt, requestID)
			if err != nil {
				return err
			}

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				result = resp
				return nil
			}

			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			resp.Body.Close()

			if resp.StatusCode == http.StatusUnauthorized {
				if refreshed {
					return &AuthError{
						Type:   "unauthorized",
						Reason: fmt.Sprintf("%s %s still unauthorized after token refresh", method, target.Redacted()),
					}
				}
				refreshed = true
				t.logger.WarnWithContext(ctx, "Received 401 for %s, refreshing token", target.Path)
				if err := t.auth.Refresh(ctx); err != nil {
					return err
				}
				continue
			}

			httpErr := newHTTPError(req, resp, body)
			if retry.ShouldRetryStatus(resp.StatusCode) {
				transient := &TransientHTTPError{HTTPError: httpErr}
				if resp.StatusCode == http.StatusTooManyRequests {
					if d, ok := retry.RetryAfter(resp); ok {
						transient.RetryAfter = d
					}
				}
				return transient
			}
			return &PermanentHTTPError{HTTPError: httpErr}
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (t *RetryTransport) send(ctx context.Context, method string, target *url.URL, attempt int, requestID string) (*http.Response, *http.Request, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	headers, err := t.auth.AuthHeaders(ctx)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Accept", "application/json")

	t.logger.LogAPIRequest(logging.APIRequest{
		Method:    method,
		URL:       target.Redacted(),
		Headers:   headers,
		Attempt:   attempt + 1,
		RequestID: requestID,
	})

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		t.metrics.RecordAPIRequest(method, 0)
		t.logger.LogAPIResponse(logging.APIResponse{RequestID: requestID, Duration: time.Since(start), Error: err.Error()})
		return nil, nil, fmt.Errorf("%s %s: %w", method, target.Redacted(), err)
	}

	t.metrics.RecordAPIRequest(method, resp.StatusCode)
	t.logger.LogAPIResponse(logging.APIResponse{
		StatusCode: resp.StatusCode,
		RequestID:  requestID,
		Duration:   time.Since(start),
		Success:    resp.StatusCode < 400,
	})
	return resp, req, nil
}
