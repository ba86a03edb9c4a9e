package zoom

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AuthError represents authentication-related errors. It is fatal for a run.
type AuthError struct {
	Type   string
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error %s: %s (%v)", e.Type, e.Reason, e.Err)
	}
	return fmt.Sprintf("auth error %s: %s", e.Type, e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// HTTPStatus makes retry classify every AuthError as an auth failure, never as transient
func (e *AuthError) HTTPStatus() int {
	return http.StatusUnauthorized
}

// ZoomAPIError is the JSON error body Zoom returns with non-2xx responses
type ZoomAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HTTPError describes a non-2xx response
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Body       string
	API        *ZoomAPIError
}

func (e *HTTPError) Error() string {
	if e.API != nil && e.API.Message != "" {
		return fmt.Sprintf("%s %s: HTTP %d: zoom error %d: %s", e.Method, e.URL, e.StatusCode, e.API.Code, e.API.Message)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
}

// HTTPStatus returns the response status code
func (e *HTTPError) HTTPStatus() int {
	return e.StatusCode
}

// TransientHTTPError is a retryable response (429 or 5xx)
type TransientHTTPError struct {
	HTTPError
	RetryAfter time.Duration
}

// RetryAfterHint returns the server-provided wait, if any
func (e *TransientHTTPError) RetryAfterHint() (time.Duration, bool) {
	return e.RetryAfter, e.RetryAfter > 0
}

// PermanentHTTPError is a response that retrying will not fix
type PermanentHTTPError struct {
	HTTPError
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	var perm *PermanentHTTPError
	return errors.As(err, &perm) && perm.StatusCode == http.StatusNotFound
}

func newHTTPError(req *http.Request, resp *http.Response, body []byte) HTTPError {
	httpErr := HTTPError{
		Method:     req.Method,
		URL:        req.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       truncate(string(body), 512),
	}

	var apiErr ZoomAPIError
	if len(body) > 0 && json.Unmarshal(body, &apiErr) == nil && (apiErr.Code != 0 || apiErr.Message != "") {
		httpErr.API = &apiErr
	}
	return httpErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
