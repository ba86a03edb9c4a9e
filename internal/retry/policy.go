// Package retry provides backoff computation and retry classification for Zoom API calls
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/curtbushko/zoom-extractor/internal/config"
)

// ErrorType represents different categories of errors for retry logic
type ErrorType string

const (
	ErrorTypeNetwork   ErrorType = "network"
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeServer    ErrorType = "server"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeClient    ErrorType = "client"
	ErrorTypeCanceled  ErrorType = "canceled"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// StatusError is implemented by errors that carry an HTTP status code
type StatusError interface {
	error
	HTTPStatus() int
}

// RetryAfterError is implemented by errors that carry a server-provided wait hint
type RetryAfterError interface {
	error
	RetryAfterHint() (time.Duration, bool)
}

// RetriesExhaustedError is returned when the attempt budget runs out
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Last
}

// jitterFactor spreads each delay over ±25%
const jitterFactor = 0.25

// Policy computes backoff delays and drives retry loops.
// The zero value is not usable; use DefaultPolicy or FromConfig.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      bool

	// Sleep waits between attempts. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns 5 attempts starting at 1s, doubling, capped at 60s, with jitter
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Factor:      2.0,
		Jitter:      true,
	}
}

// FromConfig builds a policy from the retry section of the configuration
func FromConfig(cfg config.RetryConfig) *Policy {
	return &Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   time.Duration(cfg.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.MaxDelayMS) * time.Millisecond,
		Factor:      cfg.Factor,
		Jitter:      cfg.Jitter,
	}
}

// Validate checks that the policy is usable
func (p *Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be greater than 0")
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base_delay cannot be negative")
	}
	if p.Factor < 1.0 {
		return fmt.Errorf("factor must be >= 1.0")
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max_delay cannot be less than base_delay")
	}
	return nil
}

// BackoffFor returns min(MaxDelay, BaseDelay*Factor^attempt) without jitter
func (p *Policy) BackoffFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := p.Factor
	if factor < 1.0 {
		factor = 2.0
	}

	delay := float64(p.BaseDelay) * math.Pow(factor, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// NewBackOff returns the delay schedule as an exponential backoff starting at BaseDelay,
// growing by Factor and capped at MaxDelay, with ±25% randomization when Jitter is set.
// It never stops on its own; MaxAttempts bounds the retries.
func (p *Policy) NewBackOff() *backoff.ExponentialBackOff {
	factor := p.Factor
	if factor < 1.0 {
		factor = 2.0
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Duration(math.MaxInt64)
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval: min(p.BaseDelay, maxDelay),
		Multiplier:      factor,
		MaxInterval:     maxDelay,
		Clock:           backoff.SystemClock,
	}
	if p.Jitter {
		b.RandomizationFactor = jitterFactor
	}
	b.Reset()
	return b
}

// DelayFor returns the wait before retry number attempt (0-based)
func (p *Policy) DelayFor(attempt int) time.Duration {
	b := p.NewBackOff()
	delay := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// ShouldRetryStatus reports whether a response status is worth retrying
func ShouldRetryStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ShouldRetryError reports whether err is a transient condition
func ShouldRetryError(err error) bool {
	switch Classify(err) {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer, ErrorTypeRateLimit:
		return true
	}
	return false
}

// Classify classifies an error into an ErrorType for retry logic
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	if errors.Is(err, context.Canceled) {
		return ErrorTypeCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}

	var statusErr StatusError
	if errors.As(err, &statusErr) {
		return ClassifyStatus(statusErr.HTTPStatus())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return ErrorTypeNetwork
	}

	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "connection reset") || strings.Contains(errMsg, "connection refused") {
		return ErrorTypeNetwork
	}

	return ErrorTypeUnknown
}

// ClassifyStatus classifies HTTP status codes into error types
func ClassifyStatus(statusCode int) ErrorType {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorTypeAuth
	case ShouldRetryStatus(statusCode):
		return ErrorTypeServer
	case statusCode >= 400:
		return ErrorTypeClient
	default:
		return ErrorTypeUnknown
	}
}

// RetryAfter parses the Retry-After header as seconds or an HTTP-date
func RetryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	return ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
}

// ParseRetryAfter parses a Retry-After value relative to now
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}

	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	return 0, false
}

// Do runs op until it succeeds, returns a non-retryable error or the attempt budget is spent.
// op receives the 0-based attempt number.
func (p *Policy) Do(ctx context.Context, op func(attempt int) error) error {
	schedule := p.NewBackOff()
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !ShouldRetryError(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := schedule.NextBackOff()
		var hinted RetryAfterError
		if errors.As(err, &hinted) {
			if d, ok := hinted.RetryAfterHint(); ok {
				delay = d
			}
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &RetriesExhaustedError{Attempts: p.MaxAttempts, Last: lastErr}
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext waits for d or until ctx is done
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
