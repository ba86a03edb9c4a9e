package zoom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/curtbushko/zoom-extractor/internal/config"
	"github.com/curtbushko/zoom-extractor/internal/logging"
)

// SafetyMargin is how long before expiry a cached token stops being used
const SafetyMargin = 5 * time.Minute

// Credential is a bearer token and its lifetime
type Credential struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	AcquiredAt  time.Time `json:"acquired_at"`
}

// Valid reports whether the credential can be used at now
func (c *Credential) Valid(now time.Time) bool {
	return c != nil && c.AccessToken != "" && now.Before(c.ExpiresAt.Add(-SafetyMargin))
}

// Authorizer supplies request headers and can be told to refresh
type Authorizer interface {
	AuthHeaders(ctx context.Context) (map[string]string, error)
	Refresh(ctx context.Context) error
}

// CredentialStore acquires, caches and refreshes the single Server-to-Server OAuth token
// this process uses. It is safe for concurrent use.
type CredentialStore struct {
	oauth     clientcredentials.Config
	cachePath string
	client    *http.Client
	now       func() time.Time
	attempts  uint64
	interval  time.Duration

	mu         sync.Mutex
	credential *Credential

	// OnRefresh is called after every successful exchange.
	OnRefresh func()
}

// NewCredentialStore creates a store for the account in cfg. cachePath may be empty
// to disable the on-disk cache.
func NewCredentialStore(cfg config.ZoomConfig, cachePath string) *CredentialStore {
	return &CredentialStore{
		oauth: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
			EndpointParams: map[string][]string{
				"grant_type": {"account_credentials"},
				"account_id": {cfg.AccountID},
			},
		},
		cachePath: cachePath,
		client:    &http.Client{Timeout: cfg.APITimeout()},
		now:       time.Now,
		attempts:  3,
		interval:  500 * time.Millisecond,
	}
}

// AuthHeaders returns a fresh header map carrying the current bearer token
func (s *CredentialStore) AuthHeaders(ctx context.Context) (map[string]string, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

// Token returns a usable access token, exchanging credentials only when needed
func (s *CredentialStore) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.credential.Valid(now) {
		return s.credential.AccessToken, nil
	}

	if cached, err := s.loadCache(); err == nil && cached.Valid(now) {
		s.credential = cached
		return cached.AccessToken, nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warn("Ignoring unreadable token cache %s: %v", s.cachePath, err)
	}

	if err := s.exchangeLocked(ctx); err != nil {
		return "", err
	}
	return s.credential.AccessToken, nil
}

// Refresh discards the current token and performs a new exchange
func (s *CredentialStore) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchangeLocked(ctx)
}

func (s *CredentialStore) exchangeLocked(ctx context.Context) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)

	var token *oauth2.Token
	operation := func() error {
		var err error
		token, err = s.oauth.Token(ctx)
		if err == nil {
			return nil
		}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		if strings.Contains(err.Error(), "missing access_token") {
			return backoff.Permanent(err)
		}
		logging.Warn("Token exchange failed, will retry: %v", err)
		return err
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = s.interval
	expBackoff.MaxElapsedTime = time.Minute
	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, s.attempts-1), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return &AuthError{
			Type:   "token_exchange",
			Reason: "failed to obtain access token",
			Err:    err,
		}
	}

	if token.AccessToken == "" {
		return &AuthError{Type: "response_parsing", Reason: "token response missing access_token"}
	}
	if token.Expiry.IsZero() {
		return &AuthError{Type: "response_parsing", Reason: "token response missing expires_in"}
	}

	now := s.now()
	expiresAt := token.Expiry
	if claimed, ok := jwtExpiry(token.AccessToken); ok && claimed.Before(expiresAt) {
		expiresAt = claimed
	}

	s.credential = &Credential{
		AccessToken: token.AccessToken,
		ExpiresAt:   expiresAt,
		AcquiredAt:  now,
	}

	if err := s.saveCache(s.credential); err != nil {
		logging.Warn("Failed to write token cache %s: %v", s.cachePath, err)
	}
	logging.Info("Obtained access token, expires at %s", expiresAt.UTC().Format(time.RFC3339))

	if s.OnRefresh != nil {
		s.OnRefresh()
	}
	return nil
}

// jwtExpiry reads the exp claim of a JWT access token without verifying it.
// Zoom signs its tokens, but we only use the claim to avoid outliving it.
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (s *CredentialStore) loadCache() (*Credential, error) {
	if s.cachePath == "" {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(s.cachePath)
	if err != nil {
		return nil, err
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to parse token cache: %w", err)
	}
	return &cred, nil
}

// saveCache overwrites the cache file. Concurrent processes race; the last writer wins.
func (s *CredentialStore) saveCache(cred *Credential) error {
	if s.cachePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.cachePath), 0755); err != nil {
		return fmt.Errorf("failed to create token cache directory: %w", err)
	}

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}

	tmpPath := s.cachePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	if err := os.Rename(tmpPath, s.cachePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace token cache: %w", err)
	}
	return nil
}
