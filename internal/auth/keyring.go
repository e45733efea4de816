// Package auth answers "is a user signed in" from the OAuth token kept in the
// operating system keyring, and supplies that token to the HTTP client.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"
	"k8s.io/utils/clock"
)

const (
	// DefaultService is the keyring service name
	DefaultService = "cadence-sync"

	// DefaultUser is the keyring account name
	DefaultUser = "default"

	// DefaultCacheTTL is how long IsAuthenticated trusts the last keyring read
	DefaultCacheTTL = time.Minute
)

// ErrNoToken is returned when the keyring holds no token
var ErrNoToken = errors.New("no token stored in keyring")

// KeyringAuthenticator reads the user's OAuth token from the OS keyring.
// Keyring reads can be slow (a secret-service round trip on Linux), so
// IsAuthenticated answers from the last read for up to the cache TTL.
// SaveToken and Clear update the cache immediately.
type KeyringAuthenticator struct {
	service string
	user    string
	ttl     time.Duration
	clock   clock.PassiveClock

	mu       sync.Mutex
	cached   *oauth2.Token
	loadedAt time.Time
	loaded   bool
}

// Option configures a KeyringAuthenticator
type Option func(*KeyringAuthenticator)

// WithCacheTTL sets how long a keyring read is trusted by IsAuthenticated
func WithCacheTTL(ttl time.Duration) Option {
	return func(a *KeyringAuthenticator) {
		a.ttl = ttl
	}
}

// WithClock sets the clock used to age the cache
func WithClock(c clock.PassiveClock) Option {
	return func(a *KeyringAuthenticator) {
		a.clock = c
	}
}

// NewKeyringAuthenticator creates an authenticator for the given keyring entry.
// Empty values fall back to DefaultService and DefaultUser.
func NewKeyringAuthenticator(service, user string, opts ...Option) *KeyringAuthenticator {
	if service == "" {
		service = DefaultService
	}
	if user == "" {
		user = DefaultUser
	}
	a := &KeyringAuthenticator{
		service: service,
		user:    user,
		ttl:     DefaultCacheTTL,
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Token reads the stored token from the keyring and refreshes the cache.
// It implements oauth2.TokenSource.
func (a *KeyringAuthenticator) Token() (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.read()
}

// read loads the token from the keyring; a.mu must be held. A missing token
// is cached like a present one; other failures are not.
func (a *KeyringAuthenticator) read() (*oauth2.Token, error) {
	token, err := a.fetch()
	if err != nil && !errors.Is(err, ErrNoToken) {
		a.loaded = false
		return nil, err
	}
	a.remember(token)
	if token == nil {
		return nil, ErrNoToken
	}
	tok := *token
	return &tok, nil
}

func (a *KeyringAuthenticator) remember(token *oauth2.Token) {
	a.cached = token
	a.loadedAt = a.clock.Now()
	a.loaded = true
}

func (a *KeyringAuthenticator) fetch() (*oauth2.Token, error) {
	secret, err := keyring.Get(a.service, a.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("failed to read token from keyring: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal([]byte(secret), &token); err != nil {
		return nil, fmt.Errorf("failed to decode stored token: %w", err)
	}
	return &token, nil
}

// IsAuthenticated reports whether a usable token is stored: either a valid
// access token or a refresh token to obtain one. Within the cache TTL it
// does not touch the keyring.
func (a *KeyringAuthenticator) IsAuthenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	token := a.cached
	if !a.loaded || a.clock.Since(a.loadedAt) >= a.ttl {
		var err error
		token, err = a.read()
		if err != nil {
			if !errors.Is(err, ErrNoToken) {
				slog.Warn("Failed to read token", "error", err)
			}
			return false
		}
	}
	if token == nil {
		return false
	}
	return token.Valid() || token.RefreshToken != ""
}

// SaveToken stores token in the keyring
func (a *KeyringAuthenticator) SaveToken(token *oauth2.Token) error {
	if token == nil || (token.AccessToken == "" && token.RefreshToken == "") {
		return errors.New("token must carry an access or refresh token")
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := keyring.Set(a.service, a.user, string(data)); err != nil {
		return fmt.Errorf("failed to store token in keyring: %w", err)
	}
	tok := *token
	a.remember(&tok)
	return nil
}

// Clear removes the stored token (sign out)
func (a *KeyringAuthenticator) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := keyring.Delete(a.service, a.user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to remove token from keyring: %w", err)
	}
	a.remember(nil)
	return nil
}

// TokenSource returns a caching token source backed by the keyring
func (a *KeyringAuthenticator) TokenSource() oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, a)
}
