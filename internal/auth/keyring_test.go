package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	os.Exit(m.Run())
}

// Tests share the mock keyring, so they run sequentially with distinct users.

func TestKeyringAuthenticator_NoToken(t *testing.T) {
	a := NewKeyringAuthenticator("", "no-token")
	assert.False(t, a.IsAuthenticated())

	_, err := a.Token()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestKeyringAuthenticator_IsAuthenticated(t *testing.T) {
	tests := []struct {
		name  string
		token *oauth2.Token
		want  bool
	}{
		{
			name:  "valid access token",
			token: &oauth2.Token{AccessToken: "at", Expiry: time.Now().Add(time.Hour)},
			want:  true,
		},
		{
			name:  "expired with refresh token",
			token: &oauth2.Token{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(-time.Hour)},
			want:  true,
		},
		{
			name:  "expired without refresh token",
			token: &oauth2.Token{AccessToken: "at", Expiry: time.Now().Add(-time.Hour)},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewKeyringAuthenticator("cadence-sync-test", tt.name)
			require.NoError(t, a.SaveToken(tt.token))
			t.Cleanup(func() { _ = a.Clear() })

			assert.Equal(t, tt.want, a.IsAuthenticated())
		})
	}
}

func TestKeyringAuthenticator_SaveAndClear(t *testing.T) {
	a := NewKeyringAuthenticator("cadence-sync-test", "save-clear")

	require.Error(t, a.SaveToken(nil))
	require.Error(t, a.SaveToken(&oauth2.Token{}))

	require.NoError(t, a.SaveToken(&oauth2.Token{AccessToken: "abc", TokenType: "Bearer"}))
	token, err := a.Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", token.AccessToken)

	require.NoError(t, a.Clear())
	assert.False(t, a.IsAuthenticated())
	require.NoError(t, a.Clear(), "clearing twice is fine")
}

func TestKeyringAuthenticator_CachesKeyringReads(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	a := NewKeyringAuthenticator("cadence-sync-test", "cached", WithClock(clk), WithCacheTTL(time.Minute))
	t.Cleanup(func() { _ = a.Clear() })

	require.NoError(t, a.SaveToken(&oauth2.Token{AccessToken: "at", RefreshToken: "rt"}))
	assert.True(t, a.IsAuthenticated())

	// Removed behind the authenticator's back: the cached answer holds
	require.NoError(t, keyring.Delete("cadence-sync-test", "cached"))
	assert.True(t, a.IsAuthenticated())

	clk.Step(time.Minute)
	assert.False(t, a.IsAuthenticated(), "cache expired, keyring read again")

	// Stored behind its back: not seen until the cached absence expires
	require.NoError(t, keyring.Set("cadence-sync-test", "cached", `{"access_token":"at","refresh_token":"rt"}`))
	assert.False(t, a.IsAuthenticated())
	clk.Step(time.Minute)
	assert.True(t, a.IsAuthenticated())

	// In-process sign out takes effect immediately
	require.NoError(t, a.Clear())
	assert.False(t, a.IsAuthenticated())
}

func TestKeyringAuthenticator_CorruptedEntry(t *testing.T) {
	a := NewKeyringAuthenticator("cadence-sync-test", "corrupted")
	require.NoError(t, keyring.Set("cadence-sync-test", "corrupted", "not json"))
	t.Cleanup(func() { _ = a.Clear() })

	assert.False(t, a.IsAuthenticated())
	_, err := a.Token()
	require.Error(t, err)
}

func TestKeyringAuthenticator_TokenSourceAuthorizesRequests(t *testing.T) {
	a := NewKeyringAuthenticator("cadence-sync-test", "token-source")
	require.NoError(t, a.SaveToken(&oauth2.Token{
		AccessToken: "secret-token",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}))
	t.Cleanup(func() { _ = a.Clear() })

	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	client := oauth2.NewClient(context.Background(), a.TokenSource())
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "Bearer secret-token", <-gotAuth)
}
