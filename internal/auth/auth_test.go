package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/hal9000y/meeting-notify/internal/auth"
)

type tokenServer struct {
	*httptest.Server
	calls atomic.Int32
}

// newTokenServer fakes an OAuth token endpoint. Refresh token "revoked" is
// refused with invalid_grant.
func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		require.NoError(t, r.ParseForm())

		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "refresh_token":
			if r.PostForm.Get("refresh_token") == "revoked" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "fresh-access",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		case "authorization_code":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "code-access-" + r.PostForm.Get("code"),
				"refresh_token": "code-refresh",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/oauth/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   ts.URL + "/auth",
			TokenURL:  ts.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func TestGuardEnsureValid(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	cases := []struct {
		name          string
		cred          auth.GmailCredential
		expectRefresh bool
		expectErr     error
		expectAccess  string
	}{
		{
			name:         "valid token is returned untouched",
			cred:         auth.GmailCredential{AccessToken: "live", RefreshToken: "r", Expiry: now.Add(time.Hour)},
			expectAccess: "live",
		},
		{
			name:          "expired token is refreshed",
			cred:          auth.GmailCredential{AccessToken: "old", RefreshToken: "r", Expiry: now.Add(-time.Minute)},
			expectRefresh: true,
			expectAccess:  "fresh-access",
		},
		{
			name:          "token inside skew is refreshed",
			cred:          auth.GmailCredential{AccessToken: "old", RefreshToken: "r", Expiry: now.Add(30 * time.Second)},
			expectRefresh: true,
			expectAccess:  "fresh-access",
		},
		{
			name:          "missing expiry is refreshed",
			cred:          auth.GmailCredential{AccessToken: "old", RefreshToken: "r"},
			expectRefresh: true,
			expectAccess:  "fresh-access",
		},
		{
			name:          "missing access token is refreshed",
			cred:          auth.GmailCredential{RefreshToken: "r", Expiry: now.Add(time.Hour)},
			expectRefresh: true,
			expectAccess:  "fresh-access",
		},
		{
			name:      "revoked refresh token",
			cred:      auth.GmailCredential{RefreshToken: "revoked"},
			expectErr: auth.ErrAuthExpired,
		},
		{
			name:      "no refresh token",
			cred:      auth.GmailCredential{AccessToken: "old", Expiry: now.Add(-time.Minute)},
			expectErr: auth.ErrAuthExpired,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTokenServer(t)
			guard := auth.NewGuard(ts.config(), clock)

			cred, refreshed, err := guard.EnsureValid(context.Background(), tc.cred)
			if tc.expectErr != nil {
				require.ErrorIs(t, err, tc.expectErr)
				assert.False(t, refreshed)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expectRefresh, refreshed)
			assert.Equal(t, tc.expectAccess, cred.AccessToken)
			if tc.expectRefresh {
				assert.Equal(t, int32(1), ts.calls.Load())
				assert.Equal(t, tc.cred.RefreshToken, cred.RefreshToken, "refresh token is preserved")
				assert.False(t, cred.Expiry.IsZero())
			} else {
				assert.Equal(t, int32(0), ts.calls.Load())
			}
		})
	}
}

func TestConnectorExchange(t *testing.T) {
	ts := newTokenServer(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	conn := auth.NewConnector(ts.config(), func() time.Time { return now })

	authURL, err := conn.AuthCodeURL("user-1")
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	assert.Equal(t, "offline", u.Query().Get("access_type"))
	assert.Equal(t, "consent", u.Query().Get("prompt"))

	_, _, err = conn.Exchange(context.Background(), "abc", "forged")
	require.ErrorIs(t, err, auth.ErrInvalidState)

	userID, cred, err := conn.Exchange(context.Background(), "abc", state)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.Equal(t, "code-access-abc", cred.AccessToken)
	assert.Equal(t, "code-refresh", cred.RefreshToken)

	_, _, err = conn.Exchange(context.Background(), "abc", state)
	require.ErrorIs(t, err, auth.ErrInvalidState, "state is single use")
}

func TestConnectorStateExpires(t *testing.T) {
	ts := newTokenServer(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	conn := auth.NewConnector(ts.config(), func() time.Time { return now })

	authURL, err := conn.AuthCodeURL("user-1")
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)

	now = now.Add(6 * time.Minute)

	_, _, err = conn.Exchange(context.Background(), "abc", u.Query().Get("state"))
	require.ErrorIs(t, err, auth.ErrInvalidState)
	assert.Equal(t, int32(0), ts.calls.Load())
}
