package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpirySkew treats tokens that expire this soon as already expired,
// so a send started right before expiry does not hit a 401.
const DefaultExpirySkew = time.Minute

// Guard refreshes Gmail credentials. It never persists the result: callers
// store the returned credential themselves.
type Guard struct {
	cfg  *oauth2.Config
	now  func() time.Time
	skew time.Duration
}

// NewGuard creates a Guard using cfg's token endpoint. A nil clock defaults to
// time.Now.
func NewGuard(cfg *oauth2.Config, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{cfg: cfg, now: now, skew: DefaultExpirySkew}
}

// Expired reports whether cred needs a refresh before use.
func (g *Guard) Expired(cred GmailCredential) bool {
	if cred.AccessToken == "" || cred.Expiry.IsZero() {
		return true
	}
	return !cred.Expiry.After(g.now().Add(g.skew))
}

// EnsureValid returns a credential with a usable access token. The boolean
// reports whether a refresh happened and the credential must be persisted.
func (g *Guard) EnsureValid(ctx context.Context, cred GmailCredential) (GmailCredential, bool, error) {
	if !g.Expired(cred) {
		return cred, false, nil
	}

	if cred.RefreshToken == "" {
		return cred, false, fmt.Errorf("%w: no refresh token", ErrAuthExpired)
	}

	src := g.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return cred, false, fmt.Errorf("%w: src.Token failed: %w", ErrAuthExpired, err)
	}

	refreshed := GmailCredential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Email:        cred.Email,
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	if refreshed.Expiry.IsZero() {
		// Providers may omit expires_in; assume the usual Google lifetime.
		refreshed.Expiry = g.now().Add(time.Hour)
	}

	return refreshed, true, nil
}

// Token converts cred into an oauth2 token for API clients.
func (c GmailCredential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
		TokenType:    "Bearer",
	}
}
