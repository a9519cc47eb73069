package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// ErrInvalidState indicates an unknown, reused or expired OAuth state value.
var ErrInvalidState = errors.New("invalid or expired state parameter")

const stateTTL = 5 * time.Minute

type pendingState struct {
	userID string
	expiry time.Time
}

// Connector runs the OAuth consent flow that connects a user's Gmail account.
type Connector struct {
	mu         sync.Mutex
	cfg        *oauth2.Config
	now        func() time.Time
	stateStore map[string]pendingState
}

// NewConnector creates a Connector. A nil clock defaults to time.Now.
func NewConnector(cfg *oauth2.Config, now func() time.Time) *Connector {
	if now == nil {
		now = time.Now
	}
	return &Connector{
		cfg:        cfg,
		now:        now,
		stateStore: make(map[string]pendingState),
	}
}

// AuthCodeURL generates the consent URL for userID with a one-time state.
// Offline access with forced approval makes Google return a refresh token.
func (c *Connector) AuthCodeURL(userID string) (string, error) {
	state, err := c.generateState(userID)
	if err != nil {
		return "", fmt.Errorf("generateState failed: %w", err)
	}

	return c.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

func (c *Connector) generateState(userID string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("rand.Read failed: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(b)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.stateStore[state] = pendingState{userID: userID, expiry: now.Add(stateTTL)}

	for s, p := range c.stateStore {
		if p.expiry.Before(now) {
			delete(c.stateStore, s)
		}
	}

	return state, nil
}

func (c *Connector) consumeState(state string) (string, bool) {
	if state == "" {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, exists := c.stateStore[state]
	if !exists {
		return "", false
	}

	delete(c.stateStore, state)

	if c.now().After(p.expiry) {
		return "", false
	}

	return p.userID, true
}

// Exchange trades an authorization code for a credential after validating
// state. It returns the user the state was issued for.
func (c *Connector) Exchange(ctx context.Context, code, state string) (string, GmailCredential, error) {
	userID, ok := c.consumeState(state)
	if !ok {
		return "", GmailCredential{}, ErrInvalidState
	}

	tok, err := c.cfg.Exchange(ctx, code)
	if err != nil {
		return "", GmailCredential{}, fmt.Errorf("cfg.Exchange failed: %w", err)
	}

	return userID, GmailCredential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}
