// Package auth keeps per-user channel credentials usable: it refreshes Gmail
// OAuth tokens and runs the consent flow that connects a Gmail account.
package auth

import (
	"errors"
	"strconv"
	"time"
)

// ErrAuthExpired indicates the Gmail credential can no longer be refreshed
// and the user must connect the account again.
var ErrAuthExpired = errors.New("gmail authorization expired")

// GmailCredential is a user's Gmail OAuth token set. The refresh token is
// the long lived source of truth; the access token may be empty.
type GmailCredential struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Email        string    `json:"email,omitempty"`
}

// SMTPCredential holds the mail server a user sends through.
type SMTPCredential struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Secret   string `json:"secret"`
	From     string `json:"from,omitempty"`
}

// Addr returns host:port.
func (c SMTPCredential) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Sender returns the envelope sender, falling back to the username.
func (c SMTPCredential) Sender() string {
	if c.From != "" {
		return c.From
	}
	return c.Username
}
