// Package gservice wraps the Gmail API calls the service makes on behalf of a
// connected user.
package gservice

import (
	"context"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/hal9000y/meeting-notify/internal/auth"
)

const gmailUserID = "me"

// NewGmail creates a Gmail client bound to cred. The token source is static:
// credentials are refreshed before a dispatch starts, never mid-send.
func NewGmail(ctx context.Context, cred auth.GmailCredential, opts ...option.ClientOption) (*GMail, error) {
	clt := oauth2.NewClient(ctx, oauth2.StaticTokenSource(cred.Token()))

	svc, err := gmail.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(clt)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("gmail.NewService failed: %w", err)
	}

	return &GMail{svc: svc}, nil
}

// GMail sends messages as the authenticated user.
type GMail struct {
	svc *gmail.Service
}

// SendRaw submits an RFC 5322 message and returns the Gmail message ID.
func (m *GMail) SendRaw(ctx context.Context, raw []byte) (string, error) {
	msg, err := m.svc.Users.Messages.Send(gmailUserID, &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("messages.Send failed: %w", err)
	}

	return msg.Id, nil
}

// Profile returns the email address of the authenticated user.
func (m *GMail) Profile(ctx context.Context) (string, error) {
	p, err := m.svc.Users.GetProfile(gmailUserID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("users.GetProfile failed: %w", err)
	}

	return p.EmailAddress, nil
}
