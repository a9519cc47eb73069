// Package channel delivers a rendered message to a single recipient over one
// delivery channel.
package channel

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"

	"github.com/hal9000y/meeting-notify/internal/message"
)

// Kind identifies a delivery channel.
type Kind string

const (
	Gmail    Kind = "gmail"
	SMTP     Kind = "smtp"
	WhatsApp Kind = "whatsapp"
)

// ParseKind validates a channel name coming from a caller.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Gmail, SMTP, WhatsApp:
		return k, true
	default:
		return "", false
	}
}

// Outcome is the per-recipient result of a send.
type Outcome string

const (
	// Delivered means the provider accepted the message.
	Delivered Outcome = "delivered"
	// LinkGenerated means a link was produced for the user to open; nothing
	// was transmitted.
	LinkGenerated Outcome = "link_generated"
	Failed        Outcome = "failed"
)

// Receipt is a successful send: a provider message ID for Delivered, a URL
// for LinkGenerated.
type Receipt struct {
	Outcome Outcome
	ID      string
	URL     string
}

// Adapter sends one message to one recipient. Implementations must be safe
// for concurrent use and must not modify msg.
type Adapter interface {
	Kind() Kind
	Send(ctx context.Context, recipient string, msg message.Message) (Receipt, error)
}

// Reason classifies a failed send.
type Reason string

const (
	ReasonInvalidRecipient Reason = "invalid_recipient"
	ReasonProviderRejected Reason = "provider_rejected"
	ReasonRejected         Reason = "rejected"
	ReasonAuthFailed       Reason = "auth_failed"
	ReasonAuthExpired      Reason = "auth_expired"
	ReasonConnectFailed    Reason = "connect_failed"
	ReasonTransient        Reason = "transient"
	ReasonTimeout          Reason = "timeout"
	ReasonCanceled         Reason = "canceled"
)

// Error is a failed send to one recipient.
type Error struct {
	Kind   Kind
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, reason Reason, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// ReasonOf extracts the failure reason from err.
func ReasonOf(err error) Reason {
	var chErr *Error
	switch {
	case errors.As(err, &chErr):
		return chErr.Reason
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	default:
		return ReasonTransient
	}
}

// contextError maps a done context to a send error, or returns nil.
func contextError(ctx context.Context, kind Kind, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return newError(kind, ReasonTimeout, err)
	case errors.Is(err, context.Canceled), errors.Is(ctx.Err(), context.Canceled):
		return newError(kind, ReasonCanceled, err)
	default:
		return nil
	}
}

func validateEmail(kind Kind, recipient string) error {
	if _, err := netmail.ParseAddress(recipient); err != nil {
		return newError(kind, ReasonInvalidRecipient, fmt.Errorf("netmail.ParseAddress failed: %w", err))
	}
	return nil
}
