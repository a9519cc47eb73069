package channel

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hal9000y/meeting-notify/internal/message"
)

const whatsAppBaseURL = "https://wa.me/"

// WhatsAppAdapter builds click-to-chat links. It never transmits anything;
// the user has to open each link.
type WhatsAppAdapter struct{}

// NewWhatsApp creates a WhatsApp link adapter.
func NewWhatsApp() *WhatsAppAdapter {
	return &WhatsAppAdapter{}
}

func (w *WhatsAppAdapter) Kind() Kind { return WhatsApp }

// Send returns the link that opens a chat with recipient prefilled with the
// message body.
func (w *WhatsAppAdapter) Send(_ context.Context, recipient string, msg message.Message) (Receipt, error) {
	digits := NormalizePhone(recipient)
	if digits == "" {
		return Receipt{}, newError(WhatsApp, ReasonInvalidRecipient, fmt.Errorf("no digits in phone number %q", recipient))
	}

	return Receipt{Outcome: LinkGenerated, URL: Link(digits, msg.Body)}, nil
}

// NormalizePhone keeps only the digits of a phone number.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Link builds the wa.me URL for a digits-only number. Spaces are encoded as
// %20, which the WhatsApp web client expects.
func Link(digits, text string) string {
	return whatsAppBaseURL + digits + "?text=" + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}
