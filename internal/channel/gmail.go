package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/hal9000y/meeting-notify/internal/auth"
	"github.com/hal9000y/meeting-notify/internal/message"
)

type rawSender interface {
	SendRaw(ctx context.Context, raw []byte) (string, error)
}

// GmailAdapter sends through the Gmail API as the connected user.
type GmailAdapter struct {
	svc  rawSender
	from string
}

// NewGmail creates a Gmail adapter. from may be empty; Gmail then uses the
// account address.
func NewGmail(svc rawSender, from string) *GmailAdapter {
	return &GmailAdapter{svc: svc, from: from}
}

func (g *GmailAdapter) Kind() Kind { return Gmail }

// Send composes the MIME message for recipient and submits it.
func (g *GmailAdapter) Send(ctx context.Context, recipient string, msg message.Message) (Receipt, error) {
	if err := validateEmail(Gmail, recipient); err != nil {
		return Receipt{}, err
	}

	raw, err := message.MIME(g.from, recipient, msg)
	if err != nil {
		return Receipt{}, newError(Gmail, ReasonInvalidRecipient, fmt.Errorf("message.MIME failed: %w", err))
	}

	id, err := g.svc.SendRaw(ctx, raw)
	if err != nil {
		return Receipt{}, classifyGmail(ctx, err)
	}

	return Receipt{Outcome: Delivered, ID: id}, nil
}

func classifyGmail(ctx context.Context, err error) *Error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return newError(Gmail, ReasonAuthExpired, fmt.Errorf("%w: %w", auth.ErrAuthExpired, err))
		case apiErr.Code >= 400 && apiErr.Code < 500:
			return newError(Gmail, ReasonProviderRejected, err)
		default:
			return newError(Gmail, ReasonTransient, err)
		}
	}

	if ctxErr := contextError(ctx, Gmail, err); ctxErr != nil {
		return ctxErr
	}

	return newError(Gmail, ReasonTransient, err)
}
