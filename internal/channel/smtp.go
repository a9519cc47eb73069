package channel

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/hal9000y/meeting-notify/internal/auth"
	"github.com/hal9000y/meeting-notify/internal/message"
)

const smtpPortSSL = 465

// SMTPAdapter sends through the user's own mail server.
type SMTPAdapter struct {
	cred    auth.SMTPCredential
	timeout time.Duration
}

// NewSMTP creates an SMTP adapter. timeout bounds connecting and each SMTP
// command.
func NewSMTP(cred auth.SMTPCredential, timeout time.Duration) *SMTPAdapter {
	return &SMTPAdapter{cred: cred, timeout: timeout}
}

func (s *SMTPAdapter) Kind() Kind { return SMTP }

// Send opens a session, authenticates and transmits msg to recipient.
func (s *SMTPAdapter) Send(ctx context.Context, recipient string, msg message.Message) (Receipt, error) {
	if err := validateEmail(SMTP, recipient); err != nil {
		return Receipt{}, err
	}

	m, err := message.NewMailMsg(s.cred.Sender(), recipient, msg)
	if err != nil {
		return Receipt{}, newError(SMTP, ReasonInvalidRecipient, fmt.Errorf("message.NewMailMsg failed: %w", err))
	}
	m.SetMessageID()

	client, err := mail.NewClient(s.cred.Host, s.clientOptions()...)
	if err != nil {
		return Receipt{}, newError(SMTP, ReasonConnectFailed, fmt.Errorf("mail.NewClient failed: %w", err))
	}

	if err := client.DialWithContext(ctx); err != nil {
		return Receipt{}, classifySMTPDial(ctx, err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Send(m); err != nil {
		return Receipt{}, classifySMTPSend(ctx, err)
	}

	var id string
	if ids := m.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		id = ids[0]
	}

	return Receipt{Outcome: Delivered, ID: id}, nil
}

func (s *SMTPAdapter) clientOptions() []mail.Option {
	opts := []mail.Option{
		// The TLS policy picks a default port, so the user's port goes after it.
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithPort(s.cred.Port),
	}
	if s.cred.Port == smtpPortSSL {
		opts = append(opts, mail.WithSSL())
	}
	if s.timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.timeout))
	}
	if s.cred.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cred.Username),
			mail.WithPassword(s.cred.Secret),
		)
	}
	return opts
}

// SMTP replies that mean the credentials were refused.
var smtpAuthCodes = map[int]bool{530: true, 534: true, 535: true}

func classifySMTPDial(ctx context.Context, err error) *Error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && smtpAuthCodes[tpErr.Code] {
		return newError(SMTP, ReasonAuthFailed, err)
	}
	if ctxErr := contextError(ctx, SMTP, err); ctxErr != nil {
		return ctxErr
	}
	return newError(SMTP, ReasonConnectFailed, err)
}

func classifySMTPSend(ctx context.Context, err error) *Error {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		switch sendErr.Reason {
		case mail.ErrSMTPRcptTo, mail.ErrSMTPMailFrom:
			return newError(SMTP, ReasonRejected, err)
		}
	}
	if ctxErr := contextError(ctx, SMTP, err); ctxErr != nil {
		return ctxErr
	}
	return newError(SMTP, ReasonTransient, err)
}
