// Package dispatch fans a meeting out to many recipients over one channel
// and reports a per-recipient outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hal9000y/meeting-notify/internal/auth"
	"github.com/hal9000y/meeting-notify/internal/channel"
	"github.com/hal9000y/meeting-notify/internal/meeting"
	"github.com/hal9000y/meeting-notify/internal/message"
)

const (
	defaultConcurrency = 8
	defaultSendTimeout = 20 * time.Second
)

// Request describes one dispatch. Only the credential of the chosen channel
// is used.
type Request struct {
	Meeting    meeting.Meeting
	Recipients []string
	Channel    channel.Kind
	Gmail      *auth.GmailCredential
	SMTP       *auth.SMTPCredential
}

type renderer interface {
	Render(m meeting.Meeting) ([]byte, error)
}

type tokenGuard interface {
	EnsureValid(ctx context.Context, cred auth.GmailCredential) (auth.GmailCredential, bool, error)
}

// Adapters builds the channel adapters for a dispatch. Gmail and SMTP
// adapters are bound to the requesting user's credential.
type Adapters struct {
	Gmail    func(ctx context.Context, cred auth.GmailCredential) (channel.Adapter, error)
	SMTP     func(cred auth.SMTPCredential) (channel.Adapter, error)
	WhatsApp channel.Adapter
}

// Options tunes the fan-out.
type Options struct {
	// Concurrency caps simultaneous sends within one dispatch.
	Concurrency int
	// SendTimeout bounds each recipient's send.
	SendTimeout time.Duration
	Now         func() time.Time
}

// Dispatcher renders once, checks credentials once, then sends to every
// recipient independently.
type Dispatcher struct {
	render   renderer
	guard    tokenGuard
	adapters Adapters
	opts     Options
}

// New creates a Dispatcher. Zero options take defaults.
func New(render renderer, guard tokenGuard, adapters Adapters, opts Options) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Dispatcher{
		render:   render,
		guard:    guard,
		adapters: adapters,
		opts:     opts,
	}
}

// Dispatch sends req.Meeting to every recipient. It only fails as a whole for
// invalid input, an unrecoverable Gmail credential or a render failure, in
// which case nothing was sent. Partial failure is reported in the Summary.
//
// If ctx is canceled during the fan-out, unfinished sends are reported as
// failed and the context error is returned along with the Summary.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{
		ID:        uuid.NewString(),
		MeetingID: req.Meeting.ID,
		Channel:   req.Channel,
		StartedAt: d.opts.Now(),
	}

	logger := slog.With(
		slog.String("dispatch_id", summary.ID),
		slog.String("meeting_id", req.Meeting.ID),
		slog.String("channel", string(req.Channel)),
		slog.Int("recipients", len(req.Recipients)))

	adapter, msg, err := d.prepare(ctx, req, &summary)
	if err != nil {
		dispatchTotal.WithLabelValues(string(req.Channel), errorLabel(err)).Inc()
		logger.Warn("Dispatch rejected", slog.Any("error", err))
		return Summary{}, err
	}

	logger.Info("Dispatching meeting")

	for _, r := range d.fanOut(ctx, adapter, req.Recipients, msg) {
		summary.add(r)
	}
	summary.FinishedAt = d.opts.Now()

	dispatchTotal.WithLabelValues(string(req.Channel), summary.result()).Inc()
	logger.Info("Dispatch finished",
		slog.Int("delivered", summary.Delivered),
		slog.Int("linked", summary.Linked),
		slog.Int("failed", summary.Failed),
		slog.Bool("needs_reconnect", summary.NeedsReconnect))

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("dispatch interrupted: %w", err)
	}

	return summary, nil
}

func (d *Dispatcher) prepare(ctx context.Context, req Request, summary *Summary) (channel.Adapter, message.Message, error) {
	if len(req.Recipients) == 0 {
		return nil, message.Message{}, fmt.Errorf("%w: no recipients", ErrInvalidInput)
	}
	if err := req.Meeting.Validate(); err != nil {
		return nil, message.Message{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	switch req.Channel {
	case channel.WhatsApp:
		if d.adapters.WhatsApp == nil {
			return nil, message.Message{}, fmt.Errorf("%w: whatsapp channel not configured", ErrInvalidInput)
		}
		return d.adapters.WhatsApp, message.ForWhatsApp(req.Meeting), nil

	case channel.Gmail:
		if req.Gmail == nil {
			return nil, message.Message{}, fmt.Errorf("%w: gmail account not connected", ErrAuthExpired)
		}
		if d.adapters.Gmail == nil {
			return nil, message.Message{}, fmt.Errorf("%w: gmail channel not configured", ErrInvalidInput)
		}

		msg, err := d.emailMessage(req.Meeting)
		if err != nil {
			return nil, message.Message{}, err
		}

		cred, refreshed, err := d.guard.EnsureValid(ctx, *req.Gmail)
		if err != nil {
			tokenRefreshTotal.WithLabelValues("failed").Inc()
			return nil, message.Message{}, fmt.Errorf("guard.EnsureValid failed: %w", err)
		}
		if refreshed {
			tokenRefreshTotal.WithLabelValues("refreshed").Inc()
			summary.Refreshed = &cred
		}

		adapter, err := d.adapters.Gmail(ctx, cred)
		if err != nil {
			return nil, message.Message{}, fmt.Errorf("adapters.Gmail failed: %w", err)
		}
		return adapter, msg, nil

	case channel.SMTP:
		if req.SMTP == nil {
			return nil, message.Message{}, fmt.Errorf("%w: smtp server not configured", ErrInvalidInput)
		}
		if d.adapters.SMTP == nil {
			return nil, message.Message{}, fmt.Errorf("%w: smtp channel not configured", ErrInvalidInput)
		}

		msg, err := d.emailMessage(req.Meeting)
		if err != nil {
			return nil, message.Message{}, err
		}

		adapter, err := d.adapters.SMTP(*req.SMTP)
		if err != nil {
			return nil, message.Message{}, fmt.Errorf("adapters.SMTP failed: %w", err)
		}
		return adapter, msg, nil

	default:
		return nil, message.Message{}, fmt.Errorf("%w: unknown channel %q", ErrInvalidInput, req.Channel)
	}
}

func (d *Dispatcher) emailMessage(m meeting.Meeting) (message.Message, error) {
	doc, err := d.render.Render(m)
	if err != nil {
		if !errors.Is(err, ErrRender) {
			err = fmt.Errorf("%w: %w", ErrRender, err)
		}
		return message.Message{}, err
	}
	return message.ForEmail(m, doc), nil
}

// fanOut sends msg to every recipient. Sends share no state besides the
// read-only message; a failure never stops its siblings, so the group is not
// bound to a cancel-on-error context.
func (d *Dispatcher) fanOut(ctx context.Context, adapter channel.Adapter, recipients []string, msg message.Message) []Result {
	results := make([]Result, len(recipients))

	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)

	for i, rcpt := range recipients {
		g.Go(func() error {
			results[i] = d.sendOne(ctx, adapter, rcpt, msg)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

type sendResult struct {
	receipt channel.Receipt
	err     error
}

func (d *Dispatcher) sendOne(ctx context.Context, adapter channel.Adapter, recipient string, msg message.Message) Result {
	kind := string(adapter.Kind())

	if err := ctx.Err(); err != nil {
		return d.record(kind, recipient, channel.Receipt{}, err)
	}

	sendsInFlight.Inc()
	defer sendsInFlight.Dec()

	sctx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan sendResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Panic in channel send",
					slog.String("channel", kind),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
				done <- sendResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()

		receipt, err := adapter.Send(sctx, recipient, msg)
		done <- sendResult{receipt: receipt, err: err}
	}()

	// An adapter that ignores its context still cannot hold up the fan-out.
	var res sendResult
	select {
	case res = <-done:
	case <-sctx.Done():
		res = sendResult{err: sctx.Err()}
	}

	sendDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	return d.record(kind, recipient, res.receipt, res.err)
}

func (d *Dispatcher) record(kind, recipient string, receipt channel.Receipt, err error) Result {
	if err != nil {
		reason := channel.ReasonOf(err)
		sendTotal.WithLabelValues(kind, string(channel.Failed), string(reason)).Inc()
		slog.Warn("Send failed",
			slog.String("channel", kind),
			slog.String("recipient", recipient),
			slog.String("reason", string(reason)),
			slog.Any("error", err))

		return Result{
			Recipient: recipient,
			Outcome:   channel.Failed,
			Reason:    reason,
			Error:     err.Error(),
		}
	}

	sendTotal.WithLabelValues(kind, string(receipt.Outcome), "").Inc()

	return Result{
		Recipient: recipient,
		Outcome:   receipt.Outcome,
		ID:        receipt.ID,
		URL:       receipt.URL,
	}
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrAuthExpired):
		return "auth_expired"
	case errors.Is(err, ErrRender):
		return "render_error"
	default:
		return "error"
	}
}
