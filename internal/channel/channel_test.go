package channel_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"

	"github.com/hal9000y/meeting-notify/internal/auth"
	"github.com/hal9000y/meeting-notify/internal/channel"
	"github.com/hal9000y/meeting-notify/internal/message"
)

type rawSenderMock struct {
	SendRawFunc func(ctx context.Context, raw []byte) (string, error)
}

func (m *rawSenderMock) SendRaw(ctx context.Context, raw []byte) (string, error) {
	return m.SendRawFunc(ctx, raw)
}

type adapterMock struct {
	calls    int
	SendFunc func(ctx context.Context, recipient string, msg message.Message) (channel.Receipt, error)
}

func (m *adapterMock) Kind() channel.Kind { return channel.Gmail }

func (m *adapterMock) Send(ctx context.Context, recipient string, msg message.Message) (channel.Receipt, error) {
	m.calls++
	return m.SendFunc(ctx, recipient, msg)
}

func testMessage() message.Message {
	return message.Message{
		Subject: "Meeting: Board",
		Body:    "Meeting at 3pm",
		Attachment: &message.Attachment{
			Filename:    "meeting-1.pdf",
			ContentType: message.ContentTypePDF,
			Data:        []byte("%PDF-1.3"),
		},
	}
}

func TestWhatsAppLinks(t *testing.T) {
	cases := []struct {
		recipient string
		expected  string
	}{
		{recipient: "+1 (555) 123-4567", expected: "https://wa.me/15551234567?text=Meeting%20at%203pm"},
		{recipient: "555.987.6543", expected: "https://wa.me/5559876543?text=Meeting%20at%203pm"},
	}

	wa := channel.NewWhatsApp()
	for _, tc := range cases {
		t.Run(tc.recipient, func(t *testing.T) {
			r, err := wa.Send(context.Background(), tc.recipient, message.Message{Body: "Meeting at 3pm"})
			require.NoError(t, err)
			assert.Equal(t, channel.LinkGenerated, r.Outcome)
			assert.Equal(t, tc.expected, r.URL)
		})
	}
}

func TestWhatsAppInvalidNumber(t *testing.T) {
	_, err := channel.NewWhatsApp().Send(context.Background(), "call me", message.Message{Body: "x"})
	require.Error(t, err)
	assert.Equal(t, channel.ReasonInvalidRecipient, channel.ReasonOf(err))
}

func TestLinkEscaping(t *testing.T) {
	assert.Equal(t, "https://wa.me/1?text=a%2Bb%20%26%20c%3D%0Anext", channel.Link("1", "a+b & c=\nnext"))
}

func TestGmailSend(t *testing.T) {
	var gotRaw string
	svc := &rawSenderMock{
		SendRawFunc: func(_ context.Context, raw []byte) (string, error) {
			gotRaw = string(raw)
			return "gm-1", nil
		},
	}

	r, err := channel.NewGmail(svc, "organizer@example.com").Send(context.Background(), "alice@example.com", testMessage())
	require.NoError(t, err)
	assert.Equal(t, channel.Receipt{Outcome: channel.Delivered, ID: "gm-1"}, r)
	assert.Contains(t, gotRaw, "To: <alice@example.com>")
	assert.Contains(t, gotRaw, `filename="meeting-1.pdf"`)
}

func TestGmailSendErrors(t *testing.T) {
	cases := []struct {
		name       string
		recipient  string
		sendErr    error
		expected   channel.Reason
		authExpiry bool
		noCall     bool
	}{
		{name: "invalid address", recipient: "nope", expected: channel.ReasonInvalidRecipient, noCall: true},
		{name: "unauthorized", recipient: "a@example.com", sendErr: &googleapi.Error{Code: http.StatusUnauthorized}, expected: channel.ReasonAuthExpired, authExpiry: true},
		{name: "quota", recipient: "a@example.com", sendErr: &googleapi.Error{Code: http.StatusTooManyRequests}, expected: channel.ReasonProviderRejected},
		{name: "bad request", recipient: "a@example.com", sendErr: &googleapi.Error{Code: http.StatusBadRequest}, expected: channel.ReasonProviderRejected},
		{name: "server error", recipient: "a@example.com", sendErr: &googleapi.Error{Code: http.StatusServiceUnavailable}, expected: channel.ReasonTransient},
		{name: "network", recipient: "a@example.com", sendErr: errors.New("connection reset"), expected: channel.ReasonTransient},
		{name: "deadline", recipient: "a@example.com", sendErr: fmt.Errorf("post: %w", context.DeadlineExceeded), expected: channel.ReasonTimeout},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			svc := &rawSenderMock{
				SendRawFunc: func(context.Context, []byte) (string, error) {
					called = true
					return "", fmt.Errorf("messages.Send failed: %w", tc.sendErr)
				},
			}

			_, err := channel.NewGmail(svc, "").Send(context.Background(), tc.recipient, testMessage())
			require.Error(t, err)
			assert.Equal(t, tc.expected, channel.ReasonOf(err))
			assert.Equal(t, tc.authExpiry, errors.Is(err, auth.ErrAuthExpired))
			assert.Equal(t, !tc.noCall, called)
		})
	}
}

func TestSMTPInvalidRecipient(t *testing.T) {
	a := channel.NewSMTP(auth.SMTPCredential{Host: "127.0.0.1", Port: 1, Username: "u@example.com"}, time.Second)
	_, err := a.Send(context.Background(), "not-an-address", testMessage())
	require.Error(t, err)
	assert.Equal(t, channel.ReasonInvalidRecipient, channel.ReasonOf(err))
}

func TestSMTPConnectFailed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	a := channel.NewSMTP(auth.SMTPCredential{Host: "127.0.0.1", Port: port, Username: "u@example.com", Secret: "s"}, time.Second)
	_, err = a.Send(context.Background(), "alice@example.com", testMessage())
	require.Error(t, err)
	assert.Equal(t, channel.ReasonConnectFailed, channel.ReasonOf(err))
}

func TestLimit(t *testing.T) {
	inner := &adapterMock{
		SendFunc: func(context.Context, string, message.Message) (channel.Receipt, error) {
			return channel.Receipt{Outcome: channel.Delivered, ID: "x"}, nil
		},
	}
	a := channel.Limit(inner, rate.NewLimiter(rate.Every(time.Hour), 1))
	assert.Equal(t, channel.Gmail, a.Kind())

	_, err := a.Send(context.Background(), "a@example.com", testMessage())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Send(ctx, "b@example.com", testMessage())
	require.Error(t, err)
	assert.Equal(t, channel.ReasonTimeout, channel.ReasonOf(err))
	assert.Equal(t, 1, inner.calls)
}

func TestBreaker(t *testing.T) {
	cfg := channel.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 0.5, MinRequests: 2}

	t.Run("opens on provider failures", func(t *testing.T) {
		inner := &adapterMock{
			SendFunc: func(context.Context, string, message.Message) (channel.Receipt, error) {
				return channel.Receipt{}, &channel.Error{Kind: channel.Gmail, Reason: channel.ReasonTransient, Err: errors.New("503")}
			},
		}
		a := channel.Breaker(inner, channel.NewBreaker(channel.Gmail, cfg))

		for range 2 {
			_, err := a.Send(context.Background(), "a@example.com", testMessage())
			require.Error(t, err)
		}

		_, err := a.Send(context.Background(), "a@example.com", testMessage())
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "circuit breaker is open"))
		assert.Equal(t, channel.ReasonTransient, channel.ReasonOf(err))
		assert.Equal(t, 2, inner.calls)
	})

	t.Run("bad addresses do not trip", func(t *testing.T) {
		inner := &adapterMock{
			SendFunc: func(context.Context, string, message.Message) (channel.Receipt, error) {
				return channel.Receipt{}, &channel.Error{Kind: channel.Gmail, Reason: channel.ReasonInvalidRecipient, Err: errors.New("bad")}
			},
		}
		a := channel.Breaker(inner, channel.NewBreaker(channel.Gmail, cfg))

		for range 5 {
			_, err := a.Send(context.Background(), "a@example.com", testMessage())
			assert.Equal(t, channel.ReasonInvalidRecipient, channel.ReasonOf(err))
		}
		assert.Equal(t, 5, inner.calls)
	})
}

func TestBreakerSet(t *testing.T) {
	set := channel.NewBreakerSet(channel.SMTP, channel.DefaultBreakerConfig())

	a := set.Get("smtp.example.com:587")
	assert.Same(t, a, set.Get("smtp.example.com:587"))
	assert.NotSame(t, a, set.Get("mail.example.org:465"))
	assert.Equal(t, "smtp:smtp.example.com:587", a.Name())
}

func TestParseKind(t *testing.T) {
	k, ok := channel.ParseKind(" Gmail ")
	assert.True(t, ok)
	assert.Equal(t, channel.Gmail, k)

	_, ok = channel.ParseKind("fax")
	assert.False(t, ok)
}
