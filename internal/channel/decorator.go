package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/hal9000y/meeting-notify/internal/message"
)

// Limit throttles sends through a shared token bucket. Waiting respects the
// per-send context, so a send that cannot get a token in time fails instead
// of blocking the fan-out.
func Limit(a Adapter, l *rate.Limiter) Adapter {
	return &limited{Adapter: a, limiter: l}
}

type limited struct {
	Adapter
	limiter *rate.Limiter
}

func (l *limited) Send(ctx context.Context, recipient string, msg message.Message) (Receipt, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctxErr := contextError(ctx, l.Kind(), err); ctxErr != nil {
			return Receipt{}, ctxErr
		}
		// Wait also fails when the deadline is closer than the next token.
		return Receipt{}, newError(l.Kind(), ReasonTimeout, fmt.Errorf("limiter.Wait failed: %w", err))
	}
	return l.Adapter.Send(ctx, recipient, msg)
}

// BreakerConfig tunes the per-channel circuit breaker.
type BreakerConfig struct {
	// MaxRequests is the number of trial sends allowed while half-open.
	MaxRequests uint32
	// Interval clears the counts while closed.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// FailureThreshold is the failure ratio that trips the breaker.
	FailureThreshold float64
	// MinRequests is the number of sends before the ratio is considered.
	MinRequests uint32
}

// DefaultBreakerConfig suits remote mail providers.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      10,
	}
}

// NewBreaker creates the breaker shared by every dispatch over kind. Only
// provider and transport failures count; a bad address says nothing about
// the provider's health, nor does one user's revoked credential.
func NewBreaker(kind Kind, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(kind),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			switch ReasonOf(err) {
			case ReasonInvalidRecipient, ReasonRejected, ReasonProviderRejected, ReasonCanceled,
				ReasonAuthExpired, ReasonAuthFailed:
				return true
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				slog.String("channel", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
}

// BreakerSet holds one breaker per endpoint, so one user's broken mail
// server does not stop everybody else's sends.
type BreakerSet struct {
	kind Kind
	cfg  BreakerConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerSet creates an empty BreakerSet.
func NewBreakerSet(kind Kind, cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{
		kind:     kind,
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for endpoint, creating it on first use.
func (s *BreakerSet) Get(endpoint string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.breakers[endpoint]
	if !ok {
		cb = NewBreaker(Kind(string(s.kind)+":"+endpoint), s.cfg)
		s.breakers[endpoint] = cb
	}
	return cb
}

// Breaker fails sends fast while cb is open.
func Breaker(a Adapter, cb *gobreaker.CircuitBreaker) Adapter {
	return &broken{Adapter: a, cb: cb}
}

type broken struct {
	Adapter
	cb *gobreaker.CircuitBreaker
}

func (b *broken) Send(ctx context.Context, recipient string, msg message.Message) (Receipt, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.Adapter.Send(ctx, recipient, msg)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Receipt{}, newError(b.Kind(), ReasonTransient, err)
		}
		return Receipt{}, err
	}
	return res.(Receipt), nil
}
