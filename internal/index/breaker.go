package index

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	dwerrors "github.com/Aman-CERP/dropwatch/internal/errors"
)

// BreakerConfig configures the circuit breaker around a backend.
type BreakerConfig struct {
	// MinRequests is the number of calls in a window before the failure
	// ratio is considered.
	MinRequests uint32
	// FailureRatio trips the breaker once reached.
	FailureRatio float64
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenMaxCalls is the number of probe calls allowed half-open.
	HalfOpenMaxCalls uint32
	// Interval clears the closed-state counts periodically. Zero never
	// clears them.
	Interval time.Duration
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MinRequests:      5,
		FailureRatio:     0.6,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 1,
		Interval:         time.Minute,
	}
}

// Breaker wraps a Backend so that index writes fail fast while the backend
// is failing. It never retries.
type Breaker struct {
	Backend
	cb     *gobreaker.CircuitBreaker[any]
	logger *slog.Logger
}

// NewBreaker wraps next.
func NewBreaker(next Backend, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{Backend: next, logger: logger}

	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "index:" + next.Name(),
		MaxRequests: cfg.HalfOpenMaxCalls,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation and bad input say nothing about backend health.
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, ErrInvalidDocument)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit_breaker_state_change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return b
}

// Index implements Client.
func (b *Breaker) Index(ctx context.Context, doc Document) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.Backend.Index(ctx, doc)
	})
	if IsCircuitOpen(err) {
		return dwerrors.New(dwerrors.ErrCodeCircuitOpen, "index backend unavailable", err).
			WithDetail("backend", b.Backend.Name()).
			WithSuggestion("Check the index backend; writes resume automatically after the open timeout")
	}
	return err
}

// State returns the breaker state: closed, half-open or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// IsCircuitOpen reports whether err came from a breaker refusing a call.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
