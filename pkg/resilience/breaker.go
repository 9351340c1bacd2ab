// Package resilience guards calls to external collaborators with a per-call
// timeout and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	apperrors "real-backend/pkg/errors"
)

// BreakerConfig holds configuration for a circuit breaker
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
	CallTimeout      time.Duration
}

// DefaultBreakerConfig returns a default configuration for the named collaborator
func DefaultBreakerConfig(name string, callTimeout time.Duration) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
		CallTimeout:      callTimeout,
	}
}

// Breaker wraps calls to one collaborator.
type Breaker struct {
	cb          *gobreaker.CircuitBreaker
	callTimeout time.Duration
	name        string
}

// NewBreaker creates a breaker. Data-integrity failures do not count against
// the collaborator.
func NewBreaker(config BreakerConfig, logger *zap.Logger) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || apperrors.IsDataIntegrity(err)
		},
	})
	return &Breaker{cb: cb, callTimeout: config.CallTimeout, name: config.Name}
}

// Execute runs fn under the call timeout. An open breaker returns a
// transient error wrapping ErrCircuitOpen.
func (b *Breaker) Execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		callCtx, cancel := WithCallTimeout(ctx, b.callTimeout)
		defer cancel()
		return nil, fn(callCtx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.NewTransientError(b.name+"."+operation, apperrors.ErrCircuitOpen)
	}
	return err
}

// WithCallTimeout bounds one collaborator call. A zero timeout leaves ctx
// unchanged.
func WithCallTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// State reports the breaker state, for health output.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
