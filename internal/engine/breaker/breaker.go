// Package breaker wraps a three-state circuit breaker around arbitrary
// operations. Separate instances guard the datastore and the chat-platform
// API so one unhealthy dependency cannot trip calls to the other.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joinguard/joinguard/internal/setup/config"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned immediately while the breaker is open, without
// attempting the underlying operation.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker guards calls to a single dependency.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// New creates a breaker from settings. The isSuccessful predicate may be nil;
// when provided, errors it accepts (e.g. domain "not found" results) do not
// count toward the failure threshold. Nil errors always count as success
// regardless of the predicate, since gobreaker consults it on every outcome.
func New(name string, settings *config.BreakerSettings, isSuccessful func(error) bool, logger *zap.Logger) *Breaker {
	log := logger.Named("breaker_" + name)

	st := gobreaker.Settings{
		Name: name,
		// Half-open closes after this many consecutive probe successes.
		MaxRequests: settings.SuccessThreshold,
		Timeout:     time.Duration(settings.RecoveryTimeout) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	if isSuccessful != nil {
		st.IsSuccessful = func(err error) bool {
			return err == nil || isSuccessful(err)
		}
	}

	return &Breaker{
		cb:     gobreaker.NewCircuitBreaker(st),
		logger: log,
	}
}

// Name returns the breaker's dependency name.
func (b *Breaker) Name() string {
	return b.cb.Name()
}

// State returns the current breaker state as a string for reporting.
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Do executes the operation through the breaker. While the breaker is open it
// fails fast with ErrCircuitOpen.
func Do[T any](ctx context.Context, b *Breaker, operation func(context.Context) (T, error)) (T, error) {
	result, err := b.cb.Execute(func() (any, error) {
		return operation(ctx)
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %s", ErrCircuitOpen, b.cb.Name())
		}
		return zero, err
	}

	value, ok := result.(T)
	if !ok {
		var zero T
		return zero, nil
	}
	return value, nil
}

// DoNoResult executes an operation without a result value through the breaker.
func DoNoResult(ctx context.Context, b *Breaker, operation func(context.Context) error) error {
	_, err := Do(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, operation(ctx)
	})
	return err
}
