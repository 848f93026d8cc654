package breaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joinguard/joinguard/internal/database/models"
	"github.com/joinguard/joinguard/internal/engine/breaker"
	"github.com/joinguard/joinguard/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errUpstream = errors.New("upstream failure")

func newTestBreaker(t *testing.T, recoveryTimeout time.Duration) *breaker.Breaker {
	t.Helper()

	return breaker.New("test", &config.BreakerSettings{
		FailureThreshold: 3,
		RecoveryTimeout:  int(recoveryTimeout.Milliseconds()),
		SuccessThreshold: 2,
	}, nil, zap.NewNop())
}

func fail(ctx context.Context, b *breaker.Breaker) error {
	return breaker.DoNoResult(ctx, b, func(context.Context) error {
		return errUpstream
	})
}

func succeed(ctx context.Context, b *breaker.Breaker) error {
	return breaker.DoNoResult(ctx, b, func(context.Context) error {
		return nil
	})
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(t, time.Minute)
	ctx := t.Context()

	for range 3 {
		require.ErrorIs(t, fail(ctx, b), errUpstream)
	}

	assert.Equal(t, "open", b.State())

	// While open, calls fail fast without reaching the operation
	called := false
	err := breaker.DoNoResult(ctx, b, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, breaker.ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(t, 20*time.Millisecond)
	ctx := t.Context()

	for range 3 {
		require.Error(t, fail(ctx, b))
	}
	require.Equal(t, "open", b.State())

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, "half-open", b.State())

	require.NoError(t, succeed(ctx, b))
	require.NoError(t, succeed(ctx, b))

	assert.Equal(t, "closed", b.State())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(t, 20*time.Millisecond)
	ctx := t.Context()

	for range 3 {
		require.Error(t, fail(ctx, b))
	}

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, "half-open", b.State())

	require.ErrorIs(t, fail(ctx, b), errUpstream)
	assert.Equal(t, "open", b.State())
}

func TestBreakerInstancesAreIndependent(t *testing.T) {
	t.Parallel()

	datastore := newTestBreaker(t, time.Minute)
	chatAPI := newTestBreaker(t, time.Minute)
	ctx := t.Context()

	for range 3 {
		require.Error(t, fail(ctx, datastore))
	}

	assert.Equal(t, "open", datastore.State())
	assert.Equal(t, "closed", chatAPI.State())

	// The healthy breaker keeps serving
	require.NoError(t, succeed(ctx, chatAPI))
	assert.Equal(t, "closed", chatAPI.State())
}

func TestBreakerIgnoredErrorsDoNotTrip(t *testing.T) {
	t.Parallel()

	errNotProtected := errors.New("group is not protected")

	b := breaker.New("datastore", &config.BreakerSettings{
		FailureThreshold: 3,
		RecoveryTimeout:  60000,
		SuccessThreshold: 2,
	}, func(err error) bool {
		return errors.Is(err, errNotProtected)
	}, zap.NewNop())

	ctx := t.Context()

	for range 10 {
		err := breaker.DoNoResult(ctx, b, func(context.Context) error {
			return errNotProtected
		})
		require.ErrorIs(t, err, errNotProtected)
	}

	assert.Equal(t, "closed", b.State())
}

func TestBreakerPredicateDoesNotPenalizeSuccesses(t *testing.T) {
	t.Parallel()

	// Wired the way the engine wires the datastore breaker: the predicate
	// only recognizes the domain "not protected" result and says nothing
	// about nil errors.
	b := breaker.New("datastore", &config.BreakerSettings{
		FailureThreshold: 3,
		RecoveryTimeout:  60000,
		SuccessThreshold: 2,
	}, models.IsNotProtected, zap.NewNop())

	ctx := t.Context()

	for range 10 {
		require.NoError(t, succeed(ctx, b))
	}
	assert.Equal(t, "closed", b.State(), "healthy reads must not open the breaker")

	for range 5 {
		err := breaker.DoNoResult(ctx, b, func(context.Context) error {
			return models.ErrGroupNotProtected
		})
		require.ErrorIs(t, err, models.ErrGroupNotProtected)
	}
	assert.Equal(t, "closed", b.State(), "valid domain results must not open the breaker")

	// Real failures still count
	for range 3 {
		require.ErrorIs(t, fail(ctx, b), errUpstream)
	}
	assert.Equal(t, "open", b.State())
}
