package utils_test

import (
	"errors"
	"testing"
	"time"

	"github.com/joinguard/joinguard/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryOptions(permanent func(error) bool) utils.RetryOptions {
	return utils.RetryOptions{
		MaxElapsedTime:  time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxRetries:      3,
		Permanent:       permanent,
	}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	attempts := 0
	result, err := utils.WithRetry(t.Context(), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}, fastRetryOptions(nil))

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	t.Parallel()

	attempts := 0
	_, err := utils.WithRetry(t.Context(), func() (int, error) {
		attempts++
		return 0, errors.New("always failing")
	}, fastRetryOptions(nil))

	require.Error(t, err)
	// Initial attempt plus MaxRetries
	assert.Equal(t, 4, attempts)
}

func TestWithRetryPermanentErrorFailsFast(t *testing.T) {
	t.Parallel()

	errOpen := errors.New("circuit open")

	attempts := 0
	_, err := utils.WithRetry(t.Context(), func() (int, error) {
		attempts++
		return 0, errOpen
	}, fastRetryOptions(func(err error) bool {
		return errors.Is(err, errOpen)
	}))

	require.Error(t, err)
	require.ErrorIs(t, err, errOpen)
	assert.Equal(t, 1, attempts, "permanent error must not burn the retry budget")
}

func TestWithRetryNoResult(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := utils.WithRetryNoResult(t.Context(), func() error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	}, fastRetryOptions(nil))

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}
