package dbretry_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joinguard/joinguard/internal/database/dbretry"
)

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "nil error", err: nil, retryable: false},
		{name: "no rows", err: sql.ErrNoRows, retryable: false},
		{name: "constraint violation text", err: errors.New("duplicate key value violates unique constraint"), retryable: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, retryable: true},
		{name: "connection reset", err: errors.New("read tcp 10.0.0.1:5432: connection reset by peer"), retryable: true},
		{name: "connection refused", err: errors.New("dial tcp 10.0.0.1:5432: connection refused"), retryable: true},
		{name: "broken pipe", err: errors.New("write: broken pipe"), retryable: true},
		{name: "io timeout", err: errors.New("read tcp: i/o timeout"), retryable: true},
		{name: "unexpected EOF", err: errors.New("unexpected EOF"), retryable: true},
		{name: "wrapped network failure", err: errors.New("failed to query groups: connection reset by peer"), retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.retryable, dbretry.IsRetryableError(tt.err))
		})
	}
}

func TestOperationStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := dbretry.Operation(t.Context(), func(context.Context) (int, error) {
		calls++
		return 0, sql.ErrNoRows
	})

	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.Equal(t, 1, calls, "non-retryable errors must not be retried")
}

func TestOperationReturnsResult(t *testing.T) {
	t.Parallel()

	result, err := dbretry.Operation(t.Context(), func(context.Context) (int, error) {
		return 7, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 7, result)
}

func TestNoResultPropagatesError(t *testing.T) {
	t.Parallel()

	boom := errors.New("column does not exist")

	err := dbretry.NoResult(t.Context(), func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}
