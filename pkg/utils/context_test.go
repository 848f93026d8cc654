package utils_test

import (
	"context"
	"testing"
	"time"

	"github.com/joinguard/joinguard/pkg/utils"
	"github.com/stretchr/testify/assert"
)

func TestContextSleepCompletes(t *testing.T) {
	t.Parallel()

	result := utils.ContextSleep(t.Context(), 5*time.Millisecond)
	assert.Equal(t, utils.SleepCompleted, result)
}

func TestContextSleepCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	result := utils.ContextSleep(ctx, time.Minute)
	assert.Equal(t, utils.SleepCancelled, result)
}
