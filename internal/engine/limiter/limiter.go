// Package limiter throttles outbound chat-platform calls with two
// simultaneous token bucket scopes: a global ceiling kept below the
// platform's hard limit, and an independent per-group bucket so one busy
// group cannot starve the others.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joinguard/joinguard/internal/setup/config"
	"github.com/joinguard/joinguard/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRateLimitExceeded is returned when a call cannot be admitted within the
// configured maximum wait. Callers must retry later instead of blocking.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// RateLimitError carries the wait after which a retry may succeed.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimitExceeded) match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// Limiter enforces both scopes. Group buckets are created lazily on first
// use and live for the process lifetime; group counts are small (one bucket
// per protected group).
type Limiter struct {
	global     *rate.Limiter
	groups     map[int64]*rate.Limiter
	mu         sync.Mutex
	groupLimit rate.Limit
	groupBurst int
	maxWait    time.Duration
	logger     *zap.Logger
}

// New creates a limiter from configuration.
func New(cfg *config.RateLimit, logger *zap.Logger) *Limiter {
	groupLimit := rate.Limit(float64(cfg.GroupTokens) / float64(cfg.GroupWindow))

	return &Limiter{
		global:     rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		groups:     make(map[int64]*rate.Limiter),
		groupLimit: groupLimit,
		groupBurst: cfg.GroupTokens,
		maxWait:    time.Duration(cfg.MaxWait) * time.Millisecond,
		logger:     logger.Named("limiter"),
	}
}

// group returns the bucket for a group, creating it on first use.
func (l *Limiter) group(groupID int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.groups[groupID]
	if !exists {
		limiter = rate.NewLimiter(l.groupLimit, l.groupBurst)
		l.groups[groupID] = limiter
	}

	return limiter
}

// Acquire consumes one token from both the group and global scopes. The two
// reservations are taken together: if the combined delay exceeds the
// configured maximum wait, both are cancelled and a RateLimitError is
// returned with the wait hint. Otherwise the call sleeps out the delay,
// respecting context cancellation.
func (l *Limiter) Acquire(ctx context.Context, groupID int64) error {
	now := time.Now()

	groupRes := l.group(groupID).ReserveN(now, 1)
	globalRes := l.global.ReserveN(now, 1)

	if !groupRes.OK() || !globalRes.OK() {
		groupRes.CancelAt(now)
		globalRes.CancelAt(now)
		return &RateLimitError{RetryAfter: l.maxWait}
	}

	delay := groupRes.DelayFrom(now)
	if globalDelay := globalRes.DelayFrom(now); globalDelay > delay {
		delay = globalDelay
	}

	if delay > l.maxWait {
		groupRes.CancelAt(now)
		globalRes.CancelAt(now)

		l.logger.Debug("Deferred call exceeded max wait",
			zap.Int64("groupID", groupID),
			zap.Duration("delay", delay))

		return &RateLimitError{RetryAfter: delay}
	}

	if delay > 0 {
		if utils.ContextSleep(ctx, delay) == utils.SleepCancelled {
			groupRes.CancelAt(now)
			globalRes.CancelAt(now)
			return ctx.Err()
		}
	}

	return nil
}
