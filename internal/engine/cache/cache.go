// Package cache holds membership verdicts per (user, channel) pair. Redis is
// the primary store so multiple engine replicas share verdicts; a local TTL
// map absorbs Redis outages. Entries are advisory: losing one only costs an
// extra upstream lookup, never an incorrect denial.
package cache

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/joinguard/joinguard/pkg/utils"
)

const (
	// PositiveTTL is the base lifetime for "is a member" verdicts.
	PositiveTTL = 10 * time.Minute
	// NegativeTTL is the base lifetime for "not a member" verdicts, kept short
	// so users who just joined a channel regain access quickly.
	NegativeTTL = 1 * time.Minute
	// TTLJitter is the uniform jitter fraction applied to both lifetimes to
	// avoid synchronized expiry storms.
	TTLJitter = 0.15

	// KeyPrefix namespaces verdict entries in Redis.
	KeyPrefix = "membership:"
)

// Verdict is a membership result for a (user, channel) pair.
type Verdict struct {
	IsMember   bool      `json:"isMember"`
	VerifiedAt time.Time `json:"verifiedAt"`
}

// Counters receives cache hit/miss observations. May be nil.
type Counters interface {
	IncrementCacheHit(ctx context.Context)
	IncrementCacheMiss(ctx context.Context)
}

// Cache is the membership verdict store.
type Cache struct {
	client   rueidis.Client
	fallback *utils.TTLMap[string, Verdict]
	counters Counters
	logger   *zap.Logger
}

// New creates a membership cache backed by the given Redis client.
func New(client rueidis.Client, counters Counters, logger *zap.Logger) *Cache {
	return &Cache{
		client:   client,
		fallback: utils.NewTTLMap[string, Verdict](PositiveTTL),
		counters: counters,
		logger:   logger.Named("membership_cache"),
	}
}

func cacheKey(userID, channelID int64) string {
	return fmt.Sprintf("%s%d:%d", KeyPrefix, userID, channelID)
}

// verdictTTL returns the jittered lifetime for a verdict.
func verdictTTL(isMember bool) time.Duration {
	base := PositiveTTL
	if !isMember {
		base = NegativeTTL
	}

	// Uniform draw in [1-jitter, 1+jitter]
	factor := 1 - TTLJitter + 2*TTLJitter*rand.Float64()

	return time.Duration(float64(base) * factor)
}

// Get retrieves a verdict. The second return value is false on a miss. Store
// failures are absorbed here: the local fallback is consulted and, failing
// that, a miss is returned so callers fall back to a live check.
func (c *Cache) Get(ctx context.Context, userID, channelID int64) (Verdict, bool) {
	key := cacheKey(userID, channelID)

	payload, err := c.client.Do(ctx, c.client.B().Get().Key(key).Build()).AsBytes()
	if err == nil {
		var verdict Verdict
		if err := sonic.Unmarshal(payload, &verdict); err == nil {
			c.hit(ctx)
			return verdict, true
		}

		c.logger.Warn("Invalid verdict payload in Redis",
			zap.String("key", key),
			zap.Error(err))
	} else if !rueidis.IsRedisNil(err) {
		c.logger.Warn("Failed to read verdict from Redis",
			zap.String("key", key),
			zap.Error(err))
	}

	// Redis missed or is unreachable; the local map may still hold the entry
	if verdict, ok := c.fallback.Get(key); ok {
		c.hit(ctx)
		return verdict, true
	}

	c.miss(ctx)

	return Verdict{}, false
}

// Put stores a fresh verdict in both layers with a jittered TTL.
func (c *Cache) Put(ctx context.Context, userID, channelID int64, isMember bool) {
	key := cacheKey(userID, channelID)
	verdict := Verdict{IsMember: isMember, VerifiedAt: time.Now()}
	ttl := verdictTTL(isMember)

	c.fallback.SetWithTTL(key, verdict, ttl)

	payload, err := sonic.Marshal(verdict)
	if err != nil {
		c.logger.Warn("Failed to marshal verdict", zap.String("key", key), zap.Error(err))
		return
	}

	err = c.client.Do(ctx, c.client.B().Set().Key(key).Value(string(payload)).Px(ttl).Build()).Error()
	if err != nil {
		c.logger.Warn("Failed to store verdict in Redis",
			zap.String("key", key),
			zap.Error(err))
	}
}

// Invalidate synchronously removes a verdict from both layers. Called when a
// channel-leave event is observed so a stale positive verdict cannot be
// served within its TTL.
func (c *Cache) Invalidate(ctx context.Context, userID, channelID int64) {
	key := cacheKey(userID, channelID)

	c.fallback.Delete(key)

	err := c.client.Do(ctx, c.client.B().Del().Key(key).Build()).Error()
	if err != nil {
		c.logger.Warn("Failed to delete verdict from Redis",
			zap.String("key", key),
			zap.Error(err))
	}
}

func (c *Cache) hit(ctx context.Context) {
	if c.counters != nil {
		c.counters.IncrementCacheHit(ctx)
	}
}

func (c *Cache) miss(ctx context.Context) {
	if c.counters != nil {
		c.counters.IncrementCacheMiss(ctx)
	}
}
