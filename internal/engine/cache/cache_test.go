package cache_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/joinguard/joinguard/internal/engine/cache"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTest(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return cache.New(client, nil, zap.NewNop()), mr
}

func TestPutAndGet(t *testing.T) {
	t.Parallel()

	c, _ := setupTest(t)
	ctx := t.Context()

	_, ok := c.Get(ctx, 100, 200)
	require.False(t, ok, "empty cache must miss")

	c.Put(ctx, 100, 200, true)

	verdict, ok := c.Get(ctx, 100, 200)
	require.True(t, ok)
	assert.True(t, verdict.IsMember)
	assert.WithinDuration(t, time.Now(), verdict.VerifiedAt, time.Second)
}

func TestNegativeVerdict(t *testing.T) {
	t.Parallel()

	c, _ := setupTest(t)
	ctx := t.Context()

	c.Put(ctx, 100, 200, false)

	verdict, ok := c.Get(ctx, 100, 200)
	require.True(t, ok)
	assert.False(t, verdict.IsMember)
}

func TestPositiveTTLBounds(t *testing.T) {
	t.Parallel()

	c, mr := setupTest(t)
	ctx := t.Context()

	for i := range 50 {
		userID := int64(1000 + i)
		c.Put(ctx, userID, 200, true)

		ttl := mr.TTL(cacheKey(userID, 200))
		assert.GreaterOrEqual(t, ttl, 8*time.Minute+30*time.Second, "TTL below jitter floor")
		assert.LessOrEqual(t, ttl, 11*time.Minute+30*time.Second, "TTL above jitter ceiling")
	}
}

func TestNegativeTTLBounds(t *testing.T) {
	t.Parallel()

	c, mr := setupTest(t)
	ctx := t.Context()

	for i := range 50 {
		userID := int64(1000 + i)
		c.Put(ctx, userID, 200, false)

		ttl := mr.TTL(cacheKey(userID, 200))
		assert.GreaterOrEqual(t, ttl, 51*time.Second, "TTL below jitter floor")
		assert.LessOrEqual(t, ttl, 69*time.Second, "TTL above jitter ceiling")
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	t.Parallel()

	c, _ := setupTest(t)
	ctx := t.Context()

	c.Put(ctx, 100, 200, true)
	c.Invalidate(ctx, 100, 200)

	_, ok := c.Get(ctx, 100, 200)
	assert.False(t, ok, "invalidated entry must not be served even within its TTL")
}

func TestStoreFailureReturnsMiss(t *testing.T) {
	t.Parallel()

	c, mr := setupTest(t)
	ctx := t.Context()

	// Redis goes away entirely: Get must degrade to a miss, never an error
	mr.Close()

	_, ok := c.Get(ctx, 100, 200)
	assert.False(t, ok)
}

func TestFallbackServesDuringOutage(t *testing.T) {
	t.Parallel()

	c, mr := setupTest(t)
	ctx := t.Context()

	c.Put(ctx, 100, 200, true)

	mr.Close()

	// The local fallback layer still holds the verdict
	verdict, ok := c.Get(ctx, 100, 200)
	require.True(t, ok)
	assert.True(t, verdict.IsMember)
}

func cacheKey(userID, channelID int64) string {
	return cache.KeyPrefix + strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(channelID, 10)
}
