// Package stats maintains best-effort counters in Redis and assembles the
// read-only reporting snapshot consumed by the dashboard. Counter failures
// are logged and ignored; they must never affect a verification decision.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

const (
	// HourlyStatsKeyPrefix namespaces per-hour outcome counters.
	HourlyStatsKeyPrefix = "verify_stats"
	// HourlyStatsExpiry bounds how long hourly counters are retained.
	HourlyStatsExpiry = 48 * time.Hour

	// CacheStatsKey is the hash holding cache hit/miss totals.
	CacheStatsKey    = "cache_stats"
	FieldCacheHits   = "hits"
	FieldCacheMisses = "misses"

	// Outcome fields for hourly counters.
	StatSuccess       = "success"
	StatError         = "error"
	StatRecheckFailed = "recheck_failed"
	StatPromptSent    = "prompt_sent"
)

// BreakerStates reports the current state of each circuit breaker for the
// snapshot. Implemented by the engine wiring.
type BreakerStates interface {
	BreakerStates() map[string]string
}

// HourlyStat is one hour bucket of a single counter.
type HourlyStat struct {
	Timestamp time.Time
	Count     int64
}

// Snapshot is the aggregated view exposed to the dashboard.
type Snapshot struct {
	Outcomes     map[string]int64
	CacheHits    int64
	CacheMisses  int64
	CacheHitRate float64
	Breakers     map[string]string
}

// Client tracks engine counters in Redis.
type Client struct {
	client   rueidis.Client
	breakers BreakerStates
	logger   *zap.Logger
}

// NewClient creates a stats client. The breakers reporter may be nil until
// wiring completes; SetBreakerStates attaches it.
func NewClient(client rueidis.Client, logger *zap.Logger) *Client {
	return &Client{
		client: client,
		logger: logger.Named("stats"),
	}
}

// SetBreakerStates attaches the breaker state reporter used by Snapshot.
func (s *Client) SetBreakerStates(breakers BreakerStates) {
	s.breakers = breakers
}

// IncrementOutcome increments an hourly counter for the current hour.
func (s *Client) IncrementOutcome(ctx context.Context, stat string) {
	key := fmt.Sprintf("%s:%s:%s", HourlyStatsKeyPrefix, stat, time.Now().Format("2006-01-02-15"))

	if err := s.client.Do(ctx, s.client.B().Incr().Key(key).Build()).Error(); err != nil {
		s.logger.Warn("Failed to increment stat", zap.String("key", key), zap.Error(err))
		return
	}

	err := s.client.Do(ctx,
		s.client.B().Expire().Key(key).Seconds(int64(HourlyStatsExpiry.Seconds())).Build(),
	).Error()
	if err != nil {
		s.logger.Warn("Failed to set stat expiry", zap.String("key", key), zap.Error(err))
	}
}

// IncrementCacheHit records a membership cache hit.
func (s *Client) IncrementCacheHit(ctx context.Context) {
	s.incrementCacheField(ctx, FieldCacheHits)
}

// IncrementCacheMiss records a membership cache miss.
func (s *Client) IncrementCacheMiss(ctx context.Context) {
	s.incrementCacheField(ctx, FieldCacheMisses)
}

func (s *Client) incrementCacheField(ctx context.Context, field string) {
	err := s.client.Do(ctx,
		s.client.B().Hincrby().Key(CacheStatsKey).Field(field).Increment(1).Build(),
	).Error()
	if err != nil {
		s.logger.Warn("Failed to increment cache stat", zap.String("field", field), zap.Error(err))
	}
}

// GetHourlyStats returns the last 24 hour buckets for a counter, oldest first.
func (s *Client) GetHourlyStats(ctx context.Context, stat string) ([]HourlyStat, error) {
	now := time.Now().Truncate(time.Hour)
	results := make([]HourlyStat, 0, 24)

	for i := 23; i >= 0; i-- {
		hour := now.Add(-time.Duration(i) * time.Hour)
		key := fmt.Sprintf("%s:%s:%s", HourlyStatsKeyPrefix, stat, hour.Format("2006-01-02-15"))

		count, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).AsInt64()
		if err != nil && !rueidis.IsRedisNil(err) {
			return nil, fmt.Errorf("failed to get hourly stat %s: %w", key, err)
		}

		results = append(results, HourlyStat{Timestamp: hour, Count: count})
	}

	return results, nil
}

// GetSnapshot assembles the reporting view: 24h outcome totals, cache hit
// rate, and current breaker states.
func (s *Client) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	snapshot := &Snapshot{
		Outcomes: make(map[string]int64),
		Breakers: make(map[string]string),
	}

	for _, stat := range []string{StatSuccess, StatError, StatRecheckFailed, StatPromptSent} {
		hourly, err := s.GetHourlyStats(ctx, stat)
		if err != nil {
			return nil, err
		}

		var total int64
		for _, h := range hourly {
			total += h.Count
		}

		snapshot.Outcomes[stat] = total
	}

	fields, err := s.client.Do(ctx, s.client.B().Hgetall().Key(CacheStatsKey).Build()).AsIntMap()
	if err != nil && !rueidis.IsRedisNil(err) {
		return nil, fmt.Errorf("failed to get cache stats: %w", err)
	}

	snapshot.CacheHits = fields[FieldCacheHits]
	snapshot.CacheMisses = fields[FieldCacheMisses]

	if total := snapshot.CacheHits + snapshot.CacheMisses; total > 0 {
		snapshot.CacheHitRate = float64(snapshot.CacheHits) / float64(total)
	}

	if s.breakers != nil {
		for name, state := range s.breakers.BreakerStates() {
			snapshot.Breakers[name] = state
		}
	}

	return snapshot, nil
}
