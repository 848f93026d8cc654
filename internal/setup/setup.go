// Package setup bootstraps the engine's dependencies in order: config,
// logging, Redis, circuit breakers, database, rate limiter.
package setup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/joinguard/joinguard/internal/chat"
	"github.com/joinguard/joinguard/internal/database"
	"github.com/joinguard/joinguard/internal/database/models"
	"github.com/joinguard/joinguard/internal/engine/breaker"
	"github.com/joinguard/joinguard/internal/engine/cache"
	"github.com/joinguard/joinguard/internal/engine/limiter"
	"github.com/joinguard/joinguard/internal/engine/protect"
	"github.com/joinguard/joinguard/internal/engine/router"
	"github.com/joinguard/joinguard/internal/engine/stats"
	"github.com/joinguard/joinguard/internal/engine/verify"
	"github.com/joinguard/joinguard/internal/redis"
	"github.com/joinguard/joinguard/internal/setup/config"
)

// App bundles all core dependencies needed by the engine.
type App struct {
	Config           *config.Config
	Logger           *zap.Logger
	RedisManager     *redis.Manager
	DB               database.Client
	Cache            *cache.Cache
	Limiter          *limiter.Limiter
	DatastoreBreaker *breaker.Breaker
	ChatBreaker      *breaker.Breaker
	Stats            *stats.Client
}

// InitializeApp bootstraps all engine dependencies in the correct order,
// ensuring each component has its requirements available.
func InitializeApp(ctx context.Context) (*App, error) {
	cfg, configDir, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := buildLogger(&cfg.Debug)
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded configuration", zap.String("configDir", configDir))

	redisManager := redis.NewManager(&cfg.Redis, logger)

	cacheClient, err := redisManager.GetClient(redis.CacheDBIndex)
	if err != nil {
		return nil, err
	}

	statsClient, err := redisManager.GetClient(redis.StatsDBIndex)
	if err != nil {
		return nil, err
	}

	statsTracker := stats.NewClient(statsClient, logger)
	membershipCache := cache.New(cacheClient, statsTracker, logger)

	// Independent breakers: the datastore can be down while the chat API is
	// healthy and vice versa. A group with no protection configured is a
	// valid registry result and must not trip the datastore breaker.
	datastoreBreaker := breaker.New("datastore", &cfg.CircuitBreaker.Datastore, models.IsNotProtected, logger)
	chatBreaker := breaker.New("chat_api", &cfg.CircuitBreaker.ChatAPI, nil, logger)

	db, err := database.NewConnection(ctx, &cfg.PostgreSQL, datastoreBreaker, logger, true)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	app := &App{
		Config:           cfg,
		Logger:           logger,
		RedisManager:     redisManager,
		DB:               db,
		Cache:            membershipCache,
		Limiter:          limiter.New(&cfg.RateLimit, logger),
		DatastoreBreaker: datastoreBreaker,
		ChatBreaker:      chatBreaker,
		Stats:            statsTracker,
	}

	statsTracker.SetBreakerStates(app)

	return app, nil
}

// BreakerStates implements stats.BreakerStates for the reporting snapshot.
func (a *App) BreakerStates() map[string]string {
	return map[string]string{
		a.DatastoreBreaker.Name(): a.DatastoreBreaker.State(),
		a.ChatBreaker.Name():      a.ChatBreaker.State(),
	}
}

// NewEngine wires the verification pipeline against the given chat API
// transport and returns the event router that feeds it.
func (a *App) NewEngine(api chat.API) *router.Router {
	protector := protect.New(api, a.Limiter, a.ChatBreaker, a.Logger)

	service := verify.New(
		a.DB.Model().Registry(),
		protector,
		a.Cache,
		a.DB.Model().Verification(),
		a.Stats,
		verify.Options{
			FanoutConcurrency: a.Config.Engine.FanoutConcurrency,
			PromptTTL:         hoursOrZero(a.Config.Engine.PromptTTL),
			AdminCacheTTL:     minutesOrZero(a.Config.Engine.AdminCacheTTL),
		},
		a.Logger,
	)

	return router.New(service, a.Config.Engine.LaneCount, a.Config.Engine.QueueDepth, a.Logger)
}

// Cleanup releases all resources.
func (a *App) Cleanup() {
	if err := a.DB.Close(); err != nil {
		a.Logger.Error("Failed to close database", zap.Error(err))
	}

	a.RedisManager.Close()

	_ = a.Logger.Sync()
}
