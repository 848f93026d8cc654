package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
)

// CurrentVersion is the expected version of the config file.
const CurrentVersion = 1

// Config represents the entire engine configuration.
type Config struct {
	// Version of the config file.
	Version        int            `koanf:"version"`
	Debug          Debug          `koanf:"debug"`
	Redis          Redis          `koanf:"redis"`
	PostgreSQL     PostgreSQL     `koanf:"postgresql"`
	RateLimit      RateLimit      `koanf:"rate_limit"`
	CircuitBreaker CircuitBreaker `koanf:"circuit_breaker"`
	Retry          Retry          `koanf:"retry"`
	Engine         Engine         `koanf:"engine"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	User         string `koanf:"user"`
	Password     string `koanf:"password"`
	DBName       string `koanf:"db_name"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	MaxLifetime  int    `koanf:"max_lifetime"`
}

// RateLimit contains token bucket configuration for outbound platform calls.
type RateLimit struct {
	// Global tokens per second, kept below the platform's hard ceiling.
	GlobalRate float64 `koanf:"global_rate"`
	// Global burst capacity.
	GlobalBurst int `koanf:"global_burst"`
	// Tokens granted to each group per window.
	GroupTokens int `koanf:"group_tokens"`
	// Per-group refill window in seconds.
	GroupWindow int `koanf:"group_window"`
	// Maximum time in milliseconds a call may be deferred waiting for tokens.
	MaxWait int `koanf:"max_wait"`
}

// CircuitBreaker contains per-dependency breaker configuration.
type CircuitBreaker struct {
	Datastore BreakerSettings `koanf:"datastore"`
	ChatAPI   BreakerSettings `koanf:"chat_api"`
}

// BreakerSettings parameterizes a single circuit breaker instance.
type BreakerSettings struct {
	// Consecutive failures before the breaker opens.
	FailureThreshold uint32 `koanf:"failure_threshold"`
	// Milliseconds the breaker stays open before probing.
	RecoveryTimeout int `koanf:"recovery_timeout"`
	// Consecutive half-open successes before the breaker closes.
	SuccessThreshold uint32 `koanf:"success_threshold"`
}

// Retry contains backoff configuration for repeatable operations.
type Retry struct {
	// Maximum retry attempts.
	MaxRetries uint64 `koanf:"max_retries"`
	// Initial delay in milliseconds.
	InitialInterval int `koanf:"initial_interval"`
	// Maximum delay in milliseconds.
	MaxInterval int `koanf:"max_interval"`
	// Total budget in milliseconds across all attempts.
	MaxElapsedTime int `koanf:"max_elapsed_time"`
}

// Engine contains verification engine tuning.
type Engine struct {
	// Number of single-consumer event lanes.
	LaneCount int `koanf:"lane_count"`
	// Buffered events per lane.
	QueueDepth int `koanf:"queue_depth"`
	// Maximum concurrent per-group re-checks during channel-leave fan-out.
	FanoutConcurrency int `koanf:"fanout_concurrency"`
	// Hours an outstanding prompt is tracked before its state expires.
	PromptTTL int `koanf:"prompt_ttl"`
	// Minutes cached group admin lists remain valid.
	AdminCacheTTL int `koanf:"admin_cache_ttl"`
}

// LoadConfig loads the configuration from the config file.
// Returns the config along with the directory it was loaded from.
func LoadConfig() (*Config, string, error) {
	k := koanf.New(".")

	// Try loading from standard config paths
	configPaths := []string{".", "./config", "/etc/joinguard", "/app/config"}

	var (
		loaded    bool
		configDir string
	)

	for _, dir := range configPaths {
		path := dir + "/config.toml"
		if _, err := os.Stat(path); err != nil {
			continue
		}

		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, "", fmt.Errorf("failed to load config file %s: %w", path, err)
		}

		loaded = true
		configDir = dir

		break
	}

	if !loaded {
		return nil, "", ErrConfigFileNotFound
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Reject configs written for a different engine version
	if config.Version == 0 {
		return nil, "", ErrConfigVersionMissing
	}

	if config.Version != CurrentVersion {
		return nil, "", fmt.Errorf("%w: expected %d, got %d",
			ErrConfigVersionMismatch, CurrentVersion, config.Version)
	}

	return &config, configDir, nil
}
