// Package config loads the tiered cache configuration from environment
// variables with sensible defaults and validates it before use.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Demo server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Cache Configuration (cache.tiered.* keys of the configuration tree):
//   - CACHE_TIERED_ENABLED: Enable the tiered cache (default: true)
//   - CACHE_PREFIX: Prefix for lock keys (default: "cache:")
//   - CACHE_NAMES: Comma-separated predefined cache names; empty enables
//     dynamic cache creation (default: empty)
//   - CACHE_LOCAL_MAX_SIZE: Default L1 entry bound (default: 1000)
//   - CACHE_LOCAL_EXPIRE_AFTER_WRITE: Default L1 write TTL (default: 5m)
//   - CACHE_REMOTE_DEFAULT_TTL: Default L2 TTL (default: 1h)
//   - CACHE_REMOTE_NULL_VALUE_TTL: L2 TTL for null sentinels (default: 1m)
//   - CACHE_REMOTE_TTL_RANDOM_FACTOR: TTL randomization factor 0..1 (default: 0.1)
//   - CACHE_REMOTE_LOCK_WAIT_MS: Distributed lock wait in ms (default: 500)
//   - CACHE_DEFAULT_FALLBACK_STRATEGY: THROW or FALLBACK (default: THROW)
//   - CACHE_DEFAULT_CLEAR_MODE: SAFE or FULL (default: SAFE)
//   - CACHE_OVERRIDES: JSON map of per-cache overrides, e.g.
//     {"user_info":{"remoteTtl":"30m","fallbackStrategy":"FALLBACK"}}
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Demo Database:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./cache_demo.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE: PostgreSQL settings
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tiered-cache/internal/cache"
	"tiered-cache/internal/redis"
)

// Config holds all configuration values for the cache and the demo app.
type Config struct {
	// Application settings
	Port     string
	LogLevel string

	// Cache configuration tree
	Cache *cache.Properties

	// Redis connection
	Redis *redis.Config

	// Demo database configuration
	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string
}

// cacheOverride is the JSON shape of one CACHE_OVERRIDES entry. Durations
// are strings in time.ParseDuration syntax.
type cacheOverride struct {
	RemoteTTL        string `json:"remoteTtl,omitempty"`
	LocalTTL         string `json:"localTtl,omitempty"`
	LocalMaxSize     *int   `json:"localMaxSize,omitempty"`
	FallbackStrategy string `json:"fallbackStrategy,omitempty"`
	ClearMode        string `json:"clearMode,omitempty"`
}

// Load creates a Config from environment variables. Malformed per-cache
// overrides are reported as an error; everything else falls back to its
// default. Call Validate() before using the result.
func Load() (*Config, error) {
	props := cache.DefaultProperties()
	props.Enabled = getBoolEnv("CACHE_TIERED_ENABLED", true)
	props.CachePrefix = getEnv("CACHE_PREFIX", "cache:")
	props.CacheNames = getListEnv("CACHE_NAMES")
	props.Local.MaximumSize = getIntEnv("CACHE_LOCAL_MAX_SIZE", 1000)
	props.Local.ExpireAfterWrite = getDurationEnv("CACHE_LOCAL_EXPIRE_AFTER_WRITE", 5*time.Minute)
	props.Remote.DefaultTTL = getDurationEnv("CACHE_REMOTE_DEFAULT_TTL", time.Hour)
	props.Remote.NullValueTTL = getDurationEnv("CACHE_REMOTE_NULL_VALUE_TTL", time.Minute)
	props.Remote.TTLRandomFactor = getFloatEnv("CACHE_REMOTE_TTL_RANDOM_FACTOR", 0.1)
	props.Remote.LockWaitTime = time.Duration(getIntEnv("CACHE_REMOTE_LOCK_WAIT_MS", 500)) * time.Millisecond
	props.DefaultFallbackStrategy = cache.FallbackStrategy(getEnv("CACHE_DEFAULT_FALLBACK_STRATEGY", string(cache.FallbackThrow)))
	props.DefaultClearMode = cache.ClearMode(getEnv("CACHE_DEFAULT_CLEAR_MODE", string(cache.ClearSafe)))

	if err := loadOverrides(props); err != nil {
		return nil, err
	}

	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		Cache: props,

		Redis: &redis.Config{
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			PoolSize: getIntEnv("REDIS_POOL_SIZE", 10),
		},

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./cache_demo.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "cache_demo"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),
	}, nil
}

func loadOverrides(props *cache.Properties) error {
	raw := os.Getenv("CACHE_OVERRIDES")
	if raw == "" {
		return nil
	}

	var overrides map[string]cacheOverride
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return fmt.Errorf("CACHE_OVERRIDES is not valid JSON: %w", err)
	}

	for name, o := range overrides {
		var override cache.StrategyOverride
		if o.RemoteTTL != "" {
			ttl, err := time.ParseDuration(o.RemoteTTL)
			if err != nil {
				return fmt.Errorf("CACHE_OVERRIDES: cache %q has invalid remoteTtl: %w", name, err)
			}
			override.RemoteTTL = &ttl
		}
		if o.LocalTTL != "" {
			ttl, err := time.ParseDuration(o.LocalTTL)
			if err != nil {
				return fmt.Errorf("CACHE_OVERRIDES: cache %q has invalid localTtl: %w", name, err)
			}
			override.LocalTTL = &ttl
		}
		if o.LocalMaxSize != nil {
			size := *o.LocalMaxSize
			override.LocalMaxSize = &size
		}
		if o.FallbackStrategy != "" {
			fallback := cache.FallbackStrategy(strings.ToUpper(o.FallbackStrategy))
			if fallback != cache.FallbackThrow && fallback != cache.FallbackLoader {
				return fmt.Errorf("CACHE_OVERRIDES: cache %q has invalid fallbackStrategy %q", name, o.FallbackStrategy)
			}
			override.FallbackStrategy = &fallback
		}
		if o.ClearMode != "" {
			mode := cache.ClearMode(strings.ToUpper(o.ClearMode))
			if mode != cache.ClearSafe && mode != cache.ClearFull {
				return fmt.Errorf("CACHE_OVERRIDES: cache %q has invalid clearMode %q", name, o.ClearMode)
			}
			override.ClearMode = &mode
		}
		props.Caches[name] = override
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

// Validate checks value ranges and cross-field requirements. The application
// should call this after Load and before starting.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.Cache.DefaultFallbackStrategy {
	case cache.FallbackThrow, cache.FallbackLoader:
	default:
		return fmt.Errorf("CACHE_DEFAULT_FALLBACK_STRATEGY must be THROW or FALLBACK")
	}

	switch c.Cache.DefaultClearMode {
	case cache.ClearSafe, cache.ClearFull:
	default:
		return fmt.Errorf("CACHE_DEFAULT_CLEAR_MODE must be SAFE or FULL")
	}

	if c.Cache.Remote.TTLRandomFactor < 0 || c.Cache.Remote.TTLRandomFactor > 1 {
		return fmt.Errorf("CACHE_REMOTE_TTL_RANDOM_FACTOR must be between 0 and 1")
	}
	if c.Cache.Remote.LockWaitTime <= 0 {
		return fmt.Errorf("CACHE_REMOTE_LOCK_WAIT_MS must be a positive number")
	}
	if c.Cache.Local.MaximumSize < 0 {
		return fmt.Errorf("CACHE_LOCAL_MAX_SIZE must not be negative")
	}

	if db := c.Redis.DB; db < 0 || db > 15 {
		return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
	}
	if c.Redis.PoolSize < 1 {
		return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	return nil
}
