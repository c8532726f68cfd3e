package cache

import (
	"math/rand"
	"time"
)

// FallbackStrategy selects the behavior when the distributed lock cannot be
// acquired within the configured wait.
type FallbackStrategy string

const (
	// FallbackThrow surfaces a lock acquisition error to the caller.
	FallbackThrow FallbackStrategy = "THROW"
	// FallbackLoader runs the loader directly and writes the result back.
	FallbackLoader FallbackStrategy = "FALLBACK"
)

// ClearMode selects how Clear treats the remote tier.
type ClearMode string

const (
	// ClearSafe drops only the local tier and lets remote entries expire by
	// TTL. Safe under load: cannot induce a stampede on the data source.
	ClearSafe ClearMode = "SAFE"
	// ClearFull deletes the whole remote hash as well.
	ClearFull ClearMode = "FULL"
)

// LocalConfig holds defaults for the in-process tier.
type LocalConfig struct {
	MaximumSize      int
	ExpireAfterWrite time.Duration
}

// RemoteConfig holds defaults for the Redis tier.
type RemoteConfig struct {
	DefaultTTL      time.Duration
	NullValueTTL    time.Duration
	TTLRandomFactor float64
	LockWaitTime    time.Duration
}

// StrategyOverride carries per-cache settings; nil fields inherit the global
// default.
type StrategyOverride struct {
	RemoteTTL        *time.Duration
	LocalTTL         *time.Duration
	LocalMaxSize     *int
	FallbackStrategy *FallbackStrategy
	ClearMode        *ClearMode
}

// Strategy is the fully resolved policy for one cache.
type Strategy struct {
	RemoteTTL        time.Duration
	LocalTTL         time.Duration
	LocalMaxSize     int
	FallbackStrategy FallbackStrategy
	ClearMode        ClearMode
}

// Properties is the configuration tree for the tiered cache.
type Properties struct {
	Enabled                 bool
	CachePrefix             string
	CacheNames              []string
	Local                   LocalConfig
	Remote                  RemoteConfig
	DefaultFallbackStrategy FallbackStrategy
	DefaultClearMode        ClearMode
	Caches                  map[string]StrategyOverride
}

// DefaultProperties returns the documented defaults.
func DefaultProperties() *Properties {
	return &Properties{
		Enabled:     true,
		CachePrefix: "cache:",
		Local: LocalConfig{
			MaximumSize:      1000,
			ExpireAfterWrite: 5 * time.Minute,
		},
		Remote: RemoteConfig{
			DefaultTTL:      time.Hour,
			NullValueTTL:    time.Minute,
			TTLRandomFactor: 0.1,
			LockWaitTime:    500 * time.Millisecond,
		},
		DefaultFallbackStrategy: FallbackThrow,
		DefaultClearMode:        ClearSafe,
		Caches:                  make(map[string]StrategyOverride),
	}
}

// EffectiveStrategy resolves the policy for a cache name by overlaying the
// per-name override on the global defaults. Every field of the result is
// populated. The function is pure and may be called repeatedly.
func (p *Properties) EffectiveStrategy(name string) Strategy {
	effective := Strategy{
		RemoteTTL:        p.Remote.DefaultTTL,
		LocalTTL:         p.Local.ExpireAfterWrite,
		LocalMaxSize:     p.Local.MaximumSize,
		FallbackStrategy: p.DefaultFallbackStrategy,
		ClearMode:        p.DefaultClearMode,
	}

	override, ok := p.Caches[name]
	if !ok {
		return effective
	}
	if override.RemoteTTL != nil {
		effective.RemoteTTL = *override.RemoteTTL
	}
	if override.LocalTTL != nil {
		effective.LocalTTL = *override.LocalTTL
	}
	if override.LocalMaxSize != nil {
		effective.LocalMaxSize = *override.LocalMaxSize
	}
	if override.FallbackStrategy != nil {
		effective.FallbackStrategy = *override.FallbackStrategy
	}
	if override.ClearMode != nil {
		effective.ClearMode = *override.ClearMode
	}
	return effective
}

// RandomizeTTL applies a uniform random offset of up to ±factor to the base
// TTL so simultaneously written keys do not expire together (avalanche
// defense). Non-positive inputs pass the base through unchanged; the result
// never drops below one millisecond.
func RandomizeTTL(base time.Duration, factor float64) time.Duration {
	if base <= 0 || factor <= 0 {
		return base
	}
	offset := int64(float64(base) * factor)
	result := base + time.Duration(rand.Int63n(2*offset+1)-offset)
	if result < time.Millisecond {
		return time.Millisecond
	}
	return result
}
