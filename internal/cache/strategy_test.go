package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveStrategy(t *testing.T) {
	props := DefaultProperties()

	t.Run("defaults when no override", func(t *testing.T) {
		strategy := props.EffectiveStrategy("unknown")
		assert.Equal(t, time.Hour, strategy.RemoteTTL)
		assert.Equal(t, 5*time.Minute, strategy.LocalTTL)
		assert.Equal(t, 1000, strategy.LocalMaxSize)
		assert.Equal(t, FallbackThrow, strategy.FallbackStrategy)
		assert.Equal(t, ClearSafe, strategy.ClearMode)
	})

	t.Run("full override", func(t *testing.T) {
		remoteTTL := 10 * time.Minute
		localTTL := time.Minute
		maxSize := 50
		fallback := FallbackLoader
		clearMode := ClearFull
		props.Caches["sys_config"] = StrategyOverride{
			RemoteTTL:        &remoteTTL,
			LocalTTL:         &localTTL,
			LocalMaxSize:     &maxSize,
			FallbackStrategy: &fallback,
			ClearMode:        &clearMode,
		}

		strategy := props.EffectiveStrategy("sys_config")
		assert.Equal(t, remoteTTL, strategy.RemoteTTL)
		assert.Equal(t, localTTL, strategy.LocalTTL)
		assert.Equal(t, maxSize, strategy.LocalMaxSize)
		assert.Equal(t, FallbackLoader, strategy.FallbackStrategy)
		assert.Equal(t, ClearFull, strategy.ClearMode)
	})

	t.Run("partial override inherits the rest", func(t *testing.T) {
		remoteTTL := 30 * time.Minute
		props.Caches["user_info"] = StrategyOverride{RemoteTTL: &remoteTTL}

		strategy := props.EffectiveStrategy("user_info")
		assert.Equal(t, remoteTTL, strategy.RemoteTTL)
		assert.Equal(t, 5*time.Minute, strategy.LocalTTL)
		assert.Equal(t, 1000, strategy.LocalMaxSize)
		assert.Equal(t, FallbackThrow, strategy.FallbackStrategy)
		assert.Equal(t, ClearSafe, strategy.ClearMode)
	})

	t.Run("repeated calls agree", func(t *testing.T) {
		assert.Equal(t, props.EffectiveStrategy("user_info"), props.EffectiveStrategy("user_info"))
	})
}

func TestRandomizeTTL(t *testing.T) {
	t.Run("stays within the factor window", func(t *testing.T) {
		base := time.Hour
		factor := 0.1
		low := time.Duration(float64(base) * (1 - factor))
		high := time.Duration(float64(base) * (1 + factor))

		for i := 0; i < 500; i++ {
			ttl := RandomizeTTL(base, factor)
			assert.GreaterOrEqual(t, ttl, low)
			assert.LessOrEqual(t, ttl, high)
		}
	})

	t.Run("non-positive base passes through", func(t *testing.T) {
		assert.Equal(t, time.Duration(0), RandomizeTTL(0, 0.5))
		assert.Equal(t, -time.Second, RandomizeTTL(-time.Second, 0.5))
	})

	t.Run("non-positive factor passes through", func(t *testing.T) {
		assert.Equal(t, time.Hour, RandomizeTTL(time.Hour, 0))
		assert.Equal(t, time.Hour, RandomizeTTL(time.Hour, -1))
	})

	t.Run("never drops below one millisecond", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			assert.GreaterOrEqual(t, RandomizeTTL(time.Millisecond, 1.0), time.Millisecond)
		}
	})
}
