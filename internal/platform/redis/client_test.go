package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drewstone/edgeware-watcher/internal/platform/config"
)

func TestNew_DisabledWithoutURL(t *testing.T) {
	client, err := New(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{URL: "http://not-redis"})
	assert.ErrorContains(t, err, "parse redis URL")
}

func TestNew_PingFailure(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{
		URL:         "redis://127.0.0.1:1/0",
		DialTimeout: 100 * time.Millisecond,
	})
	assert.ErrorContains(t, err, "redis ping failed")
}

func TestOptions_AppliesOverrides(t *testing.T) {
	opts, err := Options(config.RedisConfig{
		URL:          "redis://:secret@cache:6380/2",
		PoolSize:     7,
		MinIdleConns: 3,
		ReadTimeout:  time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, 3, opts.MinIdleConns)
	assert.Equal(t, time.Second, opts.ReadTimeout)
}

func TestOptions_KeepsURLDefaultsForZeroSettings(t *testing.T) {
	base, err := Options(config.RedisConfig{URL: "redis://cache:6379/0"})
	require.NoError(t, err)
	assert.Zero(t, base.PoolSize, "go-redis picks the pool size when unset")
	assert.Zero(t, base.MinIdleConns)
}
