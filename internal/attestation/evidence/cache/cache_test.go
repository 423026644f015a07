package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/drewstone/edgeware-watcher/internal/attestation/evidence"
	"github.com/drewstone/edgeware-watcher/internal/attestation/evidence/cache"
	"github.com/drewstone/edgeware-watcher/internal/attestation/evidence/mocks"
	"github.com/drewstone/edgeware-watcher/internal/platform/metrics"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

func TestNewRequiresDependencies(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mocks.NewMockRawSource(ctrl)

	_, err := cache.New(nil, upstream)
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	_, err = cache.New(client, nil)
	assert.Error(t, err)
}

// An unreachable Redis must never turn into a fetch failure.
func TestGetFallsThroughWhenRedisIsDown(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mocks.NewMockRawSource(ctrl)
	ref := id.EvidenceReference("deadbeef")

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	src, err := cache.New(client, upstream, cache.WithMetrics(m))
	require.NoError(t, err)

	upstream.EXPECT().Get(gomock.Any(), ref).Return([]byte(`{"ok":true}`), nil)

	body, err := src.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.CacheLookups.WithLabelValues("error")))
}

func TestGetReturnsUpstreamErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mocks.NewMockRawSource(ctrl)
	ref := id.EvidenceReference("deadbeef")

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	src, err := cache.New(client, upstream)
	require.NoError(t, err)

	notFound := evidence.NewFetchError(evidence.CategoryNotFound, ref, "gist not found", nil)
	upstream.EXPECT().Get(gomock.Any(), ref).Return(nil, notFound)

	_, err = src.Get(context.Background(), ref)
	assert.True(t, errors.Is(err, notFound))
}

func TestInvalidateReportsRedisErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	src, err := cache.New(client, mocks.NewMockRawSource(ctrl))
	require.NoError(t, err)
	assert.Error(t, src.Invalidate(context.Background(), id.EvidenceReference("deadbeef")))
}
