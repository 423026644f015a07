// Package cache keeps recently fetched evidence bodies in Redis so repeated claims
// against the same gist do not spend the host's rate limit.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drewstone/edgeware-watcher/internal/attestation/evidence"
	"github.com/drewstone/edgeware-watcher/internal/platform/metrics"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

const (
	keyPrefix  = "evidence:gist:"
	defaultTTL = 5 * time.Minute
)

// RedisSource is a read-through cache in front of another RawSource. Only
// successful bodies are cached. Redis failures fall through to the upstream.
type RedisSource struct {
	client   redis.UniversalClient
	upstream evidence.RawSource
	ttl      time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*RedisSource)

func WithTTL(ttl time.Duration) Option {
	return func(s *RedisSource) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *RedisSource) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *RedisSource) {
		s.metrics = m
	}
}

// New wraps upstream with a Redis cache. A nil client is rejected; callers without
// Redis should use upstream directly.
func New(client redis.UniversalClient, upstream evidence.RawSource, opts ...Option) (*RedisSource, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if upstream == nil {
		return nil, errors.New("upstream evidence source is required")
	}
	s := &RedisSource{
		client:   client,
		upstream: upstream,
		ttl:      defaultTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *RedisSource) Get(ctx context.Context, ref id.EvidenceReference) ([]byte, error) {
	key := keyPrefix + ref.String()

	body, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		s.metrics.IncCacheLookup("hit")
		return body, nil
	case errors.Is(err, redis.Nil):
		s.metrics.IncCacheLookup("miss")
	default:
		s.metrics.IncCacheLookup("error")
		s.logger.WarnContext(ctx, "evidence cache read failed",
			"attestation", ref.String(),
			"error", err,
		)
	}

	body, err = s.upstream.Get(ctx, ref)
	if err != nil {
		return nil, err
	}

	if setErr := s.client.Set(ctx, key, body, s.ttl).Err(); setErr != nil {
		s.logger.WarnContext(ctx, "evidence cache write failed",
			"attestation", ref.String(),
			"error", setErr,
		)
	}
	return body, nil
}

// Invalidate drops the cached body for ref.
func (s *RedisSource) Invalidate(ctx context.Context, ref id.EvidenceReference) error {
	return s.client.Del(ctx, keyPrefix+ref.String()).Err()
}

var _ evidence.RawSource = (*RedisSource)(nil)
