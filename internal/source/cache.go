package source

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fintech-crm/lead-engine/internal/metrics"
	"github.com/fintech-crm/lead-engine/internal/model"
)

const cacheKeyPrefix = "leads:source:"

// CachedAdapter serves full fetches of inner from Redis for ttl.
// Incremental fetches (Since set) always go to the source. Redis failures
// are logged and fall through to the live fetch.
type CachedAdapter struct {
	inner Adapter
	rdb   *redis.Client
	ttl   time.Duration
}

// NewCachedAdapter wraps inner with a Redis cache.
func NewCachedAdapter(inner Adapter, rdb *redis.Client, ttl time.Duration) *CachedAdapter {
	return &CachedAdapter{inner: inner, rdb: rdb, ttl: ttl}
}

// Name implements Adapter.
func (c *CachedAdapter) Name() string { return c.inner.Name() }

// Source implements Adapter.
func (c *CachedAdapter) Source() model.Source { return c.inner.Source() }

// FetchAll implements Adapter.
func (c *CachedAdapter) FetchAll(ctx context.Context, opts FetchOptions) ([]Record, error) {
	if !opts.Since.IsZero() || c.ttl <= 0 {
		return c.inner.FetchAll(ctx, opts)
	}

	log := zap.L().With(zap.String("component", "source_cache"), zap.String("source", c.Name()))
	key := cacheKeyPrefix + c.Name()

	cached, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var recs []Record
		if jerr := json.Unmarshal(cached, &recs); jerr == nil {
			metrics.SourceCache.WithLabelValues(c.Name(), "hit").Inc()
			return recs, nil
		}
		log.Warn("discarding corrupt cache entry")
	case errors.Is(err, redis.Nil):
	default:
		log.Warn("cache read failed", zap.Error(err))
	}
	metrics.SourceCache.WithLabelValues(c.Name(), "miss").Inc()

	recs, err := c.inner.FetchAll(ctx, opts)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(recs)
	if err != nil {
		log.Warn("cache encode failed", zap.Error(err))
		return recs, nil
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Warn("cache write failed", zap.Error(err))
	}
	return recs, nil
}

// Invalidate drops the cached fetch for this adapter.
func (c *CachedAdapter) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, cacheKeyPrefix+c.Name()).Err()
}

// NewRedisClient parses url and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "source: parse redis url")
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "source: ping redis")
	}
	return rdb, nil
}
