// Package resultcache keeps coalesce responses in Redis so repeated
// geocodes of the same subqueries skip the join entirely. Concurrent misses
// for one key share a single computation, and a circuit breaker takes Redis
// out of the path while it is failing.
package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/coalesce"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/resilience"
)

const keyPrefix = "coalesce:"

// Store is the subset of pkg/redis.Client the cache uses. Get reports a
// miss with pkgredis.ErrMiss.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// ComputeFunc produces the groups on a miss.
type ComputeFunc func(ctx context.Context) ([]coalesce.Group, error)

type Cache struct {
	store   Store
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New wraps store. m may be nil.
func New(store Store, cfg config.RedisConfig, m *metrics.Metrics) *Cache {
	return &Cache{
		store: store,
		ttl:   cfg.CacheTTL,
		breaker: resilience.NewCircuitBreaker("result-cache", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     10 * time.Second,
		}),
		metrics: m,
		logger:  slog.Default().With("component", "result-cache"),
	}
}

// GetOrCompute returns the cached groups for req, or runs compute once per
// key across concurrent callers and stores its result. The bool reports a
// cache hit. Redis failures never fail the call.
func (c *Cache) GetOrCompute(ctx context.Context, req *coalesce.Request, compute ComputeFunc) ([]coalesce.Group, bool, error) {
	key, err := Key(req)
	if err != nil {
		return nil, false, err
	}
	if groups, ok := c.get(ctx, key); ok {
		return groups, true, nil
	}

	val, err, _ := c.group.Do(key, func() (any, error) {
		if groups, ok := c.get(ctx, key); ok {
			return groups, nil
		}
		groups, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, groups)
		return groups, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]coalesce.Group), false, nil
}

// Invalidate drops every cached response, e.g. after new caches load.
func (c *Cache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating result cache: %w", err)
	}
	c.logger.Info("result cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

// BreakerState exposes the circuit state for health checks.
func (c *Cache) BreakerState() resilience.State {
	return c.breaker.State()
}

func (c *Cache) get(ctx context.Context, key string) ([]coalesce.Group, bool) {
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		if errors.Is(err, pkgredis.ErrMiss) {
			return nil
		}
		return err
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Warn("result cache get failed", "key", key, "error", err)
	}
	if err != nil || data == nil {
		c.miss()
		return nil, false
	}

	var groups []coalesce.Group
	if err := json.Unmarshal(data, &groups); err != nil {
		c.logger.Error("result cache entry unreadable", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	if c.metrics != nil {
		c.metrics.ResultCacheHits.Inc()
	}
	return groups, true
}

func (c *Cache) set(ctx context.Context, key string, groups []coalesce.Group) {
	data, err := json.Marshal(groups)
	if err != nil {
		c.logger.Error("result cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Warn("result cache set failed", "key", key, "error", err)
	}
}

func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.ResultCacheMisses.Inc()
	}
}

type keySubquery struct {
	Cache     string   `json:"c"`
	Mask      uint64   `json:"m"`
	Idx       uint32   `json:"i"`
	Zoom      uint32   `json:"z"`
	Weight    float64  `json:"w"`
	Phrase    string   `json:"p"`
	Prefix    uint8    `json:"x"`
	Filtered  bool     `json:"f,omitempty"`
	Languages []uint32 `json:"l,omitempty"`
	Extended  bool     `json:"e,omitempty"`
}

type keyRequest struct {
	Subqueries []keySubquery    `json:"s"`
	Radius     float64          `json:"r,omitempty"`
	BBox       *coalesce.BBox   `json:"b,omitempty"`
	Center     *coalesce.Center `json:"o,omitempty"`
}

// Key derives the cache key from everything that can change the response:
// each subquery with its cache name, and the spatial options.
func Key(req *coalesce.Request) (string, error) {
	k := keyRequest{
		Subqueries: make([]keySubquery, 0, len(req.Subqueries)),
		Radius:     req.Options.Radius,
		BBox:       req.Options.BBox,
		Center:     req.Options.Center,
	}
	for _, sq := range req.Subqueries {
		ks := keySubquery{
			Mask:     sq.Mask,
			Idx:      sq.Idx,
			Zoom:     sq.Zoom,
			Weight:   sq.Weight,
			Phrase:   sq.Phrase,
			Prefix:   uint8(sq.Prefix),
			Extended: sq.ExtendedScan,
		}
		if sq.Cache != nil {
			ks.Cache = sq.Cache.ID()
		}
		if sq.Languages != nil {
			ks.Filtered = true
			ks.Languages = sq.Languages.IDs()
		}
		k.Subqueries = append(k.Subqueries, ks)
	}
	raw, err := json.Marshal(k)
	if err != nil {
		return "", fmt.Errorf("building result cache key: %w", err)
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%s%x", keyPrefix, sum[:16]), nil
}
