// Package coalesce looks up a query's subqueries across spatial layers,
// stacks the matches whose tiles contain one another and ranks the stacks.
package coalesce

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/shard"
)

// Callback receives the outcome of CoalesceAsync.
type Callback func([]Group, error)

type Engine struct {
	shardFn         shard.Func
	scoreDist       ScoreDistFunc
	maxGroups       int
	maxCovers       int
	relevCutoff     float64
	languagePenalty float64
	radius          float64
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithScoreDist replaces DefaultScoreDist.
func WithScoreDist(fn ScoreDistFunc) Option {
	return func(e *Engine) { e.scoreDist = fn }
}

// New builds an Engine. Zero config fields take their defaults; m may be
// nil.
func New(cfg config.CoalesceConfig, shardFn shard.Func, m *metrics.Metrics, opts ...Option) *Engine {
	e := &Engine{
		shardFn:         shardFn,
		scoreDist:       DefaultScoreDist,
		maxGroups:       cfg.MaxGroups,
		maxCovers:       cfg.MaxCoversPerSubquery,
		relevCutoff:     cfg.RelevCutoff,
		languagePenalty: cfg.LanguagePenalty,
		radius:          cfg.DefaultRadius,
		metrics:         m,
		logger:          slog.Default().With("component", "coalesce"),
	}
	if e.maxGroups <= 0 {
		e.maxGroups = 40
	}
	if e.relevCutoff <= 0 {
		e.relevCutoff = 0.25
	}
	if e.languagePenalty <= 0 || e.languagePenalty > 1 {
		e.languagePenalty = 0.96
	}
	if e.radius <= 0 {
		e.radius = DefaultRadius
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Coalesce runs the subqueries and returns the ranked groups. Invalid input
// fails before any cache is read.
func (e *Engine) Coalesce(ctx context.Context, subqs []Subquery, opts Options) ([]Group, error) {
	if err := Validate(subqs, opts); err != nil {
		e.observe("invalid", 0)
		return nil, err
	}
	return e.run(ctx, subqs, opts)
}

// CoalesceAsync validates synchronously, then runs the call on its own
// goroutine and invokes cb exactly once. A validation error is returned
// and cb is not called.
func (e *Engine) CoalesceAsync(ctx context.Context, subqs []Subquery, opts Options, cb Callback) error {
	if cb == nil {
		return apperrors.Invalid("callback must not be nil")
	}
	if err := Validate(subqs, opts); err != nil {
		e.observe("invalid", 0)
		return err
	}
	go func() {
		groups, err := e.run(ctx, subqs, opts)
		if err != nil {
			cb(nil, err)
			return
		}
		cb(groups, nil)
	}()
	return nil
}

func (e *Engine) run(ctx context.Context, subqs []Subquery, opts Options) ([]Group, error) {
	start := time.Now()
	layers, err := e.retrieve(ctx, subqs, opts)
	if err != nil {
		e.observe("error", 0)
		e.logger.Error("coalesce retrieval failed", "subqueries", len(subqs), "error", err)
		return nil, err
	}
	retrieved := time.Now()

	var target uint64
	for _, sq := range subqs {
		target |= sq.Mask
	}
	groups := e.rank(join(layers), target)

	if e.metrics != nil {
		e.metrics.CoalesceLatency.WithLabelValues("retrieve").Observe(retrieved.Sub(start).Seconds())
		e.metrics.CoalesceLatency.WithLabelValues("join").Observe(time.Since(retrieved).Seconds())
		e.metrics.CoalesceLatency.WithLabelValues("total").Observe(time.Since(start).Seconds())
	}
	result := "ok"
	if len(groups) == 0 {
		result = "empty"
	}
	e.observe(result, len(groups))
	e.logger.Debug("coalesce complete",
		"subqueries", len(subqs),
		"groups", len(groups),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return groups, nil
}

func (e *Engine) observe(result string, groups int) {
	if e.metrics == nil {
		return
	}
	e.metrics.CoalesceTotal.WithLabelValues(result).Inc()
	if result == "ok" || result == "empty" {
		e.metrics.CoalesceGroups.Observe(float64(groups))
	}
}
