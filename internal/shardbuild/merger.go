package shardbuild

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/resilience"
)

// Merger folds packed blobs into the accumulated shard files under
// cfg.OutputDir. One Merger must own a given output directory; events for
// the same shard are handled one at a time by the consumer.
type Merger struct {
	cfg       config.BuildConfig
	manifest  Manifest
	publisher kafka.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewMerger wires a merger. manifest, publisher and m may be nil; the
// matching step is then skipped.
func NewMerger(cfg config.BuildConfig, manifest Manifest, publisher kafka.Publisher, m *metrics.Metrics) *Merger {
	return &Merger{
		cfg:       cfg,
		manifest:  manifest,
		publisher: publisher,
		metrics:   m,
		logger:    slog.Default().With("component", "shard-merger"),
		now:       time.Now,
	}
}

// TargetPath is where the accumulated blob for a shard lives.
func (m *Merger) TargetPath(cacheName, typ string, shard uint32) string {
	return filepath.Join(m.cfg.OutputDir, cacheName, fmt.Sprintf("%s-%d.blob", typ, shard))
}

// MergeShard merges the announced blob into the shard's accumulated blob.
// The first blob for a shard is copied as is. Errors that a retry cannot
// fix come back wrapped with resilience.Permanent.
func (m *Merger) MergeShard(ctx context.Context, ev ShardPacked) (*ShardMerged, error) {
	if ev.Cache == "" || ev.Type == "" || ev.Path == "" {
		return nil, resilience.Permanent(apperrors.Invalid("shard event needs cache, type and path"))
	}
	mergeType := ev.MergeType
	if mergeType == "" {
		mergeType = m.cfg.MergeType
	}
	start := m.now()

	incoming, err := os.ReadFile(ev.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, m.fail(mergeType, resilience.Permanent(fmt.Errorf("packed blob %s: %w", ev.Path, err)))
		}
		return nil, m.fail(mergeType, fmt.Errorf("reading packed blob %s: %w", ev.Path, err))
	}

	target := m.TargetPath(ev.Cache, ev.Type, ev.Shard)
	merged, err := m.applied(target, incoming)
	if err != nil {
		return nil, m.fail(mergeType, err)
	}
	if merged == nil {
		merged, err = m.mergeInto(ctx, target, incoming, mergeType)
		if err != nil {
			return nil, m.fail(mergeType, err)
		}
		if err := cache.WriteFileAtomic(target, merged); err != nil {
			return nil, m.fail(mergeType, err)
		}
		if err := cache.WriteFileAtomic(target+sourceSuffix, []byte(checksum(incoming))); err != nil {
			return nil, m.fail(mergeType, err)
		}
	}

	out := &ShardMerged{
		Cache:    ev.Cache,
		Type:     ev.Type,
		Shard:    ev.Shard,
		Path:     target,
		Bytes:    int64(len(merged)),
		Checksum: checksum(merged),
		MergedAt: m.now().UTC(),
	}
	if m.manifest != nil {
		gen, err := m.manifest.Record(ctx, ManifestEntry{
			Cache:    ev.Cache,
			Type:     ev.Type,
			Shard:    ev.Shard,
			Path:     target,
			Source:   ev.Path,
			Bytes:    out.Bytes,
			Checksum: out.Checksum,
		})
		if err != nil {
			if permanentSQL(err) {
				err = resilience.Permanent(err)
			}
			return nil, m.fail(mergeType, fmt.Errorf("recording manifest: %w", err))
		}
		out.Generation = gen
	}
	if m.publisher != nil {
		event := kafka.Event{Key: EventKey(ev.Cache, ev.Type, ev.Shard), Value: out}
		if err := m.publisher.Publish(ctx, event); err != nil {
			return nil, m.fail(mergeType, err)
		}
	}

	if m.metrics != nil {
		m.metrics.MergesTotal.WithLabelValues(mergeType, "ok").Inc()
	}
	m.logger.Info("shard merged",
		"cache", ev.Cache,
		"type", ev.Type,
		"shard", ev.Shard,
		"generation", out.Generation,
		"bytes", out.Bytes,
		"duration_ms", m.now().Sub(start).Milliseconds(),
	)
	return out, nil
}

// sourceSuffix names the file beside each accumulated blob that holds the
// checksum of the last blob merged into it.
const sourceSuffix = ".src"

// applied returns the accumulated blob when incoming was the last blob
// merged into target, so a redelivered event is not merged twice.
func (m *Merger) applied(target string, incoming []byte) ([]byte, error) {
	last, err := os.ReadFile(target + sourceSuffix)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading merge marker: %w", err)
	}
	if string(last) != checksum(incoming) {
		return nil, nil
	}
	merged, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("reading accumulated blob %s: %w", target, err)
	}
	m.logger.Info("blob already merged", "target", target)
	return merged, nil
}

func checksum(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

func (m *Merger) mergeInto(ctx context.Context, target string, incoming []byte, mergeType string) ([]byte, error) {
	existing, err := os.ReadFile(target)
	if errors.Is(err, os.ErrNotExist) {
		// A corrupt blob must never become the base.
		if err := cache.ValidateBlob(incoming); err != nil {
			return nil, resilience.Permanent(err)
		}
		return incoming, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading accumulated blob %s: %w", target, err)
	}

	var merged []byte
	err = resilience.WithTimeout(ctx, m.cfg.MergeTimeout, "merge "+target, func(context.Context) error {
		out, err := cache.MergeBlobs(existing, incoming, mergeType)
		if err != nil {
			return err
		}
		merged = out
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrCorruptRecord) {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}
	return merged, nil
}

func (m *Merger) fail(mergeType string, err error) error {
	if errors.Is(err, apperrors.ErrCorruptRecord) {
		err = resilience.Permanent(err)
	}
	if m.metrics != nil {
		m.metrics.MergesTotal.WithLabelValues(mergeType, "error").Inc()
	}
	return err
}

// Handler decodes ShardPacked messages and merges them.
func (m *Merger) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[ShardPacked](value)
		if err != nil {
			m.logger.Error("failed to decode shard event", "key", string(key), "error", err)
			return err
		}
		_, err = m.MergeShard(ctx, ev)
		return err
	}
}

// FileJob merges two blob files into Out.
type FileJob struct {
	A, B      string
	Out       string
	MergeType string
}

// MergeFiles runs the jobs with at most cfg.Concurrency in flight. The
// first failure cancels the jobs not yet started.
func (m *Merger) MergeFiles(ctx context.Context, jobs []FileJob) error {
	g, gctx := errgroup.WithContext(ctx)
	if m.cfg.Concurrency > 0 {
		g.SetLimit(m.cfg.Concurrency)
	}
	for _, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return m.mergeFile(gctx, job)
		})
	}
	return g.Wait()
}

func (m *Merger) mergeFile(ctx context.Context, job FileJob) error {
	mergeType := job.MergeType
	if mergeType == "" {
		mergeType = m.cfg.MergeType
	}
	a, err := os.ReadFile(job.A)
	if err != nil {
		return m.fail(mergeType, fmt.Errorf("reading %s: %w", job.A, err))
	}
	b, err := os.ReadFile(job.B)
	if err != nil {
		return m.fail(mergeType, fmt.Errorf("reading %s: %w", job.B, err))
	}

	var merged []byte
	err = resilience.WithTimeout(ctx, m.cfg.MergeTimeout, "merge "+job.Out, func(context.Context) error {
		out, err := cache.MergeBlobs(a, b, mergeType)
		if err != nil {
			return err
		}
		merged = out
		return nil
	})
	if err != nil {
		return m.fail(mergeType, fmt.Errorf("merging %s and %s: %w", job.A, job.B, err))
	}
	if err := cache.WriteFileAtomic(job.Out, merged); err != nil {
		return m.fail(mergeType, err)
	}
	if m.metrics != nil {
		m.metrics.MergesTotal.WithLabelValues(mergeType, "ok").Inc()
	}
	m.logger.Info("blobs merged", "a", job.A, "b", job.B, "out", job.Out, "bytes", len(merged))
	return nil
}
