// Package catalog owns the named caches a geocoder serves. Each cache is
// opened from its packed file on the configured backend; a merged shard
// swaps in a fresh copy of the cache while requests that already hold the
// old copy finish against it.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/cache/kv"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/metrics"
)

var cacheTypes = []string{cache.TypeGrid, cache.TypePhrase, cache.TypeTerm, cache.TypeFreq}

// generation is one opened copy of a cache.
type generation struct {
	cache  cache.Cache
	source config.CacheSource
	seq    uint64
	// dir is the persistent store directory owned by this copy.
	dir  string
	refs sync.WaitGroup
}

// Catalog maps cache names to their current generation.
type Catalog struct {
	cfg         config.CacheConfig
	compression cache.Compression
	engine      kv.Engine

	mu      sync.RWMutex
	current map[string]*generation

	applyMu  sync.Mutex
	retiring sync.WaitGroup
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Open loads every configured source. A source whose packed file does not
// exist yet starts empty. m may be nil.
func Open(cfg config.CacheConfig, m *metrics.Metrics) (*Catalog, error) {
	compression, err := cache.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	engine, err := kv.ParseEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}
	c := &Catalog{
		cfg:         cfg,
		compression: compression,
		engine:      engine,
		current:     make(map[string]*generation, len(cfg.Sources)),
		metrics:     m,
		logger:      slog.Default().With("component", "catalog", "backend", cfg.Backend),
	}
	for _, src := range cfg.Sources {
		if src.Name == "" || src.Path == "" {
			c.closeAll()
			return nil, fmt.Errorf("cache source %q needs both a name and a path", src.Name+src.Path)
		}
		if _, dup := c.current[src.Name]; dup {
			c.closeAll()
			return nil, fmt.Errorf("cache source %q configured twice", src.Name)
		}
		gen, err := c.open(src, 0)
		if err != nil {
			c.closeAll()
			return nil, fmt.Errorf("opening cache %s: %w", src.Name, err)
		}
		c.current[src.Name] = gen
		c.observe(gen)
	}
	c.logger.Info("catalog ready", "caches", len(c.current))
	return c, nil
}

// Acquire pins the current generation of every cache. The resolver stays
// valid until release is called; release must be called exactly once.
func (c *Catalog) Acquire() (resolve func(name string) (cache.Cache, bool), release func()) {
	c.mu.RLock()
	pinned := make(map[string]*generation, len(c.current))
	for name, gen := range c.current {
		gen.refs.Add(1)
		pinned[name] = gen
	}
	c.mu.RUnlock()

	var once sync.Once
	resolve = func(name string) (cache.Cache, bool) {
		gen, ok := pinned[name]
		if !ok {
			return nil, false
		}
		return gen.cache, true
	}
	release = func() {
		once.Do(func() {
			for _, gen := range pinned {
				gen.refs.Done()
			}
		})
	}
	return resolve, release
}

// Names lists the cache names in order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.current))
	for name := range c.current {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.current)
}

// ApplyShard replaces (typ, shard) of the named cache with the section in
// the blob at blobPath. The cache's packed file is rewritten first, so a
// restart serves the same content.
func (c *Catalog) ApplyShard(ctx context.Context, name, typ string, shard uint32, blobPath string) error {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	c.mu.RLock()
	old, ok := c.current[name]
	c.mu.RUnlock()
	if !ok {
		return apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "no cache named %q", name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	blob, err := os.ReadFile(blobPath)
	if err != nil {
		return fmt.Errorf("reading shard blob %s: %w", blobPath, err)
	}
	if _, err := cache.ReplaceSectionFile(old.source.Path, blob, typ, shard, c.compression); err != nil {
		return fmt.Errorf("updating %s %s shard %d: %w", name, typ, shard, err)
	}
	next, err := c.open(old.source, old.seq+1)
	if err != nil {
		return fmt.Errorf("reopening cache %s: %w", name, err)
	}

	c.mu.Lock()
	c.current[name] = next
	c.mu.Unlock()
	c.observe(next)
	c.retire(old)

	c.logger.Info("shard applied",
		"cache", name,
		"type", typ,
		"shard", shard,
		"generation", next.seq,
	)
	return nil
}

// Close closes every cache once in-flight requests release them.
func (c *Catalog) Close() error {
	c.mu.Lock()
	current := c.current
	c.current = make(map[string]*generation)
	c.mu.Unlock()

	var firstErr error
	for name, gen := range current {
		gen.refs.Wait()
		if err := c.closeGeneration(gen); err != nil {
			c.logger.Error("close failed", "cache", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	c.retiring.Wait()
	return firstErr
}

func (c *Catalog) open(src config.CacheSource, seq uint64) (*generation, error) {
	opts := []cache.Option{cache.WithCompression(c.compression)}
	path := src.Path
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		path = ""
	}

	gen := &generation{source: src, seq: seq}
	switch c.cfg.Backend {
	case "persistent":
		gen.dir = filepath.Join(c.cfg.DataDir, fmt.Sprintf("%s-%d", src.Name, seq))
		// A directory left by an earlier process holds stale content.
		if err := os.RemoveAll(gen.dir); err != nil {
			return nil, fmt.Errorf("clearing %s: %w", gen.dir, err)
		}
		opts = append(opts, cache.WithDir(gen.dir), cache.WithEngine(c.engine))
		pc, err := cache.OpenPersistent(src.Name, path, opts...)
		if err != nil {
			return nil, err
		}
		gen.cache = pc
	default:
		if path == "" {
			gen.cache = cache.NewMemory(src.Name, opts...)
			break
		}
		mc, err := cache.LoadMemory(src.Name, path, opts...)
		if err != nil {
			return nil, err
		}
		gen.cache = mc
	}
	return gen, nil
}

// retire closes gen after its last reader releases it.
func (c *Catalog) retire(gen *generation) {
	c.retiring.Add(1)
	go func() {
		defer c.retiring.Done()
		gen.refs.Wait()
		if err := c.closeGeneration(gen); err != nil {
			c.logger.Error("closing retired cache failed", "cache", gen.source.Name, "generation", gen.seq, "error", err)
		}
	}()
}

func (c *Catalog) closeGeneration(gen *generation) error {
	err := gen.cache.Close()
	if gen.dir != "" {
		if rmErr := os.RemoveAll(gen.dir); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}

func (c *Catalog) closeAll() error {
	var firstErr error
	for name, gen := range c.current {
		if err := c.closeGeneration(gen); err != nil {
			c.logger.Error("close failed", "cache", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Catalog) observe(gen *generation) {
	if c.metrics == nil {
		return
	}
	for _, typ := range cacheTypes {
		c.metrics.ShardsLoaded.WithLabelValues(gen.source.Name, typ).Set(float64(len(gen.cache.Shards(typ))))
	}
}
