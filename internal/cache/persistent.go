package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/cache/kv"
	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
)

// KV key layout:
//
//	type | 0x00 | shard (4 bytes BE) | key | 0x00 | language tag (16 bytes)
//
// Types and keys may not contain 0x00, so byte order on the store matches
// (key, tag) order within a shard and a key's lists are contiguous.

func spacePrefix(typ string, shard uint32) []byte {
	p := make([]byte, 0, len(typ)+5)
	p = append(p, typ...)
	p = append(p, 0)
	return binary.BigEndian.AppendUint32(p, shard)
}

func entryKey(typ string, shard uint32, key string, lang LanguageSet) []byte {
	k := spacePrefix(typ, shard)
	k = append(k, key...)
	k = append(k, 0)
	tag := lang.tag()
	return append(k, tag[:]...)
}

// splitEntryKey parses a KV key back into its parts.
func splitEntryKey(k []byte) (typ string, shard uint32, key string, lang LanguageSet, err error) {
	i := bytes.IndexByte(k, 0)
	if i < 0 || len(k) < i+1+4+1+languageTagSize {
		return "", 0, "", LanguageSet{}, fmt.Errorf("%w: malformed kv key %q", apperrors.ErrCorruptRecord, k)
	}
	typ = string(k[:i])
	shard = binary.BigEndian.Uint32(k[i+1 : i+5])
	rest := k[i+5:]
	keyEnd := len(rest) - languageTagSize - 1
	if rest[keyEnd] != 0 {
		return "", 0, "", LanguageSet{}, fmt.Errorf("%w: malformed kv key %q", apperrors.ErrCorruptRecord, k)
	}
	key = string(rest[:keyEnd])
	lang, err = languageSetFromTag(rest[keyEnd+1:])
	return typ, shard, key, lang, err
}

// PersistentCache serves lookups from an embedded sorted KV store.
type PersistentCache struct {
	id      string
	opts    options
	store   kv.Store
	ownsDir bool

	mu     sync.RWMutex
	shards map[string]map[uint32]struct{}
	logger *slog.Logger
}

// OpenPersistent opens a store and bulk-loads packedPath into it. An empty
// packedPath opens the store as it is on disk.
func OpenPersistent(id, packedPath string, opts ...Option) (*PersistentCache, error) {
	o := buildOptions(opts)
	ownsDir := false
	if o.dir == "" {
		dir, err := os.MkdirTemp("", "geocoder-"+id+"-")
		if err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		o.dir = dir
		ownsDir = true
	}
	store, err := kv.Open(o.engine, o.dir)
	if err != nil {
		if ownsDir {
			os.RemoveAll(o.dir)
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBackend, err)
	}
	c := &PersistentCache{
		id:      id,
		opts:    o,
		store:   store,
		ownsDir: ownsDir,
		shards:  make(map[string]map[uint32]struct{}),
		logger:  slog.Default().With("component", "cache", "backend", "persistent", "cache_id", id, "engine", string(o.engine)),
	}
	fresh, err := c.scanShards()
	if err != nil {
		c.Close()
		return nil, err
	}
	if packedPath == "" {
		return c, nil
	}

	data, err := os.ReadFile(packedPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("reading packed cache %s: %w", packedPath, err)
	}
	sections, _, err := readBlob(data)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("loading packed cache %s: %w", packedPath, err)
	}
	for _, s := range sections {
		if err := c.loadSection(s.typ, s.shard, s, fresh); err != nil {
			c.Close()
			return nil, err
		}
	}
	c.logger.Info("packed cache loaded", "path", packedPath, "sections", len(sections), "dir", o.dir)
	return c, nil
}

// scanShards rebuilds the shard index from the store and reports whether
// the store was empty.
func (c *PersistentCache) scanShards() (bool, error) {
	empty := true
	err := c.store.IterPrefix(nil, func(k, _ []byte) error {
		empty = false
		typ, shard, _, _, err := splitEntryKey(k)
		if err != nil {
			return err
		}
		c.noteShard(typ, shard)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: scanning store: %v", apperrors.ErrBackend, err)
	}
	return empty, nil
}

func (c *PersistentCache) noteShard(typ string, shard uint32) {
	m := c.shards[typ]
	if m == nil {
		m = make(map[uint32]struct{})
		c.shards[typ] = m
	}
	m[shard] = struct{}{}
}

func (c *PersistentCache) ID() string      { return c.id }
func (c *PersistentCache) Backend() string { return "persistent" }

func (c *PersistentCache) Set(typ string, shard uint32, key string, values []uint64, langs LanguageSet) error {
	if err := validateKey(typ, key); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Set(entryKey(typ, shard, key, langs), encodeList(values)); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrBackend, err)
	}
	c.noteShard(typ, shard)
	return nil
}

// scanKey visits every list stored under exactly key.
func (c *PersistentCache) scanKey(typ string, shard uint32, key string, fn func(LanguageSet, []uint64)) error {
	prefix := append(spacePrefix(typ, shard), key...)
	prefix = append(prefix, 0)
	return c.scan(prefix, func(_ string, lang LanguageSet, values []uint64) {
		fn(lang, values)
	})
}

func (c *PersistentCache) scan(prefix []byte, fn func(key string, lang LanguageSet, values []uint64)) error {
	err := c.store.IterPrefix(prefix, func(k, v []byte) error {
		_, _, key, lang, err := splitEntryKey(k)
		if err != nil {
			return err
		}
		values, err := decodeList(v)
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		fn(key, lang, values)
		return nil
	})
	if err != nil && !errors.Is(err, apperrors.ErrCorruptRecord) {
		return fmt.Errorf("%w: %v", apperrors.ErrBackend, err)
	}
	return err
}

func (c *PersistentCache) Get(ctx context.Context, typ string, shard uint32, key string) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateKey(typ, key); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []uint64
	err := c.scanKey(typ, shard, key, func(_ LanguageSet, values []uint64) {
		out = append(out, values...)
	})
	return out, err
}

func (c *PersistentCache) Find(ctx context.Context, q Query) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	acc := make(matchSet)
	if q.Prefix == PrefixDisabled {
		for _, k := range []string{q.Key, q.Key + ExactSuffix} {
			err := c.scanKey(q.Type, q.Shard, k, func(lang LanguageSet, values []uint64) {
				acc.add(values, lang.Matches(q.Languages))
			})
			if err != nil {
				return nil, err
			}
		}
		return acc.sorted(), nil
	}
	prefix := append(spacePrefix(q.Type, q.Shard), q.Key...)
	err := c.scan(prefix, func(key string, lang LanguageSet, values []uint64) {
		if q.Prefix.accepts(q.Key, key) {
			acc.add(values, lang.Matches(q.Languages))
		}
	})
	if err != nil {
		return nil, err
	}
	return acc.sorted(), nil
}

func (c *PersistentCache) Shards(typ string) []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	shards := make([]uint32, 0, len(c.shards[typ]))
	for s := range c.shards[typ] {
		shards = append(shards, s)
	}
	slices.Sort(shards)
	return shards
}

func (c *PersistentCache) section(typ string, shard uint32) (blobSection, error) {
	s := blobSection{typ: typ, shard: shard}
	err := c.store.IterPrefix(spacePrefix(typ, shard), func(k, v []byte) error {
		_, _, key, lang, err := splitEntryKey(k)
		if err != nil {
			return err
		}
		s.entries = append(s.entries, blobEntry{key: key, lang: lang, list: bytes.Clone(v)})
		return nil
	})
	if err != nil {
		return s, fmt.Errorf("%w: packing %s shard %d: %v", apperrors.ErrBackend, typ, shard, err)
	}
	return s, nil
}

func (c *PersistentCache) Pack(typ string, shard uint32) ([]byte, error) {
	c.mu.RLock()
	s, err := c.section(typ, shard)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return writeBlob([]blobSection{s}, c.opts.compression)
}

func (c *PersistentCache) PackFile(path string) error {
	c.mu.RLock()
	var spaces []shardSpace
	for typ, m := range c.shards {
		for shard := range m {
			spaces = append(spaces, shardSpace{typ: typ, shard: shard})
		}
	}
	slices.SortFunc(spaces, compareSpaces)
	sections := make([]blobSection, 0, len(spaces))
	for _, sp := range spaces {
		s, err := c.section(sp.typ, sp.shard)
		if err != nil {
			c.mu.RUnlock()
			return err
		}
		sections = append(sections, s)
	}
	c.mu.RUnlock()

	data, err := writeBlob(sections, c.opts.compression)
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return err
	}
	c.logger.Info("cache packed", "path", path, "sections", len(sections), "bytes", len(data))
	return nil
}

func (c *PersistentCache) LoadSync(blob []byte, typ string, shard uint32) error {
	sections, _, err := readBlob(blob)
	if err != nil {
		return err
	}
	s, ok := pickSection(sections, typ, shard)
	if !ok {
		return fmt.Errorf("%w: blob has no section for %s shard %d", apperrors.ErrNotFound, typ, shard)
	}
	return c.loadSection(typ, shard, s, false)
}

// loadSection writes s into (typ, shard). Unless fresh, lists already on
// the store are read back and extended.
func (c *PersistentCache) loadSection(typ string, shard uint32, s blobSection, fresh bool) error {
	keys := make([][]byte, 0, len(s.entries))
	values := make([][]byte, 0, len(s.entries))
	for _, e := range s.entries {
		if err := validateKey(typ, e.key); err != nil {
			return err
		}
		incoming, err := decodeList(e.list)
		if err != nil {
			return fmt.Errorf("key %q: %w", e.key, err)
		}
		k := entryKey(typ, shard, e.key, e.lang)
		list := e.list
		if !fresh {
			existing, err := c.store.Get(k)
			switch {
			case errors.Is(err, kv.ErrKeyNotFound):
			case err != nil:
				return fmt.Errorf("%w: %v", apperrors.ErrBackend, err)
			default:
				old, err := decodeList(existing)
				if err != nil {
					return fmt.Errorf("key %q: %w", e.key, err)
				}
				list = encodeList(concatLists(old, incoming))
			}
		}
		keys = append(keys, k)
		values = append(values, list)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.BatchSet(keys, values); err != nil {
		return fmt.Errorf("%w: loading %s shard %d: %v", apperrors.ErrBackend, typ, shard, err)
	}
	if len(keys) > 0 {
		c.noteShard(typ, shard)
	}
	return nil
}

func (c *PersistentCache) Merge(a, b []byte, mergeType string, cb MergeCallback) {
	Merge(a, b, mergeType, cb)
}

func (c *PersistentCache) Close() error {
	err := c.store.Close()
	if c.ownsDir {
		if rmErr := os.RemoveAll(c.opts.dir); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}
