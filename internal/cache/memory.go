package cache

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/huandu/skiplist"

	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
)

type taggedList struct {
	lang   LanguageSet
	values []uint64
}

// keyLists holds every list of one key, sorted by language tag.
type keyLists []taggedList

func (k keyLists) put(lang LanguageSet, values []uint64) keyLists {
	i, found := slices.BinarySearchFunc(k, lang, func(t taggedList, l LanguageSet) int {
		return t.lang.compare(l)
	})
	if found {
		k[i].values = values
		return k
	}
	return slices.Insert(k, i, taggedList{lang: lang, values: values})
}

func (k keyLists) get(lang LanguageSet) []uint64 {
	i, found := slices.BinarySearchFunc(k, lang, func(t taggedList, l LanguageSet) int {
		return t.lang.compare(l)
	})
	if !found {
		return nil
	}
	return k[i].values
}

// MemoryCache keeps each (type, shard) keyspace in a skiplist ordered by
// key, so prefix scans are a seek plus a forward walk.
type MemoryCache struct {
	id     string
	opts   options
	mu     sync.RWMutex
	spaces map[shardSpace]*skiplist.SkipList
	logger *slog.Logger
}

func NewMemory(id string, opts ...Option) *MemoryCache {
	return &MemoryCache{
		id:     id,
		opts:   buildOptions(opts),
		spaces: make(map[shardSpace]*skiplist.SkipList),
		logger: slog.Default().With("component", "cache", "backend", "memory", "cache_id", id),
	}
}

// LoadMemory builds a MemoryCache from a file written by PackFile.
func LoadMemory(id, packedPath string, opts ...Option) (*MemoryCache, error) {
	data, err := os.ReadFile(packedPath)
	if err != nil {
		return nil, fmt.Errorf("reading packed cache %s: %w", packedPath, err)
	}
	sections, _, err := readBlob(data)
	if err != nil {
		return nil, fmt.Errorf("loading packed cache %s: %w", packedPath, err)
	}
	c := NewMemory(id, opts...)
	for _, s := range sections {
		if err := c.loadSection(s.typ, s.shard, s); err != nil {
			return nil, err
		}
	}
	c.logger.Info("packed cache loaded", "path", packedPath, "sections", len(sections))
	return c, nil
}

func (c *MemoryCache) ID() string      { return c.id }
func (c *MemoryCache) Backend() string { return "memory" }

func (c *MemoryCache) space(typ string, shard uint32, create bool) *skiplist.SkipList {
	sp := shardSpace{typ: typ, shard: shard}
	list := c.spaces[sp]
	if list == nil && create {
		list = skiplist.New(skiplist.String)
		c.spaces[sp] = list
	}
	return list
}

func (c *MemoryCache) Set(typ string, shard uint32, key string, values []uint64, langs LanguageSet) error {
	if err := validateKey(typ, key); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.space(typ, shard, true)
	var lists keyLists
	if e := list.Get(key); e != nil {
		lists = e.Value.(keyLists)
	}
	list.Set(key, lists.put(langs, slices.Clone(values)))
	return nil
}

func (c *MemoryCache) Get(ctx context.Context, typ string, shard uint32, key string) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateKey(typ, key); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := c.space(typ, shard, false)
	if list == nil {
		return nil, nil
	}
	e := list.Get(key)
	if e == nil {
		return nil, nil
	}
	var out []uint64
	for _, t := range e.Value.(keyLists) {
		out = append(out, t.values...)
	}
	return out, nil
}

func (c *MemoryCache) Find(ctx context.Context, q Query) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := c.space(q.Type, q.Shard, false)
	if list == nil {
		return nil, nil
	}

	acc := make(matchSet)
	visit := func(lists keyLists) {
		for _, t := range lists {
			acc.add(t.values, t.lang.Matches(q.Languages))
		}
	}
	if q.Prefix == PrefixDisabled {
		for _, k := range []string{q.Key, q.Key + ExactSuffix} {
			if e := list.Get(k); e != nil {
				visit(e.Value.(keyLists))
			}
		}
		return acc.sorted(), nil
	}
	for e := list.Find(q.Key); e != nil; e = e.Next() {
		k := e.Key().(string)
		if !strings.HasPrefix(k, q.Key) {
			break
		}
		if q.Prefix.accepts(q.Key, k) {
			visit(e.Value.(keyLists))
		}
	}
	return acc.sorted(), nil
}

func (c *MemoryCache) Shards(typ string) []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	shards := make([]uint32, 0)
	for sp, list := range c.spaces {
		if sp.typ == typ && list.Len() > 0 {
			shards = append(shards, sp.shard)
		}
	}
	slices.Sort(shards)
	return shards
}

func (c *MemoryCache) section(typ string, shard uint32) blobSection {
	s := blobSection{typ: typ, shard: shard}
	list := c.space(typ, shard, false)
	if list == nil {
		return s
	}
	s.entries = make([]blobEntry, 0, list.Len())
	for e := list.Front(); e != nil; e = e.Next() {
		key := e.Key().(string)
		for _, t := range e.Value.(keyLists) {
			s.entries = append(s.entries, blobEntry{key: key, lang: t.lang, list: encodeList(t.values)})
		}
	}
	return s
}

func (c *MemoryCache) Pack(typ string, shard uint32) ([]byte, error) {
	c.mu.RLock()
	s := c.section(typ, shard)
	c.mu.RUnlock()
	return writeBlob([]blobSection{s}, c.opts.compression)
}

func (c *MemoryCache) PackFile(path string) error {
	c.mu.RLock()
	spaces := make([]shardSpace, 0, len(c.spaces))
	for sp := range c.spaces {
		spaces = append(spaces, sp)
	}
	slices.SortFunc(spaces, compareSpaces)
	sections := make([]blobSection, 0, len(spaces))
	for _, sp := range spaces {
		sections = append(sections, c.section(sp.typ, sp.shard))
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

func (c *MemoryCache) LoadSync(blob []byte, typ string, shard uint32) error {
	sections, _, err := readBlob(blob)
	if err != nil {
		return err
	}
	s, ok := pickSection(sections, typ, shard)
	if !ok {
		return fmt.Errorf("%w: blob has no section for %s shard %d", apperrors.ErrNotFound, typ, shard)
	}
	return c.loadSection(typ, shard, s)
}

func (c *MemoryCache) loadSection(typ string, shard uint32, s blobSection) error {
	decoded := make([][]uint64, len(s.entries))
	for i, e := range s.entries {
		if err := validateKey(typ, e.key); err != nil {
			return err
		}
		values, err := decodeList(e.list)
		if err != nil {
			return fmt.Errorf("key %q: %w", e.key, err)
		}
		decoded[i] = values
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.space(typ, shard, true)
	for i, e := range s.entries {
		var lists keyLists
		if el := list.Get(e.key); el != nil {
			lists = el.Value.(keyLists)
		}
		list.Set(e.key, lists.put(e.lang, concatLists(lists.get(e.lang), decoded[i])))
	}
	return nil
}

func (c *MemoryCache) Merge(a, b []byte, mergeType string, cb MergeCallback) {
	Merge(a, b, mergeType, cb)
}

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spaces = make(map[shardSpace]*skiplist.SkipList)
	return nil
}

func compareSpaces(a, b shardSpace) int {
	if c := strings.Compare(a.typ, b.typ); c != 0 {
		return c
	}
	return cmp.Compare(a.shard, b.shard)
}
