// Package cache stores sharded posting lists of packed records and moves
// them between processes as packed blobs.
package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/cache/kv"
	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
)

// Cache namespaces.
const (
	TypeGrid   = "grid"
	TypePhrase = "phrase"
	TypeTerm   = "term"
	TypeFreq   = "freq"
)

// ExactSuffix marks a key stored for exact lookups only. Prefix scans skip
// such keys; an exact lookup of k also reads k+ExactSuffix.
const ExactSuffix = "."

// PrefixMode selects how Find matches keys against a phrase.
type PrefixMode uint8

const (
	// PrefixDisabled matches the phrase exactly.
	PrefixDisabled PrefixMode = 0
	// PrefixExtend matches the phrase and every key extending it.
	PrefixExtend PrefixMode = 1
	// PrefixOnly matches keys strictly extending the phrase.
	PrefixOnly PrefixMode = 2
)

func (m PrefixMode) Valid() bool { return m <= PrefixOnly }

func (m PrefixMode) String() string {
	switch m {
	case PrefixDisabled:
		return "disabled"
	case PrefixExtend:
		return "extend"
	case PrefixOnly:
		return "only"
	}
	return fmt.Sprintf("prefix(%d)", uint8(m))
}

// accepts reports whether a stored key found under phrase in a range scan
// belongs in the result.
func (m PrefixMode) accepts(phrase, key string) bool {
	switch {
	case key == phrase, key == phrase+ExactSuffix:
		return m != PrefixOnly
	case strings.HasSuffix(key, ExactSuffix):
		return false
	}
	return strings.HasPrefix(key, phrase)
}

// Query is a filtered lookup.
type Query struct {
	Type      string
	Shard     uint32
	Key       string
	Prefix    PrefixMode
	Languages LanguageSet
}

// Match is one value returned by Find.
type Match struct {
	Value           uint64
	MatchesLanguage bool
}

// Cache is the capability the ranking layers depend on. Both backends
// return identical results for identical content.
type Cache interface {
	ID() string
	// Backend names the implementation, for logs and metrics.
	Backend() string
	// Set replaces the list stored under (typ, shard, key) for langs. Pass
	// AllLanguages for the untagged list.
	Set(typ string, shard uint32, key string, values []uint64, langs LanguageSet) error
	// Get returns every value stored under the exact key, untagged and
	// tagged lists alike, in stored order.
	Get(ctx context.Context, typ string, shard uint32, key string) ([]uint64, error)
	// Find returns the distinct values matching q by descending value,
	// each flagged with whether a list carrying it passed the filter.
	// Lists failing the filter still contribute values.
	Find(ctx context.Context, q Query) ([]Match, error)
	// Shards lists the populated shards of typ in ascending order.
	Shards(typ string) []uint32
	// Pack serializes one shard.
	Pack(typ string, shard uint32) ([]byte, error)
	// PackFile writes every shard of every type to path.
	PackFile(path string) error
	// LoadSync merges blob into (typ, shard) with the concat policy.
	LoadSync(blob []byte, typ string, shard uint32) error
	// Merge combines two blobs off the calling goroutine.
	Merge(a, b []byte, mergeType string, cb MergeCallback)
	Close() error
}

type options struct {
	compression Compression
	engine      kv.Engine
	dir         string
}

// Option configures a backend.
type Option func(*options)

// WithCompression sets the codec used by Pack and PackFile.
func WithCompression(c Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithEngine picks the persistent storage engine.
func WithEngine(e kv.Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithDir roots the persistent store at dir. Without it the store lives in
// a temporary directory removed by Close.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

func buildOptions(opts []Option) options {
	o := options{compression: CompressionLZ4, engine: kv.Badger}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func validateKey(typ, key string) error {
	if typ == "" {
		return apperrors.Invalid("cache type must not be empty")
	}
	if strings.IndexByte(typ, 0) >= 0 {
		return apperrors.Invalid("cache type %q contains a NUL byte", typ)
	}
	if strings.IndexByte(key, 0) >= 0 {
		return apperrors.Invalid("cache key %q contains a NUL byte", key)
	}
	return nil
}

func validateQuery(q Query) error {
	if err := validateKey(q.Type, q.Key); err != nil {
		return err
	}
	if !q.Prefix.Valid() {
		return apperrors.Invalid("prefix mode %d is not one of 0, 1, 2", q.Prefix)
	}
	return nil
}

// shardSpace addresses one (type, shard) keyspace.
type shardSpace struct {
	typ   string
	shard uint32
}
