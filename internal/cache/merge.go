package cache

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/codec"
	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
)

// Merge reducers. Keys present in only one input pass through untouched.
const (
	// MergeConcat keeps every value: the first blob's, then the second's.
	MergeConcat = "concat"
	// MergeFreq is MergeConcat except for the __MAX__ and __COUNT__ keys,
	// which hold one value reduced by max and sum.
	MergeFreq = "freq"

	FreqMaxKey   = "__MAX__"
	FreqCountKey = "__COUNT__"
)

// MergeCallback receives the result of an asynchronous Merge.
type MergeCallback func(merged []byte, err error)

// MergeBlobs combines two packed blobs section by section. An empty
// mergeType picks the reducer from each section's type name. The result is
// compressed with a's codec.
func MergeBlobs(a, b []byte, mergeType string) ([]byte, error) {
	sa, comp, err := readBlob(a)
	if err != nil {
		return nil, fmt.Errorf("reading first blob: %w", err)
	}
	sb, _, err := readBlob(b)
	if err != nil {
		return nil, fmt.Errorf("reading second blob: %w", err)
	}

	type sectionKey struct {
		typ   string
		shard uint32
	}
	index := make(map[sectionKey]int, len(sa))
	out := slices.Clone(sa)
	for i, s := range out {
		index[sectionKey{s.typ, s.shard}] = i
	}
	for _, s := range sb {
		i, ok := index[sectionKey{s.typ, s.shard}]
		if !ok {
			index[sectionKey{s.typ, s.shard}] = len(out)
			out = append(out, s)
			continue
		}
		reducer := mergeType
		if reducer == "" {
			reducer = s.typ
		}
		merged, err := mergeEntries(out[i].entries, s.entries, reducer)
		if err != nil {
			return nil, fmt.Errorf("merging %s shard %d: %w", s.typ, s.shard, err)
		}
		out[i].entries = merged
	}
	return writeBlob(out, comp)
}

// Merge runs MergeBlobs in the background and reports through cb.
func Merge(a, b []byte, mergeType string, cb MergeCallback) {
	go func() {
		merged, err := MergeBlobs(a, b, mergeType)
		cb(merged, err)
	}()
}

func mergeEntries(a, b []blobEntry, reducer string) ([]blobEntry, error) {
	out := make([]blobEntry, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch c := compareEntries(a[i], b[j]); {
		case c < 0:
			out = append(out, a[i])
			i++
		case c > 0:
			out = append(out, b[j])
			j++
		default:
			list, err := reduceLists(a[i].key, a[i].list, b[j].list, reducer)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", a[i].key, err)
			}
			out = append(out, blobEntry{key: a[i].key, lang: a[i].lang, list: list})
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out, nil
}

func reduceLists(key string, a, b []byte, reducer string) ([]byte, error) {
	va, err := decodeList(a)
	if err != nil {
		return nil, err
	}
	vb, err := decodeList(b)
	if err != nil {
		return nil, err
	}
	if reducer == MergeFreq {
		switch key {
		case FreqMaxKey:
			var m uint64
			for _, v := range slices.Concat(va, vb) {
				m = max(m, v)
			}
			return encodeList([]uint64{m}), nil
		case FreqCountKey:
			var sum uint64
			for _, v := range slices.Concat(va, vb) {
				sum += v
			}
			if sum >= codec.MaxSafe {
				return nil, fmt.Errorf("%w: %s sum %d", apperrors.ErrOutOfRange, FreqCountKey, sum)
			}
			return encodeList([]uint64{sum}), nil
		}
	}
	return encodeList(concatLists(va, vb)), nil
}

// ReplaceSectionFile rewrites the packed file at path so that (typ, shard)
// holds exactly the matching section of blob. Other sections are kept and a
// missing file starts empty. The file is replaced atomically and written
// with c.
func ReplaceSectionFile(path string, blob []byte, typ string, shard uint32, c Compression) ([]byte, error) {
	incoming, _, err := readBlob(blob)
	if err != nil {
		return nil, fmt.Errorf("reading shard blob: %w", err)
	}
	section, ok := pickSection(incoming, typ, shard)
	if !ok {
		return nil, fmt.Errorf("%w: blob has no section for %s shard %d", apperrors.ErrCorruptRecord, typ, shard)
	}
	section.typ, section.shard = typ, shard

	var sections []blobSection
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading packed cache %s: %w", path, err)
	default:
		if sections, _, err = readBlob(data); err != nil {
			return nil, fmt.Errorf("reading packed cache %s: %w", path, err)
		}
	}
	sections = slices.DeleteFunc(sections, func(s blobSection) bool {
		return s.typ == typ && s.shard == shard
	})
	sections = append(sections, section)
	slices.SortFunc(sections, func(a, b blobSection) int {
		return compareSpaces(shardSpace{a.typ, a.shard}, shardSpace{b.typ, b.shard})
	})

	out, err := writeBlob(sections, c)
	if err != nil {
		return nil, err
	}
	if err := WriteFileAtomic(path, out); err != nil {
		return nil, err
	}
	return out, nil
}
