package cache

import (
	"encoding/binary"
	"fmt"
	"slices"

	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
)

// A posting list keeps the order it was stored in. On disk it is a uvarint
// length followed by zigzag deltas between successive values, so sorted
// lists in either direction stay one or two bytes per value.

func zigzag(d int64) uint64 { return uint64(d<<1) ^ uint64(d>>63) }

func unzigzag(u uint64) int64 { return int64(u>>1) ^ -int64(u&1) }

func encodeList(values []uint64) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64*(len(values)+1))
	buf = binary.AppendUvarint(buf, uint64(len(values)))
	var prev uint64
	for _, v := range values {
		buf = binary.AppendUvarint(buf, zigzag(int64(v-prev)))
		prev = v
	}
	return buf
}

func decodeList(data []byte) ([]uint64, error) {
	n, off := binary.Uvarint(data)
	if off <= 0 {
		return nil, fmt.Errorf("%w: bad posting list length", apperrors.ErrCorruptRecord)
	}
	if n > uint64(len(data)) {
		return nil, fmt.Errorf("%w: posting list claims %d values in %d bytes", apperrors.ErrCorruptRecord, n, len(data))
	}
	values := make([]uint64, 0, n)
	var prev uint64
	for i := uint64(0); i < n; i++ {
		d, k := binary.Uvarint(data[off:])
		if k <= 0 {
			return nil, fmt.Errorf("%w: truncated posting list at value %d", apperrors.ErrCorruptRecord, i)
		}
		off += k
		prev += uint64(unzigzag(d))
		values = append(values, prev)
	}
	if off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes after posting list", apperrors.ErrCorruptRecord, len(data)-off)
	}
	return values, nil
}

// concatLists joins lists in order. Duplicates are kept.
func concatLists(lists ...[]uint64) []uint64 {
	return slices.Concat(lists...)
}

// matchSet accumulates lookup results, one entry per value.
type matchSet map[uint64]bool

func (m matchSet) add(values []uint64, matches bool) {
	for _, v := range values {
		m[v] = m[v] || matches
	}
}

// sorted returns the matches by descending value.
func (m matchSet) sorted() []Match {
	out := make([]Match, 0, len(m))
	for v, ok := range m {
		out = append(out, Match{Value: v, MatchesLanguage: ok})
	}
	slices.SortFunc(out, func(a, b Match) int {
		switch {
		case a.Value > b.Value:
			return -1
		case a.Value < b.Value:
			return 1
		}
		return 0
	})
	return out
}
