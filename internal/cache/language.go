package cache

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
)

// MaxLanguageID is the highest language id a LanguageSet can hold.
const MaxLanguageID = 127

const languageTagSize = 16

// LanguageSet is a set of language ids. AllLanguages is reserved: stored
// lists carrying it are untagged, and a filter equal to it filters nothing.
// The empty set is a real filter that only admits untagged lists.
type LanguageSet struct {
	hi, lo uint64
}

// AllLanguages tags untagged lists and means "no filter" in a Query.
var AllLanguages = LanguageSet{hi: math.MaxUint64, lo: math.MaxUint64}

// NoLanguages is the empty filter.
var NoLanguages = LanguageSet{}

// Languages builds a set from language ids.
func Languages(ids ...uint32) (LanguageSet, error) {
	var s LanguageSet
	for _, id := range ids {
		if id > MaxLanguageID {
			return LanguageSet{}, fmt.Errorf("%w: language id %d exceeds %d", apperrors.ErrOutOfRange, id, MaxLanguageID)
		}
		if id < 64 {
			s.lo |= 1 << id
		} else {
			s.hi |= 1 << (id - 64)
		}
	}
	return s, nil
}

// MustLanguages is Languages for ids known to be valid.
func MustLanguages(ids ...uint32) LanguageSet {
	s, err := Languages(ids...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s LanguageSet) IsAll() bool { return s == AllLanguages }

func (s LanguageSet) IsEmpty() bool { return s.hi == 0 && s.lo == 0 }

func (s LanguageSet) Intersects(o LanguageSet) bool {
	return s.hi&o.hi != 0 || s.lo&o.lo != 0
}

// Matches reports whether a list stored under s passes filter.
func (s LanguageSet) Matches(filter LanguageSet) bool {
	return filter.IsAll() || s.IsAll() || s.Intersects(filter)
}

// IDs lists the member ids in ascending order.
func (s LanguageSet) IDs() []uint32 {
	ids := make([]uint32, 0, bits.OnesCount64(s.lo)+bits.OnesCount64(s.hi))
	for w, word := range [2]uint64{s.lo, s.hi} {
		for word != 0 {
			b := bits.TrailingZeros64(word)
			ids = append(ids, uint32(w*64+b))
			word &= word - 1
		}
	}
	return ids
}

func (s LanguageSet) String() string {
	if s.IsAll() {
		return "all"
	}
	return fmt.Sprint(s.IDs())
}

// tag is the fixed-width big-endian form used in blobs and KV keys; its
// byte order matches compare.
func (s LanguageSet) tag() [languageTagSize]byte {
	var b [languageTagSize]byte
	binary.BigEndian.PutUint64(b[0:8], s.hi)
	binary.BigEndian.PutUint64(b[8:16], s.lo)
	return b
}

func languageSetFromTag(b []byte) (LanguageSet, error) {
	if len(b) != languageTagSize {
		return LanguageSet{}, fmt.Errorf("%w: language tag of %d bytes", apperrors.ErrCorruptRecord, len(b))
	}
	return LanguageSet{
		hi: binary.BigEndian.Uint64(b[0:8]),
		lo: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

func (s LanguageSet) compare(o LanguageSet) int {
	switch {
	case s.hi < o.hi:
		return -1
	case s.hi > o.hi:
		return 1
	case s.lo < o.lo:
		return -1
	case s.lo > o.lo:
		return 1
	}
	return 0
}
