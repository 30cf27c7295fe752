package phraserelev

import (
	"cmp"
	"slices"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/codec"
	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
)

// Term is one token of the tokenized query.
type Term struct {
	// ID is the term id; numbers use codec.NumericTerm.
	ID uint64 `json:"id"`
	// Idx is the token position in the query.
	Idx uint32 `json:"idx"`
	// Mask holds the coverage bits this token satisfies.
	Mask uint32 `json:"mask"`
	// Distance is non-zero when the token was reached out of order.
	Distance uint32 `json:"distance"`
}

// Query is a tokenized query, kept sorted by position.
type Query []Term

// NewQuery validates terms and orders them by position then id.
func NewQuery(terms []Term) (Query, error) {
	q := slices.Clone(terms)
	seen := make(map[uint64]struct{}, len(q))
	for _, t := range q {
		if codec.TermWeight(t.ID) != 0 || codec.IsRange(t.ID) {
			return nil, apperrors.Invalid("query term %d is not a plain term id", t.ID)
		}
		if t.Mask == 0 {
			return nil, apperrors.Invalid("query term %d has an empty mask", t.ID)
		}
		if t.Mask > codec.MaxRelevReason {
			return nil, apperrors.Invalid("query term %d mask %#x exceeds %d bits", t.ID, t.Mask, codec.RelevReasonBits)
		}
		if _, dup := seen[t.ID]; dup {
			return nil, apperrors.Invalid("query term %d appears twice", t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	slices.SortFunc(q, func(a, b Term) int {
		if c := cmp.Compare(a.Idx, b.Idx); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return q, nil
}

// QueryFromMaps builds a Query from per-term position, mask and distance
// maps keyed by decimal term id. Every term needs a position and a mask.
func QueryFromMaps(idx, mask, distance map[string]uint32) (Query, error) {
	terms := make([]Term, 0, len(idx))
	for key, i := range idx {
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, apperrors.Invalid("query term %q is not an integer", key)
		}
		m, ok := mask[key]
		if !ok {
			return nil, apperrors.Invalid("query term %q has no mask", key)
		}
		terms = append(terms, Term{ID: id, Idx: i, Mask: m, Distance: distance[key]})
	}
	if len(mask) != len(idx) {
		return nil, apperrors.Invalid("query has %d masks for %d terms", len(mask), len(idx))
	}
	return NewQuery(terms)
}
