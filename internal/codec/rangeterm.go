package codec

import (
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
)

// Stored phrase terms keep a 4-bit weight in their low bits; plain term ids
// are therefore multiples of 16.
const (
	TermWeightBits = 4
	TermWeightMask = 1<<TermWeightBits - 1
	MaxTermWeight  = TermWeightMask
)

// Range layout: weight (4) | min (24) | max (24) | range tag (1).
const (
	RangeBoundBits = 24
	MaxRangeBound  = 1<<RangeBoundBits - 1

	rangeMinShift = TermWeightBits
	rangeMaxShift = rangeMinShift + RangeBoundBits
	rangeTagShift = rangeMaxShift + RangeBoundBits

	RangeTag uint64 = 1 << rangeTagShift
)

// Range is a stored term standing for every number in [Min, Max].
type Range struct {
	Min    uint32 `json:"min"`
	Max    uint32 `json:"max"`
	Weight uint8  `json:"weight"`
}

// Contains reports whether n lies in the closed interval.
func (r Range) Contains(n uint64) bool {
	return uint64(r.Min) <= n && n <= uint64(r.Max)
}

func EncodeRange(r Range) (uint64, error) {
	if r.Min > MaxRangeBound || r.Max > MaxRangeBound {
		return 0, fmt.Errorf("%w: range [%d, %d] exceeds %d", apperrors.ErrOutOfRange, r.Min, r.Max, MaxRangeBound)
	}
	if r.Min > r.Max {
		return 0, fmt.Errorf("%w: range min %d above max %d", apperrors.ErrOutOfRange, r.Min, r.Max)
	}
	if r.Weight > MaxTermWeight {
		return 0, fmt.Errorf("%w: term weight %d exceeds %d", apperrors.ErrOutOfRange, r.Weight, MaxTermWeight)
	}
	return RangeTag |
		uint64(r.Max)<<rangeMaxShift |
		uint64(r.Min)<<rangeMinShift |
		uint64(r.Weight), nil
}

func DecodeRange(v uint64) (Range, error) {
	if v >= MaxSafe || !IsRange(v) {
		return Range{}, fmt.Errorf("%w: %d is not a range term", apperrors.ErrCorruptRecord, v)
	}
	r := Range{
		Min:    uint32(v >> rangeMinShift & MaxRangeBound),
		Max:    uint32(v >> rangeMaxShift & MaxRangeBound),
		Weight: uint8(v & TermWeightMask),
	}
	if r.Min > r.Max {
		return Range{}, fmt.Errorf("%w: range term %d has min above max", apperrors.ErrCorruptRecord, v)
	}
	return r, nil
}

// IsRange reports whether a stored term carries the range tag.
func IsRange(v uint64) bool {
	return v&RangeTag != 0
}

// TermID strips the weight bits from a stored plain term.
func TermID(v uint64) uint64 {
	return v &^ TermWeightMask
}

// TermWeight returns the weight bits of a stored term.
func TermWeight(v uint64) uint8 {
	return uint8(v & TermWeightMask)
}

// NumericTerm is the query term id for the number n.
func NumericTerm(n uint64) uint64 {
	return n << TermWeightBits
}

// NumericValue inverts NumericTerm.
func NumericValue(term uint64) uint64 {
	return term >> TermWeightBits
}
