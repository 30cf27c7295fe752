// Package codec packs feature records, phrase relevance records and numeric
// range terms into unsigned integers that stay exact below 2^53.
package codec

import (
	"fmt"
	"math"

	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
)

// MaxSafe is the exclusive upper bound of every packed value.
const MaxSafe uint64 = 1 << 53

// Grid field widths. id | x | y | score | relev bucket, low bits first.
const (
	GridIDBits    = 20
	GridXYBits    = 14
	GridScoreBits = 3
	GridRelevBits = 2

	gridXShift     = GridIDBits
	gridYShift     = gridXShift + GridXYBits
	gridScoreShift = gridYShift + GridXYBits
	gridRelevShift = gridScoreShift + GridScoreBits

	MaxGridID  = 1<<GridIDBits - 1
	MaxTileXY  = 1<<GridXYBits - 1
	MaxScore   = 1<<GridScoreBits - 1
	MaxZoom    = GridXYBits
	relevSteps = 1 << GridRelevBits
)

var relevBuckets = [relevSteps]float64{0.4, 0.6, 0.8, 1.0}

// Grid is one feature's location and match quality within a layer.
type Grid struct {
	ID    uint32  `json:"id"`
	X     uint32  `json:"x"`
	Y     uint32  `json:"y"`
	Relev float64 `json:"relev"`
	Score uint8   `json:"score"`
}

// EncodeGrid packs g, rejecting any field that does not fit its width.
func EncodeGrid(g Grid) (uint64, error) {
	if g.ID > MaxGridID {
		return 0, fmt.Errorf("%w: grid id %d exceeds %d", apperrors.ErrOutOfRange, g.ID, MaxGridID)
	}
	if g.X > MaxTileXY {
		return 0, fmt.Errorf("%w: grid x %d exceeds %d", apperrors.ErrOutOfRange, g.X, MaxTileXY)
	}
	if g.Y > MaxTileXY {
		return 0, fmt.Errorf("%w: grid y %d exceeds %d", apperrors.ErrOutOfRange, g.Y, MaxTileXY)
	}
	if g.Score > MaxScore {
		return 0, fmt.Errorf("%w: grid score %d exceeds %d", apperrors.ErrOutOfRange, g.Score, MaxScore)
	}
	bucket, ok := relevBucket(g.Relev)
	if !ok {
		return 0, fmt.Errorf("%w: grid relev %v is not one of 0.4, 0.6, 0.8, 1.0", apperrors.ErrOutOfRange, g.Relev)
	}
	return uint64(g.ID) |
		uint64(g.X)<<gridXShift |
		uint64(g.Y)<<gridYShift |
		uint64(g.Score)<<gridScoreShift |
		bucket<<gridRelevShift, nil
}

// DecodeGrid is the inverse of EncodeGrid.
func DecodeGrid(v uint64) (Grid, error) {
	if v >= MaxSafe {
		return Grid{}, fmt.Errorf("%w: grid value %d exceeds 53 bits", apperrors.ErrCorruptRecord, v)
	}
	return Grid{
		ID:    uint32(v & MaxGridID),
		X:     uint32(v >> gridXShift & MaxTileXY),
		Y:     uint32(v >> gridYShift & MaxTileXY),
		Score: uint8(v >> gridScoreShift & MaxScore),
		Relev: relevBuckets[v>>gridRelevShift&(relevSteps-1)],
	}, nil
}

// MustEncodeGrid is EncodeGrid for fixtures known to be valid.
func MustEncodeGrid(g Grid) uint64 {
	v, err := EncodeGrid(g)
	if err != nil {
		panic(err)
	}
	return v
}

func relevBucket(relev float64) (uint64, bool) {
	for i, b := range relevBuckets {
		if math.Abs(relev-b) < 1e-9 {
			return uint64(i), true
		}
	}
	return 0, false
}
