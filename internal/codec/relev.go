package codec

import (
	"fmt"
	"math"

	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
)

// Relev layout, low bits first: tmpid (32) | unused (1) | reason (12) |
// count (3) | relev in 31sts (5).
const (
	RelevTmpIDBits  = 32
	RelevReasonBits = 12
	RelevCountBits  = 3
	RelevScaleBits  = 5

	relevReasonShift = RelevTmpIDBits + 1
	relevCountShift  = relevReasonShift + RelevReasonBits
	relevScaleShift  = relevCountShift + RelevCountBits

	// IdxMultiplier separates layer ids inside a tmpid.
	IdxMultiplier = 1 << 25

	MaxRelevID     = IdxMultiplier - 1
	MaxRelevIdx    = 1<<(RelevTmpIDBits-25) - 1
	MaxRelevReason = 1<<RelevReasonBits - 1
	MaxRelevCount  = 1<<RelevCountBits - 1
	RelevScale     = 1<<RelevScaleBits - 1
)

// Relev is a phrase's match quality against a query.
type Relev struct {
	ID     uint32  `json:"id"`
	Idx    uint32  `json:"idx"`
	Reason uint32  `json:"reason"`
	Count  uint8   `json:"count"`
	Relev  float64 `json:"relev"`
}

// TmpID is the layer-qualified id.
func (r Relev) TmpID() uint64 {
	return TmpID(r.ID, r.Idx)
}

// TmpID combines a feature id with its layer index.
func TmpID(id, idx uint32) uint64 {
	return uint64(idx)*IdxMultiplier + uint64(id)
}

// QuantizeRelev floors relev onto the 31-step scale stored in a record.
func QuantizeRelev(relev float64) uint64 {
	return uint64(math.Floor(relev*RelevScale + 1e-9))
}

// EncodeRelev packs r. Relev is floored to the nearest 31st.
func EncodeRelev(r Relev) (uint64, error) {
	if r.ID > MaxRelevID {
		return 0, fmt.Errorf("%w: relev id %d exceeds %d", apperrors.ErrOutOfRange, r.ID, MaxRelevID)
	}
	if r.Idx > MaxRelevIdx {
		return 0, fmt.Errorf("%w: relev idx %d exceeds %d", apperrors.ErrOutOfRange, r.Idx, MaxRelevIdx)
	}
	if r.Reason > MaxRelevReason {
		return 0, fmt.Errorf("%w: relev reason %#x exceeds %d bits", apperrors.ErrOutOfRange, r.Reason, RelevReasonBits)
	}
	if r.Count > MaxRelevCount {
		return 0, fmt.Errorf("%w: relev count %d exceeds %d", apperrors.ErrOutOfRange, r.Count, MaxRelevCount)
	}
	if math.IsNaN(r.Relev) || r.Relev < 0 || r.Relev > 1 {
		return 0, fmt.Errorf("%w: relev %v outside [0, 1]", apperrors.ErrOutOfRange, r.Relev)
	}
	return r.TmpID() |
		uint64(r.Reason)<<relevReasonShift |
		uint64(r.Count)<<relevCountShift |
		QuantizeRelev(r.Relev)<<relevScaleShift, nil
}

// DecodeRelev unpacks a relev record; idx and id are split out of the tmpid.
func DecodeRelev(v uint64) (Relev, error) {
	if v >= MaxSafe {
		return Relev{}, fmt.Errorf("%w: relev value %d exceeds 53 bits", apperrors.ErrCorruptRecord, v)
	}
	if v>>RelevTmpIDBits&1 != 0 {
		return Relev{}, fmt.Errorf("%w: relev value %d has the reserved bit set", apperrors.ErrCorruptRecord, v)
	}
	scaled := v >> relevScaleShift & RelevScale
	tmpid := v & (1<<RelevTmpIDBits - 1)
	return Relev{
		ID:     uint32(tmpid % IdxMultiplier),
		Idx:    uint32(tmpid / IdxMultiplier),
		Reason: uint32(v >> relevReasonShift & MaxRelevReason),
		Count:  uint8(v >> relevCountShift & MaxRelevCount),
		Relev:  float64(scaled) / RelevScale,
	}, nil
}
