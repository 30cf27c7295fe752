package coalesce

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/codec"
	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
)

// Subquery asks one layer for the features stored under a phrase.
type Subquery struct {
	Cache cache.Cache
	// Mask holds the query positions this subquery covers.
	Mask uint64
	// Idx identifies the layer. Subqueries sharing an idx are alternatives.
	Idx    uint32
	Zoom   uint32
	Weight float64
	Phrase string
	Prefix cache.PrefixMode
	// Languages filters by language. nil applies no filter.
	Languages *cache.LanguageSet
	// ExtendedScan lifts the per-subquery record cap.
	ExtendedScan bool
}

// Options are the per-call spatial inputs. All are optional.
type Options struct {
	// Radius is the proximity radius; 0 uses the engine default.
	Radius float64
	BBox   *BBox
	Center *Center
}

// Feature is one record of a group.
type Feature struct {
	ID              uint32  `json:"id"`
	Idx             uint32  `json:"idx"`
	TmpID           uint64  `json:"tmpid"`
	X               uint32  `json:"x"`
	Y               uint32  `json:"y"`
	Relev           float64 `json:"relev"`
	Score           uint8   `json:"score"`
	ScoreDist       float64 `json:"scoredist"`
	Distance        float64 `json:"distance"`
	MatchesLanguage bool    `json:"matches_language"`

	zoom uint32
	mask uint64
}

// Group is one coalesced result: the most specific feature first.
type Group struct {
	Relev    float64   `json:"relev"`
	Features []Feature `json:"features"`
}

// Validate checks the subqueries and options before any lookup runs.
func Validate(subqs []Subquery, opts Options) error {
	if len(subqs) == 0 {
		return apperrors.Invalid("subqueries must hold one or more subqueries")
	}
	for i, sq := range subqs {
		if err := sq.validate(); err != nil {
			return apperrors.Invalid("subqueries[%d]: %s", i, message(err))
		}
	}
	return opts.validate()
}

func (sq Subquery) validate() error {
	switch {
	case sq.Cache == nil:
		return apperrors.Invalid("cache value must be a Cache object")
	case sq.Mask == 0:
		return apperrors.Invalid("mask value must be non-zero")
	case sq.Idx > codec.MaxRelevIdx:
		return apperrors.Invalid("encountered idx value too large to fit in %d bits", codec.RelevTmpIDBits-25)
	case sq.Zoom > codec.MaxZoom:
		return apperrors.Invalid("encountered zoom value too large to fit: %d exceeds %d", sq.Zoom, codec.MaxZoom)
	case math.IsNaN(sq.Weight) || math.IsInf(sq.Weight, 0) || sq.Weight < 0:
		return apperrors.Invalid("encountered weight value out of range: %v", sq.Weight)
	case sq.Phrase == "":
		return apperrors.Invalid("encountered invalid phrase")
	case !sq.Prefix.Valid():
		return apperrors.Invalid("prefix value must be an integer between 0 - 2")
	}
	return nil
}

func (o Options) validate() error {
	if math.IsNaN(o.Radius) || math.IsInf(o.Radius, 0) || o.Radius < 0 || o.Radius > math.MaxUint32 {
		return apperrors.Invalid("encountered radius too large to fit in uint32: %v", o.Radius)
	}
	if b := o.BBox; b != nil {
		if b.Zoom > codec.MaxZoom {
			return apperrors.Invalid("bboxzxy zoom %d exceeds %d", b.Zoom, codec.MaxZoom)
		}
		if b.MinX > b.MaxX || b.MinY > b.MaxY {
			return apperrors.Invalid("bboxzxy minimum exceeds maximum")
		}
	}
	if c := o.Center; c != nil && c.Zoom > codec.MaxZoom {
		return apperrors.Invalid("centerzxy zoom %d exceeds %d", c.Zoom, codec.MaxZoom)
	}
	return nil
}

func message(err error) string {
	var appErr *apperrors.AppError
	if apperrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
