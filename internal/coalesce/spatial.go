package coalesce

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/codec"
)

// BBox is an inclusive tile rectangle at Zoom.
type BBox struct {
	Zoom uint32 `json:"zoom"`
	MinX uint32 `json:"min_x"`
	MinY uint32 `json:"min_y"`
	MaxX uint32 `json:"max_x"`
	MaxY uint32 `json:"max_y"`
}

// Center is the proximity point, a tile at Zoom.
type Center struct {
	Zoom uint32 `json:"zoom"`
	X    uint32 `json:"x"`
	Y    uint32 `json:"y"`
}

// ScoreDistFunc turns a record's score and its distance from the center
// into a secondary sort key. zoom is the center zoom and radius the
// proximity radius of the call.
type ScoreDistFunc func(zoom uint32, distance float64, score uint8, radius float64) float64

const (
	// DefaultRadius is the proximity radius in tiles at z14.
	DefaultRadius = 40.0

	scoreDistMinZoom = 6
)

// DefaultScoreDist rewards nearby records steeply inside the radius and
// falls back to a score-only value outside it. Zooms below 6 are scored as
// z6.
func DefaultScoreDist(zoom uint32, distance float64, score uint8, radius float64) float64 {
	z := float64(max(zoom, scoreDistMinZoom))
	if distance == 0 {
		distance = 0.01
	}
	base := 6*math.Exp(float64(score)-codec.MaxScore) + 1
	// 32 tiles is roughly 40 miles at z14.
	r := radius * (32.0 / 40.0) / math.Pow(1.5, float64(codec.MaxZoom)-z)
	if distance > r {
		return base
	}
	return base * 2 * (radius / DefaultRadius) * math.Pow(1.5, z-scoreDistMinZoom) / distance
}

// span converts the bbox into tile bounds at zoom.
func (b BBox) span(zoom uint32) (minX, minY, maxX, maxY uint32) {
	switch {
	case zoom > b.Zoom:
		d := zoom - b.Zoom
		fill := uint32(1)<<d - 1
		return b.MinX << d, b.MinY << d, b.MaxX<<d | fill, b.MaxY<<d | fill
	case zoom < b.Zoom:
		d := b.Zoom - zoom
		return b.MinX >> d, b.MinY >> d, b.MaxX >> d, b.MaxY >> d
	}
	return b.MinX, b.MinY, b.MaxX, b.MaxY
}

func (b BBox) contains(zoom, x, y uint32) bool {
	minX, minY, maxX, maxY := b.span(zoom)
	return x >= minX && x <= maxX && y >= minY && y <= maxY
}

// toZoom moves a tile from one zoom to another. Going finer it lands on the
// tile nearest the middle of the covered block.
func toZoom(from, to, x, y uint32) (uint32, uint32) {
	switch {
	case to > from:
		d := to - from
		mid := (uint32(1) << d) / 2
		return x<<d + mid, y<<d + mid
	case to < from:
		d := from - to
		return x >> d, y >> d
	}
	return x, y
}

// distance is the Euclidean tile distance between a record at zoom and the
// center, measured at the center zoom.
func (c Center) distance(zoom, x, y uint32) float64 {
	cx, cy := toZoom(zoom, c.Zoom, x, y)
	return math.Hypot(float64(cx)-float64(c.X), float64(cy)-float64(c.Y))
}
