package coalesce

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultScoreDist(t *testing.T) {
	// On top of the center at z14 a top-scored record gets the full boost.
	assert.InDelta(t, 7*2*math.Pow(1.5, 8)/0.01, DefaultScoreDist(14, 0, 7, DefaultRadius), 1e-6)
	// Outside the radius only the score counts.
	assert.Equal(t, 7.0, DefaultScoreDist(14, 33, 7, DefaultRadius))
	assert.InDelta(t, 6*math.Exp(-7)+1, DefaultScoreDist(14, 500, 0, DefaultRadius), 1e-12)
	// Low zooms are scored as z6.
	assert.Equal(t, DefaultScoreDist(6, 1, 0, DefaultRadius), DefaultScoreDist(2, 1, 0, DefaultRadius))
	assert.InDelta(t, 2*(6*math.Exp(-7)+1), DefaultScoreDist(3, 1, 0, DefaultRadius), 1e-9)
	// A larger radius reaches further.
	assert.Equal(t, 7.0, DefaultScoreDist(14, 40, 7, DefaultRadius))
	assert.Greater(t, DefaultScoreDist(14, 40, 7, 80), 7.0)
	// Closer is better.
	assert.Greater(t, DefaultScoreDist(14, 2, 3, DefaultRadius), DefaultScoreDist(14, 20, 3, DefaultRadius))
}

func TestToZoom(t *testing.T) {
	x, y := toZoom(1, 3, 1, 1)
	assert.Equal(t, []uint32{6, 6}, []uint32{x, y})

	x, y = toZoom(1, 2, 1, 0)
	assert.Equal(t, []uint32{3, 1}, []uint32{x, y})

	x, y = toZoom(3, 1, 7, 6)
	assert.Equal(t, []uint32{1, 1}, []uint32{x, y})

	x, y = toZoom(5, 5, 9, 4)
	assert.Equal(t, []uint32{9, 4}, []uint32{x, y})
}

func TestBBoxSpan(t *testing.T) {
	b := BBox{Zoom: 1, MinX: 0, MinY: 1, MaxX: 1, MaxY: 1}

	minX, minY, maxX, maxY := b.span(3)
	assert.Equal(t, []uint32{0, 4, 7, 7}, []uint32{minX, minY, maxX, maxY})

	minX, minY, maxX, maxY = b.span(0)
	assert.Equal(t, []uint32{0, 0, 0, 0}, []uint32{minX, minY, maxX, maxY})

	assert.True(t, b.contains(1, 1, 1))
	assert.False(t, b.contains(1, 1, 0))
	assert.True(t, b.contains(3, 7, 4))
	assert.False(t, b.contains(3, 7, 3))
	assert.True(t, b.contains(0, 0, 0))
}

func TestCenterDistance(t *testing.T) {
	c := Center{Zoom: 2, X: 3, Y: 3}
	assert.InDelta(t, math.Sqrt(18), c.distance(2, 0, 0), 1e-12)
	assert.Zero(t, c.distance(2, 3, 3))
	// A coarser tile covering the center is at distance zero.
	assert.Zero(t, c.distance(1, 1, 1))
	// A finer tile is measured from its parent at the center zoom.
	assert.Equal(t, 1.0, c.distance(3, 6, 8))
}
