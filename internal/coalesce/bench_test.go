package coalesce

import (
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/codec"
)

func benchCache(b *testing.B, id string, n int, zoom uint32) cache.Cache {
	b.Helper()
	c := cache.NewMemory(id)
	side := uint32(1) << zoom
	values := make([]uint64, n)
	for i := range values {
		values[i] = codec.MustEncodeGrid(codec.Grid{
			ID:    uint32(i + 1),
			X:     uint32(i*7) % side,
			Y:     uint32(i*13) % side,
			Relev: 1,
			Score: uint8(i % 8),
		})
	}
	if err := c.Set(cache.TypeGrid, 0, "1", values, cache.AllLanguages); err != nil {
		b.Fatal(err)
	}
	return c
}

// BenchmarkCoalesce measures a two-layer join for growing layer sizes.
func BenchmarkCoalesce(b *testing.B) {
	for _, n := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("grids_%d", n), func(b *testing.B) {
			region := benchCache(b, "region", n/10+1, 6)
			street := benchCache(b, "street", n, 14)
			subqs := []Subquery{
				subq(street, 1, 1, 14, 0.5),
				subq(region, 2, 0, 6, 0.5),
			}
			opts := Options{Center: &Center{Zoom: 14, X: 100, Y: 100}}
			e := newEngine()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := e.Coalesce(context.Background(), subqs, opts); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
