package coalesce

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/shard"
)

type list struct {
	langs cache.LanguageSet
	grids []codec.Grid
}

func untagged(grids ...codec.Grid) list {
	return list{langs: cache.AllLanguages, grids: grids}
}

func tagged(ids []uint32, grids ...codec.Grid) list {
	return list{langs: cache.MustLanguages(ids...), grids: grids}
}

func langs(ids ...uint32) *cache.LanguageSet {
	s := cache.MustLanguages(ids...)
	return &s
}

func grid(id, x, y uint32, relev float64, score uint8) codec.Grid {
	return codec.Grid{ID: id, X: x, Y: y, Relev: relev, Score: score}
}

// layerCache stores the lists under phrase "1" in shard 0. The persistent
// flavour goes through PackFile and OpenPersistent.
func layerCache(t *testing.T, backend, id string, lists ...list) cache.Cache {
	t.Helper()
	mem := cache.NewMemory(id)
	for _, l := range lists {
		values := make([]uint64, len(l.grids))
		for i, g := range l.grids {
			values[i] = codec.MustEncodeGrid(g)
		}
		require.NoError(t, mem.Set(cache.TypeGrid, 0, "1", values, l.langs))
	}
	if backend == "memory" {
		return mem
	}
	path := filepath.Join(t.TempDir(), id+".pack")
	require.NoError(t, mem.PackFile(path))
	c, err := cache.OpenPersistent(id, path, cache.WithDir(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

var combos = [][]string{
	{"memory", "memory", "memory"},
	{"persistent", "persistent", "persistent"},
	{"memory", "persistent", "memory"},
}

func forEachCombo(t *testing.T, fn func(t *testing.T, backends []string)) {
	for _, combo := range combos {
		t.Run(combo[0]+"-"+combo[1]+"-"+combo[2], func(t *testing.T) { fn(t, combo) })
	}
}

func newEngine() *Engine {
	return New(config.CoalesceConfig{}, shard.Fixed(0), nil)
}

func subq(c cache.Cache, mask uint64, idx, zoom uint32, weight float64) Subquery {
	return Subquery{Cache: c, Mask: mask, Idx: idx, Zoom: zoom, Weight: weight, Phrase: "1"}
}

func run(t *testing.T, subqs []Subquery, opts Options) []Group {
	t.Helper()
	groups, err := newEngine().Coalesce(context.Background(), subqs, opts)
	require.NoError(t, err)
	return groups
}

// ids lists each group's feature ids, most specific first.
func ids(groups []Group) [][]uint32 {
	out := make([][]uint32, len(groups))
	for i, g := range groups {
		for _, f := range g.Features {
			out[i] = append(out[i], f.ID)
		}
	}
	return out
}

func public(f Feature) Feature {
	f.zoom, f.mask = 0, 0
	return f
}

func TestCoalesceSingleRanking(t *testing.T) {
	forEachCombo(t, func(t *testing.T, b []string) {
		c := layerCache(t, b[0], "a", untagged(
			grid(1, 1, 1, 1, 7),
			grid(2, 2, 2, 0.8, 3),
			grid(3, 3, 3, 1, 1),
		))
		groups := run(t, []Subquery{subq(c, 1, 0, 2, 1)}, Options{})
		require.Len(t, groups, 3)
		assert.Equal(t, [][]uint32{{1}, {3}, {2}}, ids(groups))

		assert.Equal(t, 1.0, groups[0].Relev)
		assert.Equal(t, Feature{
			ID: 1, Idx: 0, TmpID: 1, X: 1, Y: 1, Relev: 1, Score: 7, ScoreDist: 7, MatchesLanguage: true,
		}, public(groups[0].Features[0]))
		assert.Equal(t, Feature{
			ID: 2, Idx: 0, TmpID: 2, X: 2, Y: 2, Relev: 0.8, Score: 3, ScoreDist: 3, MatchesLanguage: true,
		}, public(groups[2].Features[0]))
	})
}

func TestCoalesceSingleProximity(t *testing.T) {
	forEachCombo(t, func(t *testing.T, b []string) {
		c := layerCache(t, b[0], "a", untagged(
			grid(1, 1, 1, 1, 7),
			grid(2, 2, 2, 0.8, 3),
			grid(3, 3, 3, 1, 1),
		))
		groups := run(t, []Subquery{subq(c, 1, 0, 2, 1)}, Options{Center: &Center{Zoom: 2, X: 3, Y: 3}})
		require.Len(t, groups, 3)
		assert.Equal(t, [][]uint32{{3}, {1}, {2}}, ids(groups))

		f := groups[0].Features[0]
		assert.Equal(t, 0.0, f.Distance)
		assert.InDelta(t, 202.97450261199964, f.ScoreDist, 1e-9)

		f = groups[1].Features[0]
		assert.InDelta(t, 2.8284271247461903, f.Distance, 1e-12)
		assert.Equal(t, 7.0, f.ScoreDist)

		f = groups[2].Features[0]
		assert.InDelta(t, 1.4142135623730951, f.Distance, 1e-12)
		assert.InDelta(t, 1.109893833332405, f.ScoreDist, 1e-9)
		assert.Equal(t, 0.8, f.Relev)
	})
}

func TestCoalesceSingleBBox(t *testing.T) {
	forEachCombo(t, func(t *testing.T, b []string) {
		c := layerCache(t, b[0], "a", untagged(
			grid(1, 1, 1, 1, 7),
			grid(2, 2, 2, 0.8, 3),
			grid(3, 3, 3, 1, 1),
		))
		bbox := &BBox{Zoom: 2, MinX: 1, MinY: 1, MaxX: 1, MaxY: 1}
		groups := run(t, []Subquery{subq(c, 1, 0, 2, 1)}, Options{BBox: bbox})
		assert.Equal(t, [][]uint32{{1}}, ids(groups))

		sq := subq(c, 1, 0, 2, 1)
		sq.ExtendedScan = true
		groups = run(t, []Subquery{sq}, Options{BBox: bbox, Center: &Center{Zoom: 2, X: 1, Y: 1}})
		require.Equal(t, [][]uint32{{1}}, ids(groups))
		assert.Equal(t, 0.0, groups[0].Features[0].Distance)
		assert.InDelta(t, 1400, groups[0].Features[0].ScoreDist, 1e-9)
	})
}

func TestCoalesceCollapsesDuplicateFeatures(t *testing.T) {
	forEachCombo(t, func(t *testing.T, b []string) {
		grids := make([]codec.Grid, 0, 81)
		for i := 0; i < 80; i++ {
			grids = append(grids, grid(1, 1, 1, 1, 0))
		}
		grids = append(grids, grid(2, 1, 1, 1, 0))
		// The same feature in another tile is still one feature.
		grids = append(grids, grid(1, 2, 2, 0.6, 0))
		c := layerCache(t, b[0], "a", untagged(grids...))

		groups := run(t, []Subquery{subq(c, 1, 0, 2, 1)}, Options{})
		assert.Equal(t, [][]uint32{{1}, {2}}, ids(groups))
		assert.Equal(t, uint32(1), groups[0].Features[0].X)
	})
}

func TestCoalesceLanguagePenalty(t *testing.T) {
	forEachCombo(t, func(t *testing.T, b []string) {
		c := layerCache(t, b[0], "a",
			tagged([]uint32{0}, grid(1, 1, 1, 1, 1)),
			tagged([]uint32{1}, grid(2, 1, 1, 1, 1)),
			tagged([]uint32{0, 1}, grid(3, 1, 1, 1, 1)),
			tagged([]uint32{2}, grid(4, 1, 1, 1, 1)),
		)
		matches := func(groups []Group) []bool {
			out := make([]bool, len(groups))
			for i, g := range groups {
				out[i] = g.Features[0].MatchesLanguage
			}
			return out
		}
		relevs := func(groups []Group) []float64 {
			out := make([]float64, len(groups))
			for i, g := range groups {
				out[i] = g.Relev
			}
			return out
		}

		groups := run(t, []Subquery{subq(c, 1, 0, 1, 1)}, Options{})
		assert.Equal(t, [][]uint32{{1}, {2}, {3}, {4}}, ids(groups))
		assert.Equal(t, []bool{true, true, true, true}, matches(groups))

		sq := subq(c, 1, 0, 1, 1)
		sq.Languages = langs(0)
		groups = run(t, []Subquery{sq}, Options{})
		assert.Equal(t, [][]uint32{{1}, {3}, {2}, {4}}, ids(groups))
		assert.Equal(t, []bool{true, true, false, false}, matches(groups))
		assert.Equal(t, []float64{1, 1, 0.96, 0.96}, relevs(groups))

		sq.Languages = langs(3)
		groups = run(t, []Subquery{sq}, Options{})
		assert.Equal(t, [][]uint32{{1}, {2}, {3}, {4}}, ids(groups))
		assert.Equal(t, []bool{false, false, false, false}, matches(groups))
		assert.Equal(t, []float64{0.96, 0.96, 0.96, 0.96}, relevs(groups))
	})
}

func TestCoalesceJoinsLayers(t *testing.T) {
	forEachCombo(t, func(t *testing.T, b []string) {
		a := layerCache(t, b[0], "a", untagged(grid(1, 1, 1, 1, 1), grid(2, 2, 2, 1, 1)))
		c := layerCache(t, b[1], "b", untagged(grid(2, 2, 2, 1, 7), grid(3, 3, 3, 1, 1), grid(1, 1, 1, 1, 3)))

		groups := run(t, []Subquery{
			subq(a, 1<<1, 0, 1, 0.5),
			subq(c, 1<<0, 1, 2, 0.5),
		}, Options{})
		require.Equal(t, [][]uint32{{2, 1}, {3, 1}}, ids(groups))

		assert.Equal(t, 1.0, groups[0].Relev)
		assert.Equal(t, Feature{
			ID: 2, Idx: 1, TmpID: 33554434, X: 2, Y: 2, Relev: 0.5, Score: 7, ScoreDist: 7, MatchesLanguage: true,
		}, public(groups[0].Features[0]))
		assert.Equal(t, Feature{
			ID: 1, Idx: 0, TmpID: 1, X: 1, Y: 1, Relev: 0.5, Score: 1, ScoreDist: 1, MatchesLanguage: true,
		}, public(groups[0].Features[1]))

		assert.Equal(t, 1.0, groups[1].Relev)
		assert.Equal(t, uint64(33554435), groups[1].Features[0].TmpID)
	})
}

func TestCoalesceJoinProximity(t *testing.T) {
	forEachCombo(t, func(t *testing.T, b []string) {
		a := layerCache(t, b[0], "a", untagged(grid(1, 1, 1, 1, 1), grid(2, 2, 2, 1, 1)))
		c := layerCache(t, b[1], "b", untagged(grid(2, 2, 2, 1, 7), grid(3, 3, 3, 1, 1), grid(1, 1, 1, 1, 3)))

		groups := run(t, []Subquery{
			subq(a, 1<<1, 0, 1, 0.5),
			subq(c, 1<<0, 1, 2, 0.5),
		}, Options{Center: &Center{Zoom: 2, X: 3, Y: 3}})
		require.Equal(t, [][]uint32{{3, 1}, {2, 1}}, ids(groups))

		lead := groups[0].Features[0]
		assert.Equal(t, 0.0, lead.Distance)
		assert.InDelta(t, 202.97450261199964, lead.ScoreDist, 1e-9)
		// (1,1) at z1 lands on (3,3) at z2.
		container := groups[0].Features[1]
		assert.Equal(t, 0.0, container.Distance)
		assert.InDelta(t, 202.97450261199964, container.ScoreDist, 1e-9)

		lead = groups[1].Features[0]
		assert.InDelta(t, 1.4142135623730951, lead.Distance, 1e-12)
		assert.Equal(t, 7.0, lead.ScoreDist)
	})
}

func TestCoalesceJoinLanguages(t *testing.T) {
	forEachCombo(t, func(t *testing.T, b []string) {
		a := layerCache(t, b[0], "a", untagged(grid(1, 1, 1, 1, 1)))
		c := layerCache(t, b[1], "b",
			tagged([]uint32{0}, grid(2, 1, 1, 1, 1)),
			tagged([]uint32{1}, grid(3, 1, 1, 1, 1)),
		)

		groups := run(t, []Subquery{
			subq(a, 1<<1, 0, 1, 0.5),
			subq(c, 1<<0, 1, 1, 0.5),
		}, Options{})
		assert.Equal(t, [][]uint32{{2, 1}, {3, 1}}, ids(groups))

		sq := subq(c, 1<<0, 1, 1, 0.5)
		sq.Languages = langs(0)
		groups = run(t, []Subquery{subq(a, 1<<1, 0, 1, 0.5), sq}, Options{})
		require.Equal(t, [][]uint32{{2, 1}, {3, 1}}, ids(groups))
		assert.Equal(t, 1.0, groups[0].Relev)
		assert.InDelta(t, 0.98, groups[1].Relev, 1e-12)
		assert.False(t, groups[1].Features[0].MatchesLanguage)
		assert.Equal(t, 0.48, groups[1].Features[0].Relev)
		assert.True(t, groups[1].Features[1].MatchesLanguage)
	})
}

func TestCoalesceHigherRelevContainerWins(t *testing.T) {
	forEachCombo(t, func(t *testing.T, b []string) {
		a := layerCache(t, b[0], "a", untagged(grid(1, 1, 1, 0.8, 1), grid(2, 1, 1, 1, 1)))
		c := layerCache(t, b[1], "b", untagged(grid(3, 2, 2, 1, 1)))

		groups := run(t, []Subquery{
			subq(a, 1<<1, 0, 1, 0.5),
			subq(c, 1<<0, 1, 2, 0.5),
		}, Options{})
		require.Len(t, groups, 1)
		assert.Equal(t, 1.0, groups[0].Relev)
		assert.Equal(t, Feature{
			ID: 3, Idx: 1, TmpID: 33554435, X: 2, Y: 2, Relev: 0.5, Score: 1, ScoreDist: 1, MatchesLanguage: true,
		}, public(groups[0].Features[0]))
		assert.Equal(t, Feature{
			ID: 2, Idx: 0, TmpID: 2, X: 1, Y: 1, Relev: 0.5, Score: 1, ScoreDist: 1, MatchesLanguage: true,
		}, public(groups[0].Features[1]))
	})
}

func TestCoalesceAlternativeWithinLayerReplaces(t *testing.T) {
	weak := layerCache(t, "memory", "weak", untagged(grid(1, 0, 0, 0.4, 1)))
	strong := layerCache(t, "memory", "strong", untagged(grid(2, 0, 0, 1, 1)))
	fine := layerCache(t, "memory", "fine", untagged(grid(3, 1, 1, 1, 1)))

	// weak and strong are alternatives for layer 0; strong is visited
	// second and should displace weak.
	groups := run(t, []Subquery{
		subq(weak, 1<<1, 0, 0, 0.5),
		subq(strong, 1<<1, 0, 0, 0.5),
		subq(fine, 1<<0, 1, 1, 0.5),
	}, Options{})
	require.NotEmpty(t, groups)
	assert.Equal(t, []uint32{3, 2}, ids(groups)[0])
	assert.Equal(t, 1.0, groups[0].Relev)
}

func TestCoalesceSandwich(t *testing.T) {
	forEachCombo(t, func(t *testing.T, b []string) {
		a := layerCache(t, b[0], "a", untagged(grid(3, 0, 0, 1, 1), grid(4, 0, 0, 1, 1)))
		c := layerCache(t, b[1], "b", untagged(grid(1, 1, 1, 1, 1), grid(2, 1, 1, 1, 1)))
		groups := run(t, []Subquery{
			subq(a, 1<<1, 0, 0, 0.5),
			subq(c, 1<<0, 1, 1, 0.5),
		}, Options{})
		assert.Equal(t, [][]uint32{{1, 4}, {2, 4}}, ids(groups))

		c = layerCache(t, b[1], "b2", untagged(grid(1, 0, 0, 1, 1)))
		groups = run(t, []Subquery{
			subq(a, 1<<1, 25, 0, 0.5),
			subq(c, 1<<0, 20, 0, 0.5),
		}, Options{})
		assert.Equal(t, [][]uint32{{3, 1}, {4, 1}}, ids(groups))
		assert.Equal(t, uint32(25), groups[0].Features[0].Idx)
	})
}

func TestCoalesceWideMasks(t *testing.T) {
	grids := make([]codec.Grid, 0, 9999)
	for i := uint32(1); i < 10000; i++ {
		grids = append(grids, grid(i, 0, 0, 1, 1))
	}
	for _, mask := range []uint64{1 << 2, 1 << 18, 1 << 40} {
		forEachCombo(t, func(t *testing.T, b []string) {
			a := layerCache(t, b[0], "a", untagged(grids...))
			c1 := layerCache(t, b[1], "b", untagged(grid(1, 0, 0, 1, 1)))
			c2 := layerCache(t, b[2], "c", untagged(grid(1, 0, 0, 1, 1)))

			groups := run(t, []Subquery{
				subq(a, mask, 0, 0, 0.33),
				subq(c1, 1<<0, 1, 0, 0.33),
				subq(c2, 1<<1, 2, 0, 0.33),
			}, Options{})
			require.Len(t, groups, 1)
			assert.Equal(t, []uint32{1, 1, 9999}, ids(groups)[0])
			assert.Equal(t, []uint32{2, 1, 0}, []uint32{
				groups[0].Features[0].Idx, groups[0].Features[1].Idx, groups[0].Features[2].Idx,
			})
			assert.InDelta(t, 0.99, groups[0].Relev, 1e-9)
		})
	}
}

func TestCoalesceMultiBBox(t *testing.T) {
	forEachCombo(t, func(t *testing.T, b []string) {
		a := layerCache(t, b[0], "a", untagged(grid(1, 0, 0, 0.8, 1), grid(2, 1, 1, 1, 1)))
		m := layerCache(t, b[1], "b", untagged(grid(3, 3, 0, 1, 1), grid(4, 0, 3, 1, 1)))
		c := layerCache(t, b[2], "c", untagged(grid(5, 21, 7, 1, 1), grid(6, 21, 18, 1, 1)))

		ab := []Subquery{subq(a, 1<<1, 0, 1, 0.5), subq(m, 1<<0, 1, 2, 0.5)}
		for _, tc := range []struct {
			bbox BBox
			want [][]uint32
		}{
			{BBox{Zoom: 1, MinX: 0, MinY: 0, MaxX: 1, MaxY: 0}, [][]uint32{{3}, {1}}},
			{BBox{Zoom: 2, MinX: 0, MinY: 0, MaxX: 1, MaxY: 3}, [][]uint32{{4}, {1}}},
			{BBox{Zoom: 6, MinX: 14, MinY: 30, MaxX: 15, MaxY: 64}, [][]uint32{{4}, {1}}},
		} {
			groups := run(t, ab, Options{BBox: &tc.bbox})
			assert.Equal(t, tc.want, ids(groups), "bbox %+v", tc.bbox)
		}

		groups := run(t, []Subquery{
			subq(m, 1<<1, 0, 2, 0.5),
			subq(c, 1<<0, 1, 5, 0.5),
		}, Options{BBox: &BBox{Zoom: 1, MinX: 0, MinY: 0, MaxX: 1, MaxY: 0}})
		assert.Equal(t, [][]uint32{{5}, {3}}, ids(groups))
	})
}

func TestCoalesceProximityPicksNearFeature(t *testing.T) {
	forEachCombo(t, func(t *testing.T, b []string) {
		a := layerCache(t, b[0], "a", untagged(grid(1, 0, 0, 1, 1)))
		c := layerCache(t, b[1], "b", untagged(grid(2, 4800, 6200, 1, 7), grid(3, 4600, 6200, 1, 1)))
		subqs := []Subquery{subq(a, 1<<1, 0, 0, 0.5), subq(c, 1<<0, 1, 14, 0.5)}

		groups := run(t, subqs, Options{Center: &Center{Zoom: 14, X: 4601, Y: 6200}})
		require.Len(t, groups, 2)
		assert.Equal(t, uint32(3), groups[0].Features[0].ID)
		assert.Equal(t, uint32(2), groups[1].Features[0].ID)
		assert.Less(t, groups[0].Features[0].Distance, groups[1].Features[0].Distance)

		groups = run(t, subqs, Options{Center: &Center{Zoom: 14, X: 4610, Y: 6200}})
		require.Len(t, groups, 2)
		assert.Equal(t, uint32(2), groups[0].Features[0].ID)
		assert.Equal(t, uint32(3), groups[1].Features[0].ID)
		assert.Less(t, groups[1].Features[0].Distance, groups[0].Features[0].Distance)
	})
}

func TestCoalesceFinalizeLimits(t *testing.T) {
	grids := make([]codec.Grid, 0, 60)
	for i := uint32(1); i <= 50; i++ {
		grids = append(grids, grid(i, i, i, 1, 1))
	}
	for i := uint32(51); i <= 60; i++ {
		grids = append(grids, grid(i, i, i, 0.6, 1))
	}
	c := layerCache(t, "memory", "a", untagged(grids...))

	groups := run(t, []Subquery{subq(c, 1, 0, 14, 1)}, Options{})
	assert.Len(t, groups, 40)

	e := New(config.CoalesceConfig{MaxGroups: 100}, shard.Fixed(0), nil)
	groups, err := e.Coalesce(context.Background(), []Subquery{subq(c, 1, 0, 14, 1)}, Options{})
	require.NoError(t, err)
	// 0.6 sits 0.4 below the best group.
	assert.Len(t, groups, 50)
}

func TestCoalescePerSubqueryCap(t *testing.T) {
	c := layerCache(t, "memory", "a", untagged(
		grid(1, 1, 1, 0.4, 1),
		grid(2, 2, 2, 1, 1),
		grid(3, 3, 3, 1, 7),
	))
	e := New(config.CoalesceConfig{MaxCoversPerSubquery: 2}, shard.Fixed(0), nil)
	groups, err := e.Coalesce(context.Background(), []Subquery{subq(c, 1, 0, 2, 1)}, Options{})
	require.NoError(t, err)
	assert.Equal(t, [][]uint32{{3}, {2}}, ids(groups))

	sq := subq(c, 1, 0, 2, 1)
	sq.ExtendedScan = true
	e = New(config.CoalesceConfig{MaxCoversPerSubquery: 2, RelevCutoff: 1}, shard.Fixed(0), nil)
	groups, err = e.Coalesce(context.Background(), []Subquery{sq}, Options{})
	require.NoError(t, err)
	assert.Equal(t, [][]uint32{{3}, {2}, {1}}, ids(groups))
}

func TestCoalescePrefixScansEveryShard(t *testing.T) {
	fn := shard.Farmhash(8)
	c := cache.NewMemory("a")
	for id, key := range map[uint32]string{1: "main st", 2: "main ave", 3: "maine", 4: "mill rd"} {
		v := codec.MustEncodeGrid(grid(id, id, id, 1, 1))
		require.NoError(t, c.Set(cache.TypeGrid, fn(key), key, []uint64{v}, cache.AllLanguages))
	}
	e := New(config.CoalesceConfig{}, fn, nil)

	sq := Subquery{Cache: c, Mask: 1, Zoom: 14, Weight: 1, Phrase: "main", Prefix: cache.PrefixExtend}
	groups, err := e.Coalesce(context.Background(), []Subquery{sq}, Options{})
	require.NoError(t, err)
	assert.Equal(t, [][]uint32{{1}, {2}, {3}}, ids(groups))

	sq.Phrase, sq.Prefix = "main st", cache.PrefixDisabled
	groups, err = e.Coalesce(context.Background(), []Subquery{sq}, Options{})
	require.NoError(t, err)
	assert.Equal(t, [][]uint32{{1}}, ids(groups))
}

func TestCoalesceEmpty(t *testing.T) {
	c := layerCache(t, "memory", "a")
	groups := run(t, []Subquery{subq(c, 1, 0, 2, 1)}, Options{})
	assert.NotNil(t, groups)
	assert.Empty(t, groups)
}

func TestValidate(t *testing.T) {
	c := cache.NewMemory("a")
	valid := subq(c, 1, 0, 2, 1)
	mutate := func(fn func(*Subquery)) []Subquery {
		sq := valid
		fn(&sq)
		return []Subquery{sq}
	}

	for _, tc := range []struct {
		name  string
		subqs []Subquery
		opts  Options
		msg   string
	}{
		{"empty", nil, Options{}, "one or more"},
		{"cache", mutate(func(sq *Subquery) { sq.Cache = nil }), Options{}, "cache value must be a Cache object"},
		{"mask", mutate(func(sq *Subquery) { sq.Mask = 0 }), Options{}, "mask value"},
		{"idx", mutate(func(sq *Subquery) { sq.Idx = 128 }), Options{}, "encountered idx value too large to fit"},
		{"zoom", mutate(func(sq *Subquery) { sq.Zoom = 15 }), Options{}, "encountered zoom value too large to fit"},
		{"weight", mutate(func(sq *Subquery) { sq.Weight = -1 }), Options{}, "weight value"},
		{"phrase", mutate(func(sq *Subquery) { sq.Phrase = "" }), Options{}, "encountered invalid phrase"},
		{"prefix", mutate(func(sq *Subquery) { sq.Prefix = 3 }), Options{}, "prefix value must be an integer between 0 - 2"},
		{"radius", []Subquery{valid}, Options{Radius: 5e9}, "encountered radius too large to fit"},
		{"bbox", []Subquery{valid}, Options{BBox: &BBox{Zoom: 20}}, "bboxzxy zoom"},
		{"bbox order", []Subquery{valid}, Options{BBox: &BBox{MinX: 2, MaxX: 1}}, "bboxzxy minimum"},
		{"center", []Subquery{valid}, Options{Center: &Center{Zoom: 20}}, "centerzxy zoom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newEngine().Coalesce(context.Background(), tc.subqs, tc.opts)
			require.ErrorIs(t, err, apperrors.ErrInvalidArgument)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestCoalesceAsync(t *testing.T) {
	c := layerCache(t, "memory", "a", untagged(grid(1, 1, 1, 1, 7)))
	e := newEngine()

	err := e.CoalesceAsync(context.Background(), []Subquery{subq(c, 0, 0, 2, 1)}, Options{}, func([]Group, error) {
		t.Error("callback must not run for invalid input")
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	done := make(chan []Group, 2)
	err = e.CoalesceAsync(context.Background(), []Subquery{subq(c, 1, 0, 2, 1)}, Options{}, func(groups []Group, err error) {
		assert.NoError(t, err)
		done <- groups
	})
	require.NoError(t, err)
	select {
	case groups := <-done:
		assert.Equal(t, [][]uint32{{1}}, ids(groups))
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
	}
	assert.Empty(t, done)
}
