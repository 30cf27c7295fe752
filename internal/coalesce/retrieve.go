package coalesce

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/codec"
)

// maxRetrievals bounds the lookups in flight for one call.
const maxRetrievals = 16

// layer is one subquery's filtered records, best first.
type layer struct {
	sq       Subquery
	features []Feature
}

// retrieve runs one lookup per subquery concurrently. Each result lands in
// its own slot so the join sees the subqueries in call order.
func (e *Engine) retrieve(ctx context.Context, subqs []Subquery, opts Options) ([]layer, error) {
	layers := make([]layer, len(subqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxRetrievals)
	for i, sq := range subqs {
		g.Go(func() error {
			features, err := e.lookup(gctx, sq, opts)
			if err != nil {
				return fmt.Errorf("subquery %d (idx %d, phrase %q): %w", i, sq.Idx, sq.Phrase, err)
			}
			layers[i] = layer{sq: sq, features: features}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return layers, nil
}

func (e *Engine) lookup(ctx context.Context, sq Subquery, opts Options) ([]Feature, error) {
	matches, err := e.find(ctx, sq)
	if err != nil {
		e.countLookup(sq.Cache, "error")
		return nil, err
	}
	if len(matches) == 0 {
		e.countLookup(sq.Cache, "empty")
		return nil, nil
	}
	e.countLookup(sq.Cache, "hit")

	radius := opts.Radius
	if radius == 0 {
		radius = e.radius
	}
	features := make([]Feature, 0, len(matches))
	best := make(map[uint32]int, len(matches))
	for _, m := range matches {
		grid, err := codec.DecodeGrid(m.Value)
		if err != nil {
			return nil, err
		}
		if opts.BBox != nil && !opts.BBox.contains(sq.Zoom, grid.X, grid.Y) {
			continue
		}
		f := Feature{
			ID:              grid.ID,
			Idx:             sq.Idx,
			TmpID:           codec.TmpID(grid.ID, sq.Idx),
			X:               grid.X,
			Y:               grid.Y,
			Relev:           grid.Relev * sq.Weight,
			Score:           grid.Score,
			ScoreDist:       float64(grid.Score),
			MatchesLanguage: m.MatchesLanguage,
			zoom:            sq.Zoom,
			mask:            sq.Mask,
		}
		if !f.MatchesLanguage {
			f.Relev *= e.languagePenalty
		}
		if c := opts.Center; c != nil {
			f.Distance = c.distance(sq.Zoom, f.X, f.Y)
			f.ScoreDist = e.scoreDist(c.Zoom, f.Distance, f.Score, radius)
		}

		// One record per feature: the most relevant, then the closest.
		if i, seen := best[f.ID]; seen {
			prev := features[i]
			if f.Relev > prev.Relev || (f.Relev == prev.Relev && f.ScoreDist > prev.ScoreDist) {
				features[i] = f
			}
			continue
		}
		best[f.ID] = len(features)
		features = append(features, f)
	}

	if !sq.ExtendedScan && e.maxCovers > 0 && len(features) > e.maxCovers {
		kept := slices.Clone(features)
		slices.SortStableFunc(kept, compareFeatures)
		kept = kept[:e.maxCovers]
		// Restore stored order among the survivors.
		keep := make(map[uint64]struct{}, len(kept))
		for _, f := range kept {
			keep[f.TmpID] = struct{}{}
		}
		features = slices.DeleteFunc(features, func(f Feature) bool {
			_, ok := keep[f.TmpID]
			return !ok
		})
	}
	return features, nil
}

// find reads the grid lists for the phrase. Exact lookups read the phrase's
// own shard; prefix scans visit every grid shard.
func (e *Engine) find(ctx context.Context, sq Subquery) ([]cache.Match, error) {
	langs := cache.AllLanguages
	if sq.Languages != nil {
		langs = *sq.Languages
	}
	q := cache.Query{Type: cache.TypeGrid, Key: sq.Phrase, Prefix: sq.Prefix, Languages: langs}
	if sq.Prefix == cache.PrefixDisabled {
		q.Shard = e.shardFn(sq.Phrase)
		return sq.Cache.Find(ctx, q)
	}

	shards := sq.Cache.Shards(cache.TypeGrid)
	if len(shards) == 1 {
		q.Shard = shards[0]
		return sq.Cache.Find(ctx, q)
	}
	merged := make(map[uint64]bool)
	for _, s := range shards {
		q.Shard = s
		matches, err := sq.Cache.Find(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			merged[m.Value] = merged[m.Value] || m.MatchesLanguage
		}
	}
	out := make([]cache.Match, 0, len(merged))
	for v, ok := range merged {
		out = append(out, cache.Match{Value: v, MatchesLanguage: ok})
	}
	slices.SortFunc(out, func(a, b cache.Match) int { return cmp.Compare(b.Value, a.Value) })
	return out, nil
}

func (e *Engine) countLookup(c cache.Cache, result string) {
	if e.metrics != nil {
		e.metrics.CacheLookupsTotal.WithLabelValues(c.Backend(), result).Inc()
	}
}
