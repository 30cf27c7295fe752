package coalesce

import (
	"cmp"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
)

// compareFeatures orders records best first: relev, scoredist and score
// descending, then idx descending, then id, x and y ascending.
func compareFeatures(a, b Feature) int {
	if c := cmp.Compare(b.Relev, a.Relev); c != 0 {
		return c
	}
	return compareLead(a, b)
}

// compareLead breaks ties between equally relevant records.
func compareLead(a, b Feature) int {
	if c := cmp.Compare(b.ScoreDist, a.ScoreDist); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Idx, a.Idx); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ID, b.ID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.X, b.X); c != 0 {
		return c
	}
	return cmp.Compare(a.Y, b.Y)
}

func compareGroups(a, b Group) int {
	if c := cmp.Compare(b.Relev, a.Relev); c != 0 {
		return c
	}
	return compareLead(a.Features[0], b.Features[0])
}

// rank turns joined groups into results. Groups covering every query
// position win outright; only when none does are partial groups ranked.
func (e *Engine) rank(joined []*group, target uint64) []Group {
	complete := 0
	for _, g := range joined {
		if g.mask == target {
			complete++
		}
	}

	groups := make([]Group, 0, len(joined))
	for _, g := range joined {
		if complete > 0 && g.mask != target {
			continue
		}
		members := slices.Clone(g.members)
		slices.SortStableFunc(members, func(a, b Feature) int { return cmp.Compare(b.Idx, a.Idx) })
		var relev float64
		for _, m := range members {
			relev += m.Relev
		}
		groups = append(groups, Group{Relev: relev, Features: members})
	}
	slices.SortStableFunc(groups, compareGroups)
	return e.finalize(groups)
}

// finalize keeps each lead feature once, stops at maxGroups and drops
// everything relevCutoff or more below the best group.
func (e *Engine) finalize(groups []Group) []Group {
	if len(groups) == 0 {
		return []Group{}
	}
	relevMax := groups[0].Relev
	seen := roaring.New()
	out := make([]Group, 0, min(len(groups), e.maxGroups))
	for _, g := range groups {
		if len(out) >= e.maxGroups || relevMax-g.Relev >= e.relevCutoff {
			break
		}
		if !seen.CheckedAdd(uint32(g.Features[0].TmpID)) {
			continue
		}
		out = append(out, g)
	}
	return out
}
