package coalesce

import (
	"cmp"
	"slices"
)

// cell addresses one tile of one zoom.
type cell struct {
	zoom, x, y uint32
}

// idxSet tracks which layers a group already draws from.
type idxSet [2]uint64

func newIdxSet(idx uint32) idxSet {
	var s idxSet
	s.add(idx)
	return s
}

func (s *idxSet) add(idx uint32) { s[idx/64] |= 1 << (idx % 64) }

func (s *idxSet) remove(idx uint32) { s[idx/64] &^= 1 << (idx % 64) }

func (s idxSet) has(idx uint32) bool { return s[idx/64]&(1<<(idx%64)) != 0 }

// group is a partial or complete join under construction.
type group struct {
	members []Feature
	mask    uint64
	relev   float64
	idx     idxSet
}

func newGroup(f Feature) *group {
	return &group{
		members: []Feature{f},
		mask:    f.mask,
		relev:   f.Relev,
		idx:     newIdxSet(f.Idx),
	}
}

func (g *group) last() *Feature { return &g.members[len(g.members)-1] }

// absorb adds the members of a stored group that fit. A member carrying the
// same mask as the one taken just before it, with a higher relev, replaces
// it.
func (g *group) absorb(parent *group, lastMask *uint64, lastRelev *float64) {
	for _, m := range parent.members {
		switch {
		case m.mask == *lastMask && m.Relev > *lastRelev && (m.Idx == g.last().Idx || !g.idx.has(m.Idx)):
			prev := g.last()
			g.relev += m.Relev - prev.Relev
			g.idx.remove(prev.Idx)
			g.idx.add(m.Idx)
			*prev = m
		case g.mask&m.mask == 0 && !g.idx.has(m.Idx):
			g.members = append(g.members, m)
			g.relev += m.Relev
			g.mask |= m.mask
			g.idx.add(m.Idx)
		default:
			continue
		}
		*lastMask, *lastRelev = m.mask, m.Relev
	}
}

// join stacks every record onto the groups already stored beneath it.
// Layers are visited coarse to fine; a record looks for containers at each
// lower or equal zoom used by another layer, and the group it forms is
// stored under its own tile for finer layers to build on.
func join(layers []layer) []*group {
	order := slices.Clone(layers)
	slices.SortStableFunc(order, func(a, b layer) int {
		if c := cmp.Compare(a.sq.Zoom, b.sq.Zoom); c != 0 {
			return c
		}
		return cmp.Compare(a.sq.Idx, b.sq.Idx)
	})

	var (
		stored = make(map[cell][]*group)
		all    []*group
	)
	for _, l := range order {
		zooms := parentZooms(order, l.sq)
		for _, f := range l.features {
			g := newGroup(f)
			for _, pz := range zooms {
				d := f.zoom - pz
				parents := stored[cell{pz, f.X >> d, f.Y >> d}]
				var (
					lastMask  uint64
					lastRelev float64
				)
				for _, p := range parents {
					g.absorb(p, &lastMask, &lastRelev)
				}
			}
			key := cell{f.zoom, f.X, f.Y}
			stored[key] = append(stored[key], g)
			all = append(all, g)
		}
	}
	return all
}

// parentZooms lists, in visiting order, the distinct zooms no finer than
// sq's that belong to other layers.
func parentZooms(order []layer, sq Subquery) []uint32 {
	var zooms []uint32
	for _, l := range order {
		if l.sq.Idx == sq.Idx || l.sq.Zoom > sq.Zoom || slices.Contains(zooms, l.sq.Zoom) {
			continue
		}
		zooms = append(zooms, l.sq.Zoom)
	}
	return zooms
}
