// Package intervalmap maps non-overlapping half-open intervals to values.
//
// Inserting or erasing over an existing range splits every overlapping
// extent with the Splitter supplied to New. Later inserts always replace
// earlier ones on overlap, which is why an interval library built around
// commutative merging cannot be used here.
//
// Example:
//
//	m := intervalmap.New(func(off, n uint64, v []byte) []byte {
//		return v[off : off+n]
//	})
//	m.Insert(0, 5, []byte("aaaaa"))
//	m.Insert(3, 4, []byte("bbbb"))
//	// extents: [0,3) "aaa", [3,7) "bbbb"
//
// A Map is not safe for concurrent use.
package intervalmap

import (
	"github.com/google/btree"
)

// degree of the backing B-tree. Buffer maps rarely hold more than a few
// dozen extents, so a small node size keeps splits cheap.
const degree = 8

// Key is the set of integer types an interval offset may use.
type Key interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Splitter returns the value covering [off, off+n) of v, where off is
// relative to the start of the extent v was stored for.
type Splitter[K Key, V any] func(off, n K, v V) V

// Extent is one stored interval.
type Extent[K Key, V any] struct {
	Off K
	Len K
	Val V
}

// End returns the exclusive end of the extent.
func (e Extent[K, V]) End() K {
	return end(e.Off, e.Len)
}

// Map is an ordered set of non-overlapping extents.
type Map[K Key, V any] struct {
	split Splitter[K, V]
	tree  *btree.BTreeG[Extent[K, V]]
}

// New creates an empty Map that uses split to truncate extents.
func New[K Key, V any](split Splitter[K, V]) *Map[K, V] { // A
	if split == nil {
		panic("intervalmap: nil splitter")
	}
	return &Map[K, V]{
		split: split,
		tree: btree.NewG(degree, func(a, b Extent[K, V]) bool {
			return a.Off < b.Off
		}),
	}
}

// end computes off+n, saturating at the maximum key so that ranges written
// as (off, max-off) or larger never wrap around.
func end[K Key](off, n K) K {
	e := off + n
	if e < off {
		return ^K(0)
	}
	return e
}

// clampLen cuts n so that [off, off+n) ends at the maximum key at most.
// Stored lengths always agree with End.
func clampLen[K Key](off, n K) K {
	if limit := ^K(0) - off; n > limit {
		return limit
	}
	return n
}

// affected returns the extents intersecting [off, off+n) in ascending
// order. The first candidate is the closest extent starting at or before
// off, kept only if it reaches past off; the walk then stops at the first
// extent starting at or after off+n.
func (m *Map[K, V]) affected(off, n K) []Extent[K, V] {
	last := end(off, n)
	var out []Extent[K, V]

	m.tree.DescendLessOrEqual(Extent[K, V]{Off: off}, func(e Extent[K, V]) bool {
		if e.Off == off {
			// picked up by the ascending walk below
			return true
		}
		if e.End() > off && e.Off < last {
			out = append(out, e)
		}
		return false
	})

	m.tree.AscendRange(
		Extent[K, V]{Off: off},
		Extent[K, V]{Off: last},
		func(e Extent[K, V]) bool {
			out = append(out, e)
			return true
		},
	)
	return out
}

// Erase removes [off, off+n) from the map. Extents that straddle either
// boundary are replaced by their remainders outside the erased range.
func (m *Map[K, V]) Erase(off, n K) {
	n = clampLen(off, n)
	if n == 0 {
		return
	}
	last := off + n

	hit := m.affected(off, n)
	remainders := make([]Extent[K, V], 0, 2)
	for _, e := range hit {
		if e.Off < off {
			l := off - e.Off
			remainders = append(remainders, Extent[K, V]{
				Off: e.Off,
				Len: l,
				Val: m.split(0, l, e.Val),
			})
		}
		if last < e.End() {
			l := e.End() - last
			remainders = append(remainders, Extent[K, V]{
				Off: last,
				Len: l,
				Val: m.split(e.Len-l, l, e.Val),
			})
		}
	}

	for _, e := range hit {
		m.tree.Delete(e)
	}
	for _, e := range remainders {
		m.tree.ReplaceOrInsert(e)
	}
}

// Insert stores v over [off, off+n), replacing whatever covered that range.
func (m *Map[K, V]) Insert(off, n K, v V) {
	n = clampLen(off, n)
	if n == 0 {
		return
	}
	m.Erase(off, n)
	m.tree.ReplaceOrInsert(Extent[K, V]{Off: off, Len: n, Val: v})
}

// ContainingRange returns the extents intersecting [off, off+n) in
// ascending order. The map is not modified.
func (m *Map[K, V]) ContainingRange(off, n K) []Extent[K, V] {
	return m.affected(off, n)
}

// Ascend calls fn for every extent in ascending order until fn returns
// false.
func (m *Map[K, V]) Ascend(fn func(Extent[K, V]) bool) {
	m.tree.Ascend(btree.ItemIteratorG[Extent[K, V]](fn))
}

// Extents returns all extents in ascending order.
func (m *Map[K, V]) Extents() []Extent[K, V] {
	out := make([]Extent[K, V], 0, m.tree.Len())
	m.Ascend(func(e Extent[K, V]) bool {
		out = append(out, e)
		return true
	})
	return out
}

// ExtCount returns the number of stored extents.
func (m *Map[K, V]) ExtCount() int {
	return m.tree.Len()
}

// Empty reports whether the map holds no extents.
func (m *Map[K, V]) Empty() bool {
	return m.tree.Len() == 0
}

// Clear drops every extent.
func (m *Map[K, V]) Clear() {
	m.tree.Clear(false)
}
