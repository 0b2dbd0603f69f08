package fusion

import (
	"sort"

	"github.com/arjunrao/atlasfuse/pkg/volume"
)

// LabelSet is the fixed, ordered set of label values discovered across all
// atlas label images (spec §3 "PosteriorMap": "created lazily at engine
// start by scanning all atlas label images for unique label values; keys
// are fixed thereafter"). It maps each label value to a compact, stable
// index 0..len(Values)-1, as spec §9 recommends ("a dense array indexed by
// compact label id is preferred for performance").
type LabelSet struct {
	Values []int
	index  map[int]int
}

// DiscoverLabels scans every atlas label image and returns the union of
// label values present, sorted ascending (spec §4.7's final argmax pass
// iterates "the label set... ordered by value" for deterministic
// tie-breaking).
func DiscoverLabels(atlasLabels []*volume.Image3D) LabelSet {
	seen := make(map[int]struct{})
	for _, img := range atlasLabels {
		for _, v := range img.Data {
			seen[int(v)] = struct{}{}
		}
	}
	values := make([]int, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Ints(values)

	idx := make(map[int]int, len(values))
	for i, v := range values {
		idx[v] = i
	}
	return LabelSet{Values: values, index: idx}
}

// Len returns the number of distinct labels.
func (ls LabelSet) Len() int {
	return len(ls.Values)
}

// IDOf returns the compact id for a label value and whether it was found.
func (ls LabelSet) IDOf(label int) (int, bool) {
	id, ok := ls.index[label]
	return id, ok
}
