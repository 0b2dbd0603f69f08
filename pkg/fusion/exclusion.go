package fusion

import "github.com/arjunrao/atlasfuse/pkg/volume"

// ExclusionMap is an optional per-label veto mask (spec §3/§4.7): a
// nonzero sample in the mask for label ℓ at voxel x forbids Output(x)=ℓ
// regardless of its posterior weight.
type ExclusionMap struct {
	masks map[int]*volume.Image3D
}

// NewExclusionMap wraps a caller-supplied label->mask mapping. masks may
// be nil or empty, in which case Excluded always returns false.
func NewExclusionMap(masks map[int]*volume.Image3D) *ExclusionMap {
	return &ExclusionMap{masks: masks}
}

// Validate checks every mask shares the target grid (spec §3: "values
// must share the target grid").
func (e *ExclusionMap) Validate(target volume.Grid) error {
	if e == nil {
		return nil
	}
	for label, mask := range e.masks {
		if !mask.Grid.SameGrid(target) {
			return newConfigError("exclusion mask for label %d has mismatched grid", label)
		}
	}
	return nil
}

// Excluded reports whether label is vetoed at flat index idx.
func (e *ExclusionMap) Excluded(label int, idx int) bool {
	if e == nil {
		return false
	}
	mask, ok := e.masks[label]
	if !ok {
		return false
	}
	return mask.AtIndex(idx) != 0
}
