package fusion

import "github.com/arjunrao/atlasfuse/pkg/volume"

// Mask is the auxiliary 0/1 image marking voxels that require the costly
// main loop (spec §3 "Mask"): 1 means fusion is needed, 0 means
// UniqueLabelMask already wrote the final output for that voxel.
type Mask struct {
	Data []float64
}

// NewMask allocates a mask defaulting every voxel to "needs fusion" (1),
// matching the interior region that UniqueMask will subsequently narrow.
func NewMask(n int) *Mask {
	m := &Mask{Data: make([]float64, n)}
	for i := range m.Data {
		m.Data[i] = 1
	}
	return m
}

func (m *Mask) NeedsFusion(idx int) bool {
	return m.Data[idx] != 0
}

// ApplyUniqueMask implements UniqueLabelMask (spec §4.4): for every voxel
// in voxelIndices whose full search neighborhood is safe, inspect every
// atlas label image across searchOffsets; if every sample agrees on a
// single label value, write it directly to output and clear the mask bit,
// otherwise leave the mask bit set (1, "needs fusion").
//
// Voxels outside the safe interior are conservatively treated as
// non-unique per spec §4.4's edge policy, since their search neighborhood
// may run off an atlas' buffered region.
func ApplyUniqueMask(
	output *volume.Image3D,
	mask *Mask,
	atlasLabels []*volume.Image3D,
	searchOffsets volume.OffsetTable,
	safe func(idx int) bool,
	voxelIndices []int,
) {
	for _, idx := range voxelIndices {
		if !safe(idx) {
			continue
		}
		unanimous, label := uniqueAcrossAtlases(atlasLabels, idx, searchOffsets)
		if unanimous {
			output.SetIndex(idx, float64(label))
			mask.Data[idx] = 0
		}
	}
}

func uniqueAcrossAtlases(atlasLabels []*volume.Image3D, centerIdx int, searchOffsets volume.OffsetTable) (bool, int) {
	first := true
	var label float64
	for _, img := range atlasLabels {
		for _, off := range searchOffsets.Offsets {
			v := img.AtIndex(centerIdx + off)
			if first {
				label = v
				first = false
				continue
			}
			if v != label {
				return false, 0
			}
		}
	}
	return !first, int(label)
}
