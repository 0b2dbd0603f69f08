package fusion

import "github.com/arjunrao/atlasfuse/pkg/volume"

// PosteriorAccumulator holds one volumetric buffer per discrete label
// (spec §3 "PosteriorMap"), indexed by LabelSet's compact id. Each
// voxel-atlas vote adds weight into every patch offset centered at the
// current target voxel (Wang's neighborhood voting, spec §4.6): a voxel
// receives contributions from patches centered on up to N different
// target voxels, so writes at y = x + delta are scattered, not confined to
// x itself.
type PosteriorAccumulator struct {
	Labels  LabelSet
	buffers []*volume.Image3D // one per compact label id
}

// NewPosteriorAccumulator allocates one zero-filled buffer per label on
// grid g.
func NewPosteriorAccumulator(labels LabelSet, g volume.Grid) *PosteriorAccumulator {
	buffers := make([]*volume.Image3D, labels.Len())
	for i := range buffers {
		buffers[i] = volume.NewImage3D(g)
	}
	return &PosteriorAccumulator{Labels: labels, buffers: buffers}
}

// Buffer returns the accumulator buffer for a compact label id.
func (p *PosteriorAccumulator) Buffer(labelID int) *volume.Image3D {
	return p.buffers[labelID]
}

// Add accumulates weight w into the buffer for labelValue at voxel idx,
// atomically (spec §5: concurrent target voxels may vote into the same
// posterior voxel). A label value absent from the discovered LabelSet is
// silently ignored: it cannot occur given spec §3's invariant that the set
// is the union of all atlas label images, but defending against it here
// keeps Vote total rather than panicking mid-loop on a caller that skipped
// discovery.
func (p *PosteriorAccumulator) Add(labelValue int, idx int, w float64) {
	id, ok := p.Labels.IDOf(labelValue)
	if !ok {
		return
	}
	atomicAddFloat64(p.buffers[id].Data, idx, w)
}

// Vote implements PosteriorAccumulator (spec §4.6) for one target voxel x
// with flat index centerIdx: for each of the N patch offsets, compute
// neighbor y = x + delta, and if regionValid(y) reports that y lies in the
// region being processed, add each atlas's weight to the label it voted
// for at y.
func (p *PosteriorAccumulator) Vote(
	centerIdx int,
	patchOffsets volume.OffsetTable,
	atlasLabels []*volume.Image3D,
	bestCenters []int,
	weights []float64,
	regionValid func(idx int) bool,
) {
	for _, delta := range patchOffsets.Offsets {
		y := centerIdx + delta
		if !regionValid(y) {
			continue
		}
		for i, labelImg := range atlasLabels {
			l := int(labelImg.AtIndex(bestCenters[i] + delta))
			p.Add(l, y, weights[i])
		}
	}
}

// Argmax selects, for voxel idx, the label with maximum posterior weight
// subject to excl vetoing candidates (spec §4.7's final pass). Ties break
// to the first label in LabelSet's ascending order. If every label is
// excluded, it returns 0.
func (p *PosteriorAccumulator) Argmax(idx int, excl *ExclusionMap) int {
	bestLabel := 0
	bestVal := 0.0
	found := false
	for id, label := range p.Labels.Values {
		if excl != nil && excl.Excluded(label, idx) {
			continue
		}
		v := p.buffers[id].AtIndex(idx)
		if !found || v > bestVal {
			bestVal = v
			bestLabel = label
			found = true
		}
	}
	if !found {
		return 0
	}
	return bestLabel
}
