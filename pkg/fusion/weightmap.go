package fusion

import "github.com/arjunrao/atlasfuse/pkg/volume"

// WeightMapSink writes optional per-atlas spatial weight maps for
// diagnostics (spec §4.8). It has no effect on Output; a nil sink is a
// valid no-op (GenerateWeightMaps=false in Config).
type WeightMapSink struct {
	maps []*volume.Image3D // one per atlas
}

// NewWeightMapSink allocates one zero-filled buffer per atlas on grid g.
func NewWeightMapSink(numAtlases int, g volume.Grid) *WeightMapSink {
	maps := make([]*volume.Image3D, numAtlases)
	for i := range maps {
		maps[i] = volume.NewImage3D(g)
	}
	return &WeightMapSink{maps: maps}
}

// Record writes W_i(x) = weights[i] for every atlas i at voxel idx (spec
// §4.7 step 4). A nil sink is a safe no-op so callers need not branch on
// GenerateWeightMaps before calling it.
func (s *WeightMapSink) Record(idx int, weights []float64) {
	if s == nil {
		return
	}
	for i, w := range weights {
		s.maps[i].SetIndex(idx, w)
	}
}

// Maps returns the per-atlas weight buffers, or nil if diagnostics were
// disabled.
func (s *WeightMapSink) Maps() []*volume.Image3D {
	if s == nil {
		return nil
	}
	return s.maps
}

// EstimateWeightMapBytes returns the byte footprint of allocating one
// weight map per atlas on grid g, used by the Driver's memory-budget
// pre-check (spec §5).
func EstimateWeightMapBytes(numAtlases int, g volume.Grid) int64 {
	return int64(numAtlases) * int64(g.Len()) * 8
}
