package fusion

import (
	"time"

	"github.com/arjunrao/atlasfuse/pkg/volume"
)

// Engine holds everything needed to fuse a single voxel: the read-only
// inputs and offset tables (spec §4.7). It is safe for concurrent use by
// multiple workers as long as each worker uses its own workerScratch —
// Engine itself is never mutated after construction.
type Engine struct {
	cfg Config

	target           *volume.Image3D
	atlasIntensities []*volume.Image3D
	atlasLabels      []*volume.Image3D
	exclusion        *ExclusionMap

	patchOffsets  volume.OffsetTable
	searchOffsets volume.OffsetTable
	grid          volume.Grid
}

// NewEngine validates inputs (spec §6/§7 InvalidInput) and builds the
// offset tables (spec §4.1).
func NewEngine(
	cfg Config,
	target *volume.Image3D,
	atlasIntensities []*volume.Image3D,
	atlasLabels []*volume.Image3D,
	exclusion *ExclusionMap,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(atlasIntensities) == 0 {
		return nil, newConfigError("at least one atlas is required")
	}
	if len(atlasIntensities) != len(atlasLabels) {
		return nil, newConfigError("atlasIntensities (%d) and atlasLabels (%d) length mismatch",
			len(atlasIntensities), len(atlasLabels))
	}
	allImages := make([]*volume.Image3D, 0, 1+2*len(atlasIntensities))
	allImages = append(allImages, target)
	allImages = append(allImages, atlasIntensities...)
	allImages = append(allImages, atlasLabels...)
	if err := volume.ValidateGrids(allImages...); err != nil {
		return nil, newConfigError("grid mismatch among inputs: %v", err)
	}
	if err := exclusion.Validate(target.Grid); err != nil {
		return nil, err
	}

	strides := target.Grid.Strides()
	return &Engine{
		cfg:              cfg,
		target:           target,
		atlasIntensities: atlasIntensities,
		atlasLabels:      atlasLabels,
		exclusion:        exclusion,
		patchOffsets:     volume.NewPatchOffsets(strides, cfg.PatchRadius),
		searchOffsets:    volume.NewPatchOffsets(strides, cfg.SearchRadius),
		grid:             target.Grid,
	}, nil
}

// NumAtlases returns the number of configured atlas pairs.
func (e *Engine) NumAtlases() int {
	return len(e.atlasIntensities)
}

// PatchLen returns N, the number of samples per patch.
func (e *Engine) PatchLen() int {
	return e.patchOffsets.Len()
}

// SafeBounds returns the voxel range whose full combined
// patch+search neighborhood stays inside the grid (spec §4.4 edge
// policy: "widen input requested regions by searchRadius + patchRadius").
func (e *Engine) SafeBounds() (loX, hiX, loY, hiY, loZ, hiZ int) {
	combined := [3]int{
		e.cfg.PatchRadius[0] + e.cfg.SearchRadius[0],
		e.cfg.PatchRadius[1] + e.cfg.SearchRadius[1],
		e.cfg.PatchRadius[2] + e.cfg.SearchRadius[2],
	}
	return volume.SafeInterior(e.grid, combined)
}

// workerScratch holds one worker goroutine's reusable per-voxel buffers,
// so the hot loop (spec §1) allocates nothing beyond matrix-factorization
// internals.
type workerScratch struct {
	u           []float64   // z-normalized target patch
	v           []float64   // best-match candidate patch, recomputed for apd
	apds        [][]float64 // one per atlas
	bestCenters []int       // one per atlas
	weights     []float64   // one per atlas
	sc          *scratch
	solver      *WeightSolver
	histogram   []uint64
}

func newWorkerScratch(e *Engine, histLen int) *workerScratch {
	n := e.NumAtlases()
	patchLen := e.PatchLen()
	apds := make([][]float64, n)
	for i := range apds {
		apds[i] = make([]float64, patchLen)
	}
	return &workerScratch{
		u:           make([]float64, patchLen),
		v:           make([]float64, patchLen),
		apds:        apds,
		bestCenters: make([]int, n),
		weights:     make([]float64, n),
		sc:          newScratch(patchLen),
		solver:      NewWeightSolver(n, e.cfg.Alpha, e.cfg.Beta),
		histogram:   make([]uint64, histLen),
	}
}

// voxelOutcome is the per-voxel record the engine produces for the
// Driver's bookkeeping (histogram bucketing, fallback counting, output
// writing being deferred to the Driver since it also needs to run the
// argmax pass).
type voxelOutcome struct {
	fellBackToSVD bool
}

// FuseVoxel implements spec §4.7's per-voxel main loop body (steps 1-5),
// for the voxel at flat index centerIdx. It does not perform the final
// argmax; that happens once after every voxel in the region has voted
// (spec §4.7: "after the loop").
func (e *Engine) FuseVoxel(centerIdx int, posterior *PosteriorAccumulator, weightSink *WeightMapSink, sc *workerScratch) (voxelOutcome, error) {
	stats := ComputePatchStats(e.target, centerIdx, e.patchOffsets.Offsets)
	NormalizePatch(sc.u, e.target, centerIdx, e.patchOffsets.Offsets, stats)

	for i, atlasImg := range e.atlasIntensities {
		searchStart := time.Now()
		result := MatchPatch(atlasImg, centerIdx, sc.u, e.patchOffsets, e.searchOffsets, e.cfg.PenalizeAnticorrelation, sc.sc)
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.RecordPatchSearchDuration(time.Since(searchStart))
		}
		sc.bestCenters[i] = result.CenterIdx
		for m, off := range e.patchOffsets.Offsets {
			sc.v[m] = atlasImg.AtIndex(result.CenterIdx + off)
		}
		BuildApd(sc.apds[i], sc.u, sc.v, result.SumV, result.SumV2)
		if result.Manhattan >= 0 && result.Manhattan < len(sc.histogram) {
			sc.histogram[result.Manhattan]++
		}
	}

	w, fellBack, err := sc.solver.Solve(sc.apds, centerIdx)
	if err != nil {
		return voxelOutcome{}, err
	}
	copy(sc.weights, w)

	weightSink.Record(centerIdx, sc.weights)

	regionValid := func(idx int) bool { return idx >= 0 && idx < len(e.target.Data) }
	posterior.Vote(centerIdx, e.patchOffsets, e.atlasLabels, sc.bestCenters, sc.weights, regionValid)

	return voxelOutcome{fellBackToSVD: fellBack}, nil
}
