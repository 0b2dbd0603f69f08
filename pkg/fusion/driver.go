package fusion

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arjunrao/atlasfuse/pkg/observability"
	"github.com/arjunrao/atlasfuse/pkg/volume"
)

// Result is everything a fusion run produces (spec §3 "Output",
// "PosteriorMap", "Mask", "WeightMap").
type Result struct {
	Output       *volume.Image3D
	Labels       LabelSet
	Posterior    *PosteriorAccumulator // nil unless Config.RetainPosteriors
	WeightMaps   []*volume.Image3D     // nil unless Config.GenerateWeightMaps
	Histogram    []uint64              // index = Manhattan distance of winning search candidate
	SVDFallback  int64                 // count of voxels where the Cholesky path was rejected
	VoxelsFused  int64                 // count of voxels the main loop actually processed
	VoxelsUnique int64                 // count of voxels resolved by UniqueLabelMask alone
}

// Driver orchestrates a complete fusion run: label discovery, buffer
// allocation, the UniqueLabelMask pre-pass, the parallel per-voxel main
// loop, and the final argmax pass (spec §4).
type Driver struct {
	cfg Config

	target           *volume.Image3D
	atlasIntensities []*volume.Image3D
	atlasLabels      []*volume.Image3D
	exclusion        *ExclusionMap
}

// NewDriver wraps the inputs for a single Run. Inputs are not copied;
// callers must not mutate them while Run is in flight.
func NewDriver(
	cfg Config,
	target *volume.Image3D,
	atlasIntensities []*volume.Image3D,
	atlasLabels []*volume.Image3D,
	exclusion *ExclusionMap,
) *Driver {
	return &Driver{
		cfg:              cfg,
		target:           target,
		atlasIntensities: atlasIntensities,
		atlasLabels:      atlasLabels,
		exclusion:        exclusion,
	}
}

// Run executes the full pipeline (spec §4.2 through §4.9). ctx is checked
// between voxels (spec §6: "context-based cancellation checked between,
// not within, voxel computations"); a cancelled context yields a
// *fusion.Error of kind Cancelled.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	runStart := time.Now()
	observability.Info("fusion run started", map[string]interface{}{
		"num_atlases": len(d.atlasIntensities),
		"grid":        d.target.Grid,
	})

	result, err := d.run(ctx)

	duration := time.Since(runStart)
	if err != nil {
		observability.Warnf("fusion run failed after %s: %v", duration, err)
		return nil, err
	}
	observability.Info("fusion run finished", map[string]interface{}{
		"duration":      duration,
		"voxels_fused":  result.VoxelsFused,
		"voxels_unique": result.VoxelsUnique,
		"svd_fallback":  result.SVDFallback,
	})
	return result, nil
}

// run is Run's body, split out so Run itself stays a thin start/finish
// logging wrapper mirroring the teacher's LogOperation shape.
func (d *Driver) run(ctx context.Context) (*Result, error) {
	engine, err := NewEngine(d.cfg, d.target, d.atlasIntensities, d.atlasLabels, d.exclusion)
	if err != nil {
		return nil, err
	}

	grid := d.target.Grid
	labels := DiscoverLabels(d.atlasLabels)

	estimatedBytes := estimateRunBytes(d.cfg, grid, labels.Len(), len(d.atlasIntensities))
	if d.cfg.MemoryBudgetBytes > 0 && estimatedBytes > d.cfg.MemoryBudgetBytes {
		return nil, newResourceError("estimated run footprint %d bytes exceeds budget %d bytes",
			estimatedBytes, d.cfg.MemoryBudgetBytes)
	}

	output := volume.NewImage3D(grid)
	mask := NewMask(grid.Len())
	posterior := NewPosteriorAccumulator(labels, grid)

	var weightSink *WeightMapSink
	if d.cfg.GenerateWeightMaps {
		weightSink = NewWeightMapSink(len(d.atlasIntensities), grid)
	}

	loX, hiX, loY, hiY, loZ, hiZ := engine.SafeBounds()
	interior := collectInteriorIndices(grid, loX, hiX, loY, hiY, loZ, hiZ)

	var voxelsUnique int64
	if d.cfg.UseUniqueMask {
		before := countNeedsFusion(mask, interior)
		safe := func(idx int) bool { return true } // interior already guarantees full search safety
		ApplyUniqueMask(output, mask, d.atlasLabels, engine.searchOffsets, safe, interior)
		// A unique label that is excluded at its voxel goes back to the
		// fusion path so the exclusion-aware argmax decides its output.
		for _, idx := range interior {
			if !mask.NeedsFusion(idx) && d.exclusion.Excluded(int(output.AtIndex(idx)), idx) {
				mask.Data[idx] = 1
			}
		}
		after := countNeedsFusion(mask, interior)
		voxelsUnique = int64(before - after)
	}

	toFuse := make([]int, 0, len(interior))
	for _, idx := range interior {
		if mask.NeedsFusion(idx) {
			toFuse = append(toFuse, idx)
		}
	}

	histLen := engine.searchOffsets.MaxManhattan() + 1
	histogram := make([]uint64, histLen)
	var svdFallbackCount int64

	if err := runWorkerPool(ctx, d.cfg.NumWorkers, engine, toFuse, posterior, weightSink, histogram, &svdFallbackCount); err != nil {
		return nil, err
	}

	// Per-worker histograms have just been merged into histogram above;
	// replay the merged counts into the Manhattan-distance metric here.
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.RecordManhattanHistogram(histogram)
	}

	for _, idx := range toFuse {
		output.SetIndex(idx, float64(posterior.Argmax(idx, d.exclusion)))
	}

	result := &Result{
		Output:       output,
		Labels:       labels,
		Histogram:    histogram,
		SVDFallback:  atomic.LoadInt64(&svdFallbackCount),
		VoxelsFused:  int64(len(toFuse)),
		VoxelsUnique: voxelsUnique,
	}
	if d.cfg.RetainPosteriors {
		result.Posterior = posterior
	}
	if weightSink != nil {
		result.WeightMaps = weightSink.Maps()
	}
	return result, nil
}

func collectInteriorIndices(g volume.Grid, loX, hiX, loY, hiY, loZ, hiZ int) []int {
	if hiX < loX || hiY < loY || hiZ < loZ {
		return nil
	}
	indices := make([]int, 0, (hiX-loX+1)*(hiY-loY+1)*(hiZ-loZ+1))
	for z := loZ; z <= hiZ; z++ {
		for y := loY; y <= hiY; y++ {
			for x := loX; x <= hiX; x++ {
				indices = append(indices, g.Index(x, y, z))
			}
		}
	}
	return indices
}

func countNeedsFusion(mask *Mask, indices []int) int {
	n := 0
	for _, idx := range indices {
		if mask.NeedsFusion(idx) {
			n++
		}
	}
	return n
}

// estimateRunBytes sums the major buffer allocations a run will make
// (output, posterior per-label buffers, optional weight maps) against
// Config.MemoryBudgetBytes (spec §5's resource pre-check).
func estimateRunBytes(cfg Config, g volume.Grid, numLabels, numAtlases int) int64 {
	voxelBytes := int64(g.Len()) * 8
	total := voxelBytes                     // output
	total += int64(numLabels) * voxelBytes  // posterior buffers
	if cfg.GenerateWeightMaps {
		total += EstimateWeightMapBytes(numAtlases, g)
	}
	return total
}

// runWorkerPool adapts the fixed-worker, buffered-channel shape used
// elsewhere in this codebase for batch operations to the per-voxel fusion
// loop: each worker owns a private workerScratch (so no per-voxel
// allocation happens across goroutines) and merges its local histogram
// into the shared one only after finishing, since the merge itself is not
// on the hot path.
func runWorkerPool(
	ctx context.Context,
	numWorkers int,
	engine *Engine,
	voxelIndices []int,
	posterior *PosteriorAccumulator,
	weightSink *WeightMapSink,
	histogram []uint64,
	svdFallbackCount *int64,
) error {
	if len(voxelIndices) == 0 {
		return nil
	}
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if numWorkers > len(voxelIndices) {
		numWorkers = len(voxelIndices)
	}

	jobs := make(chan int, len(voxelIndices))
	var wg sync.WaitGroup
	var firstErr atomic.Value // stores error
	var histMu sync.Mutex

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sc := newWorkerScratch(engine, len(histogram))
			var localFallback int64

			for idx := range jobs {
				select {
				case <-ctx.Done():
					firstErr.CompareAndSwap(nil, &Error{Kind: Cancelled, VoxelIndex: -1, Err: ctx.Err()})
					return
				default:
				}

				outcome, err := engine.FuseVoxel(idx, posterior, weightSink, sc)
				if err != nil {
					firstErr.CompareAndSwap(nil, err)
					return
				}
				if outcome.fellBackToSVD {
					localFallback++
				}
			}

			atomic.AddInt64(svdFallbackCount, localFallback)
			histMu.Lock()
			for i, c := range sc.histogram {
				histogram[i] += c
			}
			histMu.Unlock()
		}()
	}

	for _, idx := range voxelIndices {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	if v := firstErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}
