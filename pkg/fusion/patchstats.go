package fusion

import (
	"math"

	"github.com/arjunrao/atlasfuse/pkg/volume"
)

// minSigma is the clamp floor for patch standard deviation (spec §4.2):
// low-contrast patches are not an error, they're clamped to keep the
// engine total.
const minSigma = 1e-6

// PatchStats holds the running mean/standard deviation of a patch sampled
// via an offset table (spec §4.2).
type PatchStats struct {
	Mean float64
	Std  float64
}

// ComputePatchStats computes mu and sigma over the N samples addressed by
// offsets from centerIdx in img, clamping sigma per spec §4.2. Grounded on
// internal/quantization/scalar.go's single-pass accumulate-then-derive
// shape in the teacher repo.
func ComputePatchStats(img *volume.Image3D, centerIdx int, offsets []int) PatchStats {
	n := len(offsets)
	var sum, sumSq float64
	for _, off := range offsets {
		v := img.AtIndex(centerIdx + off)
		sum += v
		sumSq += v * v
	}
	mean := sum / float64(n)
	variance := (sumSq - float64(n)*mean*mean) / float64(n-1)
	sigma := math.Sqrt(variance)
	if math.IsNaN(sigma) || sigma < minSigma {
		sigma = minSigma
	}
	return PatchStats{Mean: mean, Std: sigma}
}

// NormalizePatch fills dst (len == len(offsets)) with (T(center+delta) -
// mean)/std for each offset, the z-normalized target patch u that
// PatchMatcher and WeightSolver consume (spec §4.7 step 1).
func NormalizePatch(dst []float64, img *volume.Image3D, centerIdx int, offsets []int, stats PatchStats) {
	for i, off := range offsets {
		dst[i] = (img.AtIndex(centerIdx+off) - stats.Mean) / stats.Std
	}
}
