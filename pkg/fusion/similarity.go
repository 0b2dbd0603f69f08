package fusion

// patchSums holds the sufficient statistics PatchMatcher computes for one
// candidate center: the raw cross term against the normalized target patch,
// and the candidate's own sum/sum-of-squares (spec §4.3). These are exactly
// what WeightSolver needs afterward to rebuild m-bar/sigma-bar without
// resampling the patch.
type patchSums struct {
	s     float64 // Σ u_i v_i
	sumV  float64 // Σ v_i
	sumV2 float64 // Σ v_i²
}

// unnormalizedVarFloor is the clamp on var_unnorm in the NCC-surrogate
// score (spec §4.3), preventing division by zero for constant candidate
// patches.
const unnormalizedVarFloor = 1e-6

// scoreCandidate computes spec §4.3's normalized-cross-correlation
// surrogate score for one candidate center, given the pre-normalized
// target patch u and the raw atlas samples v at the same patch offsets.
// Adapted from pkg/hnsw/distance.go's CosineSimilarity/
// SquaredEuclideanDistance: a single pass accumulating dot-product and
// second-moment sums, no third-party numeric library.
func scoreCandidate(u []float64, v []float64, penalizeAnticorrelation bool) (score float64, sums patchSums) {
	n := float64(len(u))
	var s, sumV, sumV2 float64
	for i, ui := range u {
		vi := v[i]
		s += ui * vi
		sumV += vi
		sumV2 += vi * vi
	}
	varUnnorm := sumV2 - sumV*sumV/n
	if varUnnorm < unnormalizedVarFloor {
		varUnnorm = unnormalizedVarFloor
	}

	ratio := (s * s) / varUnnorm
	if s > 0 {
		score = -ratio
	} else if penalizeAnticorrelation {
		score = ratio
	} else {
		score = -ratio
	}
	return score, patchSums{s: s, sumV: sumV, sumV2: sumV2}
}
