package fusion

import "github.com/arjunrao/atlasfuse/pkg/volume"

// MatchResult is what PatchMatcher returns for one atlas: the winning
// search offset's index into the search table, the resulting patch center
// as a flat index into the atlas intensity image, and the sufficient
// statistics of that candidate (spec §4.3).
type MatchResult struct {
	SearchOffsetIdx int
	CenterIdx       int
	SumV            float64
	SumV2           float64
	Manhattan       int // distance of the chosen offset from the search center
}

// scratch holds the per-worker reusable candidate buffer so the hot loop
// (spec §1: "runs once per voxel x per atlas x per search offset x per
// patch offset") makes no per-candidate allocations.
type scratch struct {
	candidate []float64
}

func newScratch(patchLen int) *scratch {
	return &scratch{candidate: make([]float64, patchLen)}
}

// MatchPatch implements PatchMatcher (spec §4.3): for each search offset,
// gather the candidate patch from atlasIntensity at center+searchOffset,
// score it against the pre-normalized target patch u, and keep the
// minimum-scoring candidate. Ties are broken by first-encountered order,
// which falls out naturally from the deterministic search table iteration
// and a strict "<" comparison.
func MatchPatch(
	atlasIntensity *volume.Image3D,
	centerIdx int,
	u []float64,
	patchOffsets volume.OffsetTable,
	searchOffsets volume.OffsetTable,
	penalizeAnticorrelation bool,
	sc *scratch,
) MatchResult {
	best := MatchResult{SearchOffsetIdx: -1}
	bestScore := 0.0

	for k, searchOff := range searchOffsets.Offsets {
		candidateCenter := centerIdx + searchOff
		for i, patchOff := range patchOffsets.Offsets {
			sc.candidate[i] = atlasIntensity.AtIndex(candidateCenter + patchOff)
		}
		score, sums := scoreCandidate(u, sc.candidate, penalizeAnticorrelation)
		if best.SearchOffsetIdx == -1 || score < bestScore {
			bestScore = score
			best = MatchResult{
				SearchOffsetIdx: k,
				CenterIdx:       candidateCenter,
				SumV:            sums.sumV,
				SumV2:           sums.sumV2,
				Manhattan:       searchOffsets.Manhattan[k],
			}
		}
	}
	return best
}
