package fusion

import (
	"math"

	"github.com/arjunrao/atlasfuse/pkg/observability"
	"gonum.org/v1/gonum/mat"
)

// svdConditionThreshold is sqrt(machine epsilon for float64), the
// reciprocal-condition cutoff spec §4.5 uses to decide between the
// Cholesky solution and the SVD fallback.
var svdConditionThreshold = math.Sqrt(2.220446049250313e-16)

// svdSingularValueRelFloor zeroes singular values smaller than this fraction
// of the largest one when building the SVD pseudo-inverse solve, the
// standard truncated-SVD regularization for a near-singular system.
const svdSingularValueRelFloor = 1e-12

// BuildApd computes the absolute patch difference vector for one atlas
// from its best-matching patch's sufficient statistics (spec §4.5):
// m-bar = sumV/N, sigma-bar^2 = (sumV2 - N*m-bar^2)/(N-1) clamped to
// >= 1e-12, apd[m] = |u[m] - (v[m]-m-bar)/sigma-bar|. v is recomputed from
// the atlas at the matched center using the same patch offsets as u.
func BuildApd(dst []float64, u []float64, v []float64, sumV, sumV2 float64) {
	n := float64(len(u))
	mbar := sumV / n
	sigma2 := (sumV2 - n*mbar*mbar) / (n - 1)
	if sigma2 < 1e-12 {
		sigma2 = 1e-12
	}
	sigma := math.Sqrt(sigma2)
	for i := range u {
		dst[i] = math.Abs(u[i] - (v[i]-mbar)/sigma)
	}
}

// WeightSolver forms Mx from each atlas's apd vector, ridges it, and
// solves for the fusion weights (spec §4.5).
type WeightSolver struct {
	alpha float64
	beta  float64
	n     int // number of atlases

	mx   *mat.SymDense
	ones *mat.VecDense
	chol mat.Cholesky
	svd  mat.SVD
}

// NewWeightSolver allocates reusable buffers for an n-atlas solve so the
// per-voxel hot loop (spec §1) makes no per-voxel allocations beyond the
// matrix factorization's own internal scratch.
func NewWeightSolver(n int, alpha, beta float64) *WeightSolver {
	ones := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		ones.SetVec(i, 1)
	}
	return &WeightSolver{
		alpha: alpha,
		beta:  beta,
		n:     n,
		mx:    mat.NewSymDense(n, nil),
		ones:  ones,
	}
}

// Solve builds Mx(i,j) = (sum_m apd_i[m]*apd_j[m] / (N-1)) ^ beta, adds the
// ridge alpha*I, solves (Mx+alpha*I) w = 1 via Cholesky with SVD fallback,
// and renormalizes w to sum to 1 (spec §4.5). apds[i] is atlas i's apd
// vector of length N (the patch size). voxelIndex is carried through for
// NumericFailure diagnostics only.
func (ws *WeightSolver) Solve(apds [][]float64, voxelIndex int) ([]float64, bool, error) {
	n := ws.n
	nMinus1 := float64(len(apds[0]) - 1)
	if nMinus1 <= 0 {
		nMinus1 = 1
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var dot float64
			ai, aj := apds[i], apds[j]
			for m := range ai {
				dot += ai[m] * aj[m]
			}
			v := dot / nMinus1
			v = powBeta(v, ws.beta)
			ws.mx.SetSym(i, j, v)
		}
	}
	for i := 0; i < n; i++ {
		ws.mx.SetSym(i, i, ws.mx.At(i, i)+ws.alpha)
	}

	w := make([]float64, n)
	usedFallback := false

	ok := ws.chol.Factorize(ws.mx)
	if ok {
		rcond := 1 / ws.chol.Cond()
		if rcond > svdConditionThreshold {
			var x mat.VecDense
			if err := ws.chol.SolveVecTo(&x, ws.ones); err == nil {
				for i := 0; i < n; i++ {
					w[i] = x.AtVec(i)
				}
				normalizeWeights(w)
				return w, false, nil
			}
		}
	}

	usedFallback = true
	observability.Warnf("voxel %d: Cholesky solve rejected (ill-conditioned or singular Mx), falling back to SVD", voxelIndex)
	solved := ws.svd.Factorize(ws.mx, mat.SVDFull)
	if !solved {
		return nil, usedFallback, newNumericError(voxelIndex, "both Cholesky and SVD factorization failed for Mx")
	}

	values := ws.svd.Values(nil)
	var u, v mat.Dense
	ws.svd.UTo(&u)
	ws.svd.VTo(&v)

	maxSV := 0.0
	for _, s := range values {
		if s > maxSV {
			maxSV = s
		}
	}
	floor := maxSV * svdSingularValueRelFloor

	// w = V * diag(1/s_i, s_i above floor else 0) * U^T * ones
	utb := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for k := 0; k < n; k++ {
			sum += u.At(k, i) * ws.ones.AtVec(k)
		}
		utb[i] = sum
	}
	for i := range utb {
		if values[i] > floor {
			utb[i] /= values[i]
		} else {
			utb[i] = 0
		}
	}
	for i := 0; i < n; i++ {
		var sum float64
		for k := 0; k < n; k++ {
			sum += v.At(i, k) * utb[k]
		}
		if math.IsNaN(sum) || math.IsInf(sum, 0) {
			return nil, usedFallback, newNumericError(voxelIndex, "SVD fallback produced a non-finite weight")
		}
		w[i] = sum
	}
	normalizeWeights(w)
	return w, usedFallback, nil
}

func powBeta(v, beta float64) float64 {
	if beta == 2 {
		return v * v
	}
	return math.Pow(v, beta)
}

func normalizeWeights(w []float64) {
	var sum float64
	for _, wi := range w {
		sum += wi
	}
	if sum == 0 {
		return
	}
	for i := range w {
		w[i] /= sum
	}
}
