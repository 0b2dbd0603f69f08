package fusion

import "github.com/arjunrao/atlasfuse/pkg/observability"

// Config holds the engine's own scalar parameters (spec §6). It is
// intentionally separate from file/environment configuration loading,
// which spec §1 places out of scope for the engine itself — this is the
// parameter struct the engine's constructor validates, mirroring
// pkg/hnsw.IndexConfig in the teacher repo.
type Config struct {
	PatchRadius  [3]int // patch neighborhood radius (voxels per axis)
	SearchRadius [3]int // search neighborhood radius (voxels per axis)

	Alpha float64 // ridge added to Mx's diagonal, typically 0.1
	Beta  float64 // exponent applied to Mx, commonly 2

	// PenalizeAnticorrelation preserves spec §4.3/§9's documented sign
	// handling: when true (the spec'd default), non-positive raw
	// correlation S is scored with +S²/var instead of -S²/var, penalizing
	// anticorrelated patches. Exposed as a toggle per spec §9's open
	// question.
	PenalizeAnticorrelation bool

	GenerateWeightMaps bool // allocate per-atlas WeightMapArray (spec §3)
	RetainPosteriors   bool // keep PosteriorMap after the run instead of discarding it
	UseUniqueMask      bool // run the UniqueLabelMask pre-pass (spec §4.4)

	// MemoryBudgetBytes caps the estimated allocation size for weight maps
	// and posteriors (spec §5); zero means unbounded.
	MemoryBudgetBytes int64

	// NumWorkers is the number of parallel tile workers (spec §5); zero
	// selects a sensible default at Driver construction time.
	NumWorkers int

	// Metrics, if non-nil, receives per-patch-search timings and the
	// merged Manhattan-distance histogram (spec §10.5). A nil Metrics
	// disables this instrumentation entirely.
	Metrics *observability.Metrics
}

// DefaultConfig returns the spec's documented defaults: alpha=0.1, beta=2,
// anticorrelation penalized, unique-mask pre-pass on, weight maps off,
// posteriors discarded after the run.
func DefaultConfig() Config {
	return Config{
		PatchRadius:             [3]int{1, 1, 1},
		SearchRadius:            [3]int{2, 2, 2},
		Alpha:                   0.1,
		Beta:                    2,
		PenalizeAnticorrelation: true,
		GenerateWeightMaps:      false,
		RetainPosteriors:        false,
		UseUniqueMask:           true,
	}
}

// Validate checks the InvalidInput conditions of spec §7: negative radii,
// negative alpha or beta, nonsensical worker counts.
func (c Config) Validate() error {
	for axis, r := range c.PatchRadius {
		if r < 0 {
			return newConfigError("patchRadius[%d] = %d must be >= 0", axis, r)
		}
	}
	for axis, r := range c.SearchRadius {
		if r < 0 {
			return newConfigError("searchRadius[%d] = %d must be >= 0", axis, r)
		}
	}
	if c.Alpha < 0 {
		return newConfigError("alpha = %v must be >= 0", c.Alpha)
	}
	if c.Beta < 0 {
		return newConfigError("beta = %v must be >= 0", c.Beta)
	}
	if c.NumWorkers < 0 {
		return newConfigError("numWorkers = %d must be >= 0", c.NumWorkers)
	}
	if c.MemoryBudgetBytes < 0 {
		return newConfigError("memoryBudgetBytes = %d must be >= 0", c.MemoryBudgetBytes)
	}
	return nil
}
