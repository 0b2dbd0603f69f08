package fusion

import (
	"context"
	"math"
	"testing"

	"github.com/arjunrao/atlasfuse/pkg/volume"
)

// mediumGrid is large enough to have a non-empty safe interior at
// PatchRadius={1,1,1} + SearchRadius={2,2,2} (combined radius 3 per axis).
func mediumGrid() volume.Grid {
	return volume.Grid{
		X: 9, Y: 9, Z: 9,
		Spacing:     [3]float64{1, 1, 1},
		Orientation: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
	}
}

func rampImage(g volume.Grid) *volume.Image3D {
	img := volume.NewImage3D(g)
	for z := 0; z < g.Z; z++ {
		for y := 0; y < g.Y; y++ {
			for x := 0; x < g.X; x++ {
				img.Set(x, y, z, float64(3*x+5*y+7*z))
			}
		}
	}
	return img
}

// textureImage returns a non-linear intensity field: on mediumGrid with the
// default radii, each interior patch's best match in an identical image is
// the patch itself. (On rampImage every candidate patch is perfectly
// correlated with the target, so the search has no unique best match.)
func textureImage(g volume.Grid) *volume.Image3D {
	img := volume.NewImage3D(g)
	for z := 0; z < g.Z; z++ {
		for y := 0; y < g.Y; y++ {
			for x := 0; x < g.X; x++ {
				img.Set(x, y, z, float64((3*x*x+5*y*y+7*z*z)%11))
			}
		}
	}
	return img
}

func constImage(g volume.Grid, v float64) *volume.Image3D {
	img := volume.NewImage3D(g)
	for i := range img.Data {
		img.Data[i] = v
	}
	return img
}

func labelImageSplit(g volume.Grid, lowLabel, highLabel float64, splitX int) *volume.Image3D {
	img := volume.NewImage3D(g)
	for z := 0; z < g.Z; z++ {
		for y := 0; y < g.Y; y++ {
			for x := 0; x < g.X; x++ {
				if x < splitX {
					img.Set(x, y, z, lowLabel)
				} else {
					img.Set(x, y, z, highLabel)
				}
			}
		}
	}
	return img
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NumWorkers = 2
	return cfg
}

// Scenario: single-atlas exact match (spec §8). An atlas with intensity
// identical to the target should match itself at zero offset everywhere,
// driving the fused output to exactly the atlas's own label map in the
// interior.
func TestDriverSingleAtlasExactMatch(t *testing.T) {
	g := mediumGrid()
	target := textureImage(g)
	atlasIntensity := textureImage(g)
	atlasLabel := labelImageSplit(g, 1, 2, g.X/2)

	cfg := testConfig()
	d := NewDriver(cfg, target, []*volume.Image3D{atlasIntensity}, []*volume.Image3D{atlasLabel}, nil)
	result, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	loX, hiX, loY, hiY, loZ, hiZ := func() (int, int, int, int, int, int) {
		e, _ := NewEngine(cfg, target, []*volume.Image3D{atlasIntensity}, []*volume.Image3D{atlasLabel}, nil)
		return e.SafeBounds()
	}()
	for z := loZ; z <= hiZ; z++ {
		for y := loY; y <= hiY; y++ {
			for x := loX; x <= hiX; x++ {
				idx := g.Index(x, y, z)
				want := atlasLabel.AtIndex(idx)
				got := result.Output.AtIndex(idx)
				if got != want {
					t.Fatalf("voxel (%d,%d,%d): output=%v want=%v", x, y, z, got, want)
				}
			}
		}
	}
}

// Scenario: two-atlas boundary contradiction (spec §8). Both atlases share
// the target's intensity exactly but disagree on the label at every voxel;
// their apd vectors are identical so the fused weights tie, and Argmax
// breaks the tie toward the smaller label value.
func TestDriverTwoAtlasContradictionTiesToSmallerLabel(t *testing.T) {
	g := mediumGrid()
	target := rampImage(g)
	atlasA := rampImage(g)
	atlasB := rampImage(g)
	labelA := constImage(g, 5)
	labelB := constImage(g, 9)

	cfg := testConfig()
	d := NewDriver(cfg, target,
		[]*volume.Image3D{atlasA, atlasB},
		[]*volume.Image3D{labelA, labelB},
		nil)
	result, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	e, _ := NewEngine(cfg, target, []*volume.Image3D{atlasA, atlasB}, []*volume.Image3D{labelA, labelB}, nil)
	loX, hiX, loY, hiY, loZ, hiZ := e.SafeBounds()
	cx, cy, cz := (loX+hiX)/2, (loY+hiY)/2, (loZ+hiZ)/2
	idx := g.Index(cx, cy, cz)
	if got := result.Output.AtIndex(idx); got != 5 {
		t.Fatalf("center voxel output = %v, want 5 (smaller label wins the tie)", got)
	}
}

// Scenario: unique-mask shortcut (spec §8/§4.4). When every atlas label
// image agrees on a single value throughout a voxel's search neighborhood,
// UniqueLabelMask writes the output directly without running the main
// loop, regardless of intensity.
func TestDriverUniqueMaskShortcutBypassesMainLoop(t *testing.T) {
	g := mediumGrid()
	target := rampImage(g)
	// Deliberately mismatched intensities: if the main loop ran here, it
	// would still need to resolve a match, but since every atlas agrees on
	// a single label everywhere, UniqueLabelMask should short-circuit.
	atlasA := constImage(g, 1)
	atlasB := constImage(g, 2)
	labelA := constImage(g, 42)
	labelB := constImage(g, 42)

	cfg := testConfig()
	d := NewDriver(cfg, target,
		[]*volume.Image3D{atlasA, atlasB},
		[]*volume.Image3D{labelA, labelB},
		nil)
	result, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.VoxelsUnique == 0 {
		t.Fatal("expected UniqueLabelMask to resolve at least one voxel")
	}
	if result.VoxelsFused != 0 {
		t.Fatalf("expected 0 voxels to require the main loop, got %d", result.VoxelsFused)
	}

	e, _ := NewEngine(cfg, target, []*volume.Image3D{atlasA, atlasB}, []*volume.Image3D{labelA, labelB}, nil)
	loX, hiX, loY, hiY, loZ, hiZ := e.SafeBounds()
	idx := g.Index((loX+hiX)/2, (loY+hiY)/2, (loZ+hiZ)/2)
	if got := result.Output.AtIndex(idx); got != 42 {
		t.Fatalf("output = %v, want 42", got)
	}
}

// Scenario: exclusion override (spec §8/§4.7). A veto mask on the
// otherwise-winning label forces Argmax to fall through to the runner-up.
func TestDriverExclusionOverridesWinningLabel(t *testing.T) {
	g := mediumGrid()
	target := rampImage(g)
	atlasA := rampImage(g)
	labelA := constImage(g, 5)

	cfg := testConfig()
	e, err := NewEngine(cfg, target, []*volume.Image3D{atlasA}, []*volume.Image3D{labelA}, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	loX, hiX, loY, hiY, loZ, hiZ := e.SafeBounds()
	idx := g.Index((loX+hiX)/2, (loY+hiY)/2, (loZ+hiZ)/2)

	excludeMask := volume.NewImage3D(g)
	excludeMask.SetIndex(idx, 1)
	excl := NewExclusionMap(map[int]*volume.Image3D{5: excludeMask})

	d := NewDriver(cfg, target, []*volume.Image3D{atlasA}, []*volume.Image3D{labelA}, excl)
	result, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	// Label 5 is the only label present and is excluded at idx, so Argmax
	// falls through to "no candidate" (returns 0).
	if got := result.Output.AtIndex(idx); got != 0 {
		t.Fatalf("output at excluded voxel = %v, want 0 (fallback)", got)
	}
}

// Scenario: conditioning fallback (spec §8/§4.5). Zero ridge plus
// identical atlas apd vectors makes Mx singular, forcing the SVD path;
// the run must still finish with finite, normalized weights.
func TestDriverConditioningFallbackStillProducesFiniteOutput(t *testing.T) {
	g := mediumGrid()
	target := rampImage(g)
	atlasA := rampImage(g)
	atlasB := rampImage(g)
	labelA := constImage(g, 1)
	labelB := constImage(g, 2)

	cfg := testConfig()
	cfg.Alpha = 0
	d := NewDriver(cfg, target,
		[]*volume.Image3D{atlasA, atlasB},
		[]*volume.Image3D{labelA, labelB},
		nil)
	result, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	for _, v := range result.Output.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatal("output contains non-finite values")
		}
	}
}

// Scenario: low-contrast patch (spec §8/§6). A constant target region
// degenerates PatchStats' sigma to its clamp floor; the run must still
// complete without NaNs propagating into the output.
func TestDriverLowContrastPatchDoesNotProduceNaN(t *testing.T) {
	g := mediumGrid()
	target := constImage(g, 7)
	atlasA := constImage(g, 7)
	labelA := constImage(g, 3)

	cfg := testConfig()
	d := NewDriver(cfg, target, []*volume.Image3D{atlasA}, []*volume.Image3D{labelA}, nil)
	result, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	for _, v := range result.Output.Data {
		if math.IsNaN(v) {
			t.Fatal("output contains NaN")
		}
	}
}

func TestDriverCancellationMidRun(t *testing.T) {
	g := mediumGrid()
	target := rampImage(g)
	atlasA := rampImage(g)
	labelA := labelImageSplit(g, 1, 2, g.X/2)

	cfg := testConfig()
	cfg.NumWorkers = 1
	d := NewDriver(cfg, target, []*volume.Image3D{atlasA}, []*volume.Image3D{labelA}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Run(ctx)
	if err == nil {
		t.Fatal("expected an error from a pre-cancelled context")
	}
	if !IsCancelled(err) {
		t.Fatalf("expected a Cancelled error, got %v", err)
	}
}

func TestDriverRejectsMismatchedAtlasCounts(t *testing.T) {
	g := mediumGrid()
	target := rampImage(g)
	atlasA := rampImage(g)
	labelA := constImage(g, 1)
	labelB := constImage(g, 2)

	cfg := testConfig()
	d := NewDriver(cfg, target, []*volume.Image3D{atlasA}, []*volume.Image3D{labelA, labelB}, nil)
	_, err := d.Run(context.Background())
	if err == nil {
		t.Fatal("expected an InvalidInput error for mismatched atlas slice lengths")
	}
}

func TestDriverMemoryBudgetRejectsOversizedRun(t *testing.T) {
	g := mediumGrid()
	target := rampImage(g)
	atlasA := rampImage(g)
	labelA := constImage(g, 1)

	cfg := testConfig()
	cfg.MemoryBudgetBytes = 1 // far too small for even one buffer
	d := NewDriver(cfg, target, []*volume.Image3D{atlasA}, []*volume.Image3D{labelA}, nil)
	_, err := d.Run(context.Background())
	if err == nil {
		t.Fatal("expected a ResourceExhaustion error")
	}
	fe, ok := err.(*Error)
	if !ok || fe.Kind != ResourceExhaustion {
		t.Fatalf("expected ResourceExhaustion, got %v", err)
	}
}
