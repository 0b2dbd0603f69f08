package volume

import "testing"

func testGrid(x, y, z int) Grid {
	return Grid{
		X: x, Y: y, Z: z,
		Spacing:     [3]float64{1, 1, 1},
		Orientation: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
	}
}

func TestGridIndexRoundTrip(t *testing.T) {
	g := testGrid(4, 5, 6)
	for z := 0; z < 6; z++ {
		for y := 0; y < 5; y++ {
			for x := 0; x < 4; x++ {
				idx := g.Index(x, y, z)
				if idx < 0 || idx >= g.Len() {
					t.Fatalf("index(%d,%d,%d)=%d out of range [0,%d)", x, y, z, idx, g.Len())
				}
			}
		}
	}
}

func TestGridSameGridSpacingTolerance(t *testing.T) {
	a := testGrid(4, 4, 4)
	b := a
	b.Spacing[0] += 1e-6
	if !a.SameGrid(b) {
		t.Fatal("expected spacings within tolerance to compare equal")
	}
	b.Spacing[0] += 1.0
	if a.SameGrid(b) {
		t.Fatal("expected spacings outside tolerance to compare unequal")
	}
}

func TestImage3DAtSet(t *testing.T) {
	img := NewImage3D(testGrid(3, 3, 3))
	img.Set(1, 2, 0, 42.5)
	if got := img.At(1, 2, 0); got != 42.5 {
		t.Fatalf("At() = %v, want 42.5", got)
	}
}

func TestValidateGridsMismatch(t *testing.T) {
	a := NewImage3D(testGrid(4, 4, 4))
	b := NewImage3D(testGrid(5, 4, 4))
	if err := ValidateGrids(a, b); err == nil {
		t.Fatal("expected grid mismatch error")
	}
	c := NewImage3D(testGrid(4, 4, 4))
	if err := ValidateGrids(a, c); err != nil {
		t.Fatalf("expected matching grids to validate, got %v", err)
	}
}
