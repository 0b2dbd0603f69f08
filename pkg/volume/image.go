// Package volume provides the dense 3D array type and patch/search
// neighborhood geometry shared by the label-fusion engine.
package volume

import "fmt"

// Grid describes the sampling geometry shared by every image participating
// in a fusion run: extents, linear strides, origin, voxel spacing, and a
// row-major 3x3 orientation matrix. All inputs to the engine must share an
// identical Grid; see Image3D.SameGrid.
type Grid struct {
	X, Y, Z     int
	Origin      [3]float64
	Spacing     [3]float64
	Orientation [9]float64 // row-major 3x3 direction cosines
}

// Strides returns the linear stride (in samples) for each axis assuming
// X-fastest, then Y, then Z ordering.
func (g Grid) Strides() [3]int {
	return [3]int{1, g.X, g.X * g.Y}
}

// Len returns the total number of samples in the grid.
func (g Grid) Len() int {
	return g.X * g.Y * g.Z
}

// Index returns the flat linear index of voxel (x,y,z).
func (g Grid) Index(x, y, z int) int {
	return x + y*g.X + z*g.X*g.Y
}

// Contains reports whether (x,y,z) lies inside the grid's extents.
func (g Grid) Contains(x, y, z int) bool {
	return x >= 0 && x < g.X && y >= 0 && y < g.Y && z >= 0 && z < g.Z
}

const spacingTolerance = 1e-4

// SameGrid reports whether two grids share identical extents, spacing
// within tolerance, and orientation within tolerance. This is the
// precondition spec §3/§6 requires of every input image.
func (g Grid) SameGrid(o Grid) bool {
	if g.X != o.X || g.Y != o.Y || g.Z != o.Z {
		return false
	}
	for i := 0; i < 3; i++ {
		if absf(g.Spacing[i]-o.Spacing[i]) > spacingTolerance {
			return false
		}
	}
	for i := 0; i < 9; i++ {
		if absf(g.Orientation[i]-o.Orientation[i]) > spacingTolerance {
			return false
		}
	}
	return true
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Image3D is a dense 3D array of scalar samples on a Grid. It serves as the
// target image, atlas intensity and label images, exclusion masks,
// posterior accumulators, weight maps, and the output label volume alike;
// the engine distinguishes these roles by how it reads or writes the
// buffer, not by type.
type Image3D struct {
	Grid Grid
	Data []float64
}

// NewImage3D allocates a zero-filled image on the given grid.
func NewImage3D(g Grid) *Image3D {
	return &Image3D{Grid: g, Data: make([]float64, g.Len())}
}

// At returns the sample at (x,y,z).
func (img *Image3D) At(x, y, z int) float64 {
	return img.Data[img.Grid.Index(x, y, z)]
}

// Set writes the sample at (x,y,z).
func (img *Image3D) Set(x, y, z int, v float64) {
	img.Data[img.Grid.Index(x, y, z)] = v
}

// AtIndex returns the sample at a precomputed flat index.
func (img *Image3D) AtIndex(idx int) float64 {
	return img.Data[idx]
}

// SetIndex writes the sample at a precomputed flat index.
func (img *Image3D) SetIndex(idx int, v float64) {
	img.Data[idx] = v
}

// SameGrid reports whether img and other share a grid.
func (img *Image3D) SameGrid(other *Image3D) bool {
	return img.Grid.SameGrid(other.Grid)
}

// ValidateGrids checks that every image in imgs shares the same grid as the
// first, returning a descriptive error on the first mismatch. Used at
// engine configuration time (spec §6/§7 InvalidInput).
func ValidateGrids(imgs ...*Image3D) error {
	if len(imgs) == 0 {
		return nil
	}
	ref := imgs[0].Grid
	for i, img := range imgs[1:] {
		if !img.Grid.SameGrid(ref) {
			return fmt.Errorf("image %d grid mismatch: got %+v, want %+v", i+1, img.Grid, ref)
		}
	}
	return nil
}
