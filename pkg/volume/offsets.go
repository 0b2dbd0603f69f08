package volume

// OffsetTable is an ordered sequence of signed linear offsets such that
// adding any offset to a center linear index addresses a neighbor inside a
// cubic radius (spec §3 "OffsetTable", §4.1 "PatchGeometry"). Manhattan
// holds the companion L1-distance-from-center for each entry, used by the
// search table to build the diagnostic histogram (spec §4.9).
type OffsetTable struct {
	Offsets   []int
	Manhattan []int
	Radius    [3]int
}

// Len returns the number of entries, N = prod(2*r_d+1).
func (t OffsetTable) Len() int {
	return len(t.Offsets)
}

// NewPatchOffsets builds the offset table for a cubic neighborhood of the
// given radius over an image with the given strides, iterating in
// deterministic lexicographic order over relative offsets (dz, dy, dx).
// This is PatchGeometry (spec §4.1): total and deterministic, no error
// conditions.
func NewPatchOffsets(strides [3]int, radius [3]int) OffsetTable {
	n := (2*radius[0] + 1) * (2*radius[1] + 1) * (2*radius[2] + 1)
	t := OffsetTable{
		Offsets:   make([]int, 0, n),
		Manhattan: make([]int, 0, n),
		Radius:    radius,
	}
	for dz := -radius[2]; dz <= radius[2]; dz++ {
		for dy := -radius[1]; dy <= radius[1]; dy++ {
			for dx := -radius[0]; dx <= radius[0]; dx++ {
				off := dx*strides[0] + dy*strides[1] + dz*strides[2]
				t.Offsets = append(t.Offsets, off)
				t.Manhattan = append(t.Manhattan, absInt(dx)+absInt(dy)+absInt(dz))
			}
		}
	}
	return t
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// MaxManhattan returns the largest Manhattan distance present in the
// table, used to size the Driver's distance histogram (spec §4.9/§6).
func (t OffsetTable) MaxManhattan() int {
	max := 0
	for _, m := range t.Manhattan {
		if m > max {
			max = m
		}
	}
	return max
}

// SafeInterior returns, given a grid, the inclusive voxel range
// [loX,hiX]x[loY,hiY]x[loZ,hiZ] whose full neighborhood (at the given
// radius) stays inside the grid's extents. Callers use this to avoid
// bounds-checking every offset application inside the hot loop (spec §9
// "raw-pointer neighborhood access" reformulated as a once-validated
// bounded region).
func SafeInterior(g Grid, radius [3]int) (loX, hiX, loY, hiY, loZ, hiZ int) {
	loX, hiX = radius[0], g.X-1-radius[0]
	loY, hiY = radius[1], g.Y-1-radius[1]
	loZ, hiZ = radius[2], g.Z-1-radius[2]
	return
}
