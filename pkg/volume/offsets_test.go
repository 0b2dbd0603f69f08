package volume

import "testing"

func TestNewPatchOffsetsLength(t *testing.T) {
	strides := testGrid(10, 10, 10).Strides()
	r := [3]int{1, 2, 0}
	table := NewPatchOffsets(strides, r)
	want := (2*1 + 1) * (2*2 + 1) * (2*0 + 1)
	if table.Len() != want {
		t.Fatalf("Len() = %d, want %d", table.Len(), want)
	}
	if len(table.Manhattan) != want {
		t.Fatalf("len(Manhattan) = %d, want %d", len(table.Manhattan), want)
	}
}

func TestNewPatchOffsetsCenterIsZero(t *testing.T) {
	strides := testGrid(10, 10, 10).Strides()
	table := NewPatchOffsets(strides, [3]int{1, 1, 1})
	foundZero := false
	for i, off := range table.Offsets {
		if off == 0 {
			foundZero = true
			if table.Manhattan[i] != 0 {
				t.Fatalf("center offset should have Manhattan distance 0, got %d", table.Manhattan[i])
			}
		}
	}
	if !foundZero {
		t.Fatal("expected a zero offset (the center) in the table")
	}
}

func TestMaxManhattan(t *testing.T) {
	strides := testGrid(10, 10, 10).Strides()
	table := NewPatchOffsets(strides, [3]int{2, 0, 0})
	if table.MaxManhattan() != 2 {
		t.Fatalf("MaxManhattan() = %d, want 2", table.MaxManhattan())
	}
}

func TestSafeInterior(t *testing.T) {
	g := testGrid(10, 10, 10)
	loX, hiX, loY, hiY, loZ, hiZ := SafeInterior(g, [3]int{2, 1, 0})
	if loX != 2 || hiX != 7 {
		t.Fatalf("X interior = [%d,%d], want [2,7]", loX, hiX)
	}
	if loY != 1 || hiY != 8 {
		t.Fatalf("Y interior = [%d,%d], want [1,8]", loY, hiY)
	}
	if loZ != 0 || hiZ != 9 {
		t.Fatalf("Z interior = [%d,%d], want [0,9]", loZ, hiZ)
	}
}
