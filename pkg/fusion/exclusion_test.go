package fusion

import (
	"testing"

	"github.com/arjunrao/atlasfuse/pkg/volume"
	"github.com/stretchr/testify/require"
)

func TestExclusionMap_NilIsAlwaysPermissive(t *testing.T) {
	var excl *ExclusionMap
	require.False(t, excl.Excluded(1, 0))
	require.NoError(t, excl.Validate(smallGrid()))
}

func TestExclusionMap_ExcludedOnNonzeroMaskSample(t *testing.T) {
	g := smallGrid()
	mask := volume.NewImage3D(g)
	idx := g.Index(2, 2, 2)
	mask.SetIndex(idx, 1)

	excl := NewExclusionMap(map[int]*volume.Image3D{7: mask})

	require.True(t, excl.Excluded(7, idx))
	require.False(t, excl.Excluded(7, g.Index(0, 0, 0)), "zero sample elsewhere should not be excluded")
	require.False(t, excl.Excluded(8, idx), "label with no mask entry is never excluded")
}

func TestExclusionMap_ValidateRejectsGridMismatch(t *testing.T) {
	target := smallGrid()
	mismatched := target
	mismatched.X = target.X + 1

	excl := NewExclusionMap(map[int]*volume.Image3D{1: volume.NewImage3D(mismatched)})

	err := excl.Validate(target)
	require.Error(t, err)
}

func TestExclusionMap_ValidateAcceptsMatchingGrid(t *testing.T) {
	g := smallGrid()
	excl := NewExclusionMap(map[int]*volume.Image3D{1: volume.NewImage3D(g)})
	require.NoError(t, excl.Validate(g))
}
