package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"fbx", "obj", "gltf", "glb", "usdz", "draco"} {
		f, err := ParseFormat(s)
		require.NoError(t, err)
		assert.Equal(t, Format(s), f)
	}

	_, err := ParseFormat("stl")
	assert.Error(t, err)
}

func TestArtifactKeyScheme(t *testing.T) {
	cases := []struct {
		target Format
		key    string
		ctype  string
	}{
		{FormatGLB, "ar-models/m1/glb/model.glb", "model/gltf-binary"},
		{FormatDraco, "ar-models/m1/draco/model.glb", "model/gltf-binary"},
		{FormatGLTF, "ar-models/m1/gltf/model.gltf", "model/gltf+json"},
		{FormatUSDZ, "ar-models/m1/usdz/model.usdz", "model/vnd.usdz+zip"},
	}

	for _, tc := range cases {
		key, ok := ArtifactKey("m1", tc.target)
		require.True(t, ok, "target %s", tc.target)
		assert.Equal(t, tc.key, key)

		ctype, ok := ArtifactContentType(tc.target)
		require.True(t, ok)
		assert.Equal(t, tc.ctype, ctype)
	}

	// Source-only formats never publish.
	_, ok := ArtifactKey("m1", FormatFBX)
	assert.False(t, ok)
	_, ok = ArtifactContentType(FormatOBJ)
	assert.False(t, ok)
}

func TestModelURLColumn(t *testing.T) {
	col, ok := ModelURLColumn(FormatGLB)
	require.True(t, ok)
	assert.Equal(t, "gltf_url", col)

	col, ok = ModelURLColumn(FormatGLTF)
	require.True(t, ok)
	assert.Equal(t, "gltf_url", col)

	col, ok = ModelURLColumn(FormatUSDZ)
	require.True(t, ok)
	assert.Equal(t, "usdz_url", col)

	col, ok = ModelURLColumn(FormatDraco)
	require.True(t, ok)
	assert.Equal(t, "gltf_draco_url", col)

	_, ok = ModelURLColumn(FormatFBX)
	assert.False(t, ok)
}

func TestDefaultLODLevels(t *testing.T) {
	levels := DefaultLODLevels()
	require.Len(t, levels, 3)
	assert.Equal(t, LODSpec{Name: "lod0", PolyReductionRatio: 0.0}, levels[0])
	assert.Equal(t, LODSpec{Name: "lod1", PolyReductionRatio: 0.5}, levels[1])
	assert.Equal(t, LODSpec{Name: "lod2", PolyReductionRatio: 0.8}, levels[2])

	for _, l := range levels {
		assert.NoError(t, l.Validate())
	}
}

func TestLODSpecValidate(t *testing.T) {
	assert.Error(t, LODSpec{Name: "bad", PolyReductionRatio: 1.0}.Validate())
	assert.Error(t, LODSpec{Name: "bad", PolyReductionRatio: -0.1}.Validate())
	assert.Error(t, LODSpec{Name: "", PolyReductionRatio: 0.5}.Validate())
	assert.NoError(t, LODSpec{Name: "lod9", PolyReductionRatio: 0.99}.Validate())
}
