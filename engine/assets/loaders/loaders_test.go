package loaders

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quadOBJ = `# quad
v -1 -1 0
v 1 -1 0
v 1 1 0
v -1 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
vn 0 0 1
f 1/1/1 2/2/1 3/3/1 4/4/1
`

func spirv(words ...uint32) []byte {
	out := make([]byte, 4*(len(words)+1))
	binary.LittleEndian.PutUint32(out, spirvMagic)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*(i+1):], w)
	}
	return out
}

func TestParseOBJTriangulatesAndFlipsHandedness(t *testing.T) {
	mesh, err := ParseOBJ("quad", strings.NewReader(quadOBJ))
	require.NoError(t, err)

	assert.Equal(t, "quad", mesh.Name)
	assert.Len(t, mesh.Vertices, 4)
	assert.Equal(t, []uint16{0, 1, 2, 0, 3, 1}, mesh.Indices)

	// Normal along +z becomes -z and texcoord v is flipped.
	assert.Equal(t, float32(-1), mesh.Vertices[0].Normal.Z)
	assert.Equal(t, float32(1), mesh.Vertices[0].Texcoord.Y)
	assert.Equal(t, float32(0), mesh.Vertices[1].Position.Z)
}

func TestParseOBJGeneratesNormals(t *testing.T) {
	mesh, err := ParseOBJ("tri", strings.NewReader("v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"))
	require.NoError(t, err)
	require.Len(t, mesh.Vertices, 3)
	for _, v := range mesh.Vertices {
		length := v.Normal.X*v.Normal.X + v.Normal.Y*v.Normal.Y + v.Normal.Z*v.Normal.Z
		assert.InDelta(t, 1.0, length, 1e-4)
	}
}

func TestParseOBJNegativeIndices(t *testing.T) {
	mesh, err := ParseOBJ("neg", strings.NewReader("v 0 0 0\nv 1 0 0\nv 0 1 0\nf -3 -2 -1\n"))
	require.NoError(t, err)
	assert.Len(t, mesh.Indices, 3)
}

func TestParseOBJErrors(t *testing.T) {
	cases := map[string]string{
		"no faces":      "v 0 0 0\n",
		"out of range":  "v 0 0 0\nf 1 2 3\n",
		"short vertex":  "v 0 0\n",
		"two corners":   "v 0 0 0\nv 1 0 0\nf 1 2\n",
		"bad corner":    "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1/a 2 3\n",
		"no position":   "v 0 0 0\nv 1 0 0\nv 0 1 0\nf /1 2 3\n",
		"garbage float": "v 0 x 0\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseOBJ(name, strings.NewReader(src))
			assert.Error(t, err)
		})
	}

	_, err := ParseOBJ("oob", strings.NewReader("v 0 0 0\nf 1 2 3\n"))
	assert.ErrorIs(t, err, core.ErrOutOfBounds)
}

func TestModelLoaderLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quad.obj")
	require.NoError(t, os.WriteFile(path, []byte(quadOBJ), 0o644))

	ml := &ModelLoader{}
	res, err := ml.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "quad", res.Name)
	assert.Equal(t, metadata.ResourceTypeMesh, res.Type)
	mesh, ok := res.Data.(*metadata.MeshData)
	require.True(t, ok)
	assert.Equal(t, uint32(6), mesh.IndexCount())

	require.NoError(t, ml.Unload(res))
	assert.Nil(t, res.Data)
}

func TestShaderLoader(t *testing.T) {
	dir := t.TempDir()
	frag := filepath.Join(dir, "indirect.frag.spv")
	require.NoError(t, os.WriteFile(frag, spirv(1, 2, 3), 0o644))

	sl := &ShaderLoader{}
	res, err := sl.Load(frag, nil)
	require.NoError(t, err)
	code, ok := res.Data.(metadata.ShaderBytecode)
	require.True(t, ok)
	assert.Equal(t, metadata.ShaderStagePixel, code.Stage)
	assert.Equal(t, 16, code.Len())

	// Explicit stage wins over the file name.
	res, err = sl.Load(frag, metadata.ShaderStageVertex)
	require.NoError(t, err)
	assert.Equal(t, metadata.ShaderStageVertex, res.Data.(metadata.ShaderBytecode).Stage)

	bad := filepath.Join(dir, "bad.vert.spv")
	require.NoError(t, os.WriteFile(bad, []byte{1, 2, 3, 4, 5}, 0o644))
	_, err = sl.Load(bad, nil)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(bad, []byte{1, 2, 3, 4}, 0o644))
	_, err = sl.Load(bad, nil)
	assert.Error(t, err)
}

func TestStageFromPath(t *testing.T) {
	assert.Equal(t, metadata.ShaderStageVertex, StageFromPath("shaders/indirect.vert.spv"))
	assert.Equal(t, metadata.ShaderStagePixel, StageFromPath("shaders/indirect.frag.spv"))
	assert.Equal(t, metadata.ShaderStagePixel, StageFromPath("main.ps.spv"))
	assert.Equal(t, metadata.ShaderStageVertex, StageFromPath("blob.spv"))
}

func TestBinaryLoaderName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	bl := &BinaryLoader{}
	res, err := bl.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "data.bin", res.Name)
	assert.Equal(t, uint64(3), res.DataSize)

	res, err = bl.Load(path, map[string]string{"name": "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", res.Name)
}

func TestLoadBitmapFontRejectsOtherFormats(t *testing.T) {
	_, err := LoadBitmapFont("font.ttf")
	assert.Error(t, err)
}
