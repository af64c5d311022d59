package metadata

import (
	"encoding/binary"
	"math"

	amath "github.com/spaghettifunk/anima-indirect/engine/math"
)

/**
 * @brief A single static mesh with 16-bit indices.
 */
type MeshData struct {
	Name     string
	Vertices []amath.Vertex3D
	Indices  []uint16
}

func (m *MeshData) IndexCount() uint32 {
	return uint32(len(m.Indices))
}

// VertexBytes packs vertices as position, normal, texcoord float32 triples.
func (m *MeshData) VertexBytes() []byte {
	out := make([]byte, len(m.Vertices)*amath.Vertex3DSize)
	for i, v := range m.Vertices {
		floats := [8]float32{
			v.Position.X, v.Position.Y, v.Position.Z,
			v.Normal.X, v.Normal.Y, v.Normal.Z,
			v.Texcoord.X, v.Texcoord.Y,
		}
		base := i * amath.Vertex3DSize
		for j, f := range floats {
			binary.LittleEndian.PutUint32(out[base+j*4:], math.Float32bits(f))
		}
	}
	return out
}

func (m *MeshData) IndexBytes() []byte {
	out := make([]byte, len(m.Indices)*2)
	for i, idx := range m.Indices {
		binary.LittleEndian.PutUint16(out[i*2:], idx)
	}
	return out
}

// VertexLayout describes VertexBytes to the input assembler.
func VertexLayout() []InputElement {
	return []InputElement{
		{Semantic: "POSITION", Location: 0, Format: VertexFormatFloat32x3, Offset: 0},
		{Semantic: "NORMAL", Location: 1, Format: VertexFormatFloat32x3, Offset: 12},
		{Semantic: "TEXCOORD", Location: 2, Format: VertexFormatFloat32x2, Offset: 24},
	}
}
