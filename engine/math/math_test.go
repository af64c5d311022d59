package math

import (
	"testing"

	"github.com/chewxy/math32"

	"github.com/stretchr/testify/assert"
)

const standardTol = float32(1.0e-5)

func TestMat4MulAppliesLeftFirst(t *testing.T) {
	p := Vec4{1, 0, 0, 1}
	m := NewMat4Scale(Vec3{2, 2, 2}).Mul(NewMat4Translation(Vec3{0, 1, 0}))
	got := p.MulMat4(m)
	assert.True(t, got.ToVec3().Compare(Vec3{2, 1, 0}, standardTol), "got %v", got)

	assert.Equal(t, m, m.Mul(NewMat4Identity()))
	assert.Equal(t, m, m.Transposed().Transposed())
}

func TestEulerYRotatesXTowardsMinusZ(t *testing.T) {
	got := Vec4{1, 0, 0, 1}.MulMat4(NewMat4EulerY(DegToRad(90)))
	assert.True(t, got.ToVec3().Compare(Vec3{0, 0, -1}, standardTol), "got %v", got)
}

func TestLookAtLHMapsTargetOntoPositiveZ(t *testing.T) {
	view := NewMat4LookAtLH(Vec3{0, 0.5, -1.5}, Vec3{0, 0.5, 0}, Vec3{0, 1, 0})

	target := Vec4{0, 0.5, 0, 1}.MulMat4(view)
	assert.True(t, target.ToVec3().Compare(Vec3{0, 0, 1.5}, standardTol), "got %v", target)

	right := Vec4{1, 0.5, -1.5, 1}.MulMat4(view)
	assert.True(t, right.ToVec3().Compare(Vec3{1, 0, 0}, standardTol), "got %v", right)
}

func TestPerspectiveFovLHDepthRange(t *testing.T) {
	proj := NewMat4PerspectiveFovLH(DegToRad(90), 1.0, 0.1, 10)

	near := Vec4{0, 0, 0.1, 1}.MulMat4(proj)
	far := Vec4{0, 0, 10, 1}.MulMat4(proj)
	assert.InDelta(t, 0.0, near.Z/near.W, 1e-5)
	assert.InDelta(t, 1.0, far.Z/far.W, 1e-5)

	edge := Vec4{1, 1, 1, 1}.MulMat4(proj)
	assert.InDelta(t, 1.0, edge.X/edge.W, 1e-5)
	assert.InDelta(t, 1.0, edge.Y/edge.W, 1e-5)
}

func TestWrapDegreesResetsAt360(t *testing.T) {
	angle := float32(0)
	for i := 0; i < 359; i++ {
		angle = WrapDegrees(angle, 1.0)
	}
	assert.Equal(t, float32(359), angle)
	assert.Equal(t, float32(0), WrapDegrees(angle, 1.0))
}

func TestWrapDegreesFoldsNegatives(t *testing.T) {
	assert.Equal(t, float32(350), WrapDegrees(10, -20))
	assert.Equal(t, float32(355), WrapDegrees(-5, 0))
	assert.Equal(t, float32(0), WrapDegrees(-360, 0))
	assert.Equal(t, float32(270), WrapDegrees(-450, 0))
	assert.Equal(t, float32(0), WrapDegrees(math32.NaN(), 1))
	assert.Equal(t, float32(0), WrapDegrees(0, math32.Inf(-1)))

	angle := float32(0)
	for i := 0; i < 3; i++ {
		angle = WrapDegrees(angle, -1)
		assert.True(t, angle >= 0 && angle < 360, "angle %v", angle)
	}
	assert.Equal(t, float32(357), angle)
}

func TestAlignUpAndClamp(t *testing.T) {
	assert.Equal(t, uint64(256), AlignUp(uint64(128), 256))
	assert.Equal(t, uint64(256), AlignUp(uint64(256), 256))
	assert.Equal(t, uint32(512), AlignUp(uint32(257), 256))
	assert.Equal(t, 3, Clamp(7, 0, 3))
	assert.Equal(t, float32(0), Clamp(float32(-1), 0, 1))
}

func TestGenerateCube(t *testing.T) {
	vertices, indices := GenerateCube(1.0)
	assert.Len(t, vertices, 24)
	assert.Len(t, indices, 36)
	for _, v := range vertices {
		assert.InDelta(t, 1.0, v.Normal.Length(), 1e-6)
	}

	// Regenerated flat normals must agree with the authored ones.
	regenerated := append([]Vertex3D(nil), vertices...)
	GeometryGenerateNormals(regenerated, indices)
	for i := range vertices {
		assert.True(t, vertices[i].Normal.Compare(regenerated[i].Normal, standardTol), "vertex %d", i)
	}
}
