package math

// GeometryGenerateNormals assigns flat face normals to every triangle.
func GeometryGenerateNormals(vertices []Vertex3D, indices []uint16) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0 := indices[i+0]
		i1 := indices[i+1]
		i2 := indices[i+2]

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)

		// NOTE: This just generates a face normal. Smoothing out should be done in a separate pass if desired.
		normal := edge1.Cross(edge2).Normalized()
		vertices[i0].Normal = normal
		vertices[i1].Normal = normal
		vertices[i2].Normal = normal
	}
}

/**
 * @brief Generates an axis aligned cube centred on the origin with four
 * vertices per face so each face carries its own normal and texcoords.
 * Triangles wind clockwise when seen from outside in a left-handed space.
 * @param size The edge length of the cube.
 */
func GenerateCube(size float32) ([]Vertex3D, []uint16) {
	h := size * 0.5
	type face struct {
		normal  Vec3
		corners [4]Vec3
	}
	faces := []face{
		{Vec3{0, 0, -1}, [4]Vec3{{-h, h, -h}, {h, h, -h}, {h, -h, -h}, {-h, -h, -h}}},
		{Vec3{0, 0, 1}, [4]Vec3{{h, h, h}, {-h, h, h}, {-h, -h, h}, {h, -h, h}}},
		{Vec3{-1, 0, 0}, [4]Vec3{{-h, h, h}, {-h, h, -h}, {-h, -h, -h}, {-h, -h, h}}},
		{Vec3{1, 0, 0}, [4]Vec3{{h, h, -h}, {h, h, h}, {h, -h, h}, {h, -h, -h}}},
		{Vec3{0, 1, 0}, [4]Vec3{{-h, h, h}, {h, h, h}, {h, h, -h}, {-h, h, -h}}},
		{Vec3{0, -1, 0}, [4]Vec3{{-h, -h, -h}, {h, -h, -h}, {h, -h, h}, {-h, -h, h}}},
	}
	uvs := [4]Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}}

	vertices := make([]Vertex3D, 0, 24)
	indices := make([]uint16, 0, 36)
	for _, f := range faces {
		base := uint16(len(vertices))
		for i, p := range f.corners {
			vertices = append(vertices, Vertex3D{Position: p, Normal: f.normal, Texcoord: uvs[i]})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return vertices, indices
}
