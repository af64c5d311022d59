package loaders

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/math"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

const maxMeshVertices = 1 << 16

/**
 * @brief Loads the Wavefront OBJ subset the demo needs: `v`, `vn`, `vt` and
 * polygonal `f` records, triangulated as fans. Everything else is skipped.
 * OBJ files are right-handed with counter-clockwise faces; positions are
 * mirrored along z and the winding reversed for the left-handed renderer.
 */
type ModelLoader struct{}

func (ml *ModelLoader) Load(path string, params interface{}) (*metadata.Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	mesh, err := ParseOBJ(name, f)
	if err != nil {
		return nil, fmt.Errorf("mesh %s: %w", path, err)
	}
	core.LogDebug("mesh '%s': %d vertices, %d indices", name, len(mesh.Vertices), len(mesh.Indices))
	return &metadata.Resource{
		Name:     name,
		FullPath: path,
		Type:     metadata.ResourceTypeMesh,
		DataSize: uint64(len(mesh.Vertices)*math.Vertex3DSize + len(mesh.Indices)*2),
		Data:     mesh,
	}, nil
}

func (ml *ModelLoader) Unload(resource *metadata.Resource) error {
	resource.Data = nil
	resource.DataSize = 0
	return nil
}

// objCorner indexes position, texcoord and normal of one face corner; 0 means absent.
type objCorner struct {
	v, vt, vn int
}

func ParseOBJ(name string, r io.Reader) (*metadata.MeshData, error) {
	var (
		positions []math.Vec3
		texcoords []math.Vec2
		normals   []math.Vec3
		faces     [][3]objCorner
	)

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "v":
			v, err := parseFloats(fields[1:], 3)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			positions = append(positions, math.NewVec3(v[0], v[1], -v[2]))
		case "vn":
			v, err := parseFloats(fields[1:], 3)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			normals = append(normals, math.NewVec3(v[0], v[1], -v[2]))
		case "vt":
			v, err := parseFloats(fields[1:], 2)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			texcoords = append(texcoords, math.NewVec2(v[0], 1-v[1]))
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face with %d corners", line, len(fields)-1)
			}
			corners := make([]objCorner, len(fields)-1)
			for i, field := range fields[1:] {
				c, err := parseCorner(field, len(positions), len(texcoords), len(normals))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				corners[i] = c
			}
			for i := 1; i+1 < len(corners); i++ {
				// Reversed to turn counter-clockwise faces clockwise.
				faces = append(faces, [3]objCorner{corners[0], corners[i+1], corners[i]})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, fmt.Errorf("no faces: %w", core.ErrInvalidConfig)
	}

	mesh := &metadata.MeshData{Name: name}
	lookup := make(map[objCorner]uint16)
	missingNormals := false
	for _, face := range faces {
		for _, c := range face {
			if c.vn == 0 {
				missingNormals = true
			}
			// Corners without a normal stay unique so flat normals can be assigned per face.
			if idx, ok := lookup[c]; ok && c.vn != 0 {
				mesh.Indices = append(mesh.Indices, idx)
				continue
			}
			if len(mesh.Vertices) >= maxMeshVertices {
				return nil, fmt.Errorf("more than %d vertices: %w", maxMeshVertices, core.ErrOutOfBounds)
			}
			vert := math.Vertex3D{Position: positions[c.v-1]}
			if c.vt != 0 {
				vert.Texcoord = texcoords[c.vt-1]
			}
			if c.vn != 0 {
				vert.Normal = normals[c.vn-1]
			}
			idx := uint16(len(mesh.Vertices))
			mesh.Vertices = append(mesh.Vertices, vert)
			mesh.Indices = append(mesh.Indices, idx)
			lookup[c] = idx
		}
	}
	if missingNormals {
		math.GeometryGenerateNormals(mesh.Vertices, mesh.Indices)
	}
	return mesh, nil
}

func parseFloats(fields []string, n int) ([]float32, error) {
	if len(fields) < n {
		return nil, fmt.Errorf("expected %d components, got %d", n, len(fields))
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(f)
	}
	return out, nil
}

// parseCorner reads `v`, `v/vt`, `v//vn` or `v/vt/vn`, resolving negative
// indices against the counts seen so far.
func parseCorner(field string, nv, nvt, nvn int) (objCorner, error) {
	parts := strings.Split(field, "/")
	if len(parts) > 3 {
		return objCorner{}, fmt.Errorf("bad face corner %q", field)
	}
	var idx [3]int
	limits := [3]int{nv, nvt, nvn}
	for i, p := range parts {
		if p == "" {
			if i == 0 {
				return objCorner{}, fmt.Errorf("face corner %q has no position", field)
			}
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return objCorner{}, fmt.Errorf("bad face corner %q: %w", field, err)
		}
		if n < 0 {
			n = limits[i] + n + 1
		}
		if n < 1 || n > limits[i] {
			return objCorner{}, fmt.Errorf("face corner %q index %d out of range: %w", field, n, core.ErrOutOfBounds)
		}
		idx[i] = n
	}
	return objCorner{v: idx[0], vt: idx[1], vn: idx[2]}, nil
}
