package soft

import (
	"encoding/binary"
	"fmt"
	"image/color"
	"math"

	"github.com/chewxy/math32"

	"github.com/spaghettifunk/anima-indirect/engine/core"
	amath "github.com/spaghettifunk/anima-indirect/engine/math"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

// Bytes the reference vertex shader reads from the constant buffer: the
// transposed model-view-projection matrix followed by the transposed world matrix.
const constantBufferReadSize = 128

var (
	lightDirection = amath.Vec3{X: -0.4, Y: 0.8, Z: -0.45}.Normalized()
	surfaceColour  = amath.Vec3{X: 0.95, Y: 0.65, Z: 0.25}
)

const ambient = 0.25

type inputLayout struct {
	stride         uint32
	positionOffset uint32
	normalOffset   uint32
}

func resolveInputLayout(elements []metadata.InputElement, stride uint32) (inputLayout, error) {
	l := inputLayout{stride: stride}
	var hasPos, hasNormal bool
	for _, el := range elements {
		switch el.Semantic {
		case "POSITION":
			if el.Format != metadata.VertexFormatFloat32x3 {
				return l, fmt.Errorf("POSITION must be float32x3")
			}
			l.positionOffset, hasPos = el.Offset, true
		case "NORMAL":
			if el.Format != metadata.VertexFormatFloat32x3 {
				return l, fmt.Errorf("NORMAL must be float32x3")
			}
			l.normalOffset, hasNormal = el.Offset, true
		}
		if el.Offset+el.Format.Size() > stride {
			return l, fmt.Errorf("element %s exceeds vertex stride %d", el.Semantic, stride)
		}
	}
	if !hasPos || !hasNormal {
		return l, fmt.Errorf("input layout needs POSITION and NORMAL")
	}
	return l, nil
}

// executor carries the pipeline state of one command list execution.
// Every list starts from a cleared state.
type executor struct {
	dev         *Device
	rt, ds      *texture
	viewport    metadata.Viewport
	hasViewport bool
	scissor     metadata.Rect
	hasScissor  bool
	rootSig     *rootSignature
	rootCBV     []metadata.GPUVirtualAddress
	pso         *pipelineState
	topology    metadata.PrimitiveTopology
	vb          metadata.VertexBufferView
	ib          metadata.IndexBufferView
}

func newExecutor(d *Device) *executor {
	return &executor{dev: d}
}

func (e *executor) run(cmds []command) error {
	for i, c := range cmds {
		if err := c(e); err != nil {
			return fmt.Errorf("command %d: %w", i, err)
		}
	}
	return nil
}

type shadedVertex struct {
	clip      amath.Vec4
	intensity float32
}

// drawState is everything a draw resolves before touching pixels.
type drawState struct {
	vertices []byte
	indices  []byte
	mvp      amath.Mat4
	world    amath.Mat4
}

func (e *executor) prepareDraw() (*drawState, error) {
	switch {
	case e.pso == nil:
		return nil, fmt.Errorf("draw without pipeline state: %w", core.ErrInvalidState)
	case e.rootSig == nil || e.rootSig != e.pso.rootSig:
		return nil, fmt.Errorf("draw with a root signature the pipeline was not built for: %w", core.ErrInvalidState)
	case e.rt == nil:
		return nil, fmt.Errorf("draw without render target: %w", core.ErrInvalidState)
	case !e.hasViewport || !e.hasScissor:
		return nil, fmt.Errorf("draw without viewport or scissor: %w", core.ErrInvalidState)
	case e.topology != metadata.PrimitiveTopologyTriangleList:
		return nil, fmt.Errorf("topology %d: %w", e.topology, core.ErrUnsupported)
	}
	if e.rt.state != metadata.ResourceStateRenderTarget {
		return nil, fmt.Errorf("render target %s is %s: %w", e.rt.Name(), e.rt.state, core.ErrInvalidState)
	}
	if e.pso.desc.DepthEnabled {
		if e.ds == nil || e.ds.state != metadata.ResourceStateDepthWrite {
			return nil, fmt.Errorf("depth enabled draw without a depth target in depth-write: %w", core.ErrInvalidState)
		}
	}

	vb, vbOff, err := e.dev.resolve(e.vb.BufferLocation)
	if err != nil {
		return nil, fmt.Errorf("vertex buffer: %w", err)
	}
	if !vb.state.Readable(metadata.ResourceStateVertexAndConstantBuffer) {
		return nil, fmt.Errorf("vertex buffer %s is %s: %w", vb.Name(), vb.state, core.ErrInvalidState)
	}
	vertices, err := vb.bytes(vbOff, uint64(e.vb.SizeInBytes))
	if err != nil {
		return nil, err
	}
	ib, ibOff, err := e.dev.resolve(e.ib.BufferLocation)
	if err != nil {
		return nil, fmt.Errorf("index buffer: %w", err)
	}
	if !ib.state.Readable(metadata.ResourceStateIndexBuffer) {
		return nil, fmt.Errorf("index buffer %s is %s: %w", ib.Name(), ib.state, core.ErrInvalidState)
	}
	indices, err := ib.bytes(ibOff, uint64(e.ib.SizeInBytes))
	if err != nil {
		return nil, err
	}

	if len(e.rootCBV) == 0 || e.rootCBV[0] == 0 {
		return nil, fmt.Errorf("root constant buffer 0 not bound: %w", core.ErrInvalidState)
	}
	cb, cbOff, err := e.dev.resolve(e.rootCBV[0])
	if err != nil {
		return nil, fmt.Errorf("constant buffer: %w", err)
	}
	if !cb.state.Readable(metadata.ResourceStateVertexAndConstantBuffer) {
		return nil, fmt.Errorf("constant buffer %s is %s: %w", cb.Name(), cb.state, core.ErrInvalidState)
	}
	constants, err := cb.bytes(cbOff, constantBufferReadSize)
	if err != nil {
		return nil, err
	}

	return &drawState{
		vertices: vertices,
		indices:  indices,
		mvp:      readMat4(constants[0:64]).Transposed(),
		world:    readMat4(constants[64:128]).Transposed(),
	}, nil
}

func (e *executor) drawIndexed(args metadata.DrawIndexedArguments) error {
	ds, err := e.prepareDraw()
	if err != nil {
		return err
	}
	indexSize := e.ib.Format.Size()
	if uint64(args.StartIndexLocation+args.IndexCountPerInstance)*uint64(indexSize) > uint64(len(ds.indices)) {
		return fmt.Errorf("draw reads %d indices from %d: %w", args.StartIndexLocation+args.IndexCountPerInstance, uint32(len(ds.indices))/indexSize, core.ErrOutOfBounds)
	}
	fetch := func(i uint32) (uint32, error) {
		at := (args.StartIndexLocation + i) * indexSize
		var idx int64
		if indexSize == 2 {
			idx = int64(binary.LittleEndian.Uint16(ds.indices[at:]))
		} else {
			idx = int64(binary.LittleEndian.Uint32(ds.indices[at:]))
		}
		idx += int64(args.BaseVertexLocation)
		if idx < 0 {
			return 0, fmt.Errorf("negative vertex index: %w", core.ErrOutOfBounds)
		}
		return uint32(idx), nil
	}
	e.dev.stats.draws.Add(1)
	for inst := uint32(0); inst < args.InstanceCount; inst++ {
		if err := e.rasterize(ds, args.IndexCountPerInstance, fetch); err != nil {
			return err
		}
	}
	return nil
}

func (e *executor) draw(args metadata.DrawArguments) error {
	ds, err := e.prepareDraw()
	if err != nil {
		return err
	}
	fetch := func(i uint32) (uint32, error) {
		return args.StartVertexLocation + i, nil
	}
	e.dev.stats.draws.Add(1)
	for inst := uint32(0); inst < args.InstanceCount; inst++ {
		if err := e.rasterize(ds, args.VertexCountPerInstance, fetch); err != nil {
			return err
		}
	}
	return nil
}

func (e *executor) shade(ds *drawState, vertex uint32) (shadedVertex, error) {
	layout := e.pso.layout
	base := uint64(vertex) * uint64(layout.stride)
	if base+uint64(layout.stride) > uint64(len(ds.vertices)) {
		return shadedVertex{}, fmt.Errorf("vertex %d outside vertex buffer: %w", vertex, core.ErrOutOfBounds)
	}
	pos := readVec3(ds.vertices[base+uint64(layout.positionOffset):])
	normal := readVec3(ds.vertices[base+uint64(layout.normalOffset):])

	worldNormal := normal.ToVec4(0).MulMat4(ds.world).ToVec3().Normalized()
	diffuse := amath.Clamp(worldNormal.Dot(lightDirection), 0, 1)
	return shadedVertex{
		clip:      pos.ToVec4(1).MulMat4(ds.mvp),
		intensity: ambient + (1-ambient)*diffuse,
	}, nil
}

type screenVertex struct {
	x, y, z   float32
	intensity float32
}

func (e *executor) toScreen(v shadedVertex) (screenVertex, bool) {
	c := v.clip
	if c.W <= 1e-6 || c.Z < 0 || c.Z > c.W {
		return screenVertex{}, false
	}
	ndcX, ndcY, ndcZ := c.X/c.W, c.Y/c.W, c.Z/c.W
	vp := e.viewport
	return screenVertex{
		x:         vp.X + (ndcX+1)*0.5*vp.Width,
		y:         vp.Y + (1-ndcY)*0.5*vp.Height,
		z:         vp.MinDepth + ndcZ*(vp.MaxDepth-vp.MinDepth),
		intensity: v.intensity,
	}, true
}

func (e *executor) rasterize(ds *drawState, count uint32, fetch func(uint32) (uint32, error)) error {
	for i := uint32(0); i+2 < count; i += 3 {
		var tri [3]screenVertex
		visible := true
		for k := uint32(0); k < 3; k++ {
			idx, err := fetch(i + k)
			if err != nil {
				return err
			}
			sv, err := e.shade(ds, idx)
			if err != nil {
				return err
			}
			s, ok := e.toScreen(sv)
			visible = visible && ok
			tri[k] = s
		}
		if visible {
			e.fillTriangle(tri)
		}
	}
	return nil
}

func edge(a, b screenVertex, px, py float32) float32 {
	return (b.x-a.x)*(py-a.y) - (b.y-a.y)*(px-a.x)
}

func (e *executor) fillTriangle(tri [3]screenVertex) {
	area := edge(tri[0], tri[1], tri[2].x, tri[2].y)
	if area == 0 {
		return
	}
	switch e.pso.desc.CullMode {
	case metadata.CullModeBack:
		// Clockwise on screen is front facing; y grows downwards.
		if area < 0 {
			return
		}
	case metadata.CullModeFront:
		if area > 0 {
			return
		}
	}

	minX := math32.Min(tri[0].x, math32.Min(tri[1].x, tri[2].x))
	maxX := math32.Max(tri[0].x, math32.Max(tri[1].x, tri[2].x))
	minY := math32.Min(tri[0].y, math32.Min(tri[1].y, tri[2].y))
	maxY := math32.Max(tri[0].y, math32.Max(tri[1].y, tri[2].y))

	x0 := amath.Clamp(int32(math32.Floor(minX)), e.scissor.Left, e.scissor.Right)
	x1 := amath.Clamp(int32(math32.Floor(maxX))+1, e.scissor.Left, e.scissor.Right)
	y0 := amath.Clamp(int32(math32.Floor(minY)), e.scissor.Top, e.scissor.Bottom)
	y1 := amath.Clamp(int32(math32.Floor(maxY))+1, e.scissor.Top, e.scissor.Bottom)
	x0, x1 = amath.Clamp(x0, 0, int32(e.rt.width)), amath.Clamp(x1, 0, int32(e.rt.width))
	y0, y1 = amath.Clamp(y0, 0, int32(e.rt.height)), amath.Clamp(y1, 0, int32(e.rt.height))

	depthTest := e.pso.desc.DepthEnabled && e.ds != nil
	for y := y0; y < y1; y++ {
		py := float32(y) + 0.5
		for x := x0; x < x1; x++ {
			px := float32(x) + 0.5
			w0 := edge(tri[1], tri[2], px, py) / area
			w1 := edge(tri[2], tri[0], px, py) / area
			w2 := edge(tri[0], tri[1], px, py) / area
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			z := w0*tri[0].z + w1*tri[1].z + w2*tri[2].z
			if depthTest {
				di := int(y)*int(e.ds.width) + int(x)
				if di >= len(e.ds.depth) || z >= e.ds.depth[di] {
					continue
				}
				e.ds.depth[di] = z
			}
			intensity := w0*tri[0].intensity + w1*tri[1].intensity + w2*tri[2].intensity
			e.rt.color.SetRGBA(int(x), int(y), toRGBA([4]float32{
				surfaceColour.X * intensity,
				surfaceColour.Y * intensity,
				surfaceColour.Z * intensity,
				1,
			}))
		}
	}
}

func toRGBA(c [4]float32) color.RGBA {
	conv := func(f float32) uint8 {
		return uint8(amath.Clamp(f, 0, 1)*255 + 0.5)
	}
	return color.RGBA{R: conv(c[0]), G: conv(c[1]), B: conv(c[2]), A: conv(c[3])}
}

func readFloat(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func readVec3(b []byte) amath.Vec3 {
	return amath.Vec3{X: readFloat(b[0:]), Y: readFloat(b[4:]), Z: readFloat(b[8:])}
}

func readMat4(b []byte) amath.Mat4 {
	m := amath.Mat4{}
	for i := range m.Data {
		m.Data[i] = readFloat(b[i*4:])
	}
	return m
}
