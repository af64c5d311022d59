package metadata

type ShaderVisibility int

const (
	ShaderVisibilityAll ShaderVisibility = iota
	ShaderVisibilityVertex
	ShaderVisibilityPixel
)

type RootParameterType int

const (
	// A root descriptor holding the GPU address of a constant buffer.
	RootParameterTypeCBV RootParameterType = iota
)

type RootParameter struct {
	Type           RootParameterType
	ShaderRegister uint32
	Visibility     ShaderVisibility
}

type RootSignatureDesc struct {
	Parameters []RootParameter
	// Allows the input assembler to feed vertex buffers.
	AllowInputLayout bool
}

type VertexFormat int

const (
	VertexFormatFloat32x2 VertexFormat = iota
	VertexFormatFloat32x3
	VertexFormatFloat32x4
)

func (f VertexFormat) Size() uint32 {
	switch f {
	case VertexFormatFloat32x2:
		return 8
	case VertexFormatFloat32x3:
		return 12
	default:
		return 16
	}
}

type InputElement struct {
	Semantic string
	Location uint32
	Format   VertexFormat
	Offset   uint32
}

type PrimitiveTopology int

const (
	PrimitiveTopologyTriangleList PrimitiveTopology = iota
	PrimitiveTopologyTriangleStrip
)

type CullMode int

const (
	CullModeNone CullMode = iota
	CullModeFront
	CullModeBack
)

type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

type Rect struct {
	Left, Top, Right, Bottom int32
}

type VertexBufferView struct {
	BufferLocation GPUVirtualAddress
	SizeInBytes    uint32
	StrideInBytes  uint32
}

type IndexFormat int

const (
	IndexFormatUint16 IndexFormat = iota
	IndexFormatUint32
)

func (f IndexFormat) Size() uint32 {
	if f == IndexFormatUint32 {
		return 4
	}
	return 2
}

type IndexBufferView struct {
	BufferLocation GPUVirtualAddress
	SizeInBytes    uint32
	Format         IndexFormat
}
