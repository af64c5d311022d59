package metadata

import "fmt"

// GPUVirtualAddress locates bytes inside a device resource. The upper 32 bits
// carry the resource id and the lower 32 bits the byte offset.
type GPUVirtualAddress uint64

func NewGPUVirtualAddress(resourceID uint32, offset uint64) GPUVirtualAddress {
	return GPUVirtualAddress(uint64(resourceID)<<32 | (offset & 0xFFFFFFFF))
}

func (a GPUVirtualAddress) ResourceID() uint32 {
	return uint32(a >> 32)
}

func (a GPUVirtualAddress) Offset() uint64 {
	return uint64(a) & 0xFFFFFFFF
}

func (a GPUVirtualAddress) Add(bytes uint64) GPUVirtualAddress {
	return a + GPUVirtualAddress(bytes)
}

func (a GPUVirtualAddress) String() string {
	return fmt.Sprintf("0x%016x", uint64(a))
}

// MaxResourceSize bounds a single resource so offsets never carry into the id.
const MaxResourceSize uint64 = 1 << 32

type HeapType int

const (
	// Device local, not host visible.
	HeapTypeDefault HeapType = iota
	// Host visible and coherent, written by the host and read by the device.
	HeapTypeUpload
)

func (h HeapType) String() string {
	if h == HeapTypeUpload {
		return "upload"
	}
	return "default"
}

type BufferUsage uint32

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageConstant
	BufferUsageIndirect
	BufferUsageCopySource
	BufferUsageCopyDest
)

type BufferDesc struct {
	Name         string
	Size         uint64
	Heap         HeapType
	Usage        BufferUsage
	InitialState ResourceState
}

/**
 * @brief The usage role a resource is in on the device timeline. Commands
 * require specific states and transitions are explicit.
 */
type ResourceState int

const (
	ResourceStateCommon ResourceState = iota
	ResourceStatePresent
	ResourceStateRenderTarget
	ResourceStateDepthWrite
	ResourceStateCopySource
	ResourceStateCopyDest
	ResourceStateIndirectArgument
	ResourceStateVertexAndConstantBuffer
	ResourceStateIndexBuffer
	// Upload heap resources stay in this state for their whole life.
	ResourceStateGenericRead
)

func (s ResourceState) String() string {
	switch s {
	case ResourceStateCommon:
		return "common"
	case ResourceStatePresent:
		return "present"
	case ResourceStateRenderTarget:
		return "render-target"
	case ResourceStateDepthWrite:
		return "depth-write"
	case ResourceStateCopySource:
		return "copy-source"
	case ResourceStateCopyDest:
		return "copy-dest"
	case ResourceStateIndirectArgument:
		return "indirect-argument"
	case ResourceStateVertexAndConstantBuffer:
		return "vertex-and-constant-buffer"
	case ResourceStateIndexBuffer:
		return "index-buffer"
	case ResourceStateGenericRead:
		return "generic-read"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Readable reports whether a command reading the resource for want may run while it is in s.
func (s ResourceState) Readable(want ResourceState) bool {
	if s == want {
		return true
	}
	// Generic read covers every read-only role.
	if s == ResourceStateGenericRead {
		switch want {
		case ResourceStateCopySource, ResourceStateIndirectArgument,
			ResourceStateVertexAndConstantBuffer, ResourceStateIndexBuffer:
			return true
		}
	}
	return false
}

type Format int

const (
	FormatUnknown Format = iota
	FormatR8G8B8A8Unorm
	FormatB8G8R8A8Unorm
	FormatD32Float
)

type SwapChainDesc struct {
	Width       uint32
	Height      uint32
	BufferCount uint32
	Format      Format
}
