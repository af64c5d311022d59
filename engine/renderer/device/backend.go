package device

import (
	"time"

	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

// Resource is any object living in device memory.
type Resource interface {
	Name() string
	GPUVirtualAddress() metadata.GPUVirtualAddress
	Size() uint64
	Release()
}

type Buffer interface {
	Resource
	Heap() metadata.HeapType
	// Map returns the persistent host view of an upload heap buffer. The host
	// must not read it and must not write ranges the device may still be reading.
	Map() ([]byte, error)
	Unmap()
}

type Texture interface {
	Resource
	Width() uint32
	Height() uint32
	Format() metadata.Format
}

// ResourceBarrier declares a usage transition of a resource.
type ResourceBarrier struct {
	Resource Resource
	Before   metadata.ResourceState
	After    metadata.ResourceState
}

func Transition(r Resource, before, after metadata.ResourceState) ResourceBarrier {
	return ResourceBarrier{Resource: r, Before: before, After: after}
}

// CommandAllocator owns the memory of the commands recorded into lists reset with it.
type CommandAllocator interface {
	// Reset reclaims command memory. The device must have finished every list recorded with it.
	Reset() error
	Release()
}

type RootSignature interface {
	Desc() metadata.RootSignatureDesc
	Release()
}

type PipelineStateDesc struct {
	Name               string
	RootSignature      RootSignature
	Shaders            metadata.ShaderSet
	InputLayout        []metadata.InputElement
	VertexStride       uint32
	Topology           metadata.PrimitiveTopology
	CullMode           metadata.CullMode
	DepthEnabled       bool
	RenderTargetFormat metadata.Format
	DepthFormat        metadata.Format
}

type PipelineState interface {
	Desc() PipelineStateDesc
	Release()
}

type CommandSignature interface {
	Desc() metadata.CommandSignatureDesc
	Release()
}

// CommandList records commands for later submission. Recording errors are
// reported by Close.
type CommandList interface {
	Reset(alloc CommandAllocator) error
	ResourceBarrier(barriers ...ResourceBarrier)
	CopyBufferRegion(dst Buffer, dstOffset uint64, src Buffer, srcOffset uint64, size uint64)
	ClearRenderTarget(rt Texture, color [4]float32)
	ClearDepth(ds Texture, depth float32)
	SetRenderTargets(rt Texture, ds Texture)
	SetViewport(vp metadata.Viewport)
	SetScissor(rect metadata.Rect)
	SetRootSignature(rs RootSignature)
	SetPipelineState(pso PipelineState)
	SetPrimitiveTopology(topology metadata.PrimitiveTopology)
	SetVertexBuffer(view metadata.VertexBufferView)
	SetIndexBuffer(view metadata.IndexBufferView)
	SetRootConstantBuffer(rootIndex uint32, address metadata.GPUVirtualAddress)
	DrawIndexedInstanced(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32)
	// ExecuteIndirect issues up to maxCommandCount commands described by sig,
	// reading records from args starting at argsOffset.
	ExecuteIndirect(sig CommandSignature, maxCommandCount uint32, args Buffer, argsOffset uint64)
	Close() error
	Release()
}

type CommandQueue interface {
	ExecuteCommandLists(lists ...CommandList) error
	// Signal sets fence to value once all previously submitted work completed.
	Signal(fence Fence, value uint64) error
	Release()
}

// Fence is a monotonically increasing completion counter.
type Fence interface {
	CompletedValue() uint64
	// Wait blocks until the fence reaches value. It fails with core.ErrFenceTimeout
	// after timeout and with core.ErrDeviceRemoved when the device is lost.
	Wait(value uint64, timeout time.Duration) error
	Release()
}

type SwapChain interface {
	BufferCount() uint32
	CurrentBackBufferIndex() (uint32, error)
	BackBuffer(index uint32) (Texture, error)
	Present(syncInterval uint32) error
	Release()
}

type Device interface {
	Name() string
	// ConstantBufferAlignment is the required alignment of constant buffer addresses.
	ConstantBufferAlignment() uint64
	CreateBuffer(desc metadata.BufferDesc) (Buffer, error)
	CreateDepthBuffer(width, height uint32) (Texture, error)
	CreateCommandQueue() (CommandQueue, error)
	CreateCommandAllocator() (CommandAllocator, error)
	// CreateCommandList returns a closed list; Reset opens it for recording.
	CreateCommandList(alloc CommandAllocator) (CommandList, error)
	CreateFence(initial uint64) (Fence, error)
	CreateRootSignature(desc metadata.RootSignatureDesc) (RootSignature, error)
	CreatePipelineState(desc PipelineStateDesc) (PipelineState, error)
	CreateCommandSignature(desc metadata.CommandSignatureDesc, rs RootSignature) (CommandSignature, error)
	CreateSwapChain(queue CommandQueue, desc metadata.SwapChainDesc) (SwapChain, error)
	// RemovedReason is nil while the device is healthy.
	RemovedReason() error
	Release()
}
