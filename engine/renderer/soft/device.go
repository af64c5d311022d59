package soft

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

const constantBufferAlignment = 256

// PresentHook receives every presented back buffer on the queue goroutine.
// The image is only valid for the duration of the call.
type PresentHook func(frame uint64, img *image.RGBA)

type Option func(*Device)

// WithExecutionDelay makes the queue sleep before executing each command list.
func WithExecutionDelay(d time.Duration) Option {
	return func(dev *Device) {
		dev.delay = d
	}
}

func WithPresentHook(hook PresentHook) Option {
	return func(dev *Device) {
		dev.presentHook = hook
	}
}

// Stats counts the work the device executed.
type Stats struct {
	CommandListsExecuted uint64
	Barriers             uint64
	Copies               uint64
	Draws                uint64
	ExecuteIndirects     uint64
	Presents             uint64
}

/**
 * @brief A software implementation of the device abstraction. Buffers live in
 * host memory, a single queue executes lists on its own goroutine and every
 * command validates the resource states it depends on. A validation failure
 * removes the device.
 */
type Device struct {
	name        string
	delay       time.Duration
	presentHook PresentHook

	ids core.IdentifierPool

	mu      sync.Mutex
	removed error
	queue   *queue
	fences  []*fence

	stats struct {
		lists, barriers, copies, draws, indirects, presents atomic.Uint64
	}
}

func New(opts ...Option) *Device {
	d := &Device{name: "soft"}
	for _, opt := range opts {
		opt(d)
	}
	core.LogInfo("software device created")
	return d
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) ConstantBufferAlignment() uint64 {
	return constantBufferAlignment
}

func (d *Device) Stats() Stats {
	return Stats{
		CommandListsExecuted: d.stats.lists.Load(),
		Barriers:             d.stats.barriers.Load(),
		Copies:               d.stats.copies.Load(),
		Draws:                d.stats.draws.Load(),
		ExecuteIndirects:     d.stats.indirects.Load(),
		Presents:             d.stats.presents.Load(),
	}
}

func (d *Device) RemovedReason() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removed
}

// remove marks the device lost and wakes every fence waiter.
func (d *Device) remove(reason error) {
	d.mu.Lock()
	if d.removed != nil {
		d.mu.Unlock()
		return
	}
	d.removed = fmt.Errorf("%w: %w", core.ErrDeviceRemoved, reason)
	fences := append([]*fence(nil), d.fences...)
	d.mu.Unlock()

	core.LogError(d.removed.Error())
	for _, f := range fences {
		f.wake()
	}
}

func (d *Device) CreateBuffer(desc metadata.BufferDesc) (device.Buffer, error) {
	if desc.Size == 0 || desc.Size > metadata.MaxResourceSize {
		err := fmt.Errorf("buffer %q: invalid size %d: %w", desc.Name, desc.Size, core.ErrResourceCreation)
		core.LogError(err.Error())
		return nil, err
	}
	if desc.Heap == metadata.HeapTypeUpload && desc.InitialState != metadata.ResourceStateGenericRead {
		err := fmt.Errorf("buffer %q: upload heap buffers must start in %s: %w", desc.Name, metadata.ResourceStateGenericRead, core.ErrResourceCreation)
		core.LogError(err.Error())
		return nil, err
	}
	if desc.Name == "" {
		desc.Name = core.NewDebugName("buffer")
	}
	b := &buffer{
		dev:   d,
		desc:  desc,
		data:  make([]byte, desc.Size),
		state: desc.InitialState,
	}
	b.id = d.ids.Acquire(b)
	core.LogDebug("created %s buffer %q (%d bytes) at %s", desc.Heap, desc.Name, desc.Size, b.GPUVirtualAddress())
	return b, nil
}

func (d *Device) CreateDepthBuffer(width, height uint32) (device.Texture, error) {
	if width == 0 || height == 0 {
		err := fmt.Errorf("depth buffer %dx%d: %w", width, height, core.ErrResourceCreation)
		core.LogError(err.Error())
		return nil, err
	}
	t := newTexture(d, "depth", width, height, metadata.FormatD32Float, metadata.ResourceStateDepthWrite)
	return t, nil
}

func (d *Device) CreateCommandQueue() (device.CommandQueue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue != nil {
		err := fmt.Errorf("software device supports a single queue: %w", core.ErrUnsupported)
		core.LogError(err.Error())
		return nil, err
	}
	d.queue = newQueue(d)
	return d.queue, nil
}

func (d *Device) CreateCommandAllocator() (device.CommandAllocator, error) {
	return &commandAllocator{name: core.NewDebugName("allocator")}, nil
}

func (d *Device) CreateCommandList(alloc device.CommandAllocator) (device.CommandList, error) {
	a, ok := alloc.(*commandAllocator)
	if !ok || a == nil {
		err := fmt.Errorf("command list needs a software allocator: %w", core.ErrResourceCreation)
		core.LogError(err.Error())
		return nil, err
	}
	return &commandList{dev: d, name: core.NewDebugName("list")}, nil
}

func (d *Device) CreateFence(initial uint64) (device.Fence, error) {
	f := &fence{dev: d, value: initial}
	f.cond = sync.NewCond(&f.mu)
	d.mu.Lock()
	d.fences = append(d.fences, f)
	d.mu.Unlock()
	return f, nil
}

func (d *Device) CreateRootSignature(desc metadata.RootSignatureDesc) (device.RootSignature, error) {
	for i, p := range desc.Parameters {
		if p.Type != metadata.RootParameterTypeCBV {
			err := fmt.Errorf("root parameter %d: unsupported type %d: %w", i, p.Type, core.ErrResourceCreation)
			core.LogError(err.Error())
			return nil, err
		}
	}
	return &rootSignature{desc: desc}, nil
}

func (d *Device) CreatePipelineState(desc device.PipelineStateDesc) (device.PipelineState, error) {
	rs, ok := desc.RootSignature.(*rootSignature)
	if !ok || rs == nil {
		err := fmt.Errorf("pipeline %q: missing root signature: %w", desc.Name, core.ErrResourceCreation)
		core.LogError(err.Error())
		return nil, err
	}
	layout, err := resolveInputLayout(desc.InputLayout, desc.VertexStride)
	if err != nil {
		err = fmt.Errorf("pipeline %q: %w: %w", desc.Name, err, core.ErrResourceCreation)
		core.LogError(err.Error())
		return nil, err
	}
	return &pipelineState{desc: desc, rootSig: rs, layout: layout}, nil
}

func (d *Device) CreateCommandSignature(desc metadata.CommandSignatureDesc, rs device.RootSignature) (device.CommandSignature, error) {
	offsets, _, err := desc.Offsets()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	for _, a := range desc.Arguments {
		if a.Type != metadata.IndirectArgumentTypeConstantBufferView {
			continue
		}
		root, ok := rs.(*rootSignature)
		if !ok || root == nil || int(a.RootParameterIndex) >= len(root.desc.Parameters) {
			err := fmt.Errorf("constant buffer argument targets missing root parameter %d: %w", a.RootParameterIndex, core.ErrSignatureMismatch)
			core.LogError(err.Error())
			return nil, err
		}
	}
	return &commandSignature{desc: desc, offsets: offsets}, nil
}

func (d *Device) CreateSwapChain(q device.CommandQueue, desc metadata.SwapChainDesc) (device.SwapChain, error) {
	sq, ok := q.(*queue)
	if !ok || sq == nil {
		err := fmt.Errorf("swap chain needs a software queue: %w", core.ErrResourceCreation)
		core.LogError(err.Error())
		return nil, err
	}
	if desc.BufferCount < 2 || desc.Width == 0 || desc.Height == 0 {
		err := fmt.Errorf("swap chain %dx%d with %d buffers: %w", desc.Width, desc.Height, desc.BufferCount, core.ErrResourceCreation)
		core.LogError(err.Error())
		return nil, err
	}
	sc := &swapChain{dev: d, queue: sq, desc: desc}
	for i := uint32(0); i < desc.BufferCount; i++ {
		sc.buffers = append(sc.buffers, newTexture(d, fmt.Sprintf("backbuffer-%d", i), desc.Width, desc.Height, metadata.FormatR8G8B8A8Unorm, metadata.ResourceStatePresent))
	}
	return sc, nil
}

// Release stops the queue goroutine after it drained.
func (d *Device) Release() {
	d.mu.Lock()
	q := d.queue
	d.queue = nil
	d.mu.Unlock()
	if q != nil {
		q.shutdown()
	}
	core.LogInfo("software device released")
}

// resolve maps a virtual address to its buffer and byte offset.
func (d *Device) resolve(addr metadata.GPUVirtualAddress) (*buffer, uint64, error) {
	b, ok := d.ids.Owner(addr.ResourceID()).(*buffer)
	if !ok || b == nil || b.released {
		return nil, 0, fmt.Errorf("address %s does not name a live buffer: %w", addr, core.ErrOutOfBounds)
	}
	return b, addr.Offset(), nil
}
