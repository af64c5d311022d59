package indirect

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/anima-indirect/engine/config"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/math"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

const meshUploadTimeout = 5 * time.Second

type Options struct {
	Width         uint32
	Height        uint32
	InstanceCount uint32
	// Ring depth: the number of frames the host may run ahead of the device.
	FrameLatency uint32
	BackBuffers  uint32
	FenceTimeout time.Duration
	RotationStep float32
	ClearColor   [4]float32
	SyncInterval uint32
	// Draw instances one by one instead of through ExecuteIndirect.
	DirectDraw bool
}

func OptionsFromConfig(cfg *config.Config) Options {
	r := cfg.Renderer
	return Options{
		Width:         cfg.Window.Width,
		Height:        cfg.Window.Height,
		InstanceCount: r.InstanceCount,
		FrameLatency:  r.FrameLatency,
		BackBuffers:   max(r.FrameLatency, 2),
		FenceTimeout:  r.FenceTimeoutDuration(),
		RotationStep:  r.RotationStep,
		ClearColor:    r.ClearColor,
		SyncInterval:  r.SyncInterval,
		DirectDraw:    r.DirectDraw,
	}
}

func (o Options) validate() error {
	switch {
	case o.Width == 0 || o.Height == 0:
		return fmt.Errorf("render size %dx%d: %w", o.Width, o.Height, core.ErrInvalidConfig)
	case o.InstanceCount == 0:
		return fmt.Errorf("instance count must be positive: %w", core.ErrInvalidConfig)
	case o.FrameLatency == 0:
		return fmt.Errorf("frame latency must be positive: %w", core.ErrInvalidConfig)
	case o.BackBuffers < 2:
		return fmt.Errorf("%d back buffers, need at least 2: %w", o.BackBuffers, core.ErrInvalidConfig)
	case !validRotationStep(o.RotationStep):
		return fmt.Errorf("rotation step %v outside [0, 360): %w", o.RotationStep, core.ErrInvalidConfig)
	}
	return nil
}

// NaN fails both comparisons.
func validRotationStep(step float32) bool {
	return step >= 0 && step < 360
}

// FrameStats describes a rendered frame.
type FrameStats struct {
	Frame     uint64
	Slot      uint32
	WaitedFor uint64
	Angle     float32
	// Set when the swap chain was being recreated and nothing was rendered.
	Skipped bool
}

/**
 * @brief Owns every device object the demo renders with and drives one frame
 * through the slot lifecycle per RenderFrame call. Objects are released in
 * reverse creation order by Shutdown.
 */
type RenderContext struct {
	dev  device.Device
	opts Options

	queue     device.CommandQueue
	swapChain device.SwapChain
	depth     device.Texture
	signature *CommandSignature
	params    *ParameterWriter
	args      *ArgumentBuilder
	sync      *FrameSynchronizer
	list      device.CommandList
	tracker   *StateTracker
	frames    *FrameStateMachine
	executor  Executor

	viewport metadata.Viewport
	scissor  metadata.Rect
	rotation float32

	releasers []func()
}

func NewRenderContext(dev device.Device, opts Options, mesh *metadata.MeshData, shaders metadata.ShaderSet) (rc *RenderContext, err error) {
	if err := opts.validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	c := &RenderContext{
		dev:      dev,
		opts:     opts,
		tracker:  NewStateTracker(),
		frames:   NewFrameStateMachine(opts.FrameLatency),
		viewport: metadata.Viewport{Width: float32(opts.Width), Height: float32(opts.Height), MaxDepth: 1},
		scissor:  metadata.Rect{Right: int32(opts.Width), Bottom: int32(opts.Height)},
	}
	defer func() {
		if err != nil {
			c.release()
		}
	}()

	if c.queue, err = dev.CreateCommandQueue(); err != nil {
		return nil, fmt.Errorf("failed to create command queue: %w", err)
	}
	c.own(c.queue.Release)

	c.swapChain, err = dev.CreateSwapChain(c.queue, metadata.SwapChainDesc{
		Width:       opts.Width,
		Height:      opts.Height,
		BufferCount: opts.BackBuffers,
		Format:      metadata.FormatR8G8B8A8Unorm,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create swap chain: %w", err)
	}
	c.own(c.swapChain.Release)
	for i := uint32(0); i < c.swapChain.BufferCount(); i++ {
		bb, err := c.swapChain.BackBuffer(i)
		if err != nil {
			return nil, err
		}
		c.tracker.Track(bb, metadata.ResourceStatePresent)
	}

	if c.depth, err = dev.CreateDepthBuffer(opts.Width, opts.Height); err != nil {
		return nil, fmt.Errorf("failed to create depth buffer: %w", err)
	}
	c.own(c.depth.Release)
	c.tracker.Track(c.depth, metadata.ResourceStateDepthWrite)

	rootSig, err := dev.CreateRootSignature(metadata.RootSignatureDesc{
		Parameters: []metadata.RootParameter{
			{Type: metadata.RootParameterTypeCBV, ShaderRegister: 0, Visibility: metadata.ShaderVisibilityVertex},
		},
		AllowInputLayout: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create root signature: %w", err)
	}
	c.own(rootSig.Release)

	pso, err := dev.CreatePipelineState(device.PipelineStateDesc{
		Name:               "indirect-instances",
		RootSignature:      rootSig,
		Shaders:            shaders,
		InputLayout:        metadata.VertexLayout(),
		VertexStride:       math.Vertex3DSize,
		Topology:           metadata.PrimitiveTopologyTriangleList,
		CullMode:           metadata.CullModeNone,
		DepthEnabled:       true,
		RenderTargetFormat: metadata.FormatR8G8B8A8Unorm,
		DepthFormat:        metadata.FormatD32Float,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline state: %w", err)
	}
	c.own(pso.Release)

	if c.signature, err = NewCommandSignature(dev, rootSig, DefaultSignatureDesc()); err != nil {
		return nil, err
	}
	c.own(c.signature.Release)

	bindings, err := c.uploadMesh(mesh)
	if err != nil {
		return nil, err
	}
	bindings.RootSignature = rootSig
	bindings.Pipeline = pso

	transforms, err := c.createBuffer(metadata.BufferDesc{
		Name:         "transforms",
		Size:         TransformBufferSize(dev.ConstantBufferAlignment(), opts.InstanceCount, opts.FrameLatency),
		Heap:         metadata.HeapTypeUpload,
		Usage:        metadata.BufferUsageConstant,
		InitialState: metadata.ResourceStateGenericRead,
	})
	if err != nil {
		return nil, err
	}
	aspect := float32(opts.Width) / float32(opts.Height)
	if c.params, err = NewParameterWriter(transforms, dev.ConstantBufferAlignment(), opts.InstanceCount, opts.FrameLatency, aspect); err != nil {
		return nil, err
	}

	argSize := ArgumentBufferSize(c.signature.Layout, opts.InstanceCount, opts.FrameLatency)
	argUpload, err := c.createBuffer(metadata.BufferDesc{
		Name:         "arguments-upload",
		Size:         argSize,
		Heap:         metadata.HeapTypeUpload,
		Usage:        metadata.BufferUsageCopySource,
		InitialState: metadata.ResourceStateGenericRead,
	})
	if err != nil {
		return nil, err
	}
	argTarget, err := c.createBuffer(metadata.BufferDesc{
		Name:         "arguments",
		Size:         argSize,
		Heap:         metadata.HeapTypeDefault,
		Usage:        metadata.BufferUsageIndirect | metadata.BufferUsageCopyDest,
		InitialState: metadata.ResourceStateIndirectArgument,
	})
	if err != nil {
		return nil, err
	}
	c.tracker.Track(argTarget, metadata.ResourceStateIndirectArgument)
	if c.args, err = NewArgumentBuilder(c.signature.Layout, c.params, argUpload, argTarget, opts.InstanceCount, opts.FrameLatency, bindings.IndexCount); err != nil {
		return nil, err
	}

	if c.sync, err = NewFrameSynchronizer(dev, opts.FrameLatency, opts.FenceTimeout); err != nil {
		return nil, err
	}
	c.own(c.sync.Release)

	if opts.DirectDraw {
		c.executor = NewDirectExecutor(bindings, c.params, opts.InstanceCount)
	} else {
		c.executor = NewIndirectExecutor(bindings, c.signature, c.args, opts.InstanceCount)
	}
	core.LogInfo("render context ready on %s: %d instances, %d frames in flight, direct=%v", dev.Name(), opts.InstanceCount, opts.FrameLatency, opts.DirectDraw)
	return c, nil
}

func (c *RenderContext) own(release func()) {
	c.releasers = append(c.releasers, release)
}

func (c *RenderContext) release() {
	for i := len(c.releasers) - 1; i >= 0; i-- {
		c.releasers[i]()
	}
	c.releasers = nil
}

func (c *RenderContext) createBuffer(desc metadata.BufferDesc) (device.Buffer, error) {
	b, err := c.dev.CreateBuffer(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer %q: %w", desc.Name, err)
	}
	c.own(b.Release)
	return b, nil
}

// uploadMesh copies the mesh into device-local buffers through staging
// buffers and blocks until the copy finished. It also creates the list every
// frame records into.
func (c *RenderContext) uploadMesh(mesh *metadata.MeshData) (DrawBindings, error) {
	vertices, indices := mesh.VertexBytes(), mesh.IndexBytes()
	if len(vertices) == 0 || len(indices) == 0 {
		return DrawBindings{}, fmt.Errorf("mesh %q is empty: %w", mesh.Name, core.ErrResourceCreation)
	}
	vb, err := c.createBuffer(metadata.BufferDesc{
		Name: mesh.Name + "-vertices", Size: uint64(len(vertices)), Heap: metadata.HeapTypeDefault,
		Usage: metadata.BufferUsageVertex | metadata.BufferUsageCopyDest, InitialState: metadata.ResourceStateCopyDest,
	})
	if err != nil {
		return DrawBindings{}, err
	}
	ib, err := c.createBuffer(metadata.BufferDesc{
		Name: mesh.Name + "-indices", Size: uint64(len(indices)), Heap: metadata.HeapTypeDefault,
		Usage: metadata.BufferUsageIndex | metadata.BufferUsageCopyDest, InitialState: metadata.ResourceStateCopyDest,
	})
	if err != nil {
		return DrawBindings{}, err
	}

	var staging []device.Buffer
	defer func() {
		for i := len(staging) - 1; i >= 0; i-- {
			staging[i].Release()
		}
	}()
	for _, data := range [][]byte{vertices, indices} {
		s, err := c.dev.CreateBuffer(metadata.BufferDesc{
			Name: mesh.Name + "-staging", Size: uint64(len(data)), Heap: metadata.HeapTypeUpload,
			Usage: metadata.BufferUsageCopySource, InitialState: metadata.ResourceStateGenericRead,
		})
		if err != nil {
			return DrawBindings{}, fmt.Errorf("failed to create staging buffer: %w", err)
		}
		staging = append(staging, s)
		mapped, err := s.Map()
		if err != nil {
			return DrawBindings{}, err
		}
		copy(mapped, data)
		s.Unmap()
	}

	alloc, err := c.dev.CreateCommandAllocator()
	if err != nil {
		return DrawBindings{}, fmt.Errorf("failed to create upload allocator: %w", err)
	}
	defer alloc.Release()
	if c.list, err = c.dev.CreateCommandList(alloc); err != nil {
		return DrawBindings{}, fmt.Errorf("failed to create command list: %w", err)
	}
	c.own(c.list.Release)
	fence, err := c.dev.CreateFence(0)
	if err != nil {
		return DrawBindings{}, fmt.Errorf("failed to create upload fence: %w", err)
	}
	defer fence.Release()

	if err := c.list.Reset(alloc); err != nil {
		return DrawBindings{}, err
	}
	c.list.CopyBufferRegion(vb, 0, staging[0], 0, uint64(len(vertices)))
	c.list.CopyBufferRegion(ib, 0, staging[1], 0, uint64(len(indices)))
	c.list.ResourceBarrier(
		device.Transition(vb, metadata.ResourceStateCopyDest, metadata.ResourceStateVertexAndConstantBuffer),
		device.Transition(ib, metadata.ResourceStateCopyDest, metadata.ResourceStateIndexBuffer),
	)
	if err := c.list.Close(); err != nil {
		return DrawBindings{}, err
	}
	if err := c.queue.ExecuteCommandLists(c.list); err != nil {
		return DrawBindings{}, err
	}
	if err := c.queue.Signal(fence, 1); err != nil {
		return DrawBindings{}, err
	}
	if err := fence.Wait(1, meshUploadTimeout); err != nil {
		return DrawBindings{}, fmt.Errorf("mesh upload: %w", err)
	}
	core.LogDebug("uploaded mesh %s: %d vertices, %d indices", mesh.Name, len(mesh.Vertices), len(mesh.Indices))

	return DrawBindings{
		Topology: metadata.PrimitiveTopologyTriangleList,
		VertexBuffer: metadata.VertexBufferView{
			BufferLocation: vb.GPUVirtualAddress(),
			SizeInBytes:    uint32(len(vertices)),
			StrideInBytes:  math.Vertex3DSize,
		},
		IndexBuffer: metadata.IndexBufferView{
			BufferLocation: ib.GPUVirtualAddress(),
			SizeInBytes:    uint32(len(indices)),
			Format:         metadata.IndexFormatUint16,
		},
		IndexCount: mesh.IndexCount(),
	}, nil
}

// Rotation is the angle in degrees of the last rendered frame. The next frame
// renders with Rotation advanced by one step.
func (c *RenderContext) Rotation() float32 {
	return c.rotation
}

// SetRotation restarts the animation at degrees, folded into [0, 360).
func (c *RenderContext) SetRotation(degrees float32) {
	c.rotation = math.WrapDegrees(degrees, 0)
}

func (c *RenderContext) RotationStep() float32 {
	return c.opts.RotationStep
}

// SetRotationStep changes the per-frame increment. Zero holds the angle.
func (c *RenderContext) SetRotationStep(step float32) error {
	if !validRotationStep(step) {
		return fmt.Errorf("rotation step %v outside [0, 360): %w", step, core.ErrInvalidConfig)
	}
	c.opts.RotationStep = step
	return nil
}

func (c *RenderContext) FrameCount() uint64 {
	return c.sync.FrameCount()
}

func (c *RenderContext) SlotState(slot uint32) FrameState {
	return c.frames.State(slot)
}

/**
 * @brief Records, submits and presents one frame. Errors are fatal to the
 * frame loop; a swap chain that is being recreated skips the frame.
 */
func (c *RenderContext) RenderFrame() (FrameStats, error) {
	ticket, err := c.sync.Begin()
	if err != nil {
		core.LogError(err.Error())
		return FrameStats{}, err
	}
	stats := FrameStats{Frame: ticket.Frame, Slot: ticket.Slot, WaitedFor: ticket.WaitedFor}

	index, err := c.swapChain.CurrentBackBufferIndex()
	if errors.Is(err, core.ErrSwapchainBooting) {
		c.sync.Abandon(ticket)
		core.LogWarn("swap chain booting, skipping frame %d", ticket.Frame)
		stats.Skipped = true
		return stats, nil
	}
	if err != nil {
		return FrameStats{}, err
	}
	backBuffer, err := c.swapChain.BackBuffer(index)
	if err != nil {
		return FrameStats{}, err
	}

	c.rotation = math.WrapDegrees(c.rotation, c.opts.RotationStep)
	stats.Angle = c.rotation

	slot := ticket.Slot
	if err := c.frames.Retire(slot); err != nil {
		return FrameStats{}, err
	}
	if err := c.frames.Advance(slot, FrameStateRecording); err != nil {
		return FrameStats{}, err
	}
	if err := c.list.Reset(ticket.Allocator); err != nil {
		return FrameStats{}, err
	}
	if err := c.record(slot, backBuffer); err != nil {
		c.list.Close()
		core.LogError(err.Error())
		return FrameStats{}, err
	}
	if err := c.list.Close(); err != nil {
		return FrameStats{}, err
	}
	if err := c.queue.ExecuteCommandLists(c.list); err != nil {
		return FrameStats{}, err
	}
	if err := c.sync.End(c.queue, ticket); err != nil {
		return FrameStats{}, err
	}
	if err := c.frames.Advance(slot, FrameStateSubmitted); err != nil {
		return FrameStats{}, err
	}
	if err := c.swapChain.Present(c.opts.SyncInterval); err != nil {
		return FrameStats{}, fmt.Errorf("present of frame %d: %w", ticket.Frame, err)
	}
	if err := c.frames.Advance(slot, FrameStatePresented); err != nil {
		return FrameStats{}, err
	}
	return stats, nil
}

func (c *RenderContext) record(slot uint32, backBuffer device.Texture) error {
	c.tracker.Reset()
	if err := c.params.Write(slot, c.rotation); err != nil {
		return err
	}
	if err := c.frames.Advance(slot, FrameStateTransformWritten); err != nil {
		return err
	}
	if err := c.args.Build(slot); err != nil {
		return err
	}
	if err := c.tracker.Transition(c.list, backBuffer, metadata.ResourceStateRenderTarget); err != nil {
		return err
	}
	if err := c.args.Stage(c.list, c.tracker, slot); err != nil {
		return err
	}
	if err := c.frames.Advance(slot, FrameStateArgumentStaged); err != nil {
		return err
	}

	c.list.SetRenderTargets(backBuffer, c.depth)
	c.list.ClearRenderTarget(backBuffer, c.opts.ClearColor)
	c.list.ClearDepth(c.depth, 1)
	c.list.SetViewport(c.viewport)
	c.list.SetScissor(c.scissor)
	c.executor.Execute(c.list, slot)

	if err := c.tracker.Transition(c.list, backBuffer, metadata.ResourceStatePresent); err != nil {
		return err
	}
	return c.tracker.Balanced()
}

// Shutdown waits for the device to drain and releases everything.
func (c *RenderContext) Shutdown() error {
	var err error
	if c.sync != nil {
		if err = c.sync.WaitIdle(); err != nil {
			core.LogError("render context shutdown: %s", err)
		}
	}
	c.release()
	core.LogInfo("render context released")
	return err
}
