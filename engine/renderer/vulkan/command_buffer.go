package vulkan

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

/**
 * @brief A command pool. Lists reset with an allocator record into a command
 * buffer owned by its pool, so resetting the pool reclaims all of them at once.
 */
type CommandAllocator struct {
	context *VulkanContext
	Handle  vk.CommandPool

	mu sync.Mutex
	// Command buffers handed out per list, reused across resets.
	buffers map[*CommandList]vk.CommandBuffer
	// Submissions still executing that contain lists from this pool.
	inFlight int
	queue    *CommandQueue
}

func NewCommandAllocator(context *VulkanContext) (*CommandAllocator, error) {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(context.Device.GraphicsQueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	a := &CommandAllocator{context: context, buffers: make(map[*CommandList]vk.CommandBuffer)}
	if err := context.locks.SafeCall(CommandPoolManagement, func() error {
		var pool vk.CommandPool
		if res := vk.CreateCommandPool(context.Device.LogicalDevice, &poolCreateInfo, context.Allocator, &pool); res != vk.Success {
			return fmt.Errorf("vkCreateCommandPool failed with %s: %w", VulkanResultString(res, false), core.ErrResourceCreation)
		}
		a.Handle = pool
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return a, nil
}

func (a *CommandAllocator) Reset() error {
	a.mu.Lock()
	q := a.queue
	a.mu.Unlock()
	if q != nil {
		q.retire()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inFlight > 0 {
		return fmt.Errorf("%d submissions pending: %w", a.inFlight, core.ErrAllocatorInUse)
	}
	return a.context.locks.SafeCall(CommandPoolManagement, func() error {
		return a.context.check("vkResetCommandPool", vk.ResetCommandPool(a.context.Device.LogicalDevice, a.Handle, 0))
	})
}

// commandBuffer returns the buffer list records into when reset with a.
func (a *CommandAllocator) commandBuffer(list *CommandList) (vk.CommandBuffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cmd, ok := a.buffers[list]; ok {
		return cmd, nil
	}
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        a.Handle,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cmds := make([]vk.CommandBuffer, 1)
	if err := a.context.locks.SafeCall(CommandPoolManagement, func() error {
		if res := vk.AllocateCommandBuffers(a.context.Device.LogicalDevice, &allocateInfo, cmds); res != vk.Success {
			return fmt.Errorf("failed to allocate command buffer: %s: %w", VulkanResultString(res, false), core.ErrResourceCreation)
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	a.buffers[list] = cmds[0]
	return cmds[0], nil
}

func (a *CommandAllocator) submitted(q *CommandQueue) {
	a.mu.Lock()
	a.queue = q
	a.inFlight++
	a.mu.Unlock()
}

func (a *CommandAllocator) completed() {
	a.mu.Lock()
	a.inFlight--
	a.mu.Unlock()
}

func (a *CommandAllocator) Release() {
	if a.Handle == vk.NullCommandPool {
		return
	}
	_ = a.context.locks.SafeCall(CommandPoolManagement, func() error {
		// Destroying the pool frees its command buffers.
		vk.DestroyCommandPool(a.context.Device.LogicalDevice, a.Handle, a.context.Allocator)
		a.Handle = vk.NullCommandPool
		return nil
	})
	a.buffers = nil
}

/**
 * @brief Records into the command buffer of its current allocator. Render
 * passes are begun lazily at the first draw so that clears recorded before
 * it become load operations, and they end at the next barrier, copy or Close.
 */
type CommandList struct {
	context *VulkanContext

	Handle vk.CommandBuffer
	State  VulkanCommandBufferState
	alloc  *CommandAllocator
	err    error

	rt, ds     *VulkanImage
	clearColor *[4]float32
	clearDepth *float32
	rootSig    *RootSignature
	pipeline   *VulkanPipeline
}

func NewCommandList(context *VulkanContext, alloc *CommandAllocator) (*CommandList, error) {
	l := &CommandList{
		context: context,
		State:   COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}
	cmd, err := alloc.commandBuffer(l)
	if err != nil {
		return nil, err
	}
	l.Handle = cmd
	l.alloc = alloc
	// Lists are created closed.
	l.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return l, nil
}

func (l *CommandList) Reset(alloc device.CommandAllocator) error {
	if l.State == COMMAND_BUFFER_STATE_RECORDING || l.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return fmt.Errorf("reset of a recording list: %w", core.ErrCommandListOpen)
	}
	a, ok := alloc.(*CommandAllocator)
	if !ok || a == nil {
		return fmt.Errorf("foreign command allocator: %w", core.ErrInvalidState)
	}
	cmd, err := a.commandBuffer(l)
	if err != nil {
		return err
	}
	l.Handle = cmd
	l.alloc = a
	l.err = nil
	l.rt, l.ds, l.clearColor, l.clearDepth = nil, nil, nil, nil
	l.rootSig, l.pipeline = nil, nil

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := l.context.check("vkBeginCommandBuffer", vk.BeginCommandBuffer(cmd, &beginInfo)); err != nil {
		return err
	}
	l.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

// fail keeps the first recording error for Close.
func (l *CommandList) fail(err error) {
	if l.err == nil {
		core.LogError(err.Error())
		l.err = err
	}
}

func (l *CommandList) recording() bool {
	if l.State != COMMAND_BUFFER_STATE_RECORDING && l.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		l.fail(fmt.Errorf("record into a list that is not open: %w", core.ErrCommandListClosed))
		return false
	}
	return true
}

func (l *CommandList) ResourceBarrier(barriers ...device.ResourceBarrier) {
	if !l.recording() {
		return
	}
	l.endPass()
	var batch barrierBatch
	for _, b := range barriers {
		switch r := b.Resource.(type) {
		case *Buffer:
			batch.addBuffer(r, b.Before, b.After)
		case *VulkanImage:
			batch.addImage(r, b.Before, b.After)
		default:
			l.fail(fmt.Errorf("barrier on foreign resource %q: %w", b.Resource.Name(), core.ErrInvalidState))
			return
		}
	}
	batch.record(l.Handle)
}

func (l *CommandList) CopyBufferRegion(dst device.Buffer, dstOffset uint64, src device.Buffer, srcOffset uint64, size uint64) {
	if !l.recording() {
		return
	}
	d, ok1 := dst.(*Buffer)
	s, ok2 := src.(*Buffer)
	if !ok1 || !ok2 {
		l.fail(fmt.Errorf("copy between foreign buffers: %w", core.ErrInvalidState))
		return
	}
	if dstOffset > d.size || size > d.size-dstOffset || srcOffset > s.size || size > s.size-srcOffset {
		l.fail(fmt.Errorf("copy of %d bytes from %q+%d to %q+%d: %w", size, s.name, srcOffset, d.name, dstOffset, core.ErrOutOfBounds))
		return
	}
	l.endPass()
	vk.CmdCopyBuffer(l.Handle, s.Handle, d.Handle, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}

func (l *CommandList) ClearRenderTarget(rt device.Texture, color [4]float32) {
	if !l.recording() {
		return
	}
	img, ok := rt.(*VulkanImage)
	if !ok || img != l.rt {
		l.fail(fmt.Errorf("clear of a render target that is not bound: %w", core.ErrInvalidState))
		return
	}
	l.endPass()
	c := color
	l.clearColor = &c
}

func (l *CommandList) ClearDepth(ds device.Texture, depth float32) {
	if !l.recording() {
		return
	}
	img, ok := ds.(*VulkanImage)
	if !ok || img != l.ds {
		l.fail(fmt.Errorf("clear of a depth buffer that is not bound: %w", core.ErrInvalidState))
		return
	}
	l.endPass()
	d := depth
	l.clearDepth = &d
}

func (l *CommandList) SetRenderTargets(rt device.Texture, ds device.Texture) {
	if !l.recording() {
		return
	}
	l.endPass()
	color, ok := rt.(*VulkanImage)
	if !ok {
		l.fail(fmt.Errorf("foreign render target: %w", core.ErrInvalidState))
		return
	}
	l.rt = color
	l.ds = nil
	if ds != nil {
		depth, ok := ds.(*VulkanImage)
		if !ok {
			l.fail(fmt.Errorf("foreign depth buffer: %w", core.ErrInvalidState))
			return
		}
		l.ds = depth
	}
}

func (l *CommandList) SetViewport(vp metadata.Viewport) {
	if !l.recording() {
		return
	}
	vk.CmdSetViewport(l.Handle, 0, 1, []vk.Viewport{{
		X:        vp.X,
		Y:        vp.Y,
		Width:    vp.Width,
		Height:   vp.Height,
		MinDepth: vp.MinDepth,
		MaxDepth: vp.MaxDepth,
	}})
}

func (l *CommandList) SetScissor(rect metadata.Rect) {
	if !l.recording() {
		return
	}
	vk.CmdSetScissor(l.Handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: rect.Left, Y: rect.Top},
		Extent: vk.Extent2D{Width: uint32(rect.Right - rect.Left), Height: uint32(rect.Bottom - rect.Top)},
	}})
}

func (l *CommandList) SetRootSignature(rs device.RootSignature) {
	if !l.recording() {
		return
	}
	sig, ok := rs.(*RootSignature)
	if !ok {
		l.fail(fmt.Errorf("foreign root signature: %w", core.ErrInvalidState))
		return
	}
	l.rootSig = sig
	vk.CmdBindDescriptorSets(l.Handle, vk.PipelineBindPointGraphics, sig.Layout, 0, 1, []vk.DescriptorSet{l.context.bindless.set}, 0, nil)
}

func (l *CommandList) SetPipelineState(pso device.PipelineState) {
	if !l.recording() {
		return
	}
	p, ok := pso.(*VulkanPipeline)
	if !ok {
		l.fail(fmt.Errorf("foreign pipeline state: %w", core.ErrInvalidState))
		return
	}
	l.pipeline = p
	vk.CmdBindPipeline(l.Handle, vk.PipelineBindPointGraphics, p.Handle)
}

// SetPrimitiveTopology must match the pipeline, which bakes it in.
func (l *CommandList) SetPrimitiveTopology(t metadata.PrimitiveTopology) {
	if !l.recording() {
		return
	}
	if l.pipeline != nil && l.pipeline.desc.Topology != t {
		l.fail(fmt.Errorf("topology %d differs from pipeline %q: %w", t, l.pipeline.desc.Name, core.ErrUnsupported))
	}
}

func (l *CommandList) SetVertexBuffer(view metadata.VertexBufferView) {
	if !l.recording() {
		return
	}
	b, err := l.context.buffer(view.BufferLocation.ResourceID())
	if err != nil {
		l.fail(fmt.Errorf("vertex buffer view: %w", err))
		return
	}
	vk.CmdBindVertexBuffers(l.Handle, 0, 1, []vk.Buffer{b.Handle}, []vk.DeviceSize{vk.DeviceSize(view.BufferLocation.Offset())})
}

func (l *CommandList) SetIndexBuffer(view metadata.IndexBufferView) {
	if !l.recording() {
		return
	}
	b, err := l.context.buffer(view.BufferLocation.ResourceID())
	if err != nil {
		l.fail(fmt.Errorf("index buffer view: %w", err))
		return
	}
	indexType := vk.IndexTypeUint16
	if view.Format == metadata.IndexFormatUint32 {
		indexType = vk.IndexTypeUint32
	}
	vk.CmdBindIndexBuffer(l.Handle, b.Handle, vk.DeviceSize(view.BufferLocation.Offset()), indexType)
}

func (l *CommandList) SetRootConstantBuffer(rootIndex uint32, address metadata.GPUVirtualAddress) {
	if !l.recording() {
		return
	}
	if l.rootSig == nil || int(rootIndex) >= len(l.rootSig.desc.Parameters) {
		l.fail(fmt.Errorf("root parameter %d not in the bound signature: %w", rootIndex, core.ErrInvalidState))
		return
	}
	if address.Offset()%4 != 0 {
		l.fail(fmt.Errorf("constant buffer view %s is not word aligned: %w", address, core.ErrInvalidState))
		return
	}
	l.pushConstants(drawConstants{
		Mode:    drawModeDirect,
		CBVSlot: address.ResourceID(),
		CBVWord: uint32(address.Offset() / 4),
	})
}

func (l *CommandList) pushConstants(pc drawConstants) {
	vk.CmdPushConstants(l.Handle, l.rootSig.Layout, vk.ShaderStageFlags(vk.ShaderStageVertexBit), 0, drawConstantsSize, unsafe.Pointer(&pc))
}

func (l *CommandList) DrawIndexedInstanced(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	if !l.recording() || !l.beginPass() {
		return
	}
	vk.CmdDrawIndexed(l.Handle, indexCount, instanceCount, startIndex, baseVertex, startInstance)
}

func (l *CommandList) ExecuteIndirect(sig device.CommandSignature, maxCommandCount uint32, args device.Buffer, argsOffset uint64) {
	if !l.recording() {
		return
	}
	s, ok := sig.(*CommandSignature)
	if !ok {
		l.fail(fmt.Errorf("foreign command signature: %w", core.ErrSignatureMismatch))
		return
	}
	b, ok := args.(*Buffer)
	if !ok {
		l.fail(fmt.Errorf("foreign argument buffer: %w", core.ErrInvalidState))
		return
	}
	stride := uint64(s.desc.ByteStride)
	if argsOffset%4 != 0 || argsOffset > b.size || stride*uint64(maxCommandCount) > b.size-argsOffset {
		l.fail(fmt.Errorf("%d records of %d bytes at %q+%d: %w", maxCommandCount, stride, b.name, argsOffset, core.ErrOutOfBounds))
		return
	}
	if s.hasCBV && l.rootSig == nil {
		l.fail(fmt.Errorf("indirect constant buffer view without a root signature: %w", core.ErrInvalidState))
		return
	}
	if maxCommandCount == 0 || !l.beginPass() {
		return
	}
	if s.hasCBV {
		l.pushConstants(drawConstants{
			Mode:        drawModeIndirect,
			ArgsSlot:    b.id,
			ArgsWord:    uint32((argsOffset + uint64(s.cbvOffset)) / 4),
			StrideWords: s.desc.ByteStride / 4,
		})
	}
	vk.CmdDrawIndexedIndirect(l.Handle, b.Handle, vk.DeviceSize(argsOffset+uint64(s.drawOff)), maxCommandCount, s.desc.ByteStride)
}

// beginPass starts a render pass on the bound targets unless one is active.
func (l *CommandList) beginPass() bool {
	if l.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return true
	}
	if l.rt == nil {
		l.fail(fmt.Errorf("draw without a render target: %w", core.ErrInvalidState))
		return false
	}

	key := renderPassKey{
		Color:      l.rt.VkFormat,
		Depth:      vk.FormatUndefined,
		ClearColor: l.clearColor != nil,
	}
	clearValues := []vk.ClearValue{vk.NewClearValue([]float32{0, 0, 0, 0})}
	if l.clearColor != nil {
		clearValues[0] = vk.NewClearValue(l.clearColor[:])
	}
	if l.ds != nil {
		key.Depth = l.ds.VkFormat
		// Loading a depth buffer that was never written is undefined; clear it instead.
		key.ClearDepth = l.clearDepth != nil || !l.ds.initialized
		depth := float32(1)
		if l.clearDepth != nil {
			depth = *l.clearDepth
		}
		clearValues = append(clearValues, vk.NewClearDepthStencil(depth, 0))
		l.ds.initialized = true
	}

	pass, err := l.context.passes.get(key)
	if err != nil {
		l.fail(err)
		return false
	}
	fb, err := l.context.passes.framebuffer(pass, l.rt, l.ds)
	if err != nil {
		l.fail(err)
		return false
	}

	renderPassInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass,
		Framebuffer: fb.Handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: fb.Width, Height: fb.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(l.Handle, &renderPassInfo, vk.SubpassContentsInline)
	l.clearColor, l.clearDepth = nil, nil
	l.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
	return true
}

// endPass closes an active render pass. Clears still pending are flushed by
// an empty pass so they are not lost.
func (l *CommandList) endPass() {
	if l.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		if l.clearColor == nil && l.clearDepth == nil {
			return
		}
		if !l.beginPass() {
			return
		}
	}
	vk.CmdEndRenderPass(l.Handle)
	l.State = COMMAND_BUFFER_STATE_RECORDING
}

func (l *CommandList) Close() error {
	if l.State != COMMAND_BUFFER_STATE_RECORDING && l.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return fmt.Errorf("close of a list that is not open: %w", core.ErrCommandListClosed)
	}
	l.endPass()
	endErr := l.context.check("vkEndCommandBuffer", vk.EndCommandBuffer(l.Handle))
	l.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return errors.Join(l.err, endErr)
}

func (l *CommandList) Release() {
	l.Handle = nil
	l.alloc = nil
	l.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}
