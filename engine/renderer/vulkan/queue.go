package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
)

// submission is a batch of lists whose allocators stay busy until handle signals.
type submission struct {
	handle vk.Fence
	allocs []*CommandAllocator
}

/**
 * @brief The graphics queue. When a swapchain image has been acquired, the
 * next batch waits for it and signals the semaphore presentation waits on.
 */
type CommandQueue struct {
	context *VulkanContext
	Handle  vk.Queue
	family  uint32

	swapchain *Swapchain

	mu       sync.Mutex
	inflight []submission
}

func NewCommandQueue(context *VulkanContext) *CommandQueue {
	return &CommandQueue{
		context: context,
		Handle:  context.Device.GraphicsQueue,
		family:  uint32(context.Device.GraphicsQueueIndex),
	}
}

// retire releases allocators whose submissions finished.
func (q *CommandQueue) retire() {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, s := range q.inflight {
		if vk.GetFenceStatus(q.context.Device.LogicalDevice, s.handle) != vk.Success {
			break
		}
		for _, a := range s.allocs {
			a.completed()
		}
		vk.DestroyFence(q.context.Device.LogicalDevice, s.handle, q.context.Allocator)
		n++
	}
	q.inflight = q.inflight[n:]
}

func (q *CommandQueue) ExecuteCommandLists(lists ...device.CommandList) error {
	if err := q.context.removedReason(); err != nil {
		return err
	}
	q.retire()

	buffers := make([]vk.CommandBuffer, 0, len(lists))
	allocs := make([]*CommandAllocator, 0, len(lists))
	for _, list := range lists {
		l, ok := list.(*CommandList)
		if !ok {
			return fmt.Errorf("foreign command list: %w", core.ErrInvalidState)
		}
		if l.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
			return fmt.Errorf("execute of an open command list: %w", core.ErrCommandListOpen)
		}
		buffers = append(buffers, l.Handle)
		allocs = append(allocs, l.alloc)
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(buffers)),
		PCommandBuffers:    buffers,
	}
	if q.swapchain != nil {
		if wait, signal, ok := q.swapchain.consumeSemaphores(); ok {
			submitInfo.WaitSemaphoreCount = 1
			submitInfo.PWaitSemaphores = []vk.Semaphore{wait}
			submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{
				vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			}
			submitInfo.SignalSemaphoreCount = 1
			submitInfo.PSignalSemaphores = []vk.Semaphore{signal}
		}
	}

	handle, err := createSignalFence(q.context)
	if err != nil {
		return err
	}
	if err := q.context.locks.SafeQueueCall(q.family, func() error {
		return q.context.check("vkQueueSubmit", vk.QueueSubmit(q.Handle, 1, []vk.SubmitInfo{submitInfo}, handle))
	}); err != nil {
		vk.DestroyFence(q.context.Device.LogicalDevice, handle, q.context.Allocator)
		core.LogError(err.Error())
		return err
	}
	for _, a := range allocs {
		a.submitted(q)
	}
	q.mu.Lock()
	q.inflight = append(q.inflight, submission{handle: handle, allocs: allocs})
	q.mu.Unlock()
	return nil
}

func (q *CommandQueue) Signal(fence device.Fence, value uint64) error {
	if err := q.context.removedReason(); err != nil {
		return err
	}
	f, ok := fence.(*VulkanFence)
	if !ok {
		return fmt.Errorf("foreign fence: %w", core.ErrInvalidState)
	}
	handle, err := createSignalFence(q.context)
	if err != nil {
		return err
	}
	if err := q.context.locks.SafeQueueCall(q.family, func() error {
		return q.context.check("vkQueueSubmit", vk.QueueSubmit(q.Handle, 0, nil, handle))
	}); err != nil {
		vk.DestroyFence(q.context.Device.LogicalDevice, handle, q.context.Allocator)
		core.LogError(err.Error())
		return err
	}
	f.push(value, handle)
	q.retire()
	return nil
}

// waitIdle blocks until every submission finished.
func (q *CommandQueue) waitIdle() {
	_ = q.context.locks.SafeQueueCall(q.family, func() error {
		vk.QueueWaitIdle(q.Handle)
		return nil
	})
	q.retire()
}

func (q *CommandQueue) Release() {
	q.waitIdle()
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, s := range q.inflight {
		vk.DestroyFence(q.context.Device.LogicalDevice, s.handle, q.context.Allocator)
	}
	q.inflight = nil
}
