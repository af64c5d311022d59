package vulkan

import (
	"fmt"
	"sync"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-indirect/engine/core"
)

// pendingSignal is a queue signal that has been submitted but not yet observed.
type pendingSignal struct {
	value  uint64
	handle vk.Fence
}

/**
 * @brief A monotonically increasing completion counter built from binary
 * fences. Every Signal submits an empty batch with a fresh VkFence; since a
 * queue completes batches in order, the counter is the value of the newest
 * signaled fence.
 */
type VulkanFence struct {
	context *VulkanContext

	mu        sync.Mutex
	completed uint64
	pending   []pendingSignal
}

func NewFence(context *VulkanContext, initial uint64) *VulkanFence {
	return &VulkanFence{context: context, completed: initial}
}

func createSignalFence(context *VulkanContext) (vk.Fence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	var pFence vk.Fence
	if res := vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &pFence); res != vk.Success {
		return vk.NullFence, fmt.Errorf("failed to create fence: %s: %w", VulkanResultString(res, false), core.ErrResourceCreation)
	}
	return pFence, nil
}

// push records that handle will be signaled once value is reached.
func (vf *VulkanFence) push(value uint64, handle vk.Fence) {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	vf.pending = append(vf.pending, pendingSignal{value: value, handle: handle})
}

// retire destroys the first n pending fences and advances the counter.
// The caller holds mu.
func (vf *VulkanFence) retire(n int) {
	for _, p := range vf.pending[:n] {
		if p.value > vf.completed {
			vf.completed = p.value
		}
		vk.DestroyFence(vf.context.Device.LogicalDevice, p.handle, vf.context.Allocator)
	}
	vf.pending = vf.pending[n:]
}

func (vf *VulkanFence) CompletedValue() uint64 {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	n := 0
	for _, p := range vf.pending {
		if vk.GetFenceStatus(vf.context.Device.LogicalDevice, p.handle) != vk.Success {
			break
		}
		n++
	}
	vf.retire(n)
	return vf.completed
}

func (vf *VulkanFence) Wait(value uint64, timeout time.Duration) error {
	vf.mu.Lock()
	if vf.completed >= value {
		vf.mu.Unlock()
		return nil
	}
	target := -1
	for i, p := range vf.pending {
		if p.value >= value {
			target = i
			break
		}
	}
	if target < 0 {
		vf.mu.Unlock()
		// Nothing submitted will ever reach value; behave like a wait that expires.
		time.Sleep(timeout)
		if vf.CompletedValue() >= value {
			return nil
		}
		err := fmt.Errorf("fence value %d never signaled within %s: %w", value, timeout, core.ErrFenceTimeout)
		core.LogError(err.Error())
		return err
	}
	handle := vf.pending[target].handle
	vf.mu.Unlock()

	result := vk.WaitForFences(vf.context.Device.LogicalDevice, 1, []vk.Fence{handle}, vk.True, uint64(timeout.Nanoseconds()))
	switch result {
	case vk.Success:
		vf.mu.Lock()
		// Another waiter may have retired the handle meanwhile.
		for i, p := range vf.pending {
			if p.handle == handle {
				vf.retire(i + 1)
				break
			}
		}
		if vf.completed < value {
			vf.completed = value
		}
		vf.mu.Unlock()
		return nil
	case vk.Timeout:
		err := fmt.Errorf("waiting for fence value %d after %s: %w", value, timeout, core.ErrFenceTimeout)
		core.LogError(err.Error())
		return err
	default:
		return vf.context.check("vkWaitForFences", result)
	}
}

func (vf *VulkanFence) Release() {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	for _, p := range vf.pending {
		vk.DestroyFence(vf.context.Device.LogicalDevice, p.handle, vf.context.Allocator)
	}
	vf.pending = nil
}
