package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-indirect/engine/core"
)

// VulkanContext is the state shared by every object created from a Device.
type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugMessenger vk.DebugReportCallback

	Device *VulkanDevice

	// Framebuffer size reported by the window at creation.
	FramebufferWidth  uint32
	FramebufferHeight uint32

	locks *VulkanLockPool

	// Buffer ids double as slots of the bindless descriptor table.
	ids     core.IdentifierPool
	mu      sync.Mutex
	buffers map[uint32]*Buffer
	removed error

	bindless *bindlessTable
	passes   *renderPassCache
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(vc.Device.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

func (vc *VulkanContext) registerBuffer(b *Buffer) error {
	id := vc.ids.Acquire(b)
	if id >= maxBindlessBuffers {
		_ = vc.ids.Release(id)
		return fmt.Errorf("buffer %q: bindless table full (%d slots): %w", b.name, maxBindlessBuffers, core.ErrResourceCreation)
	}
	b.id = id
	vc.mu.Lock()
	vc.buffers[id] = b
	vc.mu.Unlock()
	return nil
}

func (vc *VulkanContext) unregisterBuffer(b *Buffer) {
	vc.mu.Lock()
	delete(vc.buffers, b.id)
	vc.mu.Unlock()
	_ = vc.ids.Release(b.id)
}

// buffer resolves the buffer a virtual address points into.
func (vc *VulkanContext) buffer(id uint32) (*Buffer, error) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	b, ok := vc.buffers[id]
	if !ok {
		return nil, fmt.Errorf("no buffer with id %d: %w", id, core.ErrOutOfBounds)
	}
	return b, nil
}

// check converts a failing result into an error, marking the device lost
// when the driver says so.
func (vc *VulkanContext) check(op string, res vk.Result) error {
	if VulkanResultIsSuccess(res) {
		return nil
	}
	if res == vk.ErrorDeviceLost {
		vc.mu.Lock()
		if vc.removed == nil {
			vc.removed = fmt.Errorf("%s: %w", op, core.ErrDeviceRemoved)
			core.LogError(vc.removed.Error())
		}
		err := vc.removed
		vc.mu.Unlock()
		return err
	}
	return fmt.Errorf("%s failed with %s", op, VulkanResultString(res, true))
}

func (vc *VulkanContext) removedReason() error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.removed
}
