package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

/**
 * @brief A device buffer. Upload heap buffers are host visible, coherent and
 * mapped for their whole life; default heap buffers are device local.
 */
type Buffer struct {
	context *VulkanContext
	id      uint32
	name    string
	size    uint64
	heap    metadata.HeapType

	Handle vk.Buffer
	Memory vk.DeviceMemory
	mapped []byte

	released bool
}

func bufferUsageFlags(usage metadata.BufferUsage) vk.BufferUsageFlags {
	// Every buffer is reachable from shaders through the bindless table and
	// may take part in copies.
	flags := vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit | vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit)
	if usage&metadata.BufferUsageVertex != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	}
	if usage&metadata.BufferUsageIndex != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	}
	if usage&metadata.BufferUsageConstant != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	}
	if usage&metadata.BufferUsageIndirect != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit)
	}
	return flags
}

func heapMemoryFlags(heap metadata.HeapType) vk.MemoryPropertyFlags {
	if heap == metadata.HeapTypeUpload {
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	return vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
}

func NewBuffer(context *VulkanContext, desc metadata.BufferDesc) (*Buffer, error) {
	if desc.Size == 0 || desc.Size >= metadata.MaxResourceSize {
		return nil, fmt.Errorf("buffer %q size %d: %w", desc.Name, desc.Size, core.ErrResourceCreation)
	}
	if desc.Heap == metadata.HeapTypeUpload && desc.InitialState != metadata.ResourceStateGenericRead {
		return nil, fmt.Errorf("upload buffer %q must start in %s: %w", desc.Name, metadata.ResourceStateGenericRead, core.ErrInvalidState)
	}

	b := &Buffer{
		context: context,
		name:    desc.Name,
		size:    desc.Size,
		heap:    desc.Heap,
	}
	logical := context.Device.LogicalDevice

	err := context.locks.SafeCall(BufferManagement, func() error {
		bufferInfo := vk.BufferCreateInfo{
			SType:       vk.StructureTypeBufferCreateInfo,
			Size:        vk.DeviceSize(desc.Size),
			Usage:       bufferUsageFlags(desc.Usage),
			SharingMode: vk.SharingModeExclusive,
		}
		var handle vk.Buffer
		if err := vk.Error(vk.CreateBuffer(logical, &bufferInfo, context.Allocator, &handle)); err != nil {
			return fmt.Errorf("vkCreateBuffer %q: %s: %w", desc.Name, err, core.ErrResourceCreation)
		}
		b.Handle = handle

		var requirements vk.MemoryRequirements
		vk.GetBufferMemoryRequirements(logical, handle, &requirements)
		requirements.Deref()

		index := context.FindMemoryIndex(requirements.MemoryTypeBits, uint32(heapMemoryFlags(desc.Heap)))
		if index < 0 {
			return fmt.Errorf("no %s memory type for %q: %w", desc.Heap, desc.Name, core.ErrResourceCreation)
		}
		allocInfo := vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  requirements.Size,
			MemoryTypeIndex: uint32(index),
		}
		var memory vk.DeviceMemory
		if err := vk.Error(vk.AllocateMemory(logical, &allocInfo, context.Allocator, &memory)); err != nil {
			return fmt.Errorf("vkAllocateMemory %q: %s: %w", desc.Name, err, core.ErrResourceCreation)
		}
		b.Memory = memory

		if err := vk.Error(vk.BindBufferMemory(logical, handle, memory, 0)); err != nil {
			return fmt.Errorf("vkBindBufferMemory %q: %s: %w", desc.Name, err, core.ErrResourceCreation)
		}

		if desc.Heap == metadata.HeapTypeUpload {
			var pData unsafe.Pointer
			if err := vk.Error(vk.MapMemory(logical, memory, 0, vk.DeviceSize(desc.Size), 0, &pData)); err != nil {
				return fmt.Errorf("vkMapMemory %q: %s: %w", desc.Name, err, core.ErrResourceCreation)
			}
			b.mapped = unsafe.Slice((*byte)(pData), desc.Size)
		}
		return nil
	})
	if err != nil {
		core.LogError(err.Error())
		b.destroy()
		return nil, err
	}

	if err := context.registerBuffer(b); err != nil {
		core.LogError(err.Error())
		b.destroy()
		return nil, err
	}
	context.bindless.write(b.id, b)
	return b, nil
}

func (b *Buffer) Name() string {
	return b.name
}

func (b *Buffer) GPUVirtualAddress() metadata.GPUVirtualAddress {
	return metadata.NewGPUVirtualAddress(b.id, 0)
}

func (b *Buffer) Size() uint64 {
	return b.size
}

func (b *Buffer) Heap() metadata.HeapType {
	return b.heap
}

func (b *Buffer) Map() ([]byte, error) {
	if b.heap != metadata.HeapTypeUpload {
		err := fmt.Errorf("map %q: %w", b.name, core.ErrNotMappable)
		core.LogError(err.Error())
		return nil, err
	}
	return b.mapped, nil
}

// Unmap is a no-op: upload buffers stay mapped until released.
func (b *Buffer) Unmap() {}

func (b *Buffer) Release() {
	if b.released {
		return
	}
	b.released = true
	b.context.bindless.clear(b.id)
	b.context.unregisterBuffer(b)
	b.destroy()
}

func (b *Buffer) destroy() {
	logical := b.context.Device.LogicalDevice
	_ = b.context.locks.SafeCall(BufferManagement, func() error {
		if b.mapped != nil {
			vk.UnmapMemory(logical, b.Memory)
			b.mapped = nil
		}
		if b.Handle != vk.NullBuffer {
			vk.DestroyBuffer(logical, b.Handle, b.context.Allocator)
			b.Handle = vk.NullBuffer
		}
		if b.Memory != vk.NullDeviceMemory {
			vk.FreeMemory(logical, b.Memory, b.context.Allocator)
			b.Memory = vk.NullDeviceMemory
		}
		return nil
	})
}
