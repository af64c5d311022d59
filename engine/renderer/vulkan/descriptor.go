package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

/** @brief Number of storage buffer slots shaders can index. Slot 0 is never used by a live buffer. */
const maxBindlessBuffers uint32 = 64

/**
 * @brief A single descriptor set holding an array of storage buffers indexed by
 * buffer id. Shaders turn a virtual address into a slot and a word offset, so
 * constant buffer views and indirect records can be fetched without
 * per-draw descriptor updates.
 */
type bindlessTable struct {
	context *VulkanContext
	layout  vk.DescriptorSetLayout
	pool    vk.DescriptorPool
	set     vk.DescriptorSet
	// Backs every unused slot so the whole array stays valid.
	dummy *Buffer
}

func newBindlessTable(context *VulkanContext) (*bindlessTable, error) {
	t := &bindlessTable{context: context}
	logical := context.Device.LogicalDevice

	err := context.locks.SafeCall(DescriptorManagement, func() error {
		binding := vk.DescriptorSetLayoutBinding{
			Binding:         0,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: maxBindlessBuffers,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit),
		}
		layoutInfo := vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: 1,
			PBindings:    []vk.DescriptorSetLayoutBinding{binding},
		}
		var layout vk.DescriptorSetLayout
		if err := vk.Error(vk.CreateDescriptorSetLayout(logical, &layoutInfo, context.Allocator, &layout)); err != nil {
			return fmt.Errorf("vkCreateDescriptorSetLayout: %s", err)
		}
		t.layout = layout

		poolInfo := vk.DescriptorPoolCreateInfo{
			SType:         vk.StructureTypeDescriptorPoolCreateInfo,
			MaxSets:       1,
			PoolSizeCount: 1,
			PPoolSizes: []vk.DescriptorPoolSize{{
				Type:            vk.DescriptorTypeStorageBuffer,
				DescriptorCount: maxBindlessBuffers,
			}},
		}
		var pool vk.DescriptorPool
		if err := vk.Error(vk.CreateDescriptorPool(logical, &poolInfo, context.Allocator, &pool)); err != nil {
			return fmt.Errorf("vkCreateDescriptorPool: %s", err)
		}
		t.pool = pool

		allocInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{layout},
		}
		var set vk.DescriptorSet
		if err := vk.Error(vk.AllocateDescriptorSets(logical, &allocInfo, &set)); err != nil {
			return fmt.Errorf("vkAllocateDescriptorSets: %s", err)
		}
		t.set = set
		return nil
	})
	if err != nil {
		err = fmt.Errorf("bindless table: %w: %w", core.ErrResourceCreation, err)
		core.LogError(err.Error())
		t.destroy()
		return nil, err
	}

	// The dummy buffer is created through the table itself, so it must exist first.
	context.bindless = t
	dummy, err := NewBuffer(context, metadata.BufferDesc{
		Name:         "bindless-dummy",
		Size:         256,
		Heap:         metadata.HeapTypeDefault,
		InitialState: metadata.ResourceStateCommon,
	})
	if err != nil {
		t.destroy()
		context.bindless = nil
		return nil, err
	}
	t.dummy = dummy
	for slot := uint32(0); slot < maxBindlessBuffers; slot++ {
		if slot != dummy.id {
			t.write(slot, dummy)
		}
	}
	return t, nil
}

// write points slot at b. Slots must not be rewritten while a list using the
// set is executing.
func (t *bindlessTable) write(slot uint32, b *Buffer) {
	_ = t.context.locks.SafeCall(DescriptorManagement, func() error {
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          t.set,
			DstBinding:      0,
			DstArrayElement: slot,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: b.Handle,
				Offset: 0,
				Range:  vk.DeviceSize(b.size),
			}},
		}
		vk.UpdateDescriptorSets(t.context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
		return nil
	})
}

func (t *bindlessTable) clear(slot uint32) {
	if t.dummy == nil || t.dummy.id == slot {
		return
	}
	t.write(slot, t.dummy)
}

func (t *bindlessTable) destroy() {
	if t.dummy != nil {
		dummy := t.dummy
		t.dummy = nil
		dummy.Release()
	}
	logical := t.context.Device.LogicalDevice
	_ = t.context.locks.SafeCall(DescriptorManagement, func() error {
		if t.pool != vk.NullDescriptorPool {
			vk.DestroyDescriptorPool(logical, t.pool, t.context.Allocator)
			t.pool = vk.NullDescriptorPool
		}
		if t.layout != vk.NullDescriptorSetLayout {
			vk.DestroyDescriptorSetLayout(logical, t.layout, t.context.Allocator)
			t.layout = vk.NullDescriptorSetLayout
		}
		return nil
	})
}
