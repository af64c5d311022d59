package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

// stateUsage is how a resource state translates to synchronization scopes.
type stateUsage struct {
	Access vk.AccessFlags
	Stage  vk.PipelineStageFlags
	Layout vk.ImageLayout
}

func usageOf(state metadata.ResourceState) stateUsage {
	switch state {
	case metadata.ResourceStatePresent:
		return stateUsage{
			Access: 0,
			Stage:  vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
			Layout: vk.ImageLayoutPresentSrc,
		}
	case metadata.ResourceStateRenderTarget:
		return stateUsage{
			Access: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
			Stage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			Layout: vk.ImageLayoutColorAttachmentOptimal,
		}
	case metadata.ResourceStateDepthWrite:
		return stateUsage{
			Access: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit),
			Stage:  vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit),
			Layout: vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	case metadata.ResourceStateCopySource:
		return stateUsage{
			Access: vk.AccessFlags(vk.AccessTransferReadBit),
			Stage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			Layout: vk.ImageLayoutTransferSrcOptimal,
		}
	case metadata.ResourceStateCopyDest:
		return stateUsage{
			Access: vk.AccessFlags(vk.AccessTransferWriteBit),
			Stage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			Layout: vk.ImageLayoutTransferDstOptimal,
		}
	case metadata.ResourceStateIndirectArgument:
		// Records are read by the draw and by the vertex shader fetching the view address.
		return stateUsage{
			Access: vk.AccessFlags(vk.AccessIndirectCommandReadBit | vk.AccessShaderReadBit),
			Stage:  vk.PipelineStageFlags(vk.PipelineStageDrawIndirectBit | vk.PipelineStageVertexShaderBit),
			Layout: vk.ImageLayoutGeneral,
		}
	case metadata.ResourceStateVertexAndConstantBuffer:
		return stateUsage{
			Access: vk.AccessFlags(vk.AccessVertexAttributeReadBit | vk.AccessUniformReadBit | vk.AccessShaderReadBit),
			Stage:  vk.PipelineStageFlags(vk.PipelineStageVertexInputBit | vk.PipelineStageVertexShaderBit),
			Layout: vk.ImageLayoutGeneral,
		}
	case metadata.ResourceStateIndexBuffer:
		return stateUsage{
			Access: vk.AccessFlags(vk.AccessIndexReadBit),
			Stage:  vk.PipelineStageFlags(vk.PipelineStageVertexInputBit),
			Layout: vk.ImageLayoutGeneral,
		}
	case metadata.ResourceStateGenericRead:
		return stateUsage{
			Access: vk.AccessFlags(vk.AccessHostWriteBit | vk.AccessTransferReadBit | vk.AccessShaderReadBit |
				vk.AccessIndirectCommandReadBit | vk.AccessVertexAttributeReadBit | vk.AccessIndexReadBit),
			Stage:  vk.PipelineStageFlags(vk.PipelineStageHostBit | vk.PipelineStageAllCommandsBit),
			Layout: vk.ImageLayoutGeneral,
		}
	default:
		return stateUsage{
			Access: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
			Stage:  vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
			Layout: vk.ImageLayoutGeneral,
		}
	}
}

// barrierBatch collects the barriers of one ResourceBarrier call so they are
// issued as a single pipeline barrier.
type barrierBatch struct {
	src, dst vk.PipelineStageFlags
	buffers  []vk.BufferMemoryBarrier
	images   []vk.ImageMemoryBarrier
}

func (bb *barrierBatch) addBuffer(b *Buffer, before, after metadata.ResourceState) {
	from, to := usageOf(before), usageOf(after)
	bb.src |= from.Stage
	bb.dst |= to.Stage
	bb.buffers = append(bb.buffers, vk.BufferMemoryBarrier{
		SType:               vk.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       from.Access,
		DstAccessMask:       to.Access,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Buffer:              b.Handle,
		Offset:              0,
		Size:                vk.DeviceSize(b.size),
	})
}

func (bb *barrierBatch) addImage(img *VulkanImage, before, after metadata.ResourceState) {
	from, to := usageOf(before), usageOf(after)
	oldLayout := from.Layout
	if !img.initialized {
		// Nothing worth keeping yet.
		oldLayout = vk.ImageLayoutUndefined
		img.initialized = true
	}
	bb.src |= from.Stage
	bb.dst |= to.Stage
	bb.images = append(bb.images, vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       from.Access,
		DstAccessMask:       to.Access,
		OldLayout:           oldLayout,
		NewLayout:           to.Layout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.Handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     img.aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
}

func (bb *barrierBatch) empty() bool {
	return len(bb.buffers) == 0 && len(bb.images) == 0
}

func (bb *barrierBatch) record(cmd vk.CommandBuffer) {
	if bb.empty() {
		return
	}
	vk.CmdPipelineBarrier(
		cmd,
		bb.src, bb.dst,
		0,
		0, nil,
		uint32(len(bb.buffers)), bb.buffers,
		uint32(len(bb.images)), bb.images,
	)
}
