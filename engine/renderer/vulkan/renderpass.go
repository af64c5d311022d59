package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-indirect/engine/core"
)

// renderPassKey identifies a render pass by its attachment formats and load
// operations. Passes differing only in load ops are compatible, so pipelines
// built against one work with all of them.
type renderPassKey struct {
	Color      vk.Format
	Depth      vk.Format
	ClearColor bool
	ClearDepth bool
}

type renderPassCache struct {
	context *VulkanContext
	mu      sync.Mutex
	passes  map[renderPassKey]vk.RenderPass
	fbs     map[framebufferKey]*VulkanFramebuffer
}

func newRenderPassCache(context *VulkanContext) *renderPassCache {
	return &renderPassCache{
		context: context,
		passes:  make(map[renderPassKey]vk.RenderPass),
		fbs:     make(map[framebufferKey]*VulkanFramebuffer),
	}
}

func loadOp(clear bool) vk.AttachmentLoadOp {
	if clear {
		return vk.AttachmentLoadOpClear
	}
	return vk.AttachmentLoadOpLoad
}

// initialLayout is undefined for cleared attachments since their content is
// overwritten anyway.
func initialLayout(clear bool, steady vk.ImageLayout) vk.ImageLayout {
	if clear {
		return vk.ImageLayoutUndefined
	}
	return steady
}

func (c *renderPassCache) get(key renderPassKey) (vk.RenderPass, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rp, ok := c.passes[key]; ok {
		return rp, nil
	}

	var rp vk.RenderPass
	err := c.context.locks.SafeCall(RenderpassManagement, func() error {
		attachments := []vk.AttachmentDescription{{
			Format:         key.Color,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         loadOp(key.ClearColor),
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  initialLayout(key.ClearColor, vk.ImageLayoutColorAttachmentOptimal),
			// Transitions out of the render target state are explicit barriers.
			FinalLayout: vk.ImageLayoutColorAttachmentOptimal,
		}}
		colorAttachmentReference := []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}}
		subpass := vk.SubpassDescription{
			PipelineBindPoint:    vk.PipelineBindPointGraphics,
			ColorAttachmentCount: 1,
			PColorAttachments:    colorAttachmentReference,
		}

		if key.Depth != vk.FormatUndefined {
			attachments = append(attachments, vk.AttachmentDescription{
				Format:         key.Depth,
				Samples:        vk.SampleCount1Bit,
				LoadOp:         loadOp(key.ClearDepth),
				StoreOp:        vk.AttachmentStoreOpStore,
				StencilLoadOp:  vk.AttachmentLoadOpDontCare,
				StencilStoreOp: vk.AttachmentStoreOpDontCare,
				InitialLayout:  initialLayout(key.ClearDepth, vk.ImageLayoutDepthStencilAttachmentOptimal),
				FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
			})
			subpass.PDepthStencilAttachment = &vk.AttachmentReference{
				Attachment: 1,
				Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
			}
		}

		dependency := vk.SubpassDependency{
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
			SrcAccessMask: 0,
			DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
		}

		createInfo := vk.RenderPassCreateInfo{
			SType:           vk.StructureTypeRenderPassCreateInfo,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
			SubpassCount:    1,
			PSubpasses:      []vk.SubpassDescription{subpass},
			DependencyCount: 1,
			PDependencies:   []vk.SubpassDependency{dependency},
		}
		if err := vk.Error(vk.CreateRenderPass(c.context.Device.LogicalDevice, &createInfo, c.context.Allocator, &rp)); err != nil {
			return fmt.Errorf("vkCreateRenderPass: %s: %w", err, core.ErrResourceCreation)
		}
		return nil
	})
	if err != nil {
		core.LogError(err.Error())
		return vk.NullRenderPass, err
	}
	core.LogDebug("render pass created (clear color %t, clear depth %t)", key.ClearColor, key.ClearDepth)
	c.passes[key] = rp
	return rp, nil
}

// framebuffer returns the framebuffer binding color and depth for pass.
func (c *renderPassCache) framebuffer(pass vk.RenderPass, color, depth *VulkanImage) (*VulkanFramebuffer, error) {
	key := framebufferKey{pass: pass, color: color.View}
	width, height := color.width, color.height
	attachments := []vk.ImageView{color.View}
	if depth != nil {
		key.depth = depth.View
		attachments = append(attachments, depth.View)
		width = min(width, depth.width)
		height = min(height, depth.height)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if fb, ok := c.fbs[key]; ok {
		return fb, nil
	}
	fb, err := FramebufferCreate(c.context, pass, width, height, attachments)
	if err != nil {
		return nil, err
	}
	c.fbs[key] = fb
	return fb, nil
}

// forgetView destroys every framebuffer referencing view. The caller
// guarantees the device no longer uses them.
func (c *renderPassCache) forgetView(view vk.ImageView) {
	if c == nil || view == vk.NullImageView {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, fb := range c.fbs {
		if key.color == view || key.depth == view {
			fb.Destroy(c.context)
			delete(c.fbs, key)
		}
	}
}

func (c *renderPassCache) destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, fb := range c.fbs {
		fb.Destroy(c.context)
		delete(c.fbs, key)
	}
	for key, rp := range c.passes {
		vk.DestroyRenderPass(c.context.Device.LogicalDevice, rp, c.context.Allocator)
		delete(c.passes, key)
	}
}
