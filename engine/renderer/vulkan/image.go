package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

/**
 * @brief A 2D image with a single view. Swapchain images are owned by the
 * swapchain and only their views are destroyed here.
 */
type VulkanImage struct {
	context *VulkanContext
	name    string
	format  metadata.Format
	aspect  vk.ImageAspectFlags

	Handle   vk.Image
	Memory   vk.DeviceMemory
	View     vk.ImageView
	VkFormat vk.Format
	width    uint32
	height   uint32

	// Content is undefined until the first barrier moves it into a real layout.
	initialized bool
	owned       bool
	released    bool
}

func (img *VulkanImage) Name() string {
	return img.name
}

// GPUVirtualAddress is zero: images are never addressed from shaders.
func (img *VulkanImage) GPUVirtualAddress() metadata.GPUVirtualAddress {
	return 0
}

func (img *VulkanImage) Size() uint64 {
	return uint64(img.width) * uint64(img.height) * 4
}

func (img *VulkanImage) Width() uint32 {
	return img.width
}

func (img *VulkanImage) Height() uint32 {
	return img.height
}

func (img *VulkanImage) Format() metadata.Format {
	return img.format
}

func (img *VulkanImage) Release() {
	if img.released {
		return
	}
	img.released = true
	img.context.passes.forgetView(img.View)
	img.destroy()
}

func (img *VulkanImage) destroy() {
	logical := img.context.Device.LogicalDevice
	_ = img.context.locks.SafeCall(ImageManagement, func() error {
		if img.View != vk.NullImageView {
			vk.DestroyImageView(logical, img.View, img.context.Allocator)
			img.View = vk.NullImageView
		}
		if img.owned {
			if img.Handle != vk.NullImage {
				vk.DestroyImage(logical, img.Handle, img.context.Allocator)
			}
			if img.Memory != vk.NullDeviceMemory {
				vk.FreeMemory(logical, img.Memory, img.context.Allocator)
			}
		}
		img.Handle = vk.NullImage
		img.Memory = vk.NullDeviceMemory
		return nil
	})
}

func ImageCreate(context *VulkanContext, name string, width, height uint32, format vk.Format, usage vk.ImageUsageFlags, aspect vk.ImageAspectFlags) (*VulkanImage, error) {
	img := &VulkanImage{
		context:  context,
		name:     name,
		aspect:   aspect,
		VkFormat: format,
		width:    width,
		height:   height,
		owned:    true,
	}
	logical := context.Device.LogicalDevice

	err := context.locks.SafeCall(ImageManagement, func() error {
		imageInfo := vk.ImageCreateInfo{
			SType:     vk.StructureTypeImageCreateInfo,
			ImageType: vk.ImageType2d,
			Format:    format,
			Extent: vk.Extent3D{
				Width:  width,
				Height: height,
				Depth:  1,
			},
			MipLevels:     1,
			ArrayLayers:   1,
			Samples:       vk.SampleCount1Bit,
			Tiling:        vk.ImageTilingOptimal,
			Usage:         usage,
			SharingMode:   vk.SharingModeExclusive,
			InitialLayout: vk.ImageLayoutUndefined,
		}
		var handle vk.Image
		if err := vk.Error(vk.CreateImage(logical, &imageInfo, context.Allocator, &handle)); err != nil {
			return fmt.Errorf("vkCreateImage: %s", err)
		}
		img.Handle = handle

		var requirements vk.MemoryRequirements
		vk.GetImageMemoryRequirements(logical, handle, &requirements)
		requirements.Deref()

		index := context.FindMemoryIndex(requirements.MemoryTypeBits, uint32(vk.MemoryPropertyDeviceLocalBit))
		if index < 0 {
			return fmt.Errorf("no device local memory type for image")
		}
		allocInfo := vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  requirements.Size,
			MemoryTypeIndex: uint32(index),
		}
		var memory vk.DeviceMemory
		if err := vk.Error(vk.AllocateMemory(logical, &allocInfo, context.Allocator, &memory)); err != nil {
			return fmt.Errorf("vkAllocateMemory: %s", err)
		}
		img.Memory = memory
		if err := vk.Error(vk.BindImageMemory(logical, handle, memory, 0)); err != nil {
			return fmt.Errorf("vkBindImageMemory: %s", err)
		}
		return nil
	})
	if err == nil {
		err = img.createView()
	}
	if err != nil {
		err = fmt.Errorf("image %q: %w: %w", name, core.ErrResourceCreation, err)
		core.LogError(err.Error())
		img.destroy()
		return nil, err
	}
	return img, nil
}

func (img *VulkanImage) createView() error {
	return img.context.locks.SafeCall(ImageManagement, func() error {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    img.Handle,
			ViewType: vk.ImageViewType2d,
			Format:   img.VkFormat,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     img.aspect,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		}
		var view vk.ImageView
		if err := vk.Error(vk.CreateImageView(img.context.Device.LogicalDevice, &viewInfo, img.context.Allocator, &view)); err != nil {
			return fmt.Errorf("vkCreateImageView: %s", err)
		}
		img.View = view
		return nil
	})
}
