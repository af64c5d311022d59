package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

type VulkanSwapchainSupportInfo struct {
	Capabilities     vk.SurfaceCapabilities
	FormatCount      uint32
	Formats          []vk.SurfaceFormat
	PresentModeCount uint32
	PresentModes     []vk.PresentMode
}

/**
 * @brief The presentation engine's images. The image for a frame is acquired
 * by CurrentBackBufferIndex and stays current until Present. Back buffer
 * objects are stable across recreation so state tracking keeps working.
 */
type Swapchain struct {
	context *VulkanContext
	queue   *CommandQueue
	desc    metadata.SwapChainDesc
	vsync   bool
	extent  func() (uint32, uint32)

	ImageFormat vk.SurfaceFormat
	Handle      vk.Swapchain
	images      []*VulkanImage

	imageAvailable []vk.Semaphore
	renderComplete []vk.Semaphore
	semIndex       int

	acquired    bool
	imageIndex  uint32
	waitPending bool
	signaled    bool
	outOfDate   bool
}

func NewSwapchain(context *VulkanContext, queue *CommandQueue, desc metadata.SwapChainDesc, format vk.SurfaceFormat, vsync bool, extent func() (uint32, uint32)) (*Swapchain, error) {
	sc := &Swapchain{
		context:     context,
		queue:       queue,
		desc:        desc,
		vsync:       vsync,
		extent:      extent,
		ImageFormat: format,
	}
	if err := sc.create(); err != nil {
		sc.Release()
		return nil, err
	}

	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	sc.imageAvailable = make([]vk.Semaphore, len(sc.images))
	sc.renderComplete = make([]vk.Semaphore, len(sc.images))
	for i := range sc.images {
		if res := vk.CreateSemaphore(context.Device.LogicalDevice, &semaphoreCreateInfo, context.Allocator, &sc.imageAvailable[i]); res != vk.Success {
			sc.Release()
			return nil, fmt.Errorf("failed to create semaphore on image available: %w", core.ErrResourceCreation)
		}
		if res := vk.CreateSemaphore(context.Device.LogicalDevice, &semaphoreCreateInfo, context.Allocator, &sc.renderComplete[i]); res != vk.Success {
			sc.Release()
			return nil, fmt.Errorf("failed to create semaphore on queue complete: %w", core.ErrResourceCreation)
		}
	}
	queue.swapchain = sc
	core.LogInfo("Swapchain created successfully (%d images).", len(sc.images))
	return sc, nil
}

func (sc *Swapchain) presentMode() vk.PresentMode {
	support := sc.context.Device.SwapchainSupport
	if sc.vsync {
		return vk.PresentModeFifo
	}
	for _, mode := range support.PresentModes {
		if mode == vk.PresentModeMailbox || mode == vk.PresentModeImmediate {
			return mode
		}
	}
	return vk.PresentModeFifo
}

func (sc *Swapchain) create() error {
	vd := sc.context.Device
	if err := DeviceQuerySwapchainSupport(vd.PhysicalDevice, sc.context.Surface, &vd.SwapchainSupport); err != nil {
		return err
	}
	caps := vd.SwapchainSupport.Capabilities

	width, height := sc.desc.Width, sc.desc.Height
	if sc.extent != nil {
		width, height = sc.extent()
	}
	swapchainExtent := vk.Extent2D{Width: width, Height: height}
	if caps.CurrentExtent.Width != math.MaxUint32 {
		swapchainExtent = caps.CurrentExtent
	}
	swapchainExtent.Width = MathClamp(swapchainExtent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	swapchainExtent.Height = MathClamp(swapchainExtent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)

	imageCount := max(sc.desc.BufferCount, caps.MinImageCount)
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          sc.context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      sc.ImageFormat.Format,
		ImageColorSpace:  sc.ImageFormat.ColorSpace,
		ImageExtent:      swapchainExtent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      sc.presentMode(),
		Clipped:          vk.True,
		OldSwapchain:     sc.Handle,
	}
	if vd.GraphicsQueueIndex != vd.PresentQueueIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{
			uint32(vd.GraphicsQueueIndex),
			uint32(vd.PresentQueueIndex),
		}
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var handle vk.Swapchain
	if err := sc.context.locks.SafeCall(SwapchainManagement, func() error {
		if res := vk.CreateSwapchain(vd.LogicalDevice, &swapchainCreateInfo, sc.context.Allocator, &handle); res != vk.Success {
			return fmt.Errorf("failed to create swapchain: %s: %w", VulkanResultString(res, false), core.ErrResourceCreation)
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return err
	}
	if sc.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(vd.LogicalDevice, sc.Handle, sc.context.Allocator)
	}
	sc.Handle = handle

	var count uint32
	if res := vk.GetSwapchainImages(vd.LogicalDevice, handle, &count, nil); res != vk.Success {
		return fmt.Errorf("failed to get swapchain images: %w", core.ErrResourceCreation)
	}
	handles := make([]vk.Image, count)
	if res := vk.GetSwapchainImages(vd.LogicalDevice, handle, &count, handles); res != vk.Success {
		return fmt.Errorf("failed to get swapchain images: %w", core.ErrResourceCreation)
	}
	if sc.images != nil && int(count) != len(sc.images) {
		return fmt.Errorf("recreated swapchain has %d images instead of %d: %w", count, len(sc.images), core.ErrUnsupported)
	}

	for i := range handles {
		if sc.images == nil || i >= len(sc.images) {
			sc.images = append(sc.images, &VulkanImage{
				context:  sc.context,
				name:     fmt.Sprintf("back-buffer-%d", i),
				format:   sc.desc.Format,
				aspect:   vk.ImageAspectFlags(vk.ImageAspectColorBit),
				VkFormat: sc.ImageFormat.Format,
			})
		}
		img := sc.images[i]
		img.Handle = handles[i]
		img.width = swapchainExtent.Width
		img.height = swapchainExtent.Height
		img.initialized = false
		if err := img.createView(); err != nil {
			return fmt.Errorf("back buffer %d: %w: %w", i, core.ErrResourceCreation, err)
		}
	}
	return nil
}

// recreate rebuilds the swapchain after the surface changed.
func (sc *Swapchain) recreate() error {
	vk.DeviceWaitIdle(sc.context.Device.LogicalDevice)
	sc.destroyViews()
	sc.acquired, sc.waitPending, sc.signaled, sc.outOfDate = false, false, false, false
	if err := sc.create(); err != nil {
		core.LogError("swapchain recreation failed: %s", err)
		return err
	}
	core.LogInfo("Swapchain recreated.")
	return nil
}

func (sc *Swapchain) destroyViews() {
	for _, img := range sc.images {
		sc.context.passes.forgetView(img.View)
		if img.View != vk.NullImageView {
			vk.DestroyImageView(sc.context.Device.LogicalDevice, img.View, sc.context.Allocator)
			img.View = vk.NullImageView
		}
	}
}

// consumeSemaphores hands the acquire wait and the render complete signal to
// the first submission after an acquire.
func (sc *Swapchain) consumeSemaphores() (wait, signal vk.Semaphore, ok bool) {
	if !sc.acquired || !sc.waitPending {
		return vk.NullSemaphore, vk.NullSemaphore, false
	}
	sc.waitPending = false
	sc.signaled = true
	return sc.imageAvailable[sc.semIndex], sc.renderComplete[sc.imageIndex], true
}

func (sc *Swapchain) BufferCount() uint32 {
	return uint32(len(sc.images))
}

func (sc *Swapchain) CurrentBackBufferIndex() (uint32, error) {
	if sc.acquired {
		return sc.imageIndex, nil
	}
	if sc.outOfDate {
		if err := sc.recreate(); err != nil {
			return 0, err
		}
		return 0, core.ErrSwapchainBooting
	}

	var index uint32
	result := vk.AcquireNextImage(sc.context.Device.LogicalDevice, sc.Handle, math.MaxUint64, sc.imageAvailable[sc.semIndex], vk.NullFence, &index)
	switch result {
	case vk.Success, vk.Suboptimal:
	case vk.ErrorOutOfDate:
		// Trigger swapchain recreation, then boot out of the render loop.
		if err := sc.recreate(); err != nil {
			return 0, err
		}
		return 0, core.ErrSwapchainBooting
	default:
		return 0, sc.context.check("vkAcquireNextImage", result)
	}
	sc.acquired = true
	sc.waitPending = true
	sc.signaled = false
	sc.imageIndex = index
	return index, nil
}

func (sc *Swapchain) BackBuffer(index uint32) (device.Texture, error) {
	if int(index) >= len(sc.images) {
		return nil, fmt.Errorf("back buffer %d of %d: %w", index, len(sc.images), core.ErrOutOfBounds)
	}
	return sc.images[index], nil
}

// Present queues the acquired image for presentation. The present mode is
// fixed at creation, so syncInterval only selects it when the swapchain is
// built.
func (sc *Swapchain) Present(syncInterval uint32) error {
	if !sc.acquired || !sc.signaled {
		return fmt.Errorf("present without a rendered back buffer: %w", core.ErrInvalidState)
	}
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{sc.renderComplete[sc.imageIndex]},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.Handle},
		PImageIndices:      []uint32{sc.imageIndex},
	}
	var result vk.Result
	_ = sc.context.locks.SafeQueueCall(uint32(sc.context.Device.PresentQueueIndex), func() error {
		result = vk.QueuePresent(sc.context.Device.PresentQueue, &presentInfo)
		return nil
	})

	sc.acquired = false
	sc.signaled = false
	sc.semIndex = (sc.semIndex + 1) % len(sc.imageAvailable)

	switch result {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate, vk.Suboptimal:
		// Swapchain is out of date or suboptimal. Recreate before the next acquire.
		sc.outOfDate = true
		return nil
	default:
		return sc.context.check("vkQueuePresent", result)
	}
}

func (sc *Swapchain) Release() {
	logical := sc.context.Device.LogicalDevice
	vk.DeviceWaitIdle(logical)
	if sc.queue != nil && sc.queue.swapchain == sc {
		sc.queue.swapchain = nil
	}
	sc.destroyViews()
	for _, s := range sc.imageAvailable {
		if s != vk.NullSemaphore {
			vk.DestroySemaphore(logical, s, sc.context.Allocator)
		}
	}
	for _, s := range sc.renderComplete {
		if s != vk.NullSemaphore {
			vk.DestroySemaphore(logical, s, sc.context.Allocator)
		}
	}
	sc.imageAvailable, sc.renderComplete = nil, nil
	if sc.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(logical, sc.Handle, sc.context.Allocator)
		sc.Handle = vk.NullSwapchain
	}
}
