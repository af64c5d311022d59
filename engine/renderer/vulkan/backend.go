package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/platform"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

const minConstantBufferAlignment = 256

type Options struct {
	AppName    string
	Validation bool
	VSync      bool
}

// formatTable resolves abstract formats to the ones the surface and the
// physical device actually support.
type formatTable struct {
	surface    vk.Format
	depthStore vk.Format
}

func (t formatTable) color(f metadata.Format) vk.Format {
	switch f {
	case metadata.FormatR8G8B8A8Unorm, metadata.FormatB8G8R8A8Unorm:
		return t.surface
	}
	return vk.FormatUndefined
}

func (t formatTable) depth(f metadata.Format) vk.Format {
	if f == metadata.FormatD32Float {
		return t.depthStore
	}
	return vk.FormatUndefined
}

/**
 * @brief Device implementation on top of a Vulkan 1.0 instance, a window
 * surface and a single graphics queue.
 */
type Device struct {
	platform *platform.Platform
	opts     Options
	context  *VulkanContext

	surfaceFormat vk.SurfaceFormat
	formats       formatTable
	name          string
}

func New(p *platform.Platform, opts Options) (*Device, error) {
	width, height := p.FramebufferSize()
	d := &Device{
		platform: p,
		opts:     opts,
		context: &VulkanContext{
			FramebufferWidth:  width,
			FramebufferHeight: height,
			Allocator:         nil,
			Device:            &VulkanDevice{},
			locks:             NewVulkanLockPool(),
			buffers:           make(map[uint32]*Buffer),
		},
	}
	if err := d.initialize(); err != nil {
		d.Release()
		return nil, err
	}
	return d, nil
}

func (d *Device) initialize() error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return fmt.Errorf("GetInstanceProcAddress is nil: %w", core.ErrUnsupported)
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return err
	}

	if err := d.createInstance(); err != nil {
		return err
	}

	if d.opts.Validation {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(d.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogError("vk.CreateDebugReportCallback failed with %s", err)
			return err
		}
		d.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}

	// Surface
	core.LogDebug("Creating Vulkan surface...")
	surface, err := d.platform.Window.CreateWindowSurface(d.context.Instance, nil)
	if err != nil {
		core.LogError("Vulkan surface creation failed: %s", err)
		return fmt.Errorf("window surface: %w: %w", core.ErrResourceCreation, err)
	}
	d.context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	if err := DeviceCreate(d.context); err != nil {
		core.LogError("Failed to create device!")
		return err
	}

	d.surfaceFormat = pickSurfaceFormat(d.context.Device.SwapchainSupport.Formats)
	d.formats = formatTable{
		surface:    d.surfaceFormat.Format,
		depthStore: d.context.Device.DepthFormat,
	}
	d.name = fmt.Sprintf("vulkan (%s)", CString(d.context.Device.Properties.DeviceName[:]))

	d.context.passes = newRenderPassCache(d.context)
	if _, err := newBindlessTable(d.context); err != nil {
		return err
	}

	core.LogInfo("Vulkan device initialized successfully.")
	return nil
}

func (d *Device) createInstance() error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(d.opts.AppName),
		PEngineName:        VulkanSafeString("Anima Indirect"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// Obtain a list of required extensions
	requiredExtensions := []string{"VK_KHR_surface"}
	requiredExtensions = append(requiredExtensions, d.platform.GetRequiredExtensionNames()...)
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}
	if d.opts.Validation {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}
	core.LogDebug("Required extensions: %v", requiredExtensions)
	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	var layers []string
	if d.opts.Validation {
		core.LogInfo("Validation layers enabled. Enumerating...")
		layers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := checkLayers(layers); err != nil {
			return err
		}
		core.LogInfo("All required validation layers are present.")
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if res := vk.CreateInstance(&createInfo, d.context.Allocator, &d.context.Instance); res != vk.Success {
		err := fmt.Errorf("failed in creating the Vulkan Instance with error `%s`: %w", VulkanResultString(res, true), core.ErrResourceCreation)
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(d.context.Instance); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

// checkLayers verifies every required layer is available.
func checkLayers(required []string) error {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return fmt.Errorf("vkEnumerateInstanceLayerProperties failed with %s", VulkanResultString(res, false))
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return fmt.Errorf("vkEnumerateInstanceLayerProperties failed with %s", VulkanResultString(res, false))
	}
	names := make(map[string]bool, len(available))
	for i := range available {
		available[i].Deref()
		names[CString(available[i].LayerName[:])] = true
	}
	for _, name := range required {
		core.LogInfo("Searching for layer: %s...", name)
		if !names[name] {
			err := fmt.Errorf("required validation layer is missing: %s: %w", name, core.ErrUnsupported)
			core.LogError(err.Error())
			return err
		}
	}
	return nil
}

// pickSurfaceFormat prefers an 8 bit unorm format in sRGB nonlinear space.
func pickSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, f := range formats {
		if (f.Format == vk.FormatB8g8r8a8Unorm || f.Format == vk.FormatR8g8b8a8Unorm) && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	if len(formats) > 0 {
		return formats[0]
	}
	return vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) ConstantBufferAlignment() uint64 {
	limits := d.context.Device.Properties.Limits
	limits.Deref()
	return max(uint64(minConstantBufferAlignment), uint64(limits.MinUniformBufferOffsetAlignment))
}

func (d *Device) CreateBuffer(desc metadata.BufferDesc) (device.Buffer, error) {
	if err := d.context.removedReason(); err != nil {
		return nil, err
	}
	return NewBuffer(d.context, desc)
}

func (d *Device) CreateDepthBuffer(width, height uint32) (device.Texture, error) {
	if err := d.context.removedReason(); err != nil {
		return nil, err
	}
	img, err := ImageCreate(d.context, "depth", width, height, d.context.Device.DepthFormat,
		vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		vk.ImageAspectFlags(vk.ImageAspectDepthBit))
	if err != nil {
		return nil, err
	}
	img.format = metadata.FormatD32Float
	return img, nil
}

func (d *Device) CreateCommandQueue() (device.CommandQueue, error) {
	if err := d.context.removedReason(); err != nil {
		return nil, err
	}
	return NewCommandQueue(d.context), nil
}

func (d *Device) CreateCommandAllocator() (device.CommandAllocator, error) {
	if err := d.context.removedReason(); err != nil {
		return nil, err
	}
	return NewCommandAllocator(d.context)
}

func (d *Device) CreateCommandList(alloc device.CommandAllocator) (device.CommandList, error) {
	a, ok := alloc.(*CommandAllocator)
	if !ok {
		return nil, fmt.Errorf("foreign command allocator: %w", core.ErrInvalidState)
	}
	return NewCommandList(d.context, a)
}

func (d *Device) CreateFence(initial uint64) (device.Fence, error) {
	return NewFence(d.context, initial), nil
}

func (d *Device) CreateRootSignature(desc metadata.RootSignatureDesc) (device.RootSignature, error) {
	return NewRootSignature(d.context, desc)
}

func (d *Device) CreatePipelineState(desc device.PipelineStateDesc) (device.PipelineState, error) {
	return NewGraphicsPipeline(d.context, d.formats, desc)
}

func (d *Device) CreateCommandSignature(desc metadata.CommandSignatureDesc, rs device.RootSignature) (device.CommandSignature, error) {
	return NewCommandSignature(desc, rs)
}

func (d *Device) CreateSwapChain(queue device.CommandQueue, desc metadata.SwapChainDesc) (device.SwapChain, error) {
	q, ok := queue.(*CommandQueue)
	if !ok {
		return nil, fmt.Errorf("foreign command queue: %w", core.ErrInvalidState)
	}
	if q.swapchain != nil {
		return nil, fmt.Errorf("queue already presents to a swapchain: %w", core.ErrInvalidState)
	}
	return NewSwapchain(d.context, q, desc, d.surfaceFormat, d.opts.VSync, d.platform.FramebufferSize)
}

func (d *Device) RemovedReason() error {
	return d.context.removedReason()
}

// Release destroys the device objects in the opposite order of creation.
// Resources created from the device must be released first.
func (d *Device) Release() {
	ctx := d.context
	if ctx.Device != nil && ctx.Device.LogicalDevice != nil {
		vk.DeviceWaitIdle(ctx.Device.LogicalDevice)
		if ctx.bindless != nil {
			ctx.bindless.destroy()
			ctx.bindless = nil
		}
		if ctx.passes != nil {
			ctx.passes.destroy()
			ctx.passes = nil
		}
		core.LogDebug("Destroying Vulkan device...")
		DeviceDestroy(ctx)
	}

	if ctx.Surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(ctx.Instance, ctx.Surface, ctx.Allocator)
		ctx.Surface = vk.NullSurface
	}
	if ctx.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(ctx.Instance, ctx.debugMessenger, ctx.Allocator)
		ctx.debugMessenger = vk.NullDebugReportCallback
	}
	if ctx.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(ctx.Instance, ctx.Allocator)
		ctx.Instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		core.LogDebug("DEBUG: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
