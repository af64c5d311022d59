package renderer

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-indirect/engine/config"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/platform"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/capture"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/indirect"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/soft"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/vulkan"
)

type RendererType uint8

const (
	Vulkan RendererType = iota
	Soft
)

func (t RendererType) String() string {
	switch t {
	case Vulkan:
		return config.BackendVulkan
	case Soft:
		return config.BackendSoft
	default:
		return fmt.Sprintf("renderer(%d)", uint8(t))
	}
}

func ParseRendererType(backend string) (RendererType, error) {
	switch backend {
	case config.BackendVulkan:
		return Vulkan, nil
	case config.BackendSoft:
		return Soft, nil
	default:
		return 0, fmt.Errorf("unknown renderer backend %q: %w", backend, core.ErrInvalidConfig)
	}
}

// NewDevice creates the device selected by the renderer backend. The hook
// receives presented frames and is only supported by the soft backend.
func NewDevice(cfg *config.Config, p *platform.Platform, hook soft.PresentHook) (device.Device, error) {
	t, err := ParseRendererType(cfg.Renderer.Backend)
	if err != nil {
		return nil, err
	}
	switch t {
	case Soft:
		var opts []soft.Option
		if hook != nil {
			opts = append(opts, soft.WithPresentHook(hook))
		}
		return soft.New(opts...), nil
	default:
		if p == nil || p.Headless() {
			return nil, fmt.Errorf("the vulkan backend needs a window: %w", core.ErrInvalidConfig)
		}
		if hook != nil {
			core.LogWarn("frame capture is only supported by the soft backend, ignoring")
		}
		return vulkan.New(p, vulkan.Options{
			AppName:    cfg.Window.Title,
			Validation: cfg.Renderer.Validation,
			VSync:      cfg.Renderer.SyncInterval > 0,
		})
	}
}

/**
 * @brief The renderer frontend: owns the device, the render context built on
 * it and the optional frame capture.
 */
type Renderer struct {
	cfg      *config.Config
	backend  RendererType
	dev      device.Device
	context  *indirect.RenderContext
	capturer *capture.Writer
}

func New(cfg *config.Config, p *platform.Platform) (*Renderer, error) {
	t, err := ParseRendererType(cfg.Renderer.Backend)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	r := &Renderer{cfg: cfg, backend: t}

	var hook soft.PresentHook
	if cfg.Capture.Dir != "" {
		w, err := capture.NewWriter(cfg.Capture, core.NewRunID())
		if err != nil {
			core.LogError(err.Error())
			return nil, err
		}
		r.capturer = w
		hook = w.Hook
	}

	dev, err := NewDevice(cfg, p, hook)
	if err != nil {
		core.LogError("failed to create %s device: %s", t, err)
		return nil, err
	}
	r.dev = dev
	core.LogInfo("renderer backend: %s", dev.Name())
	return r, nil
}

// Initialize builds the render context for mesh and shaders.
func (r *Renderer) Initialize(mesh *metadata.MeshData, shaders metadata.ShaderSet) error {
	if r.context != nil {
		return fmt.Errorf("renderer already initialized: %w", core.ErrInvalidState)
	}
	rc, err := indirect.NewRenderContext(r.dev, indirect.OptionsFromConfig(r.cfg), mesh, shaders)
	if err != nil {
		core.LogError("failed to create render context: %s", err)
		return err
	}
	r.context = rc
	return nil
}

func (r *Renderer) Backend() RendererType {
	return r.backend
}

func (r *Renderer) Device() device.Device {
	return r.dev
}

// Context is nil until Initialize succeeded.
func (r *Renderer) Context() *indirect.RenderContext {
	return r.context
}

func (r *Renderer) DrawFrame() (indirect.FrameStats, error) {
	if r.context == nil {
		return indirect.FrameStats{}, fmt.Errorf("draw before initialize: %w", core.ErrInvalidState)
	}
	stats, err := r.context.RenderFrame()
	if err != nil {
		core.LogError("RenderFrame failed. Application shutting down...")
		return stats, err
	}
	if r.capturer != nil {
		if err := r.capturer.Err(); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// Captures lists the files written so far by the frame capture.
func (r *Renderer) Captures() []string {
	if r.capturer == nil {
		return nil
	}
	return r.capturer.Written()
}

// Shutdown drains the device, then releases the render context and the device.
func (r *Renderer) Shutdown() error {
	var errs []error
	if r.context != nil {
		errs = append(errs, r.context.Shutdown())
		r.context = nil
	}
	if r.dev != nil {
		r.dev.Release()
		r.dev = nil
	}
	return errors.Join(errs...)
}
