package systems

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-indirect/engine/config"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/platform"
	"github.com/spaghettifunk/anima-indirect/engine/renderer"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/indirect"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

/**
 * @brief Owns the renderer front end. Startup data (mesh and shaders) is
 * loaded on the job system in parallel before the render context is built.
 */
type RendererSystem struct {
	renderer *renderer.Renderer
	meshName string

	// The current number of frames rendered, including skipped ones.
	FrameNumber uint64
}

func NewRendererSystem(cfg *config.Config, p *platform.Platform) (*RendererSystem, error) {
	r, err := renderer.New(cfg, p)
	if err != nil {
		return nil, err
	}
	return &RendererSystem{renderer: r, meshName: cfg.Assets.Mesh}, nil
}

// Initialize loads the mesh and the shaders concurrently, then builds the render context.
func (rs *RendererSystem) Initialize(js *JobSystem, mls *MeshLoaderSystem, ss *ShaderSystem) error {
	var (
		mu      sync.Mutex
		mesh    *metadata.MeshData
		shaders metadata.ShaderSet
		errs    []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	js.Submit(metadata.JobTask{
		Name:        "load-mesh",
		OnStart:     mls.meshLoadJobStart,
		InputParams: rs.meshName,
		OnComplete: func(results <-chan interface{}) {
			for r := range results {
				mu.Lock()
				mesh = r.(*metadata.MeshData)
				mu.Unlock()
			}
		},
		OnFailure: fail,
	})
	js.Submit(metadata.JobTask{
		Name:    "load-shaders",
		OnStart: ss.shaderLoadJobStart,
		OnComplete: func(results <-chan interface{}) {
			for r := range results {
				mu.Lock()
				shaders = r.(metadata.ShaderSet)
				mu.Unlock()
			}
		},
		OnFailure: fail,
	})
	js.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	if mesh == nil {
		return fmt.Errorf("mesh job produced no mesh: %w", core.ErrInvalidState)
	}
	core.LogInfo("mesh '%s' (%d indices) and shaders (%d/%d bytes) loaded",
		mesh.Name, mesh.IndexCount(), shaders.Vertex.Len(), shaders.Pixel.Len())
	return rs.renderer.Initialize(mesh, shaders)
}

func (rs *RendererSystem) DrawFrame() (indirect.FrameStats, error) {
	stats, err := rs.renderer.DrawFrame()
	if err != nil {
		return stats, err
	}
	rs.FrameNumber++
	return stats, nil
}

func (rs *RendererSystem) Renderer() *renderer.Renderer {
	return rs.renderer
}

// Context is nil until Initialize succeeded.
func (rs *RendererSystem) Context() *indirect.RenderContext {
	return rs.renderer.Context()
}

func (rs *RendererSystem) Shutdown() error {
	return rs.renderer.Shutdown()
}
