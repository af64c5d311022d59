package systems

import (
	"errors"

	"github.com/spaghettifunk/anima-indirect/engine/assets"
	"github.com/spaghettifunk/anima-indirect/engine/config"
	"github.com/spaghettifunk/anima-indirect/engine/platform"
)

type SystemManager struct {
	assetManager     *assets.AssetManager
	jobSystem        *JobSystem
	meshLoaderSystem *MeshLoaderSystem
	shaderSystem     *ShaderSystem
	rendererSystem   *RendererSystem
}

func NewSystemManager(cfg *config.Config, p *platform.Platform) (*SystemManager, error) {
	am := assets.NewAssetManager()
	if err := am.Initialize(cfg.Assets.Dir, cfg.Assets.Watch); err != nil {
		return nil, err
	}
	// One worker per startup job.
	js, err := NewJobSystem(2, 4)
	if err != nil {
		return nil, err
	}
	mls, err := NewMeshLoaderSystem(am)
	if err != nil {
		return nil, err
	}
	ss, err := NewShaderSystem(ShaderSystemConfig{
		VertexShader: cfg.Assets.VertexShader,
		PixelShader:  cfg.Assets.PixelShader,
		// The software device does not execute shader bytecode.
		Optional: cfg.Renderer.Backend == config.BackendSoft,
	}, am)
	if err != nil {
		return nil, err
	}
	rs, err := NewRendererSystem(cfg, p)
	if err != nil {
		return nil, err
	}
	return &SystemManager{
		assetManager:     am,
		jobSystem:        js,
		meshLoaderSystem: mls,
		shaderSystem:     ss,
		rendererSystem:   rs,
	}, nil
}

// Initialize loads the startup assets and builds the render context.
func (sm *SystemManager) Initialize() error {
	return sm.rendererSystem.Initialize(sm.jobSystem, sm.meshLoaderSystem, sm.shaderSystem)
}

func (sm *SystemManager) RendererSystem() *RendererSystem {
	return sm.rendererSystem
}

func (sm *SystemManager) AssetManager() *assets.AssetManager {
	return sm.assetManager
}

func (sm *SystemManager) JobSystem() *JobSystem {
	return sm.jobSystem
}

func (sm *SystemManager) Shutdown() error {
	return errors.Join(
		sm.rendererSystem.Shutdown(),
		sm.shaderSystem.Shutdown(),
		sm.meshLoaderSystem.Shutdown(),
		sm.jobSystem.Shutdown(),
		sm.assetManager.Shutdown(),
	)
}
