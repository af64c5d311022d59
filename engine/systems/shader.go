package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima-indirect/engine/assets"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

type ShaderSystemConfig struct {
	VertexShader string
	PixelShader  string
	// Missing files yield empty bytecode instead of an error.
	Optional bool
}

// ShaderSystem loads the compiled vertex/pixel pair used by the pipeline.
type ShaderSystem struct {
	config       ShaderSystemConfig
	assetManager *assets.AssetManager
}

func NewShaderSystem(config ShaderSystemConfig, am *assets.AssetManager) (*ShaderSystem, error) {
	if am == nil {
		return nil, fmt.Errorf("shader system needs an asset manager: %w", core.ErrInvalidState)
	}
	if !config.Optional && (config.VertexShader == "" || config.PixelShader == "") {
		return nil, fmt.Errorf("vertex and pixel shader paths are required: %w", core.ErrInvalidConfig)
	}
	return &ShaderSystem{config: config, assetManager: am}, nil
}

// Load reads both stages.
func (ss *ShaderSystem) Load() (metadata.ShaderSet, error) {
	vs, err := ss.loadStage(ss.config.VertexShader, metadata.ShaderStageVertex)
	if err != nil {
		return metadata.ShaderSet{}, err
	}
	ps, err := ss.loadStage(ss.config.PixelShader, metadata.ShaderStagePixel)
	if err != nil {
		return metadata.ShaderSet{}, err
	}
	return metadata.ShaderSet{Vertex: vs, Pixel: ps}, nil
}

func (ss *ShaderSystem) loadStage(name string, stage metadata.ShaderStage) (metadata.ShaderBytecode, error) {
	empty := metadata.ShaderBytecode{Stage: stage, Name: name}
	if name == "" {
		return empty, nil
	}
	res, err := ss.assetManager.Load(name, stage)
	if err != nil {
		if ss.config.Optional {
			core.LogWarn("%s shader %s not loaded, continuing without bytecode: %s", stage, name, err)
			return empty, nil
		}
		return metadata.ShaderBytecode{}, err
	}
	code, ok := res.Data.(metadata.ShaderBytecode)
	if !ok {
		return metadata.ShaderBytecode{}, fmt.Errorf("%s is a %s asset, not a shader: %w", name, res.Type, core.ErrInvalidConfig)
	}
	core.LogDebug("%s shader '%s': %d bytes", stage, code.Name, code.Len())
	return code, nil
}

func (ss *ShaderSystem) shaderLoadJobStart(params interface{}, results chan<- interface{}) error {
	set, err := ss.Load()
	if err != nil {
		return err
	}
	results <- set
	return nil
}

func (ss *ShaderSystem) Shutdown() error {
	return nil
}
