package loaders

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

const spirvMagic uint32 = 0x07230203

/**
 * @brief Loads compiled SPIR-V. The stage comes from params when it is a
 * metadata.ShaderStage, otherwise from the file name (`.frag.spv` is a pixel
 * shader, anything else a vertex shader).
 */
type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string, params interface{}) (*metadata.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 || len(data)%4 != 0 {
		return nil, fmt.Errorf("shader %s: %d bytes is not a whole number of words", path, len(data))
	}
	if magic := binary.LittleEndian.Uint32(data); magic != spirvMagic {
		return nil, fmt.Errorf("shader %s: bad SPIR-V magic 0x%08x", path, magic)
	}

	stage, ok := params.(metadata.ShaderStage)
	if !ok {
		stage = StageFromPath(path)
	}
	name := filepath.Base(path)
	return &metadata.Resource{
		Name:     name,
		FullPath: path,
		Type:     metadata.ResourceTypeShader,
		DataSize: uint64(len(data)),
		Data: metadata.ShaderBytecode{
			Stage: stage,
			Name:  name,
			Code:  data,
		},
	}, nil
}

func (sl *ShaderLoader) Unload(*metadata.Resource) error {
	return nil
}

func StageFromPath(path string) metadata.ShaderStage {
	name := strings.TrimSuffix(filepath.Base(path), ".spv")
	switch filepath.Ext(name) {
	case ".frag", ".ps", ".pixel":
		return metadata.ShaderStagePixel
	default:
		return metadata.ShaderStageVertex
	}
}
