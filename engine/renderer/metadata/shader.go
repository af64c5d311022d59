package metadata

type ShaderStage int

const (
	ShaderStageVertex ShaderStage = iota
	ShaderStagePixel
)

func (s ShaderStage) String() string {
	if s == ShaderStagePixel {
		return "pixel"
	}
	return "vertex"
}

/**
 * @brief Compiled shader bytecode for a single stage. The renderer only
 * needs the blob and its length.
 */
type ShaderBytecode struct {
	Stage ShaderStage
	Name  string
	Code  []byte
}

func (s ShaderBytecode) Len() int {
	return len(s.Code)
}

type ShaderSet struct {
	Vertex ShaderBytecode
	Pixel  ShaderBytecode
}
