package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima-indirect/engine/assets"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/math"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

const defaultCubeName = "unit-cube"

// MeshLoaderSystem provides the single mesh drawn by every instance.
type MeshLoaderSystem struct {
	assetManager *assets.AssetManager
}

func NewMeshLoaderSystem(am *assets.AssetManager) (*MeshLoaderSystem, error) {
	if am == nil {
		return nil, fmt.Errorf("mesh loader needs an asset manager: %w", core.ErrInvalidState)
	}
	return &MeshLoaderSystem{assetManager: am}, nil
}

/**
 * @brief Loads the named OBJ mesh relative to the assets directory. An empty
 * name yields the procedural unit cube.
 */
func (mls *MeshLoaderSystem) Load(name string) (*metadata.MeshData, error) {
	if name == "" {
		return Cube(), nil
	}
	res, err := mls.assetManager.Load(name, nil)
	if err != nil {
		return nil, err
	}
	mesh, ok := res.Data.(*metadata.MeshData)
	if !ok {
		return nil, fmt.Errorf("%s is a %s asset, not a mesh: %w", name, res.Type, core.ErrInvalidConfig)
	}
	return mesh, nil
}

// Cube returns the unit cube centred on the origin.
func Cube() *metadata.MeshData {
	vertices, indices := math.GenerateCube(1.0)
	return &metadata.MeshData{Name: defaultCubeName, Vertices: vertices, Indices: indices}
}

/**
 * @brief Called when a mesh loading job begins.
 *
 * @param params The mesh name.
 * @param results Receives the loaded mesh.
 */
func (mls *MeshLoaderSystem) meshLoadJobStart(params interface{}, results chan<- interface{}) error {
	name, ok := params.(string)
	if !ok {
		return fmt.Errorf("failed to cast params to `string`: %w", core.ErrInvalidState)
	}
	mesh, err := mls.Load(name)
	if err != nil {
		return err
	}
	results <- mesh
	return nil
}

func (mls *MeshLoaderSystem) Shutdown() error {
	return nil
}
