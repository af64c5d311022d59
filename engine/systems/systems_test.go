package systems

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-indirect/engine/assets"
	"github.com/spaghettifunk/anima-indirect/engine/config"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/platform"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

func softConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Window.Width, cfg.Window.Height = 64, 48
	cfg.Window.Headless = true
	cfg.Renderer.Backend = config.BackendSoft
	cfg.Assets.Dir = t.TempDir()
	require.NoError(t, cfg.Validate())
	return cfg
}

func writeAsset(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func spirvStub() []byte {
	out := make([]byte, 12)
	binary.LittleEndian.PutUint32(out, 0x07230203)
	return out
}

func TestNewJobSystemRejectsBadSizes(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestJobSystemRunsCallbacks(t *testing.T) {
	js, err := NewJobSystem(2, 0)
	require.NoError(t, err)
	defer js.Shutdown()

	var sum, failures, completions atomic.Int32
	boom := errors.New("boom")
	for i := 1; i <= 4; i++ {
		js.Submit(metadata.JobTask{
			Name:        "sum",
			InputParams: i,
			OnStart: func(params interface{}, results chan<- interface{}) error {
				results <- params.(int)
				results <- params.(int)
				return nil
			},
			OnComplete: func(results <-chan interface{}) {
				for r := range results {
					sum.Add(int32(r.(int)))
				}
			},
			OnCompletionCallback: func() { completions.Add(1) },
		})
	}
	js.AddWorkNonBlocking(metadata.JobTask{
		Name:                 "fail",
		OnStart:              func(interface{}, chan<- interface{}) error { return boom },
		OnFailure:            func(err error) { assert.ErrorIs(t, err, boom); failures.Add(1) },
		OnCompletionCallback: func() { completions.Add(1) },
	})
	js.Wait()

	assert.Equal(t, int32(20), sum.Load())
	assert.Equal(t, int32(1), failures.Load())
	assert.Equal(t, int32(5), completions.Load())

	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())
}

func TestMeshLoaderSystem(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "meshes/tri.obj", []byte("v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"))
	writeAsset(t, dir, "shaders/a.vert.spv", spirvStub())
	am := assets.NewAssetManager()
	require.NoError(t, am.Initialize(dir, false))

	_, err := NewMeshLoaderSystem(nil)
	assert.ErrorIs(t, err, core.ErrInvalidState)

	mls, err := NewMeshLoaderSystem(am)
	require.NoError(t, err)

	cube, err := mls.Load("")
	require.NoError(t, err)
	assert.Equal(t, defaultCubeName, cube.Name)
	assert.Len(t, cube.Vertices, 24)
	assert.Equal(t, uint32(36), cube.IndexCount())

	tri, err := mls.Load("meshes/tri.obj")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), tri.IndexCount())

	_, err = mls.Load("shaders/a.vert.spv")
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestShaderSystem(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "shaders/indirect.vert.spv", spirvStub())
	writeAsset(t, dir, "shaders/indirect.frag.spv", spirvStub())
	am := assets.NewAssetManager()
	require.NoError(t, am.Initialize(dir, false))

	_, err := NewShaderSystem(ShaderSystemConfig{VertexShader: "x.spv"}, am)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	ss, err := NewShaderSystem(ShaderSystemConfig{
		VertexShader: "shaders/indirect.vert.spv",
		PixelShader:  "shaders/indirect.frag.spv",
	}, am)
	require.NoError(t, err)
	set, err := ss.Load()
	require.NoError(t, err)
	assert.Equal(t, metadata.ShaderStageVertex, set.Vertex.Stage)
	assert.Equal(t, metadata.ShaderStagePixel, set.Pixel.Stage)
	assert.Equal(t, 12, set.Pixel.Len())

	missing := ShaderSystemConfig{VertexShader: "missing.vert.spv", PixelShader: "missing.frag.spv"}
	strict, err := NewShaderSystem(missing, am)
	require.NoError(t, err)
	_, err = strict.Load()
	assert.ErrorIs(t, err, assets.ErrAssetNotFound)

	missing.Optional = true
	lenient, err := NewShaderSystem(missing, am)
	require.NoError(t, err)
	set, err = lenient.Load()
	require.NoError(t, err)
	assert.Zero(t, set.Vertex.Len())
	assert.Equal(t, metadata.ShaderStagePixel, set.Pixel.Stage)
}

func TestSystemManagerRendersWithSoftBackend(t *testing.T) {
	cfg := softConfig(t)
	sm, err := NewSystemManager(cfg, platform.NewHeadless(cfg.Window.Width, cfg.Window.Height))
	require.NoError(t, err)
	require.NoError(t, sm.Initialize())

	rs := sm.RendererSystem()
	require.NotNil(t, rs.Context())
	for i := 0; i < 3; i++ {
		stats, err := rs.DrawFrame()
		require.NoError(t, err)
		assert.Equal(t, uint64(i), stats.Frame)
	}
	assert.Equal(t, uint64(3), rs.FrameNumber)
	assert.Error(t, sm.Initialize())

	require.NoError(t, sm.Shutdown())
}

func TestSystemManagerReportsMeshFailure(t *testing.T) {
	cfg := softConfig(t)
	cfg.Assets.Mesh = "meshes/missing.obj"
	sm, err := NewSystemManager(cfg, platform.NewHeadless(cfg.Window.Width, cfg.Window.Height))
	require.NoError(t, err)
	assert.ErrorIs(t, sm.Initialize(), assets.ErrAssetNotFound)
	require.NoError(t, sm.Shutdown())
}
