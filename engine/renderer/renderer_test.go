package renderer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-indirect/engine/config"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/math"
	"github.com/spaghettifunk/anima-indirect/engine/platform"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

func softConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Window.Width, cfg.Window.Height = 96, 64
	cfg.Window.Headless = true
	cfg.Renderer.Backend = config.BackendSoft
	cfg.Renderer.MaxFrames = 4
	require.NoError(t, cfg.Validate())
	return cfg
}

func cube() *metadata.MeshData {
	vertices, indices := math.GenerateCube(1)
	return &metadata.MeshData{Name: "cube", Vertices: vertices, Indices: indices}
}

func TestParseRendererType(t *testing.T) {
	tests := []struct {
		in      string
		want    RendererType
		wantErr bool
	}{
		{in: "vulkan", want: Vulkan},
		{in: "soft", want: Soft},
		{in: "metal", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRendererType(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, core.ErrInvalidConfig)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.in, got.String())
	}
}

func TestVulkanNeedsAWindow(t *testing.T) {
	cfg := config.Default()
	_, err := NewDevice(cfg, platform.NewHeadless(64, 64), nil)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestSoftRendererDrawsAndCaptures(t *testing.T) {
	cfg := softConfig(t)
	cfg.Capture.Dir = filepath.Join(t.TempDir(), "captures")
	cfg.Capture.Every = 2

	r, err := New(cfg, platform.NewHeadless(cfg.Window.Width, cfg.Window.Height))
	require.NoError(t, err)
	assert.Equal(t, Soft, r.Backend())
	assert.Equal(t, "soft", r.Device().Name())

	_, err = r.DrawFrame()
	assert.ErrorIs(t, err, core.ErrInvalidState)

	require.NoError(t, r.Initialize(cube(), metadata.ShaderSet{}))
	assert.ErrorIs(t, r.Initialize(cube(), metadata.ShaderSet{}), core.ErrInvalidState)

	for f := uint64(0); f < cfg.Renderer.MaxFrames; f++ {
		stats, err := r.DrawFrame()
		require.NoError(t, err)
		assert.Equal(t, f, stats.Frame)
		assert.False(t, stats.Skipped)
	}
	assert.Equal(t, uint64(4), r.Context().FrameCount())

	require.NoError(t, r.Shutdown())
	assert.Nil(t, r.Context())
	assert.Len(t, r.Captures(), 2)
}

func TestRendererWithoutCapture(t *testing.T) {
	cfg := softConfig(t)
	r, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, r.Initialize(cube(), metadata.ShaderSet{}))
	_, err = r.DrawFrame()
	require.NoError(t, err)
	require.NoError(t, r.Shutdown())
	assert.Nil(t, r.Captures())
}
