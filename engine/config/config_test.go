package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-indirect/engine/core"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint32(4), cfg.Renderer.InstanceCount)
	assert.Equal(t, uint32(2), cfg.Renderer.FrameLatency)
	assert.Equal(t, 10*time.Second, cfg.Renderer.FenceTimeoutDuration())
	assert.Equal(t, [4]float32{0.1, 0.2, 0.3, 1.0}, cfg.Renderer.ClearColor)
}

func TestLoadTOMLKeepsDefaults(t *testing.T) {
	p := writeFile(t, "demo.toml", `
[window]
width = 800
headless = true

[renderer]
backend = "soft"
instance_count = 16
max_frames = 3
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, uint32(800), cfg.Window.Width)
	assert.Equal(t, uint32(240), cfg.Window.Height)
	assert.Equal(t, uint32(16), cfg.Renderer.InstanceCount)
	assert.Equal(t, uint32(2), cfg.Renderer.FrameLatency)
	assert.Equal(t, BackendSoft, cfg.Renderer.Backend)
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "demo.yaml", `
renderer:
  backend: soft
  frame_latency: 3
  rotation_step: 2.5
log:
  level: info
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), cfg.Renderer.FrameLatency)
	assert.Equal(t, float32(2.5), cfg.Renderer.RotationStep)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"zero instances", "a.toml", "[renderer]\ninstance_count = 0\n"},
		{"zero latency", "b.toml", "[renderer]\nframe_latency = 0\n"},
		{"unknown backend", "c.toml", "[renderer]\nbackend = \"d3d9\"\n"},
		{"headless vulkan", "d.toml", "[window]\nheadless = true\n[renderer]\nmax_frames = 1\n"},
		{"unknown field", "e.toml", "[renderer]\ninstances = 4\n"},
		{"negative rotation step", "h.toml", "[renderer]\nrotation_step = -1.0\n"},
		{"full turn rotation step", "i.toml", "[renderer]\nrotation_step = 360.0\n"},
		{"unknown format", "f.json", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(writeFile(t, "g.toml", "[renderer]\ninstance_count = 0\n"))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestValidateRejectsRotationStepOutsideTurn(t *testing.T) {
	for _, step := range []float32{-1, 360, 720, float32(math.NaN()), float32(math.Inf(1))} {
		cfg := Default()
		cfg.Renderer.RotationStep = step
		assert.ErrorIs(t, cfg.Validate(), core.ErrInvalidConfig, "step %v", step)
	}
	cfg := Default()
	cfg.Renderer.RotationStep = 0
	assert.NoError(t, cfg.Validate())
	cfg.Renderer.RotationStep = 359.5
	assert.NoError(t, cfg.Validate())
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestAssetPath(t *testing.T) {
	cfg := Default()
	assert.Equal(t, filepath.Join("assets", "shaders", "a.spv"), cfg.AssetPath("shaders/a.spv"))
	assert.Equal(t, "/abs/a.spv", cfg.AssetPath("/abs/a.spv"))
	assert.Equal(t, "", cfg.AssetPath(""))
}
