package testbed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-indirect/engine"
	"github.com/spaghettifunk/anima-indirect/engine/config"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/indirect"
)

func TestSpacePausesRotation(t *testing.T) {
	cfg := config.Default()
	cfg.Window.Width, cfg.Window.Height = 64, 48
	cfg.Window.Headless = true
	cfg.Renderer.Backend = config.BackendSoft
	cfg.Renderer.MaxFrames = 6
	cfg.Assets.Dir = t.TempDir()

	tg, err := NewTestGame(cfg)
	require.NoError(t, err)

	var angles []float32
	render := tg.FnRender
	tg.FnRender = func(stats indirect.FrameStats, delta float64) error {
		angles = append(angles, stats.Angle)
		if stats.Frame == 1 {
			core.InputProcessKey(core.KEY_SPACE, true)
		}
		return render(stats, delta)
	}

	e, err := engine.New(tg.Game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run())
	require.NoError(t, e.Shutdown())

	require.Len(t, angles, 6)
	assert.NotEqual(t, angles[0], angles[1])
	// Paused after frame 1, so every later frame holds its angle.
	for _, a := range angles[2:] {
		assert.Equal(t, angles[1], a)
	}
	assert.True(t, tg.state().paused)
	assert.Equal(t, cfg.Renderer.RotationStep, tg.state().step)
	assert.Equal(t, uint64(5), tg.state().lastStats.Frame)
}
