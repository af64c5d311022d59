package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-indirect/engine/config"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/indirect"
)

func headlessGame(t *testing.T, maxFrames uint64) *Game {
	cfg := config.Default()
	cfg.Window.Width, cfg.Window.Height = 64, 48
	cfg.Window.Headless = true
	cfg.Renderer.Backend = config.BackendSoft
	cfg.Renderer.MaxFrames = maxFrames
	cfg.Assets.Dir = t.TempDir()
	cfg.Log.Level = "info"
	require.NoError(t, cfg.Validate())
	return &Game{ApplicationConfig: NewApplicationConfig(cfg)}
}

func TestNewRejectsMissingConfig(t *testing.T) {
	_, err := New(&Game{})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestEngineStopsAfterMaxFrames(t *testing.T) {
	g := headlessGame(t, 5)
	initialized, updates := false, 0
	var frames []uint64
	g.FnInitialize = func() error {
		initialized = g.SystemManager != nil
		return nil
	}
	g.FnUpdate = func(float64) error { updates++; return nil }
	g.FnRender = func(stats indirect.FrameStats, _ float64) error {
		frames = append(frames, stats.Frame)
		return nil
	}

	e, err := New(g)
	require.NoError(t, err)
	assert.ErrorIs(t, e.Run(), core.ErrInvalidState)
	require.NoError(t, e.Initialize())
	assert.ErrorIs(t, e.Initialize(), core.ErrInvalidState)
	require.NoError(t, e.Run())
	require.NoError(t, e.Shutdown())

	assert.True(t, initialized)
	assert.Equal(t, 5, updates)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, frames)
}

func TestEscapeQuits(t *testing.T) {
	g := headlessGame(t, 0)
	rendered := 0
	g.FnUpdate = func(float64) error {
		if rendered == 2 {
			core.InputProcessKey(core.KEY_ESCAPE, true)
		}
		return nil
	}
	g.FnRender = func(indirect.FrameStats, float64) error { rendered++; return nil }

	e, err := New(g)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run())
	require.NoError(t, e.Shutdown())
	assert.Equal(t, 3, rendered)
}

func TestResizeToZeroSuspends(t *testing.T) {
	g := headlessGame(t, 1)
	var resized []uint32
	g.FnOnResize = func(w, h uint32) error { resized = append(resized, w, h); return nil }

	e, err := New(g)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	defer e.Shutdown()

	ctx := core.EventContext{}
	core.EventFire(core.EVENT_CODE_RESIZED, nil, ctx)
	assert.True(t, e.isSuspended)

	ctx.Data.U16[0], ctx.Data.U16[1] = 80, 60
	core.EventFire(core.EVENT_CODE_RESIZED, nil, ctx)
	assert.False(t, e.isSuspended)
	assert.Equal(t, []uint32{80, 60}, resized)
	w, h := e.GetFramebufferSize()
	assert.Equal(t, uint32(80), w)
	assert.Equal(t, uint32(60), h)
}

func TestStopFromAnotherGoroutine(t *testing.T) {
	g := headlessGame(t, 0)
	e, err := New(g)
	require.NoError(t, err)
	g.FnRender = func(stats indirect.FrameStats, _ float64) error {
		if stats.Frame == 1 {
			done := make(chan struct{})
			go func() { e.Stop(); close(done) }()
			<-done
		}
		return nil
	}
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run())
	require.NoError(t, e.Shutdown())
}
