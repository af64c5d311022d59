package testbed

import (
	"github.com/spaghettifunk/anima-indirect/engine"
	"github.com/spaghettifunk/anima-indirect/engine/config"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/indirect"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	DeltaTime float64

	width  uint32
	height uint32

	// Space zeroes the rotation step; resuming restores step.
	paused     bool
	step       float32
	resetAngle bool

	lastStats     indirect.FrameStats
	skippedFrames uint64
}

func NewTestGame(cfg *config.Config) (*TestGame, error) {
	ac := engine.NewApplicationConfig(cfg)
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: ac,
			State: &gameState{
				width:  ac.StartWidth,
				height: ac.StartHeight,
			},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg, nil
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize() error {
	core.LogInfo("testbed ready: Space pauses the rotation, Enter resets it, F12 prints frame stats, Escape quits")
	core.EventRegister(core.EVENT_CODE_KEY_PRESSED, g, g.gameOnKey)
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	s := g.state()
	s.DeltaTime = deltaTime

	rc := g.SystemManager.RendererSystem().Context()
	if s.resetAngle {
		rc.SetRotation(0)
		s.resetAngle = false
	}
	return nil
}

func (g *TestGame) Render(stats indirect.FrameStats, deltaTime float64) error {
	s := g.state()
	s.lastStats = stats
	if stats.Skipped {
		s.skippedFrames++
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	s := g.state()
	s.width = width
	s.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	s := g.state()
	core.LogInfo("testbed shutting down after frame %d (%d skipped)", s.lastStats.Frame, s.skippedFrames)
	core.EventUnregister(core.EVENT_CODE_KEY_PRESSED, g)
	return nil
}

func (g *TestGame) gameOnKey(code core.SystemEventCode, sender, listener interface{}, context core.EventContext) bool {
	s := g.state()
	switch core.KeyCode(context.Data.U16[0]) {
	case core.KEY_SPACE:
		rc := g.SystemManager.RendererSystem().Context()
		step := s.step
		if !s.paused {
			s.step = rc.RotationStep()
			step = 0
		}
		if err := rc.SetRotationStep(step); err != nil {
			core.LogError("failed to toggle rotation: %s", err)
			return true
		}
		s.paused = !s.paused
		if s.paused {
			core.LogInfo("rotation paused at %.1f degrees", rc.Rotation())
		} else {
			core.LogInfo("rotation resumed at %.1f degrees per frame", step)
		}
		return true
	case core.KEY_ENTER:
		s.resetAngle = true
		return true
	case core.KEY_F12:
		st := s.lastStats
		core.LogInfo("frame %d slot %d waited for fence %d, angle %.1f, %dx%d, %.0f fps",
			st.Frame, st.Slot, st.WaitedFor, st.Angle, s.width, s.height, core.MetricsFPS())
		return true
	}
	return false
}
