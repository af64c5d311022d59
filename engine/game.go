package engine

import (
	"github.com/spaghettifunk/anima-indirect/engine/renderer/indirect"
	"github.com/spaghettifunk/anima-indirect/engine/systems"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	// Set by the engine before FnInitialize.
	SystemManager *systems.SystemManager
	State         interface{}
	FnInitialize  Initialize
	FnUpdate      Update
	FnRender      Render
	FnOnResize    OnResize
	FnShutdown    Shutdown
}

type Initialize func() error
type Update func(deltaTime float64) error

// Render is called after the frame was submitted.
type Render func(stats indirect.FrameStats, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
