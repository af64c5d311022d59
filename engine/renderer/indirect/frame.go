package indirect

import (
	"fmt"

	"github.com/spaghettifunk/anima-indirect/engine/core"
)

type FrameState int

const (
	FrameStateIdle FrameState = iota
	FrameStateRecording
	FrameStateTransformWritten
	FrameStateArgumentStaged
	FrameStateSubmitted
	FrameStatePresented
)

func (s FrameState) String() string {
	switch s {
	case FrameStateIdle:
		return "idle"
	case FrameStateRecording:
		return "recording"
	case FrameStateTransformWritten:
		return "transform-written"
	case FrameStateArgumentStaged:
		return "argument-staged"
	case FrameStateSubmitted:
		return "submitted"
	case FrameStatePresented:
		return "presented"
	default:
		return fmt.Sprintf("FrameState(%d)", int(s))
	}
}

/**
 * @brief Tracks the lifecycle of every ring slot. A slot only moves forward one
 * state at a time, and leaves Presented only once the fence confirmed its work.
 */
type FrameStateMachine struct {
	slots []FrameState
}

func NewFrameStateMachine(depth uint32) *FrameStateMachine {
	return &FrameStateMachine{slots: make([]FrameState, depth)}
}

func (m *FrameStateMachine) State(slot uint32) FrameState {
	return m.slots[slot]
}

// Advance moves slot to the state that directly follows its current one.
func (m *FrameStateMachine) Advance(slot uint32, to FrameState) error {
	from := m.slots[slot]
	if from == FrameStatePresented || to != from+1 {
		err := fmt.Errorf("slot %d: %s -> %s: %w", slot, from, to, core.ErrInvalidTransition)
		core.LogError(err.Error())
		return err
	}
	m.slots[slot] = to
	return nil
}

// Retire returns a presented slot to idle after its fence value completed.
func (m *FrameStateMachine) Retire(slot uint32) error {
	switch m.slots[slot] {
	case FrameStateIdle:
		return nil
	case FrameStatePresented:
		m.slots[slot] = FrameStateIdle
		return nil
	default:
		err := fmt.Errorf("slot %d retired while %s: %w", slot, m.slots[slot], core.ErrInvalidTransition)
		core.LogError(err.Error())
		return err
	}
}
