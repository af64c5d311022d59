package indirect

import (
	"fmt"

	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

type trackedState struct {
	current metadata.ResourceState
	resting metadata.ResourceState
}

// StateTracker records the host's view of resource states while a list is
// recorded and emits the barriers needed to move between them.
type StateTracker struct {
	states map[device.Resource]*trackedState
	log    []device.ResourceBarrier
}

func NewStateTracker() *StateTracker {
	return &StateTracker{states: make(map[device.Resource]*trackedState)}
}

// Track registers a resource with the state it must be in between frames.
func (t *StateTracker) Track(res device.Resource, resting metadata.ResourceState) {
	t.states[res] = &trackedState{current: resting, resting: resting}
}

func (t *StateTracker) Forget(res device.Resource) {
	delete(t.states, res)
}

func (t *StateTracker) State(res device.Resource) (metadata.ResourceState, bool) {
	s, ok := t.states[res]
	if !ok {
		return 0, false
	}
	return s.current, true
}

// Transition records a barrier into state to. Already being there is a no-op.
func (t *StateTracker) Transition(list device.CommandList, res device.Resource, to metadata.ResourceState) error {
	s, ok := t.states[res]
	if !ok {
		err := fmt.Errorf("transition of untracked resource %s: %w", res.Name(), core.ErrInvalidState)
		core.LogError(err.Error())
		return err
	}
	if s.current == to {
		return nil
	}
	b := device.Transition(res, s.current, to)
	list.ResourceBarrier(b)
	t.log = append(t.log, b)
	s.current = to
	return nil
}

// Balanced fails when a resource has not returned to its resting state.
func (t *StateTracker) Balanced() error {
	for res, s := range t.states {
		if s.current != s.resting {
			return fmt.Errorf("%s left in %s, rests in %s: %w", res.Name(), s.current, s.resting, core.ErrInvalidState)
		}
	}
	return nil
}

// Barriers returns the barriers recorded since the last Reset.
func (t *StateTracker) Barriers() []device.ResourceBarrier {
	return t.log
}

func (t *StateTracker) Reset() {
	t.log = nil
}
