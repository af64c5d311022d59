package containers

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// FrameRing holds one element per in-flight frame. The depth is fixed at
// construction and slots are addressed by frame number modulo depth.
type FrameRing[T any] struct {
	slots []T
}

func NewFrameRing[T any](depth int, create func(slot int) (T, error)) (*FrameRing[T], error) {
	if depth <= 0 {
		return nil, fmt.Errorf("frame ring depth must be positive, got %d", depth)
	}
	r := &FrameRing[T]{slots: make([]T, depth)}
	for i := range r.slots {
		v, err := create(i)
		if err != nil {
			return nil, fmt.Errorf("frame ring slot %d: %w", i, err)
		}
		r.slots[i] = v
	}
	return r, nil
}

func (r *FrameRing[T]) Depth() int {
	return len(r.slots)
}

// Slot maps a frame number to its slot index.
func Slot[N constraints.Integer](frame N, depth int) int {
	return int(uint64(frame) % uint64(depth))
}

// ForFrame returns the slot index and element used by frame.
func (r *FrameRing[T]) ForFrame(frame uint64) (int, T) {
	i := Slot(frame, len(r.slots))
	return i, r.slots[i]
}

func (r *FrameRing[T]) At(slot int) T {
	return r.slots[slot]
}

// Each visits slots in reverse index order, matching teardown order.
func (r *FrameRing[T]) Each(fn func(slot int, v T)) {
	for i := len(r.slots) - 1; i >= 0; i-- {
		fn(i, r.slots[i])
	}
}
