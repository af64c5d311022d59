package containers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueWrapsAround(t *testing.T) {
	q := NewRingQueue[int](2)
	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))
	assert.ErrorIs(t, q.Enqueue(3), ErrQueueFull)

	v, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, q.Enqueue(3))

	v, _ = q.Peek()
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, q.Len())

	v, _ = q.Dequeue()
	assert.Equal(t, 2, v)
	v, _ = q.Dequeue()
	assert.Equal(t, 3, v)
	_, err = q.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestFrameRingSlotsByFrame(t *testing.T) {
	r, err := NewFrameRing(2, func(slot int) (string, error) {
		return []string{"a", "b"}[slot], nil
	})
	require.NoError(t, err)

	for frame, want := range []int{0, 1, 0, 1, 0} {
		slot, v := r.ForFrame(uint64(frame))
		assert.Equal(t, want, slot)
		assert.Equal(t, r.At(want), v)
	}

	var order []int
	r.Each(func(slot int, _ string) { order = append(order, slot) })
	assert.Equal(t, []int{1, 0}, order)
}

func TestFrameRingRejectsBadDepth(t *testing.T) {
	_, err := NewFrameRing(0, func(int) (int, error) { return 0, nil })
	assert.Error(t, err)

	boom := errors.New("boom")
	_, err = NewFrameRing(3, func(slot int) (int, error) {
		if slot == 2 {
			return 0, boom
		}
		return slot, nil
	})
	assert.ErrorIs(t, err, boom)
}
