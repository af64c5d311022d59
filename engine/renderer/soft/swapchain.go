package soft

import (
	"fmt"

	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

type swapChain struct {
	dev     *Device
	queue   *queue
	desc    metadata.SwapChainDesc
	buffers []*texture
	current uint32
	frames  uint64
}

func (s *swapChain) BufferCount() uint32 {
	return uint32(len(s.buffers))
}

func (s *swapChain) CurrentBackBufferIndex() (uint32, error) {
	return s.current, nil
}

func (s *swapChain) BackBuffer(index uint32) (device.Texture, error) {
	if int(index) >= len(s.buffers) {
		return nil, fmt.Errorf("back buffer %d of %d: %w", index, len(s.buffers), core.ErrOutOfBounds)
	}
	return s.buffers[index], nil
}

// Present queues the current back buffer behind all submitted work and
// advances to the next one.
func (s *swapChain) Present(syncInterval uint32) error {
	if err := s.dev.RemovedReason(); err != nil {
		return err
	}
	op := &presentOp{chain: s, index: s.current, frame: s.frames}
	if err := s.queue.enqueue(submission{present: op}); err != nil {
		return err
	}
	s.frames++
	s.current = (s.current + 1) % uint32(len(s.buffers))
	return nil
}

func (s *swapChain) execute(op *presentOp) error {
	bb := s.buffers[op.index]
	if bb.state != metadata.ResourceStatePresent {
		return fmt.Errorf("present of %s in %s: %w", bb.Name(), bb.state, core.ErrInvalidState)
	}
	s.dev.stats.presents.Add(1)
	if s.dev.presentHook != nil {
		s.dev.presentHook(op.frame, bb.color)
	}
	return nil
}

func (s *swapChain) Release() {
	for _, b := range s.buffers {
		b.Release()
	}
}
