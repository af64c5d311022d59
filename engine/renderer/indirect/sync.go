package indirect

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/anima-indirect/engine/containers"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
)

// FrameTicket describes the frame being recorded.
type FrameTicket struct {
	// Zero-based frame number. The frame signals Frame+1 on completion.
	Frame     uint64
	Slot      uint32
	Allocator device.CommandAllocator
	// Fence value waited on before reuse, zero when no wait was needed.
	WaitedFor uint64
}

func (t FrameTicket) SignalValue() uint64 {
	return t.Frame + 1
}

/**
 * @brief Bounds host run-ahead with one monotonic fence and a ring of command
 * allocators. Frame f reuses slot f mod depth and, once the ring is full, waits
 * for the fence to reach the value frame f-depth signalled.
 */
type FrameSynchronizer struct {
	fence      device.Fence
	allocators *containers.FrameRing[device.CommandAllocator]
	timeout    time.Duration
	frames     uint64
	open       bool
}

func NewFrameSynchronizer(dev device.Device, depth uint32, timeout time.Duration) (*FrameSynchronizer, error) {
	fence, err := dev.CreateFence(0)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame fence: %w", err)
	}
	allocators, err := containers.NewFrameRing(int(depth), func(int) (device.CommandAllocator, error) {
		return dev.CreateCommandAllocator()
	})
	if err != nil {
		fence.Release()
		return nil, fmt.Errorf("failed to create command allocators: %w", err)
	}
	return &FrameSynchronizer{fence: fence, allocators: allocators, timeout: timeout}, nil
}

func (s *FrameSynchronizer) Depth() uint32 {
	return uint32(s.allocators.Depth())
}

// FrameCount is the number of frames submitted so far.
func (s *FrameSynchronizer) FrameCount() uint64 {
	return s.frames
}

func (s *FrameSynchronizer) Fence() device.Fence {
	return s.fence
}

// Begin waits until the next frame's slot is free and resets its allocator.
// A wait that times out is fatal to the frame loop.
func (s *FrameSynchronizer) Begin() (FrameTicket, error) {
	if s.open {
		return FrameTicket{}, fmt.Errorf("frame %d already begun: %w", s.frames, core.ErrInvalidState)
	}
	slot, alloc := s.allocators.ForFrame(s.frames)
	ticket := FrameTicket{Frame: s.frames, Slot: uint32(slot), Allocator: alloc}
	depth := uint64(s.allocators.Depth())
	if s.frames >= depth {
		ticket.WaitedFor = s.frames + 1 - depth
		if err := s.fence.Wait(ticket.WaitedFor, s.timeout); err != nil {
			return FrameTicket{}, fmt.Errorf("frame %d waiting on fence value %d: %w", s.frames, ticket.WaitedFor, err)
		}
	}
	if err := alloc.Reset(); err != nil {
		return FrameTicket{}, fmt.Errorf("frame %d allocator reset: %w", s.frames, err)
	}
	s.open = true
	return ticket, nil
}

// End signals the frame's fence value on queue after its submitted work.
func (s *FrameSynchronizer) End(queue device.CommandQueue, ticket FrameTicket) error {
	if !s.open || ticket.Frame != s.frames {
		return fmt.Errorf("end of frame %d, current %d: %w", ticket.Frame, s.frames, core.ErrInvalidState)
	}
	if err := queue.Signal(s.fence, ticket.SignalValue()); err != nil {
		return fmt.Errorf("frame %d signal: %w", ticket.Frame, err)
	}
	s.open = false
	s.frames++
	return nil
}

// WaitIdle blocks until every submitted frame completed.
func (s *FrameSynchronizer) WaitIdle() error {
	if s.frames == 0 {
		return nil
	}
	return s.fence.Wait(s.frames, s.timeout)
}

func (s *FrameSynchronizer) Release() {
	s.allocators.Each(func(_ int, a device.CommandAllocator) {
		a.Release()
	})
	s.fence.Release()
}

// Abandon ends a begun frame that submitted nothing. Its slot is reused next.
func (s *FrameSynchronizer) Abandon(ticket FrameTicket) {
	if s.open && ticket.Frame == s.frames {
		s.open = false
	}
}
