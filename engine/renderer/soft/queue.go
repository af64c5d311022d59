package soft

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/anima-indirect/engine/containers"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
)

const maxPendingSubmissions = 64

type executableList struct {
	name  string
	alloc *commandAllocator
	cmds  []command
}

type presentOp struct {
	chain *swapChain
	index uint32
	frame uint64
}

// submission is one unit of queue work. Exactly one field is set.
type submission struct {
	lists   []executableList
	fence   *fence
	value   uint64
	present *presentOp
}

type queue struct {
	dev     *Device
	mu      sync.Mutex
	cond    *sync.Cond
	pending *containers.RingQueue[submission]
	closed  bool
	wg      sync.WaitGroup
}

func newQueue(d *Device) *queue {
	q := &queue{
		dev:     d,
		pending: containers.NewRingQueue[submission](maxPendingSubmissions),
	}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.run()
	return q
}

// enqueue blocks while the pending ring is full.
func (q *queue) enqueue(s submission) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending.IsFull() && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return fmt.Errorf("queue released: %w", core.ErrInvalidState)
	}
	if err := q.pending.Enqueue(s); err != nil {
		return err
	}
	q.cond.Broadcast()
	return nil
}

func (q *queue) run() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for q.pending.IsEmpty() && !q.closed {
			q.cond.Wait()
		}
		if q.pending.IsEmpty() && q.closed {
			q.mu.Unlock()
			return
		}
		s, _ := q.pending.Dequeue()
		q.cond.Broadcast()
		q.mu.Unlock()

		q.process(s)
	}
}

func (q *queue) process(s submission) {
	switch {
	case s.fence != nil:
		s.fence.signal(s.value)
	case s.present != nil:
		if q.dev.RemovedReason() == nil {
			if err := s.present.chain.execute(s.present); err != nil {
				q.dev.remove(err)
			}
		}
	default:
		for _, l := range s.lists {
			if q.dev.delay > 0 {
				time.Sleep(q.dev.delay)
			}
			if q.dev.RemovedReason() == nil {
				if err := newExecutor(q.dev).run(l.cmds); err != nil {
					q.dev.remove(fmt.Errorf("list %s: %w", l.name, err))
				}
				q.dev.stats.lists.Add(1)
			}
			l.alloc.inFlight.Add(-1)
		}
	}
}

func (q *queue) ExecuteCommandLists(lists ...device.CommandList) error {
	if err := q.dev.RemovedReason(); err != nil {
		return err
	}
	s := submission{lists: make([]executableList, 0, len(lists))}
	for _, cl := range lists {
		l, ok := cl.(*commandList)
		if !ok || l == nil {
			err := fmt.Errorf("execute: foreign command list: %w", core.ErrInvalidState)
			core.LogError(err.Error())
			return err
		}
		if l.open {
			err := fmt.Errorf("execute list %s: %w", l.name, core.ErrCommandListOpen)
			core.LogError(err.Error())
			return err
		}
		if l.err != nil {
			err := fmt.Errorf("execute list %s recorded with errors: %w", l.name, l.err)
			core.LogError(err.Error())
			return err
		}
		s.lists = append(s.lists, executableList{name: l.name, alloc: l.alloc, cmds: l.cmds})
	}
	for _, l := range s.lists {
		l.alloc.inFlight.Add(1)
	}
	if err := q.enqueue(s); err != nil {
		for _, l := range s.lists {
			l.alloc.inFlight.Add(-1)
		}
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (q *queue) Signal(f device.Fence, value uint64) error {
	sf, ok := f.(*fence)
	if !ok || sf == nil {
		err := fmt.Errorf("signal: foreign fence: %w", core.ErrInvalidState)
		core.LogError(err.Error())
		return err
	}
	return q.enqueue(submission{fence: sf, value: value})
}

func (q *queue) Release() {}

func (q *queue) shutdown() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
}

type fence struct {
	dev   *Device
	mu    sync.Mutex
	cond  *sync.Cond
	value uint64
}

func (f *fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func (f *fence) signal(value uint64) {
	f.mu.Lock()
	if value > f.value {
		f.value = value
	}
	f.mu.Unlock()
	f.cond.Broadcast()
}

func (f *fence) wake() {
	f.mu.Lock()
	f.mu.Unlock()
	f.cond.Broadcast()
}

func (f *fence) Wait(value uint64, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	expired := false
	timer := time.AfterFunc(timeout, func() {
		f.mu.Lock()
		expired = true
		f.mu.Unlock()
		f.cond.Broadcast()
	})
	defer timer.Stop()

	for {
		// A lost device never reports completion.
		if err := f.dev.RemovedReason(); err != nil {
			return err
		}
		if f.value >= value {
			return nil
		}
		if expired {
			return fmt.Errorf("waiting for %d, completed %d after %s: %w", value, f.value, timeout, core.ErrFenceTimeout)
		}
		f.cond.Wait()
	}
}

func (f *fence) Release() {}
