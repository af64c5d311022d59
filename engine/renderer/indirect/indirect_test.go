package indirect

import (
	"encoding/binary"
	gomath "math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/math"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/soft"
)

const (
	testInstances = 4
	testDepth     = 2
	testAlignment = 256
)

func uploadBuffer(t *testing.T, dev device.Device, size uint64) device.Buffer {
	t.Helper()
	b, err := dev.CreateBuffer(metadata.BufferDesc{Name: "test-upload", Size: size, Heap: metadata.HeapTypeUpload, InitialState: metadata.ResourceStateGenericRead})
	require.NoError(t, err)
	return b
}

func newWriter(t *testing.T, dev device.Device) (*ParameterWriter, device.Buffer) {
	t.Helper()
	buf := uploadBuffer(t, dev, TransformBufferSize(testAlignment, testInstances, testDepth))
	w, err := NewParameterWriter(buf, testAlignment, testInstances, testDepth, 400.0/240.0)
	require.NoError(t, err)
	return w, buf
}

func newBuilder(t *testing.T, dev device.Device, w *ParameterWriter) *ArgumentBuilder {
	t.Helper()
	layout, err := NewArgumentLayout(DefaultSignatureDesc())
	require.NoError(t, err)
	size := ArgumentBufferSize(layout, testInstances, testDepth)
	target, err := dev.CreateBuffer(metadata.BufferDesc{Name: "test-args", Size: size, Heap: metadata.HeapTypeDefault, InitialState: metadata.ResourceStateIndirectArgument})
	require.NoError(t, err)
	b, err := NewArgumentBuilder(layout, w, uploadBuffer(t, dev, size), target, testInstances, testDepth, 36)
	require.NoError(t, err)
	return b
}

func readMat4(b []byte) math.Mat4 {
	var m math.Mat4
	for i := range m.Data {
		m.Data[i] = gomath.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return m
}

func TestDefaultSignatureLayout(t *testing.T) {
	layout, err := NewArgumentLayout(DefaultSignatureDesc())
	require.NoError(t, err)
	assert.Equal(t, ArgumentLayout{Stride: 28, CBVOffset: 0, DrawOffset: 8}, layout)

	rec := ArgumentRecord{
		CBV:  metadata.NewGPUVirtualAddress(3, 512),
		Draw: metadata.DrawIndexedArguments{IndexCountPerInstance: 36, InstanceCount: 1},
	}
	buf := make([]byte, layout.Stride)
	layout.Encode(buf, rec)
	assert.Equal(t, uint64(3)<<32|512, binary.LittleEndian.Uint64(buf[0:]))
	assert.Equal(t, uint32(36), binary.LittleEndian.Uint32(buf[8:]))
	assert.Equal(t, rec, layout.Decode(buf))
}

func TestArgumentLayoutRejectsForeignSignatures(t *testing.T) {
	desc := DefaultSignatureDesc()
	desc.Arguments[1].Type = metadata.IndirectArgumentTypeDraw
	_, err := NewArgumentLayout(desc)
	assert.ErrorIs(t, err, core.ErrSignatureMismatch)

	desc = DefaultSignatureDesc()
	desc.ByteStride = 24
	_, err = NewArgumentLayout(desc)
	assert.ErrorIs(t, err, core.ErrSignatureMismatch)

	desc = DefaultSignatureDesc()
	desc.Arguments = desc.Arguments[1:]
	_, err = NewArgumentLayout(desc)
	assert.ErrorIs(t, err, core.ErrSignatureMismatch)

	desc = DefaultSignatureDesc()
	desc.Arguments = append(desc.Arguments, desc.Arguments[1])
	desc.ByteStride += metadata.DrawIndexedArgumentsSize
	_, err = NewArgumentLayout(desc)
	assert.ErrorIs(t, err, core.ErrSignatureMismatch)
}

func TestInstanceOffsetPattern(t *testing.T) {
	want := []math.Vec3{{X: -0.5, Y: 0.7}, {X: 0.5, Y: 0.7}, {X: -0.5, Y: -0.3}, {X: 0.5, Y: -0.3}}
	for i, w := range want {
		assert.True(t, InstanceOffset(uint32(i)).Compare(w, 1e-6), "instance %d: %+v", i, InstanceOffset(uint32(i)))
	}
}

func TestParameterWriterFillsOnlyItsSlot(t *testing.T) {
	dev := soft.New()
	defer dev.Release()
	w, buf := newWriter(t, dev)

	require.NoError(t, w.Write(1, 30))
	mapped, err := buf.Map()
	require.NoError(t, err)

	for i := uint32(0); i < testInstances; i++ {
		mvp, world := w.Transforms(30, i)
		off := testAlignment * (1*testInstances + i)
		assert.True(t, readMat4(mapped[off+MVPOffset:]).Compare(mvp.Transposed(), 1e-6), "mvp of instance %d", i)
		assert.True(t, readMat4(mapped[off+WorldOffset:]).Compare(world.Transposed(), 1e-6), "world of instance %d", i)
		assert.Equal(t, buf.GPUVirtualAddress().Add(uint64(off)), w.Address(1, i))
	}
	// Slot 0 was never written.
	assert.Equal(t, make([]byte, testAlignment*testInstances), mapped[:testAlignment*testInstances])

	assert.ErrorIs(t, w.Write(testDepth, 0), core.ErrOutOfBounds)
}

func TestParameterWriterRejectsSmallBuffer(t *testing.T) {
	dev := soft.New()
	defer dev.Release()
	buf := uploadBuffer(t, dev, 256)
	_, err := NewParameterWriter(buf, testAlignment, testInstances, testDepth, 1)
	assert.ErrorIs(t, err, core.ErrOutOfBounds)
}

func TestWorldMatrixRotatesAboutY(t *testing.T) {
	// A quarter turn maps +x onto the rotated axis, scaled and offset.
	p := math.Vec4{X: 1, W: 1}.MulMat4(WorldMatrix(90, 0))
	offset := InstanceOffset(0)
	assert.InDelta(t, offset.X, p.X, 1e-5)
	assert.InDelta(t, offset.Y, p.Y, 1e-5)
	assert.InDelta(t, float32(0.5), gomath.Abs(float64(p.Z)), 1e-5)
}

func TestArgumentRecordsPointAtTransforms(t *testing.T) {
	dev := soft.New()
	defer dev.Release()
	w, _ := newWriter(t, dev)
	b := newBuilder(t, dev, w)

	require.NoError(t, b.Build(1))
	records := b.Records(1)
	require.Len(t, records, 28*testInstances)
	for i := uint32(0); i < testInstances; i++ {
		rec := b.layout.Decode(records[i*28:])
		assert.Equal(t, w.Address(1, i), rec.CBV)
		assert.Equal(t, uint64(testAlignment)*uint64(1*testInstances+i), rec.CBV.Offset())
		assert.Equal(t, metadata.DrawIndexedArguments{IndexCountPerInstance: 36, InstanceCount: 1}, rec.Draw)
	}
	assert.Equal(t, make([]byte, 28*testInstances), b.Records(0))
	assert.ErrorIs(t, b.Build(testDepth), core.ErrOutOfBounds)
}

func TestArgumentBuildIsIdempotent(t *testing.T) {
	dev := soft.New()
	defer dev.Release()
	w, buf := newWriter(t, dev)
	b := newBuilder(t, dev, w)
	mapped, err := buf.Map()
	require.NoError(t, err)

	require.NoError(t, w.Write(0, 45))
	require.NoError(t, b.Build(0))
	firstArgs := b.Records(0)
	firstParams := append([]byte(nil), mapped...)

	require.NoError(t, w.Write(0, 45))
	require.NoError(t, b.Build(0))
	assert.Equal(t, firstArgs, b.Records(0))
	assert.Equal(t, firstParams, mapped)
}

// recordingList captures the commands staging records. Other methods are unused.
type recordingList struct {
	device.CommandList
	barriers []device.ResourceBarrier
	copies   [][2]uint64
}

func (l *recordingList) ResourceBarrier(barriers ...device.ResourceBarrier) {
	l.barriers = append(l.barriers, barriers...)
}

func (l *recordingList) CopyBufferRegion(_ device.Buffer, dstOffset uint64, _ device.Buffer, _ uint64, size uint64) {
	l.copies = append(l.copies, [2]uint64{dstOffset, size})
}

func TestStageBracketsCopyWithBarriers(t *testing.T) {
	dev := soft.New()
	defer dev.Release()
	w, _ := newWriter(t, dev)
	b := newBuilder(t, dev, w)
	tracker := NewStateTracker()
	tracker.Track(b.Target(), metadata.ResourceStateIndirectArgument)

	list := &recordingList{}
	require.NoError(t, b.Stage(list, tracker, 1))

	assert.Equal(t, []device.ResourceBarrier{
		device.Transition(b.Target(), metadata.ResourceStateIndirectArgument, metadata.ResourceStateCopyDest),
		device.Transition(b.Target(), metadata.ResourceStateCopyDest, metadata.ResourceStateIndirectArgument),
	}, list.barriers)
	assert.Equal(t, [][2]uint64{{28 * testInstances, 28 * testInstances}}, list.copies)
	assert.NoError(t, tracker.Balanced())
}

func TestStateTrackerBalance(t *testing.T) {
	dev := soft.New()
	defer dev.Release()
	res := uploadBuffer(t, dev, 64)
	tracker := NewStateTracker()
	list := &recordingList{}

	assert.ErrorIs(t, tracker.Transition(list, res, metadata.ResourceStateCopyDest), core.ErrInvalidState)

	tracker.Track(res, metadata.ResourceStatePresent)
	require.NoError(t, tracker.Transition(list, res, metadata.ResourceStateRenderTarget))
	assert.ErrorIs(t, tracker.Balanced(), core.ErrInvalidState)
	require.NoError(t, tracker.Transition(list, res, metadata.ResourceStateRenderTarget))
	require.NoError(t, tracker.Transition(list, res, metadata.ResourceStatePresent))
	assert.NoError(t, tracker.Balanced())

	require.Len(t, list.barriers, 2)
	assert.Equal(t, list.barriers, tracker.Barriers())
	// Every transition into a working state is undone by the next one.
	for i := 0; i+1 < len(list.barriers); i += 2 {
		assert.Equal(t, list.barriers[i].After, list.barriers[i+1].Before)
		assert.Equal(t, list.barriers[i].Before, list.barriers[i+1].After)
	}
	tracker.Reset()
	assert.Empty(t, tracker.Barriers())
}

func TestFrameStateMachineOrder(t *testing.T) {
	m := NewFrameStateMachine(2)
	order := []FrameState{FrameStateRecording, FrameStateTransformWritten, FrameStateArgumentStaged, FrameStateSubmitted, FrameStatePresented}

	assert.ErrorIs(t, m.Advance(0, FrameStateTransformWritten), core.ErrInvalidTransition)
	for _, s := range order[:2] {
		require.NoError(t, m.Advance(0, s))
	}
	assert.ErrorIs(t, m.Retire(0), core.ErrInvalidTransition)
	for _, s := range order[2:] {
		require.NoError(t, m.Advance(0, s))
	}
	assert.Equal(t, FrameStatePresented, m.State(0))
	assert.Equal(t, FrameStateIdle, m.State(1))
	assert.ErrorIs(t, m.Advance(0, FrameStateRecording), core.ErrInvalidTransition)

	require.NoError(t, m.Retire(0))
	assert.Equal(t, FrameStateIdle, m.State(0))
	assert.NoError(t, m.Retire(1))
	assert.Equal(t, "argument-staged", FrameStateArgumentStaged.String())
}

func runEmptyFrame(t *testing.T, s *FrameSynchronizer, q device.CommandQueue, list device.CommandList) FrameTicket {
	t.Helper()
	ticket, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, list.Reset(ticket.Allocator))
	require.NoError(t, list.Close())
	require.NoError(t, q.ExecuteCommandLists(list))
	require.NoError(t, s.End(q, ticket))
	return ticket
}

func TestFrameSynchronizerWaitsBeforeSlotReuse(t *testing.T) {
	dev := soft.New(soft.WithExecutionDelay(20 * time.Millisecond))
	defer dev.Release()
	q, err := dev.CreateCommandQueue()
	require.NoError(t, err)
	s, err := NewFrameSynchronizer(dev, testDepth, time.Second)
	require.NoError(t, err)
	defer s.Release()
	alloc, err := dev.CreateCommandAllocator()
	require.NoError(t, err)
	list, err := dev.CreateCommandList(alloc)
	require.NoError(t, err)

	var tickets []FrameTicket
	for f := 0; f < 5; f++ {
		ticket := runEmptyFrame(t, s, q, list)
		tickets = append(tickets, ticket)
		assert.Equal(t, uint32(f%testDepth), ticket.Slot)
		assert.Equal(t, uint64(f+1), ticket.SignalValue())
		if f < testDepth {
			assert.Zero(t, ticket.WaitedFor)
		} else {
			assert.Equal(t, uint64(f+1-testDepth), ticket.WaitedFor)
			// Reusing the slot's allocator succeeded, so its prior work finished.
			assert.GreaterOrEqual(t, s.Fence().CompletedValue(), ticket.WaitedFor)
		}
	}
	assert.Same(t, tickets[0].Allocator, tickets[2].Allocator)
	assert.NotSame(t, tickets[0].Allocator, tickets[1].Allocator)
	require.NoError(t, s.WaitIdle())
	assert.Equal(t, uint64(5), s.Fence().CompletedValue())
}

func TestFrameSynchronizerTimeoutIsFatal(t *testing.T) {
	dev := soft.New(soft.WithExecutionDelay(300 * time.Millisecond))
	defer dev.Release()
	q, err := dev.CreateCommandQueue()
	require.NoError(t, err)
	s, err := NewFrameSynchronizer(dev, 1, 5*time.Millisecond)
	require.NoError(t, err)
	defer s.Release()
	alloc, err := dev.CreateCommandAllocator()
	require.NoError(t, err)
	list, err := dev.CreateCommandList(alloc)
	require.NoError(t, err)

	runEmptyFrame(t, s, q, list)
	_, err = s.Begin()
	assert.ErrorIs(t, err, core.ErrFenceTimeout)
}

func TestFrameSynchronizerRejectsUnbalancedCalls(t *testing.T) {
	dev := soft.New()
	defer dev.Release()
	q, err := dev.CreateCommandQueue()
	require.NoError(t, err)
	s, err := NewFrameSynchronizer(dev, testDepth, time.Second)
	require.NoError(t, err)
	defer s.Release()

	ticket, err := s.Begin()
	require.NoError(t, err)
	_, err = s.Begin()
	assert.ErrorIs(t, err, core.ErrInvalidState)

	s.Abandon(ticket)
	assert.ErrorIs(t, s.End(q, ticket), core.ErrInvalidState)
	assert.Zero(t, s.FrameCount())
}
