package soft

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

type fixture struct {
	dev   *Device
	queue device.CommandQueue
	alloc device.CommandAllocator
	list  device.CommandList
	fence device.Fence
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{dev: New(opts...)}
	t.Cleanup(f.dev.Release)

	var err error
	f.queue, err = f.dev.CreateCommandQueue()
	require.NoError(t, err)
	f.alloc, err = f.dev.CreateCommandAllocator()
	require.NoError(t, err)
	f.list, err = f.dev.CreateCommandList(f.alloc)
	require.NoError(t, err)
	f.fence, err = f.dev.CreateFence(0)
	require.NoError(t, err)
	return f
}

func (f *fixture) submit(t *testing.T, value uint64) {
	t.Helper()
	require.NoError(t, f.list.Close())
	require.NoError(t, f.queue.ExecuteCommandLists(f.list))
	require.NoError(t, f.queue.Signal(f.fence, value))
}

func TestUploadBufferMustStartInGenericRead(t *testing.T) {
	dev := New()
	defer dev.Release()

	_, err := dev.CreateBuffer(metadata.BufferDesc{Size: 64, Heap: metadata.HeapTypeUpload, InitialState: metadata.ResourceStateCopySource})
	assert.ErrorIs(t, err, core.ErrResourceCreation)

	b, err := dev.CreateBuffer(metadata.BufferDesc{Size: 64, Heap: metadata.HeapTypeDefault, InitialState: metadata.ResourceStateCopyDest})
	require.NoError(t, err)
	_, err = b.Map()
	assert.ErrorIs(t, err, core.ErrNotMappable)
}

func TestCopyRespectsStatesAndSignalsFence(t *testing.T) {
	f := newFixture(t)

	src, err := f.dev.CreateBuffer(metadata.BufferDesc{Name: "src", Size: 16, Heap: metadata.HeapTypeUpload, InitialState: metadata.ResourceStateGenericRead})
	require.NoError(t, err)
	dst, err := f.dev.CreateBuffer(metadata.BufferDesc{Name: "dst", Size: 16, Heap: metadata.HeapTypeDefault, InitialState: metadata.ResourceStateIndirectArgument})
	require.NoError(t, err)

	host, err := src.Map()
	require.NoError(t, err)
	copy(host, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	require.NoError(t, f.list.Reset(f.alloc))
	f.list.ResourceBarrier(device.Transition(dst, metadata.ResourceStateIndirectArgument, metadata.ResourceStateCopyDest))
	f.list.CopyBufferRegion(dst, 8, src, 0, 8)
	f.list.ResourceBarrier(device.Transition(dst, metadata.ResourceStateCopyDest, metadata.ResourceStateIndirectArgument))
	f.submit(t, 1)

	require.NoError(t, f.fence.Wait(1, time.Second))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}, dst.(*buffer).data)
	assert.Equal(t, uint64(2), f.dev.Stats().Barriers)
	assert.Equal(t, uint64(1), f.dev.Stats().Copies)
	assert.NoError(t, f.dev.RemovedReason())
}

func TestCopyIntoWrongStateRemovesDevice(t *testing.T) {
	f := newFixture(t)

	src, _ := f.dev.CreateBuffer(metadata.BufferDesc{Size: 16, Heap: metadata.HeapTypeUpload, InitialState: metadata.ResourceStateGenericRead})
	dst, _ := f.dev.CreateBuffer(metadata.BufferDesc{Size: 16, Heap: metadata.HeapTypeDefault, InitialState: metadata.ResourceStateIndirectArgument})

	require.NoError(t, f.list.Reset(f.alloc))
	f.list.CopyBufferRegion(dst, 0, src, 0, 16)
	f.submit(t, 1)

	err := f.fence.Wait(1, time.Second)
	assert.ErrorIs(t, err, core.ErrDeviceRemoved)
	assert.ErrorIs(t, f.dev.RemovedReason(), core.ErrInvalidState)
}

func TestRecordingErrorsSurfaceOnClose(t *testing.T) {
	f := newFixture(t)
	small, _ := f.dev.CreateBuffer(metadata.BufferDesc{Size: 8, Heap: metadata.HeapTypeUpload, InitialState: metadata.ResourceStateGenericRead})
	other, _ := f.dev.CreateBuffer(metadata.BufferDesc{Size: 8, Heap: metadata.HeapTypeDefault, InitialState: metadata.ResourceStateCopyDest})

	require.NoError(t, f.list.Reset(f.alloc))
	f.list.CopyBufferRegion(other, 0, small, 4, 8)
	err := f.list.Close()
	assert.ErrorIs(t, err, core.ErrOutOfBounds)
	assert.Error(t, f.queue.ExecuteCommandLists(f.list))

	f.list.ResourceBarrier(device.Transition(other, metadata.ResourceStateCopyDest, metadata.ResourceStateCommon))
	assert.ErrorIs(t, f.list.Close(), core.ErrCommandListClosed)
}

func TestAllocatorResetWhileExecutingFails(t *testing.T) {
	f := newFixture(t, WithExecutionDelay(50*time.Millisecond))

	require.NoError(t, f.list.Reset(f.alloc))
	f.submit(t, 1)
	assert.ErrorIs(t, f.alloc.Reset(), core.ErrAllocatorInUse)

	require.NoError(t, f.fence.Wait(1, time.Second))
	assert.NoError(t, f.alloc.Reset())
}

func TestFenceKeepsHighestSignalledValue(t *testing.T) {
	f := newFixture(t)
	f.submit(t, 5)
	require.NoError(t, f.fence.Wait(5, time.Second))

	require.NoError(t, f.queue.Signal(f.fence, 3))
	require.NoError(t, f.queue.Signal(f.fence, 4))
	require.NoError(t, f.queue.Signal(f.fence, 6))
	require.NoError(t, f.fence.Wait(6, time.Second))
	assert.Equal(t, uint64(6), f.fence.CompletedValue())

	require.NoError(t, f.queue.Signal(f.fence, 2))
	assert.Never(t, func() bool { return f.fence.CompletedValue() < 6 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, uint64(6), f.fence.CompletedValue())
}

func TestFenceWaitTimesOut(t *testing.T) {
	f := newFixture(t)
	err := f.fence.Wait(1, 10*time.Millisecond)
	assert.ErrorIs(t, err, core.ErrFenceTimeout)
	assert.Equal(t, uint64(0), f.fence.CompletedValue())
}

func TestCommandSignatureValidation(t *testing.T) {
	dev := New()
	defer dev.Release()
	rs, err := dev.CreateRootSignature(metadata.RootSignatureDesc{Parameters: []metadata.RootParameter{{Type: metadata.RootParameterTypeCBV}}})
	require.NoError(t, err)

	cbv := metadata.IndirectArgumentDesc{Type: metadata.IndirectArgumentTypeConstantBufferView}
	draw := metadata.IndirectArgumentDesc{Type: metadata.IndirectArgumentTypeDrawIndexed}

	_, err = dev.CreateCommandSignature(metadata.CommandSignatureDesc{ByteStride: 28, Arguments: []metadata.IndirectArgumentDesc{cbv, draw}}, rs)
	assert.NoError(t, err)

	tests := []metadata.CommandSignatureDesc{
		{ByteStride: 24, Arguments: []metadata.IndirectArgumentDesc{cbv, draw}},
		{ByteStride: 30, Arguments: []metadata.IndirectArgumentDesc{cbv, draw}},
		{ByteStride: 28, Arguments: []metadata.IndirectArgumentDesc{draw, cbv}},
		{ByteStride: 28, Arguments: []metadata.IndirectArgumentDesc{{Type: metadata.IndirectArgumentTypeConstantBufferView, RootParameterIndex: 3}, draw}},
	}
	for _, desc := range tests {
		_, err := dev.CreateCommandSignature(desc, rs)
		assert.ErrorIs(t, err, core.ErrSignatureMismatch)
	}
}

func TestExecuteIndirectReadsEveryRecord(t *testing.T) {
	f := newFixture(t)
	const width, height = 32, 32

	rs, err := f.dev.CreateRootSignature(metadata.RootSignatureDesc{Parameters: []metadata.RootParameter{{Type: metadata.RootParameterTypeCBV}}, AllowInputLayout: true})
	require.NoError(t, err)
	pso, err := f.dev.CreatePipelineState(device.PipelineStateDesc{
		RootSignature: rs,
		InputLayout:   metadata.VertexLayout(),
		VertexStride:  32,
	})
	require.NoError(t, err)
	sig, err := f.dev.CreateCommandSignature(metadata.CommandSignatureDesc{
		ByteStride: 28,
		Arguments: []metadata.IndirectArgumentDesc{
			{Type: metadata.IndirectArgumentTypeConstantBufferView},
			{Type: metadata.IndirectArgumentTypeDrawIndexed},
		},
	}, rs)
	require.NoError(t, err)

	upload := func(size uint64) device.Buffer {
		b, err := f.dev.CreateBuffer(metadata.BufferDesc{Size: size, Heap: metadata.HeapTypeUpload, InitialState: metadata.ResourceStateGenericRead})
		require.NoError(t, err)
		return b
	}
	// One degenerate triangle is enough to exercise the path.
	vb := upload(3 * 32)
	ib := upload(8)
	cb := upload(512)
	args := upload(2 * 28)

	cbHost, _ := cb.Map()
	for slot := 0; slot < 2; slot++ {
		for i := 0; i < 4; i++ {
			// identity matrices, transposed or not
			binary.LittleEndian.PutUint32(cbHost[slot*256+i*20:], 0x3f800000)
			binary.LittleEndian.PutUint32(cbHost[slot*256+64+i*20:], 0x3f800000)
		}
	}
	argHost, _ := args.Map()
	for i := 0; i < 2; i++ {
		binary.LittleEndian.PutUint64(argHost[i*28:], uint64(cb.GPUVirtualAddress().Add(uint64(i)*256)))
		metadata.DrawIndexedArguments{IndexCountPerInstance: 3, InstanceCount: 1}.Marshal(argHost[i*28+8:])
	}

	sc, err := f.dev.CreateSwapChain(f.queue, metadata.SwapChainDesc{Width: width, Height: height, BufferCount: 2})
	require.NoError(t, err)
	bb, err := sc.BackBuffer(0)
	require.NoError(t, err)

	require.NoError(t, f.list.Reset(f.alloc))
	f.list.ResourceBarrier(device.Transition(bb, metadata.ResourceStatePresent, metadata.ResourceStateRenderTarget))
	f.list.SetRenderTargets(bb, nil)
	f.list.SetViewport(metadata.Viewport{Width: width, Height: height, MaxDepth: 1})
	f.list.SetScissor(metadata.Rect{Right: width, Bottom: height})
	f.list.SetRootSignature(rs)
	f.list.SetPipelineState(pso)
	f.list.SetPrimitiveTopology(metadata.PrimitiveTopologyTriangleList)
	f.list.SetVertexBuffer(metadata.VertexBufferView{BufferLocation: vb.GPUVirtualAddress(), SizeInBytes: 96, StrideInBytes: 32})
	f.list.SetIndexBuffer(metadata.IndexBufferView{BufferLocation: ib.GPUVirtualAddress(), SizeInBytes: 8, Format: metadata.IndexFormatUint16})
	f.list.ExecuteIndirect(sig, 2, args, 0)
	f.list.ResourceBarrier(device.Transition(bb, metadata.ResourceStateRenderTarget, metadata.ResourceStatePresent))
	f.submit(t, 1)

	require.NoError(t, f.fence.Wait(1, time.Second))
	require.NoError(t, f.dev.RemovedReason())
	assert.Equal(t, uint64(1), f.dev.Stats().ExecuteIndirects)
	assert.Equal(t, uint64(2), f.dev.Stats().Draws)
}

func TestMisalignedConstantBufferAddressRemovesDevice(t *testing.T) {
	f := newFixture(t)
	rs, _ := f.dev.CreateRootSignature(metadata.RootSignatureDesc{Parameters: []metadata.RootParameter{{Type: metadata.RootParameterTypeCBV}}})
	cb, _ := f.dev.CreateBuffer(metadata.BufferDesc{Size: 512, Heap: metadata.HeapTypeUpload, InitialState: metadata.ResourceStateGenericRead})

	require.NoError(t, f.list.Reset(f.alloc))
	f.list.SetRootSignature(rs)
	f.list.SetRootConstantBuffer(0, cb.GPUVirtualAddress().Add(128))
	f.submit(t, 1)

	assert.ErrorIs(t, f.fence.Wait(1, time.Second), core.ErrDeviceRemoved)
}
