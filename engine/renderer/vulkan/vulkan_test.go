package vulkan

import (
	"encoding/binary"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

func TestUsageOfLayouts(t *testing.T) {
	cases := map[metadata.ResourceState]vk.ImageLayout{
		metadata.ResourceStatePresent:          vk.ImageLayoutPresentSrc,
		metadata.ResourceStateRenderTarget:     vk.ImageLayoutColorAttachmentOptimal,
		metadata.ResourceStateDepthWrite:       vk.ImageLayoutDepthStencilAttachmentOptimal,
		metadata.ResourceStateCopySource:       vk.ImageLayoutTransferSrcOptimal,
		metadata.ResourceStateCopyDest:         vk.ImageLayoutTransferDstOptimal,
		metadata.ResourceStateIndirectArgument: vk.ImageLayoutGeneral,
		metadata.ResourceStateCommon:           vk.ImageLayoutGeneral,
	}
	for state, layout := range cases {
		assert.Equal(t, layout, usageOf(state).Layout, "state %v", state)
	}
}

func TestUsageOfIndirectArgumentCoversDrawIndirect(t *testing.T) {
	u := usageOf(metadata.ResourceStateIndirectArgument)
	assert.NotZero(t, u.Access&vk.AccessFlags(vk.AccessIndirectCommandReadBit))
	assert.NotZero(t, u.Stage&vk.PipelineStageFlags(vk.PipelineStageDrawIndirectBit))
	// The vertex shader fetches the view address from the same record.
	assert.NotZero(t, u.Access&vk.AccessFlags(vk.AccessShaderReadBit))
}

func TestUsageOfCopyDestIsTransferWrite(t *testing.T) {
	u := usageOf(metadata.ResourceStateCopyDest)
	assert.Equal(t, vk.AccessFlags(vk.AccessTransferWriteBit), u.Access)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageTransferBit), u.Stage)
}

func TestBarrierBatchStartsEmpty(t *testing.T) {
	var bb barrierBatch
	assert.True(t, bb.empty())
}

func TestBufferUsageFlags(t *testing.T) {
	base := vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit | vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit)
	assert.Equal(t, base, bufferUsageFlags(0))

	flags := bufferUsageFlags(metadata.BufferUsageIndirect | metadata.BufferUsageCopyDest)
	assert.NotZero(t, flags&vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit))
	assert.Zero(t, flags&vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))

	flags = bufferUsageFlags(metadata.BufferUsageVertex | metadata.BufferUsageIndex | metadata.BufferUsageConstant)
	assert.NotZero(t, flags&vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	assert.NotZero(t, flags&vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit))
	assert.NotZero(t, flags&vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit))
}

func TestHeapMemoryFlags(t *testing.T) {
	upload := heapMemoryFlags(metadata.HeapTypeUpload)
	assert.NotZero(t, upload&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit))
	assert.NotZero(t, upload&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
	assert.Equal(t, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), heapMemoryFlags(metadata.HeapTypeDefault))
}

func TestRenderPassLoadOps(t *testing.T) {
	assert.Equal(t, vk.AttachmentLoadOpClear, loadOp(true))
	assert.Equal(t, vk.AttachmentLoadOpLoad, loadOp(false))
	assert.Equal(t, vk.ImageLayoutUndefined, initialLayout(true, vk.ImageLayoutColorAttachmentOptimal))
	assert.Equal(t, vk.ImageLayoutColorAttachmentOptimal, initialLayout(false, vk.ImageLayoutColorAttachmentOptimal))
}

func TestSpirvWords(t *testing.T) {
	code := make([]byte, 8)
	binary.LittleEndian.PutUint32(code, spirvMagic)
	binary.LittleEndian.PutUint32(code[4:], 0x00010000)

	words, err := spirvWords(code)
	require.NoError(t, err)
	assert.Equal(t, []uint32{spirvMagic, 0x00010000}, words)

	_, err = spirvWords(code[:6])
	assert.Error(t, err)
	_, err = spirvWords(nil)
	assert.Error(t, err)

	binary.LittleEndian.PutUint32(code, 0xdeadbeef)
	_, err = spirvWords(code)
	assert.Error(t, err)
}

func TestStageFlag(t *testing.T) {
	assert.Equal(t, vk.ShaderStageFragmentBit, stageFlag(metadata.ShaderStagePixel))
	assert.Equal(t, vk.ShaderStageVertexBit, stageFlag(metadata.ShaderStageVertex))
}

func TestNewCommandSignature(t *testing.T) {
	rs := &RootSignature{desc: metadata.RootSignatureDesc{
		Parameters: []metadata.RootParameter{{Type: metadata.RootParameterTypeCBV}},
	}}
	desc := metadata.CommandSignatureDesc{
		ByteStride: 32,
		Arguments: []metadata.IndirectArgumentDesc{
			{Type: metadata.IndirectArgumentTypeConstantBufferView, RootParameterIndex: 0},
			{Type: metadata.IndirectArgumentTypeDrawIndexed},
		},
	}
	sig, err := NewCommandSignature(desc, rs)
	require.NoError(t, err)
	assert.True(t, sig.hasCBV)
	assert.Equal(t, uint32(0), sig.cbvOffset)
	assert.Equal(t, uint32(8), sig.drawOff)
	assert.Equal(t, desc, sig.Desc())
}

func TestNewCommandSignatureRejects(t *testing.T) {
	rs := &RootSignature{desc: metadata.RootSignatureDesc{
		Parameters: []metadata.RootParameter{{Type: metadata.RootParameterTypeCBV}},
	}}

	_, err := NewCommandSignature(metadata.CommandSignatureDesc{
		ByteStride: 32,
		Arguments: []metadata.IndirectArgumentDesc{
			{Type: metadata.IndirectArgumentTypeConstantBufferView, RootParameterIndex: 3},
			{Type: metadata.IndirectArgumentTypeDrawIndexed},
		},
	}, rs)
	assert.ErrorIs(t, err, core.ErrSignatureMismatch)

	_, err = NewCommandSignature(metadata.CommandSignatureDesc{
		ByteStride: 16,
		Arguments:  []metadata.IndirectArgumentDesc{{Type: metadata.IndirectArgumentTypeDraw}},
	}, rs)
	assert.ErrorIs(t, err, core.ErrUnsupported)

	_, err = NewCommandSignature(metadata.CommandSignatureDesc{
		ByteStride: 4,
		Arguments:  []metadata.IndirectArgumentDesc{{Type: metadata.IndirectArgumentTypeDrawIndexed}},
	}, rs)
	assert.ErrorIs(t, err, core.ErrSignatureMismatch)
}

func TestFormatTable(t *testing.T) {
	formats := formatTable{surface: vk.FormatB8g8r8a8Unorm, depthStore: vk.FormatD32Sfloat}
	assert.Equal(t, vk.FormatB8g8r8a8Unorm, formats.color(metadata.FormatR8G8B8A8Unorm))
	assert.Equal(t, vk.FormatB8g8r8a8Unorm, formats.color(metadata.FormatB8G8R8A8Unorm))
	assert.Equal(t, vk.FormatUndefined, formats.color(metadata.FormatD32Float))
	assert.Equal(t, vk.FormatD32Sfloat, formats.depth(metadata.FormatD32Float))
	assert.Equal(t, vk.FormatUndefined, formats.depth(metadata.FormatUnknown))
}

func TestPickSurfaceFormat(t *testing.T) {
	preferred := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	other := vk.SurfaceFormat{Format: vk.FormatA2b10g10r10UnormPack32, ColorSpace: vk.ColorSpaceSrgbNonlinear}

	assert.Equal(t, preferred, pickSurfaceFormat([]vk.SurfaceFormat{other, preferred}))
	assert.Equal(t, other, pickSurfaceFormat([]vk.SurfaceFormat{other}))
	assert.Equal(t, preferred, pickSurfaceFormat(nil))
}

func TestStringHelpers(t *testing.T) {
	assert.Equal(t, "\x00", VulkanSafeString(""))
	assert.Equal(t, "abc\x00", VulkanSafeString("abc"))
	assert.Equal(t, "abc\x00", VulkanSafeString("abc\x00"))

	in := []string{"a", "b"}
	out := VulkanSafeStrings(in)
	assert.Equal(t, []string{"a\x00", "b\x00"}, out)
	assert.Equal(t, []string{"a", "b"}, in)

	assert.Equal(t, "gpu", CString([]byte{'g', 'p', 'u', 0, 'x'}))
	assert.Equal(t, "gpu", CString([]byte("gpu")))
}

func TestMathClamp(t *testing.T) {
	assert.Equal(t, uint32(2), MathClamp(1, 2, 8))
	assert.Equal(t, uint32(8), MathClamp(9, 2, 8))
	assert.Equal(t, uint32(5), MathClamp(5, 2, 8))
}

func TestResultHelpers(t *testing.T) {
	assert.True(t, VulkanResultIsSuccess(vk.Success))
	assert.True(t, VulkanResultIsSuccess(vk.Suboptimal))
	assert.False(t, VulkanResultIsSuccess(vk.ErrorDeviceLost))
	assert.Equal(t, "yes", ConditionalOperator(true, "yes", "no"))
	assert.NotEmpty(t, VulkanResultString(vk.ErrorOutOfDate, true))
}

func TestCheckMarksDeviceRemoved(t *testing.T) {
	ctx := &VulkanContext{}
	assert.NoError(t, ctx.check("op", vk.Success))
	assert.Error(t, ctx.check("op", vk.ErrorOutOfHostMemory))
	assert.NoError(t, ctx.removedReason())

	err := ctx.check("vkQueueSubmit", vk.ErrorDeviceLost)
	assert.ErrorIs(t, err, core.ErrDeviceRemoved)
	assert.ErrorIs(t, ctx.removedReason(), core.ErrDeviceRemoved)
}
