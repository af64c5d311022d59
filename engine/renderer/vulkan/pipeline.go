package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

const (
	drawModeDirect   uint32 = 0
	drawModeIndirect uint32 = 1
)

/**
 * @brief Push constants read by the vertex shader. In direct mode the
 * constant buffer view comes from CBVSlot and CBVWord. In indirect mode the
 * shader reads it from the record at ArgsWord + gl_DrawID * StrideWords in
 * the buffer bound at ArgsSlot.
 */
type drawConstants struct {
	Mode        uint32
	ArgsSlot    uint32
	ArgsWord    uint32
	StrideWords uint32
	CBVSlot     uint32
	CBVWord     uint32
}

const drawConstantsSize = uint32(unsafe.Sizeof(drawConstants{}))

/**
 * @brief A root signature maps to a pipeline layout made of the bindless
 * set and the draw push constants. Only a single constant buffer view
 * parameter is supported since it travels in the push constants.
 */
type RootSignature struct {
	context *VulkanContext
	desc    metadata.RootSignatureDesc
	Layout  vk.PipelineLayout
}

func NewRootSignature(context *VulkanContext, desc metadata.RootSignatureDesc) (*RootSignature, error) {
	if len(desc.Parameters) > 1 {
		err := fmt.Errorf("root signature with %d parameters: %w", len(desc.Parameters), core.ErrUnsupported)
		core.LogError(err.Error())
		return nil, err
	}
	for _, p := range desc.Parameters {
		if p.Type != metadata.RootParameterTypeCBV {
			return nil, fmt.Errorf("root parameter type %d: %w", p.Type, core.ErrUnsupported)
		}
	}

	rs := &RootSignature{context: context, desc: desc}
	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{context.bindless.layout},
		PushConstantRangeCount: 1,
		PPushConstantRanges: []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit),
			Offset:     0,
			Size:       drawConstantsSize,
		}},
	}

	if err := context.locks.SafeCall(PipelineManagement, func() error {
		var layout vk.PipelineLayout
		result := vk.CreatePipelineLayout(context.Device.LogicalDevice, &pipelineLayoutCreateInfo, context.Allocator, &layout)
		if !VulkanResultIsSuccess(result) {
			return fmt.Errorf("vkCreatePipelineLayout failed with %s: %w", VulkanResultString(result, true), core.ErrResourceCreation)
		}
		rs.Layout = layout
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return rs, nil
}

func (rs *RootSignature) Desc() metadata.RootSignatureDesc {
	return rs.desc
}

func (rs *RootSignature) Release() {
	if rs.Layout == vk.NullPipelineLayout {
		return
	}
	_ = rs.context.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipelineLayout(rs.context.Device.LogicalDevice, rs.Layout, rs.context.Allocator)
		rs.Layout = vk.NullPipelineLayout
		return nil
	})
}

/**
 * @brief Holds a Vulkan pipeline and the description it was built from.
 */
type VulkanPipeline struct {
	context *VulkanContext
	desc    device.PipelineStateDesc
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The pipeline layout, owned by the root signature. */
	PipelineLayout vk.PipelineLayout
}

func vertexFormat(f metadata.VertexFormat) vk.Format {
	switch f {
	case metadata.VertexFormatFloat32x2:
		return vk.FormatR32g32Sfloat
	case metadata.VertexFormatFloat32x3:
		return vk.FormatR32g32b32Sfloat
	default:
		return vk.FormatR32g32b32a32Sfloat
	}
}

func topology(t metadata.PrimitiveTopology) vk.PrimitiveTopology {
	if t == metadata.PrimitiveTopologyTriangleStrip {
		return vk.PrimitiveTopologyTriangleStrip
	}
	return vk.PrimitiveTopologyTriangleList
}

func cullMode(m metadata.CullMode) vk.CullModeFlags {
	switch m {
	case metadata.CullModeFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case metadata.CullModeBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	default:
		return vk.CullModeFlags(vk.CullModeNone)
	}
}

func NewGraphicsPipeline(context *VulkanContext, formats formatTable, desc device.PipelineStateDesc) (*VulkanPipeline, error) {
	rs, ok := desc.RootSignature.(*RootSignature)
	if !ok || rs == nil {
		return nil, fmt.Errorf("pipeline %q: foreign root signature: %w", desc.Name, core.ErrResourceCreation)
	}
	outPipeline := &VulkanPipeline{context: context, desc: desc, PipelineLayout: rs.Layout}

	stages := make([]*VulkanShaderStage, 0, 2)
	defer func() {
		for _, s := range stages {
			s.Destroy(context)
		}
	}()
	for _, bytecode := range []metadata.ShaderBytecode{desc.Shaders.Vertex, desc.Shaders.Pixel} {
		stage, err := NewShaderModule(context, bytecode)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	stageInfos := make([]vk.PipelineShaderStageCreateInfo, len(stages))
	for i, s := range stages {
		stageInfos[i] = s.ShaderStageCreateInfo
	}

	// Viewport and scissor are dynamic.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports:    []vk.Viewport{{Width: 1, Height: 1, MaxDepth: 1}},
		ScissorCount:  1,
		PScissors:     []vk.Rect2D{{Extent: vk.Extent2D{Width: 1, Height: 1}}},
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                cullMode(desc.CullMode),
		// The vertex shader flips y, which keeps clockwise triangles front facing.
		FrontFace:       vk.FrontFaceClockwise,
		DepthBiasEnable: vk.False,
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if desc.DepthEnabled {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthWriteEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLess
	}

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable: vk.False,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	attributes := make([]vk.VertexInputAttributeDescription, len(desc.InputLayout))
	for i, el := range desc.InputLayout {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: el.Location,
			Binding:  0,
			Format:   vertexFormat(el.Format),
			Offset:   el.Offset,
		}
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                         vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount: 1,
		PVertexBindingDescriptions: []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    desc.VertexStride,
			InputRate: vk.VertexInputRateVertex,
		}},
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               topology(desc.Topology),
		PrimitiveRestartEnable: vk.False,
	}

	pass, err := context.passes.get(renderPassKey{
		Color:      formats.color(desc.RenderTargetFormat),
		Depth:      formats.depth(desc.DepthFormat),
		ClearColor: true,
		ClearDepth: true,
	})
	if err != nil {
		return nil, err
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stageInfos)),
		PStages:             stageInfos,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              rs.Layout,
		RenderPass:          pass,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pPipelines := make([]vk.Pipeline, 1)
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		result := vk.CreateGraphicsPipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pPipelines)
		if !VulkanResultIsSuccess(result) {
			return fmt.Errorf("vkCreateGraphicsPipelines failed with %s: %w", VulkanResultString(result, true), core.ErrResourceCreation)
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	outPipeline.Handle = pPipelines[0]

	core.LogDebug("Graphics pipeline %q created!", desc.Name)
	return outPipeline, nil
}

func (pipeline *VulkanPipeline) Desc() device.PipelineStateDesc {
	return pipeline.desc
}

func (pipeline *VulkanPipeline) Release() {
	if pipeline.Handle == vk.NullPipeline {
		return
	}
	_ = pipeline.context.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipeline(pipeline.context.Device.LogicalDevice, pipeline.Handle, pipeline.context.Allocator)
		pipeline.Handle = vk.NullPipeline
		return nil
	})
}

/**
 * @brief A command signature resolved to the offsets the indirect draw and
 * the vertex shader need.
 */
type CommandSignature struct {
	desc      metadata.CommandSignatureDesc
	cbvOffset uint32
	hasCBV    bool
	drawOff   uint32
}

func NewCommandSignature(desc metadata.CommandSignatureDesc, rs device.RootSignature) (*CommandSignature, error) {
	offsets, _, err := desc.Offsets()
	if err != nil {
		return nil, err
	}
	sig := &CommandSignature{desc: desc}
	for i, a := range desc.Arguments {
		switch a.Type {
		case metadata.IndirectArgumentTypeConstantBufferView:
			if sig.hasCBV || rs == nil || int(a.RootParameterIndex) >= len(rs.Desc().Parameters) {
				return nil, fmt.Errorf("constant buffer view argument %d: %w", i, core.ErrSignatureMismatch)
			}
			sig.hasCBV = true
			sig.cbvOffset = offsets[i]
		case metadata.IndirectArgumentTypeDrawIndexed:
			sig.drawOff = offsets[i]
		default:
			// Non-indexed draws would need a second indirect path.
			return nil, fmt.Errorf("argument %s: %w", a.Type, core.ErrUnsupported)
		}
	}
	return sig, nil
}

func (s *CommandSignature) Desc() metadata.CommandSignatureDesc {
	return s.desc
}

func (s *CommandSignature) Release() {}
