package indirect

import (
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

// DrawBindings is the pipeline and geometry state shared by every instance.
type DrawBindings struct {
	RootSignature device.RootSignature
	Pipeline      device.PipelineState
	Topology      metadata.PrimitiveTopology
	VertexBuffer  metadata.VertexBufferView
	IndexBuffer   metadata.IndexBufferView
	IndexCount    uint32
}

func (b DrawBindings) bind(list device.CommandList) {
	list.SetRootSignature(b.RootSignature)
	list.SetPipelineState(b.Pipeline)
	list.SetPrimitiveTopology(b.Topology)
	list.SetVertexBuffer(b.VertexBuffer)
	list.SetIndexBuffer(b.IndexBuffer)
}

// Executor records the draws of every instance for one ring slot.
type Executor interface {
	Execute(list device.CommandList, slot uint32)
}

/**
 * @brief Issues every instance with a single ExecuteIndirect over the slot's
 * region of the argument buffer.
 */
type IndirectExecutor struct {
	bindings      DrawBindings
	signature     *CommandSignature
	args          *ArgumentBuilder
	instanceCount uint32
}

func NewIndirectExecutor(bindings DrawBindings, signature *CommandSignature, args *ArgumentBuilder, instanceCount uint32) *IndirectExecutor {
	return &IndirectExecutor{bindings: bindings, signature: signature, args: args, instanceCount: instanceCount}
}

func (e *IndirectExecutor) Execute(list device.CommandList, slot uint32) {
	e.bindings.bind(list)
	list.ExecuteIndirect(e.signature.CommandSignature, e.instanceCount, e.args.Target(), e.args.SlotOffset(slot))
}

// DirectExecutor binds each instance's constants and draws them one by one.
type DirectExecutor struct {
	bindings      DrawBindings
	params        *ParameterWriter
	instanceCount uint32
}

func NewDirectExecutor(bindings DrawBindings, params *ParameterWriter, instanceCount uint32) *DirectExecutor {
	return &DirectExecutor{bindings: bindings, params: params, instanceCount: instanceCount}
}

func (e *DirectExecutor) Execute(list device.CommandList, slot uint32) {
	e.bindings.bind(list)
	for i := uint32(0); i < e.instanceCount; i++ {
		list.SetRootConstantBuffer(TransformRootParameter, e.params.Address(slot, i))
		list.DrawIndexedInstanced(e.bindings.IndexCount, 1, 0, 0, 0)
	}
}
