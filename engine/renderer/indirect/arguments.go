package indirect

import (
	"fmt"

	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

// ArgumentBufferSize holds one record per instance for every ring slot.
func ArgumentBufferSize(layout ArgumentLayout, instanceCount, depth uint32) uint64 {
	return uint64(layout.Stride) * uint64(instanceCount) * uint64(depth)
}

/**
 * @brief Writes one argument record per instance into the host-visible upload
 * buffer and stages the slot's region into the device-local argument buffer.
 * The device-local buffer rests in the indirect-argument state between frames.
 */
type ArgumentBuilder struct {
	layout        ArgumentLayout
	params        *ParameterWriter
	upload        device.Buffer
	mapped        []byte
	target        device.Buffer
	instanceCount uint32
	depth         uint32
	indexCount    uint32
}

func NewArgumentBuilder(layout ArgumentLayout, params *ParameterWriter, upload, target device.Buffer, instanceCount, depth, indexCount uint32) (*ArgumentBuilder, error) {
	need := ArgumentBufferSize(layout, instanceCount, depth)
	for _, b := range []device.Buffer{upload, target} {
		if b.Size() < need {
			err := fmt.Errorf("argument buffer %s holds %d bytes, need %d: %w", b.Name(), b.Size(), need, core.ErrOutOfBounds)
			core.LogError(err.Error())
			return nil, err
		}
	}
	mapped, err := upload.Map()
	if err != nil {
		return nil, fmt.Errorf("failed to map argument upload buffer: %w", err)
	}
	return &ArgumentBuilder{
		layout:        layout,
		params:        params,
		upload:        upload,
		mapped:        mapped,
		target:        target,
		instanceCount: instanceCount,
		depth:         depth,
		indexCount:    indexCount,
	}, nil
}

// Target is the device-local buffer ExecuteIndirect reads from.
func (b *ArgumentBuilder) Target() device.Buffer {
	return b.target
}

// SlotOffset is where slot's records begin in both buffers.
func (b *ArgumentBuilder) SlotOffset(slot uint32) uint64 {
	return uint64(b.layout.Stride) * uint64(b.instanceCount) * uint64(slot)
}

func (b *ArgumentBuilder) slotSize() uint64 {
	return uint64(b.layout.Stride) * uint64(b.instanceCount)
}

// Record is the argument record of an instance in slot.
func (b *ArgumentBuilder) Record(slot, instance uint32) ArgumentRecord {
	return ArgumentRecord{
		CBV: b.params.Address(slot, instance),
		Draw: metadata.DrawIndexedArguments{
			IndexCountPerInstance: b.indexCount,
			InstanceCount:         1,
		},
	}
}

// Build writes slot's records. Rebuilding a slot produces identical bytes.
func (b *ArgumentBuilder) Build(slot uint32) error {
	if slot >= b.depth {
		err := fmt.Errorf("slot %d outside ring of %d: %w", slot, b.depth, core.ErrOutOfBounds)
		core.LogError(err.Error())
		return err
	}
	base := b.SlotOffset(slot)
	for i := uint32(0); i < b.instanceCount; i++ {
		off := base + uint64(i)*uint64(b.layout.Stride)
		b.layout.Encode(b.mapped[off:off+uint64(b.layout.Stride)], b.Record(slot, i))
	}
	return nil
}

// Records returns a copy of slot's host-side record bytes.
func (b *ArgumentBuilder) Records(slot uint32) []byte {
	base := b.SlotOffset(slot)
	out := make([]byte, b.slotSize())
	copy(out, b.mapped[base:base+b.slotSize()])
	return out
}

// Stage records the copy of slot's records into the device-local buffer,
// bracketed by transitions out of and back into the indirect-argument state.
func (b *ArgumentBuilder) Stage(list device.CommandList, tracker *StateTracker, slot uint32) error {
	if err := tracker.Transition(list, b.target, metadata.ResourceStateCopyDest); err != nil {
		return err
	}
	off := b.SlotOffset(slot)
	list.CopyBufferRegion(b.target, off, b.upload, off, b.slotSize())
	return tracker.Transition(list, b.target, metadata.ResourceStateIndirectArgument)
}
