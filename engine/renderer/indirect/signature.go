package indirect

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

// Root parameter slot of the per-instance constant buffer.
const TransformRootParameter = 0

/**
 * @brief The command signature the demo draws with: a constant buffer view
 * bound to root parameter 0 followed by indexed draw arguments. 28 bytes per record.
 */
func DefaultSignatureDesc() metadata.CommandSignatureDesc {
	return metadata.CommandSignatureDesc{
		ByteStride: 28,
		Arguments: []metadata.IndirectArgumentDesc{
			{Type: metadata.IndirectArgumentTypeConstantBufferView, RootParameterIndex: TransformRootParameter},
			{Type: metadata.IndirectArgumentTypeDrawIndexed},
		},
	}
}

// ArgumentLayout is where the fields of an ArgumentRecord live inside one record.
type ArgumentLayout struct {
	Stride     uint32
	CBVOffset  uint32
	DrawOffset uint32
}

// NewArgumentLayout derives the record layout from a signature. Only signatures
// made of one constant buffer view and one indexed draw describe an ArgumentRecord.
func NewArgumentLayout(desc metadata.CommandSignatureDesc) (ArgumentLayout, error) {
	offsets, _, err := desc.Offsets()
	if err != nil {
		return ArgumentLayout{}, err
	}
	layout := ArgumentLayout{Stride: desc.ByteStride}
	var cbv, draw bool
	for i, a := range desc.Arguments {
		switch {
		case a.Type == metadata.IndirectArgumentTypeConstantBufferView && !cbv:
			layout.CBVOffset, cbv = offsets[i], true
		case a.Type == metadata.IndirectArgumentTypeDrawIndexed && !draw:
			layout.DrawOffset, draw = offsets[i], true
		default:
			return ArgumentLayout{}, fmt.Errorf("argument %s does not belong in an instance record: %w", a.Type, core.ErrSignatureMismatch)
		}
	}
	if !cbv || !draw {
		return ArgumentLayout{}, fmt.Errorf("instance records need a constant buffer view and an indexed draw: %w", core.ErrSignatureMismatch)
	}
	return layout, nil
}

// ArgumentRecord is one instance's entry in the argument buffer.
type ArgumentRecord struct {
	CBV  metadata.GPUVirtualAddress
	Draw metadata.DrawIndexedArguments
}

func (l ArgumentLayout) Encode(dst []byte, r ArgumentRecord) {
	binary.LittleEndian.PutUint64(dst[l.CBVOffset:], uint64(r.CBV))
	r.Draw.Marshal(dst[l.DrawOffset:])
}

func (l ArgumentLayout) Decode(src []byte) ArgumentRecord {
	return ArgumentRecord{
		CBV:  metadata.GPUVirtualAddress(binary.LittleEndian.Uint64(src[l.CBVOffset:])),
		Draw: metadata.UnmarshalDrawIndexedArguments(src[l.DrawOffset:]),
	}
}

// CommandSignature pairs the device object with the layout records are written in.
// It is immutable and shared by every frame.
type CommandSignature struct {
	device.CommandSignature
	Layout ArgumentLayout
}

func NewCommandSignature(dev device.Device, rs device.RootSignature, desc metadata.CommandSignatureDesc) (*CommandSignature, error) {
	layout, err := NewArgumentLayout(desc)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	sig, err := dev.CreateCommandSignature(desc, rs)
	if err != nil {
		return nil, fmt.Errorf("failed to create command signature: %w", err)
	}
	core.LogDebug("command signature: stride %d, cbv at %d, draw at %d", layout.Stride, layout.CBVOffset, layout.DrawOffset)
	return &CommandSignature{CommandSignature: sig, Layout: layout}, nil
}
