package metadata

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/anima-indirect/engine/core"
)

/**
 * @brief The kinds of argument a command signature can pull from an
 * indirect argument buffer.
 */
type IndirectArgumentType int

const (
	IndirectArgumentTypeDraw IndirectArgumentType = iota
	IndirectArgumentTypeDrawIndexed
	IndirectArgumentTypeConstantBufferView
)

func (t IndirectArgumentType) String() string {
	switch t {
	case IndirectArgumentTypeDraw:
		return "draw"
	case IndirectArgumentTypeDrawIndexed:
		return "draw-indexed"
	case IndirectArgumentTypeConstantBufferView:
		return "constant-buffer-view"
	default:
		return fmt.Sprintf("argument(%d)", int(t))
	}
}

// Size returns the number of bytes the argument occupies in a record.
func (t IndirectArgumentType) Size() uint32 {
	switch t {
	case IndirectArgumentTypeDraw:
		return DrawArgumentsSize
	case IndirectArgumentTypeDrawIndexed:
		return DrawIndexedArgumentsSize
	case IndirectArgumentTypeConstantBufferView:
		return 8
	default:
		return 0
	}
}

// IsDraw reports whether the argument terminates a record by issuing a draw.
func (t IndirectArgumentType) IsDraw() bool {
	return t == IndirectArgumentTypeDraw || t == IndirectArgumentTypeDrawIndexed
}

type IndirectArgumentDesc struct {
	Type IndirectArgumentType
	// Root parameter slot, used by constant buffer view arguments.
	RootParameterIndex uint32
}

type CommandSignatureDesc struct {
	ByteStride uint32
	Arguments  []IndirectArgumentDesc
}

/**
 * @brief Computes where each argument lives inside one record.
 * A signature must end with exactly one draw argument and its stride must be
 * 4-byte aligned and at least the packed size of its arguments.
 * @returns the offset of each argument and the packed size.
 */
func (d CommandSignatureDesc) Offsets() ([]uint32, uint32, error) {
	if len(d.Arguments) == 0 {
		return nil, 0, fmt.Errorf("signature has no arguments: %w", core.ErrSignatureMismatch)
	}
	offsets := make([]uint32, len(d.Arguments))
	var size uint32
	last := len(d.Arguments) - 1
	for i, a := range d.Arguments {
		if a.Type.Size() == 0 {
			return nil, 0, fmt.Errorf("argument %d has unknown type %s: %w", i, a.Type, core.ErrSignatureMismatch)
		}
		if a.Type.IsDraw() != (i == last) {
			return nil, 0, fmt.Errorf("signature must end with exactly one draw argument, got %s at %d: %w", a.Type, i, core.ErrSignatureMismatch)
		}
		offsets[i] = size
		size += a.Type.Size()
	}
	if d.ByteStride%4 != 0 || d.ByteStride < size {
		return nil, 0, fmt.Errorf("byte stride %d invalid for %d packed bytes: %w", d.ByteStride, size, core.ErrSignatureMismatch)
	}
	return offsets, size, nil
}

const (
	DrawArgumentsSize        = 16
	DrawIndexedArgumentsSize = 20
)

type DrawArguments struct {
	VertexCountPerInstance uint32
	InstanceCount          uint32
	StartVertexLocation    uint32
	StartInstanceLocation  uint32
}

func (a DrawArguments) Marshal(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], a.VertexCountPerInstance)
	binary.LittleEndian.PutUint32(dst[4:], a.InstanceCount)
	binary.LittleEndian.PutUint32(dst[8:], a.StartVertexLocation)
	binary.LittleEndian.PutUint32(dst[12:], a.StartInstanceLocation)
}

func UnmarshalDrawArguments(src []byte) DrawArguments {
	return DrawArguments{
		VertexCountPerInstance: binary.LittleEndian.Uint32(src[0:]),
		InstanceCount:          binary.LittleEndian.Uint32(src[4:]),
		StartVertexLocation:    binary.LittleEndian.Uint32(src[8:]),
		StartInstanceLocation:  binary.LittleEndian.Uint32(src[12:]),
	}
}

type DrawIndexedArguments struct {
	IndexCountPerInstance uint32
	InstanceCount         uint32
	StartIndexLocation    uint32
	BaseVertexLocation    int32
	StartInstanceLocation uint32
}

func (a DrawIndexedArguments) Marshal(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], a.IndexCountPerInstance)
	binary.LittleEndian.PutUint32(dst[4:], a.InstanceCount)
	binary.LittleEndian.PutUint32(dst[8:], a.StartIndexLocation)
	binary.LittleEndian.PutUint32(dst[12:], uint32(a.BaseVertexLocation))
	binary.LittleEndian.PutUint32(dst[16:], a.StartInstanceLocation)
}

func UnmarshalDrawIndexedArguments(src []byte) DrawIndexedArguments {
	return DrawIndexedArguments{
		IndexCountPerInstance: binary.LittleEndian.Uint32(src[0:]),
		InstanceCount:         binary.LittleEndian.Uint32(src[4:]),
		StartIndexLocation:    binary.LittleEndian.Uint32(src[8:]),
		BaseVertexLocation:    int32(binary.LittleEndian.Uint32(src[12:])),
		StartInstanceLocation: binary.LittleEndian.Uint32(src[16:]),
	}
}
