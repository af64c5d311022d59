package indirect

import (
	"encoding/binary"
	"fmt"
	gomath "math"

	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/math"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

const (
	// Byte offsets inside one instance's constant buffer.
	MVPOffset          = 0
	WorldOffset        = 64
	ConstantBufferSize = 128
)

const (
	// Passed as radians, which frames all four instances.
	fieldOfView = 45.0
	nearPlane   = 0.01
	farPlane    = 50.0
	meshScale   = 0.5
)

var (
	eyePosition = math.Vec3{X: 0, Y: 0.5, Z: -1.5}
	eyeTarget   = math.Vec3{X: 0, Y: 0.5, Z: 0}
	eyeUp       = math.Vec3{X: 0, Y: 1, Z: 0}
)

// InstanceOffset places instances on a 2x2 grid picked by the low index bits.
func InstanceOffset(instance uint32) math.Vec3 {
	x := float32(-0.5)
	if instance&1 != 0 {
		x = 0.5
	}
	y := float32(0.2 + 0.5)
	if instance&2 != 0 {
		y = 0.2 - 0.5
	}
	return math.Vec3{X: x, Y: y, Z: 0}
}

// WorldMatrix is scale, then rotation about y by angle degrees, then the instance offset.
func WorldMatrix(angle float32, instance uint32) math.Mat4 {
	return math.NewMat4Scale(math.Vec3{X: meshScale, Y: meshScale, Z: meshScale}).
		Mul(math.NewMat4EulerY(math.DegToRad(angle))).
		Mul(math.NewMat4Translation(InstanceOffset(instance)))
}

// TransformBufferSize is the upload buffer size holding every slot's constants.
func TransformBufferSize(alignment uint64, instanceCount, depth uint32) uint64 {
	return math.AlignUp(uint64(ConstantBufferSize), alignment) * uint64(instanceCount) * uint64(depth)
}

/**
 * @brief Computes per-instance transforms and writes them into the slot's
 * region of a persistently mapped upload buffer. Regions of different slots
 * never overlap.
 */
type ParameterWriter struct {
	mapped        []byte
	base          metadata.GPUVirtualAddress
	stride        uint64
	instanceCount uint32
	depth         uint32
	viewProj      math.Mat4
}

func NewParameterWriter(buf device.Buffer, alignment uint64, instanceCount, depth uint32, aspect float32) (*ParameterWriter, error) {
	need := TransformBufferSize(alignment, instanceCount, depth)
	if buf.Size() < need {
		err := fmt.Errorf("transform buffer %s holds %d bytes, need %d: %w", buf.Name(), buf.Size(), need, core.ErrOutOfBounds)
		core.LogError(err.Error())
		return nil, err
	}
	mapped, err := buf.Map()
	if err != nil {
		return nil, fmt.Errorf("failed to map transform buffer: %w", err)
	}
	view := math.NewMat4LookAtLH(eyePosition, eyeTarget, eyeUp)
	proj := math.NewMat4PerspectiveFovLH(fieldOfView, aspect, nearPlane, farPlane)
	return &ParameterWriter{
		mapped:        mapped,
		base:          buf.GPUVirtualAddress(),
		stride:        math.AlignUp(uint64(ConstantBufferSize), alignment),
		instanceCount: instanceCount,
		depth:         depth,
		viewProj:      view.Mul(proj),
	}, nil
}

// Stride is the aligned distance between two instances' constants.
func (w *ParameterWriter) Stride() uint64 {
	return w.stride
}

func (w *ParameterWriter) offset(slot, instance uint32) uint64 {
	return w.stride * (uint64(slot)*uint64(w.instanceCount) + uint64(instance))
}

// Address is the device address of an instance's constants in slot.
func (w *ParameterWriter) Address(slot, instance uint32) metadata.GPUVirtualAddress {
	return w.base.Add(w.offset(slot, instance))
}

// Transforms returns the model-view-projection and world matrices of an instance.
func (w *ParameterWriter) Transforms(angle float32, instance uint32) (mvp, world math.Mat4) {
	world = WorldMatrix(angle, instance)
	return world.Mul(w.viewProj), world
}

// Write stores every instance's transposed matrices into slot's region.
func (w *ParameterWriter) Write(slot uint32, angle float32) error {
	if slot >= w.depth {
		err := fmt.Errorf("slot %d outside ring of %d: %w", slot, w.depth, core.ErrOutOfBounds)
		core.LogError(err.Error())
		return err
	}
	for i := uint32(0); i < w.instanceCount; i++ {
		mvp, world := w.Transforms(angle, i)
		region := w.mapped[w.offset(slot, i) : w.offset(slot, i)+ConstantBufferSize]
		putMat4(region[MVPOffset:], mvp.Transposed())
		putMat4(region[WorldOffset:], world.Transposed())
	}
	return nil
}

func putMat4(dst []byte, m math.Mat4) {
	for i, f := range m.Data {
		binary.LittleEndian.PutUint32(dst[i*4:], gomath.Float32bits(f))
	}
}
