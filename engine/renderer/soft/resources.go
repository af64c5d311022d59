package soft

import (
	"fmt"
	"image"

	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

// tracked is implemented by every resource whose state the queue validates.
// state is only touched by the queue goroutine.
type tracked interface {
	device.Resource
	currentState() metadata.ResourceState
	setState(metadata.ResourceState)
}

type buffer struct {
	dev      *Device
	id       uint32
	desc     metadata.BufferDesc
	data     []byte
	state    metadata.ResourceState
	mapped   bool
	released bool
}

func (b *buffer) Name() string {
	return b.desc.Name
}

func (b *buffer) GPUVirtualAddress() metadata.GPUVirtualAddress {
	return metadata.NewGPUVirtualAddress(b.id, 0)
}

func (b *buffer) Size() uint64 {
	return b.desc.Size
}

func (b *buffer) Heap() metadata.HeapType {
	return b.desc.Heap
}

func (b *buffer) Map() ([]byte, error) {
	if b.desc.Heap != metadata.HeapTypeUpload {
		err := fmt.Errorf("map %q: %w", b.desc.Name, core.ErrNotMappable)
		core.LogError(err.Error())
		return nil, err
	}
	b.mapped = true
	return b.data, nil
}

func (b *buffer) Unmap() {
	b.mapped = false
}

func (b *buffer) Release() {
	if b.released {
		return
	}
	b.released = true
	_ = b.dev.ids.Release(b.id)
}

func (b *buffer) currentState() metadata.ResourceState {
	return b.state
}

func (b *buffer) setState(s metadata.ResourceState) {
	b.state = s
}

// bytes returns size bytes at offset or an out of bounds error.
func (b *buffer) bytes(offset, size uint64) ([]byte, error) {
	if offset > b.desc.Size || size > b.desc.Size-offset {
		return nil, fmt.Errorf("range [%d, %d) outside %q (%d bytes): %w", offset, offset+size, b.desc.Name, b.desc.Size, core.ErrOutOfBounds)
	}
	return b.data[offset : offset+size], nil
}

type texture struct {
	dev      *Device
	id       uint32
	name     string
	width    uint32
	height   uint32
	format   metadata.Format
	color    *image.RGBA
	depth    []float32
	state    metadata.ResourceState
	released bool
}

func newTexture(d *Device, name string, width, height uint32, format metadata.Format, initial metadata.ResourceState) *texture {
	t := &texture{
		dev:    d,
		name:   name,
		width:  width,
		height: height,
		format: format,
		state:  initial,
	}
	if format == metadata.FormatD32Float {
		t.depth = make([]float32, int(width)*int(height))
	} else {
		t.color = image.NewRGBA(image.Rect(0, 0, int(width), int(height)))
	}
	t.id = d.ids.Acquire(t)
	core.LogDebug("created texture %q %dx%d", name, width, height)
	return t
}

func (t *texture) Name() string {
	return t.name
}

func (t *texture) GPUVirtualAddress() metadata.GPUVirtualAddress {
	return metadata.NewGPUVirtualAddress(t.id, 0)
}

func (t *texture) Size() uint64 {
	if t.depth != nil {
		return uint64(len(t.depth) * 4)
	}
	return uint64(len(t.color.Pix))
}

func (t *texture) Width() uint32 {
	return t.width
}

func (t *texture) Height() uint32 {
	return t.height
}

func (t *texture) Format() metadata.Format {
	return t.format
}

func (t *texture) Release() {
	if t.released {
		return
	}
	t.released = true
	_ = t.dev.ids.Release(t.id)
}

func (t *texture) currentState() metadata.ResourceState {
	return t.state
}

func (t *texture) setState(s metadata.ResourceState) {
	t.state = s
}

type rootSignature struct {
	desc metadata.RootSignatureDesc
}

func (r *rootSignature) Desc() metadata.RootSignatureDesc {
	return r.desc
}

func (r *rootSignature) Release() {}

type pipelineState struct {
	desc    device.PipelineStateDesc
	rootSig *rootSignature
	layout  inputLayout
}

func (p *pipelineState) Desc() device.PipelineStateDesc {
	return p.desc
}

func (p *pipelineState) Release() {}

type commandSignature struct {
	desc    metadata.CommandSignatureDesc
	offsets []uint32
}

func (c *commandSignature) Desc() metadata.CommandSignatureDesc {
	return c.desc
}

func (c *commandSignature) Release() {}
