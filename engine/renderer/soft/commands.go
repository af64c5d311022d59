package soft

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/device"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

type commandAllocator struct {
	name      string
	inFlight  atomic.Int32
	recording atomic.Bool
}

func (a *commandAllocator) Reset() error {
	if n := a.inFlight.Load(); n > 0 {
		err := fmt.Errorf("allocator %s has %d lists executing: %w", a.name, n, core.ErrAllocatorInUse)
		core.LogError(err.Error())
		return err
	}
	if a.recording.Load() {
		err := fmt.Errorf("allocator %s has a list recording: %w", a.name, core.ErrCommandListOpen)
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (a *commandAllocator) Release() {}

// command runs on the queue goroutine.
type command func(e *executor) error

type commandList struct {
	dev   *Device
	name  string
	alloc *commandAllocator
	open  bool
	cmds  []command
	err   error
}

func (l *commandList) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

func (l *commandList) record(c command) {
	if !l.open {
		l.fail(fmt.Errorf("list %s: %w", l.name, core.ErrCommandListClosed))
		return
	}
	l.cmds = append(l.cmds, c)
}

func (l *commandList) Reset(alloc device.CommandAllocator) error {
	if l.open {
		err := fmt.Errorf("reset list %s: %w", l.name, core.ErrCommandListOpen)
		core.LogError(err.Error())
		return err
	}
	a, ok := alloc.(*commandAllocator)
	if !ok || a == nil {
		err := fmt.Errorf("reset list %s: foreign allocator: %w", l.name, core.ErrInvalidState)
		core.LogError(err.Error())
		return err
	}
	if !a.recording.CompareAndSwap(false, true) {
		err := fmt.Errorf("reset list %s: allocator %s already recording: %w", l.name, a.name, core.ErrCommandListOpen)
		core.LogError(err.Error())
		return err
	}
	l.alloc = a
	l.open = true
	l.err = nil
	// A fresh slice keeps previously submitted commands intact.
	l.cmds = nil
	return nil
}

func (l *commandList) Close() error {
	if !l.open {
		return fmt.Errorf("close list %s: %w", l.name, core.ErrCommandListClosed)
	}
	l.open = false
	l.alloc.recording.Store(false)
	if l.err != nil {
		core.LogError("list %s recorded with errors: %s", l.name, l.err)
	}
	return l.err
}

func (l *commandList) Release() {}

func (l *commandList) ResourceBarrier(barriers ...device.ResourceBarrier) {
	resolved := make([]tracked, len(barriers))
	for i, b := range barriers {
		t, ok := b.Resource.(tracked)
		if !ok || t == nil {
			l.fail(fmt.Errorf("barrier %d names a foreign resource: %w", i, core.ErrInvalidState))
			return
		}
		if b.Before == b.After {
			l.fail(fmt.Errorf("barrier on %s has identical states %s: %w", t.Name(), b.Before, core.ErrInvalidState))
			return
		}
		resolved[i] = t
	}
	l.record(func(e *executor) error {
		for i, b := range barriers {
			t := resolved[i]
			if t.currentState() != b.Before {
				return fmt.Errorf("barrier on %s expects %s but resource is %s: %w", t.Name(), b.Before, t.currentState(), core.ErrInvalidState)
			}
			t.setState(b.After)
			e.dev.stats.barriers.Add(1)
		}
		return nil
	})
}

func (l *commandList) CopyBufferRegion(dst device.Buffer, dstOffset uint64, src device.Buffer, srcOffset uint64, size uint64) {
	d, dok := dst.(*buffer)
	s, sok := src.(*buffer)
	if !dok || !sok {
		l.fail(fmt.Errorf("copy between foreign buffers: %w", core.ErrInvalidState))
		return
	}
	if d == s {
		l.fail(fmt.Errorf("copy within %s: %w", d.Name(), core.ErrInvalidState))
		return
	}
	if _, err := s.bytes(srcOffset, size); err != nil {
		l.fail(err)
		return
	}
	if _, err := d.bytes(dstOffset, size); err != nil {
		l.fail(err)
		return
	}
	l.record(func(e *executor) error {
		if !s.state.Readable(metadata.ResourceStateCopySource) {
			return fmt.Errorf("copy source %s is %s: %w", s.Name(), s.state, core.ErrInvalidState)
		}
		if d.state != metadata.ResourceStateCopyDest {
			return fmt.Errorf("copy destination %s is %s: %w", d.Name(), d.state, core.ErrInvalidState)
		}
		copy(d.data[dstOffset:dstOffset+size], s.data[srcOffset:srcOffset+size])
		e.dev.stats.copies.Add(1)
		return nil
	})
}

func (l *commandList) ClearRenderTarget(rt device.Texture, color [4]float32) {
	t, ok := rt.(*texture)
	if !ok || t.color == nil {
		l.fail(fmt.Errorf("clear of a non colour target: %w", core.ErrInvalidState))
		return
	}
	l.record(func(e *executor) error {
		if t.state != metadata.ResourceStateRenderTarget {
			return fmt.Errorf("clear %s in %s: %w", t.Name(), t.state, core.ErrInvalidState)
		}
		c := toRGBA(color)
		pix := t.color.Pix
		for i := 0; i < len(pix); i += 4 {
			pix[i], pix[i+1], pix[i+2], pix[i+3] = c.R, c.G, c.B, c.A
		}
		return nil
	})
}

func (l *commandList) ClearDepth(ds device.Texture, depth float32) {
	t, ok := ds.(*texture)
	if !ok || t.depth == nil {
		l.fail(fmt.Errorf("depth clear of a non depth target: %w", core.ErrInvalidState))
		return
	}
	l.record(func(e *executor) error {
		if t.state != metadata.ResourceStateDepthWrite {
			return fmt.Errorf("clear %s in %s: %w", t.Name(), t.state, core.ErrInvalidState)
		}
		for i := range t.depth {
			t.depth[i] = depth
		}
		return nil
	})
}

func (l *commandList) SetRenderTargets(rt device.Texture, ds device.Texture) {
	var colour, depth *texture
	if rt != nil {
		colour, _ = rt.(*texture)
	}
	if ds != nil {
		depth, _ = ds.(*texture)
	}
	l.record(func(e *executor) error {
		e.rt = colour
		e.ds = depth
		return nil
	})
}

func (l *commandList) SetViewport(vp metadata.Viewport) {
	l.record(func(e *executor) error {
		e.viewport = vp
		e.hasViewport = true
		return nil
	})
}

func (l *commandList) SetScissor(rect metadata.Rect) {
	l.record(func(e *executor) error {
		e.scissor = rect
		e.hasScissor = true
		return nil
	})
}

func (l *commandList) SetRootSignature(rs device.RootSignature) {
	r, ok := rs.(*rootSignature)
	if !ok {
		l.fail(fmt.Errorf("foreign root signature: %w", core.ErrInvalidState))
		return
	}
	l.record(func(e *executor) error {
		e.rootSig = r
		e.rootCBV = make([]metadata.GPUVirtualAddress, len(r.desc.Parameters))
		return nil
	})
}

func (l *commandList) SetPipelineState(pso device.PipelineState) {
	p, ok := pso.(*pipelineState)
	if !ok {
		l.fail(fmt.Errorf("foreign pipeline state: %w", core.ErrInvalidState))
		return
	}
	l.record(func(e *executor) error {
		e.pso = p
		return nil
	})
}

func (l *commandList) SetPrimitiveTopology(topology metadata.PrimitiveTopology) {
	l.record(func(e *executor) error {
		e.topology = topology
		return nil
	})
}

func (l *commandList) SetVertexBuffer(view metadata.VertexBufferView) {
	l.record(func(e *executor) error {
		e.vb = view
		return nil
	})
}

func (l *commandList) SetIndexBuffer(view metadata.IndexBufferView) {
	l.record(func(e *executor) error {
		e.ib = view
		return nil
	})
}

func (l *commandList) SetRootConstantBuffer(rootIndex uint32, address metadata.GPUVirtualAddress) {
	l.record(func(e *executor) error {
		return e.setRootCBV(rootIndex, address)
	})
}

func (l *commandList) DrawIndexedInstanced(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	args := metadata.DrawIndexedArguments{
		IndexCountPerInstance: indexCount,
		InstanceCount:         instanceCount,
		StartIndexLocation:    startIndex,
		BaseVertexLocation:    baseVertex,
		StartInstanceLocation: startInstance,
	}
	l.record(func(e *executor) error {
		return e.drawIndexed(args)
	})
}

func (l *commandList) ExecuteIndirect(sig device.CommandSignature, maxCommandCount uint32, args device.Buffer, argsOffset uint64) {
	cs, ok := sig.(*commandSignature)
	if !ok || cs == nil {
		l.fail(fmt.Errorf("foreign command signature: %w", core.ErrInvalidState))
		return
	}
	b, ok := args.(*buffer)
	if !ok || b == nil {
		l.fail(fmt.Errorf("foreign argument buffer: %w", core.ErrInvalidState))
		return
	}
	stride := uint64(cs.desc.ByteStride)
	if _, err := b.bytes(argsOffset, stride*uint64(maxCommandCount)); err != nil {
		l.fail(err)
		return
	}
	l.record(func(e *executor) error {
		if !b.state.Readable(metadata.ResourceStateIndirectArgument) {
			return fmt.Errorf("argument buffer %s is %s: %w", b.Name(), b.state, core.ErrInvalidState)
		}
		e.dev.stats.indirects.Add(1)
		for i := uint64(0); i < uint64(maxCommandCount); i++ {
			record := b.data[argsOffset+i*stride : argsOffset+(i+1)*stride]
			if err := e.applyRecord(cs, record); err != nil {
				return fmt.Errorf("indirect command %d: %w", i, err)
			}
		}
		return nil
	})
}

// applyRecord interprets one argument record the way the signature describes it.
func (e *executor) applyRecord(cs *commandSignature, record []byte) error {
	for i, a := range cs.desc.Arguments {
		field := record[cs.offsets[i]:]
		switch a.Type {
		case metadata.IndirectArgumentTypeConstantBufferView:
			addr := metadata.GPUVirtualAddress(binary.LittleEndian.Uint64(field))
			if err := e.setRootCBV(a.RootParameterIndex, addr); err != nil {
				return err
			}
		case metadata.IndirectArgumentTypeDrawIndexed:
			if err := e.drawIndexed(metadata.UnmarshalDrawIndexedArguments(field)); err != nil {
				return err
			}
		case metadata.IndirectArgumentTypeDraw:
			if err := e.draw(metadata.UnmarshalDrawArguments(field)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *executor) setRootCBV(rootIndex uint32, address metadata.GPUVirtualAddress) error {
	if e.rootSig == nil || int(rootIndex) >= len(e.rootCBV) {
		return fmt.Errorf("root parameter %d not in bound root signature: %w", rootIndex, core.ErrInvalidState)
	}
	if address.Offset()%constantBufferAlignment != 0 {
		return fmt.Errorf("constant buffer address %s not %d byte aligned: %w", address, constantBufferAlignment, core.ErrInvalidState)
	}
	e.rootCBV[rootIndex] = address
	return nil
}
