package indirect

import (
	"image"
	gomath "math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/math"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/soft"
)

func testOptions() Options {
	return Options{
		Width:         160,
		Height:        96,
		InstanceCount: testInstances,
		FrameLatency:  testDepth,
		BackBuffers:   2,
		FenceTimeout:  2 * time.Second,
		RotationStep:  1,
		ClearColor:    [4]float32{0.1, 0.2, 0.3, 1},
		SyncInterval:  1,
	}
}

func cubeMesh() *metadata.MeshData {
	vertices, indices := math.GenerateCube(1)
	return &metadata.MeshData{Name: "cube", Vertices: vertices, Indices: indices}
}

// frameCapture keeps a copy of every presented image.
type frameCapture struct {
	mu     sync.Mutex
	frames map[uint64]*image.RGBA
}

func (c *frameCapture) hook(frame uint64, img *image.RGBA) {
	cp := image.NewRGBA(img.Rect)
	copy(cp.Pix, img.Pix)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frames == nil {
		c.frames = make(map[uint64]*image.RGBA)
	}
	c.frames[frame] = cp
}

func (c *frameCapture) get(frame uint64) *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[frame]
}

func newTestContext(t *testing.T, opts Options, devOpts ...soft.Option) (*RenderContext, *soft.Device) {
	t.Helper()
	dev := soft.New(devOpts...)
	t.Cleanup(dev.Release)
	rc, err := NewRenderContext(dev, opts, cubeMesh(), metadata.ShaderSet{})
	require.NoError(t, err)
	return rc, dev
}

func TestEndToEndFourInstancesTwoSlots(t *testing.T) {
	rc, dev := newTestContext(t, testOptions(), soft.WithExecutionDelay(10*time.Millisecond))

	var stats []FrameStats
	for f := 0; f < 3; f++ {
		s, err := rc.RenderFrame()
		require.NoError(t, err)
		stats = append(stats, s)
	}

	assert.Equal(t, []uint32{0, 1, 0}, []uint32{stats[0].Slot, stats[1].Slot, stats[2].Slot})
	// Frame 2 reused slot 0 after the fence reached the value frame 0 signalled.
	assert.Equal(t, []uint64{0, 0, 1}, []uint64{stats[0].WaitedFor, stats[1].WaitedFor, stats[2].WaitedFor})
	assert.Equal(t, []float32{1, 2, 3}, []float32{stats[0].Angle, stats[1].Angle, stats[2].Angle})
	assert.Equal(t, FrameStatePresented, rc.SlotState(0))
	assert.Equal(t, FrameStatePresented, rc.SlotState(1))
	assert.Equal(t, uint64(3), rc.FrameCount())

	require.NoError(t, rc.sync.WaitIdle())
	got := dev.Stats()
	assert.Equal(t, uint64(3), got.ExecuteIndirects)
	assert.Equal(t, uint64(3*testInstances), got.Draws)
	assert.Eventually(t, func() bool { return dev.Stats().Presents == 3 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, dev.RemovedReason())
	require.NoError(t, rc.Shutdown())
}

func TestInstancesLandWhereTheirTransformsPlaceThem(t *testing.T) {
	capture := &frameCapture{}
	opts := testOptions()
	rc, _ := newTestContext(t, opts, soft.WithPresentHook(capture.hook))

	_, err := rc.RenderFrame()
	require.NoError(t, err)
	require.NoError(t, rc.Shutdown())
	require.Eventually(t, func() bool { return capture.get(0) != nil }, time.Second, 5*time.Millisecond)
	img := capture.get(0)

	background := img.RGBAAt(0, 0)
	for i := uint32(0); i < testInstances; i++ {
		mvp, _ := rc.params.Transforms(0, i)
		clip := math.Vec4{W: 1}.MulMat4(mvp)
		x := int((clip.X/clip.W + 1) * 0.5 * float32(opts.Width))
		y := int((1 - clip.Y/clip.W) * 0.5 * float32(opts.Height))
		require.True(t, image.Pt(x, y).In(img.Rect), "instance %d projects off screen at %d,%d", i, x, y)
		assert.NotEqual(t, background, img.RGBAAt(x, y), "instance %d not drawn at %d,%d", i, x, y)
	}
}

func TestDirectAndIndirectDrawIdentically(t *testing.T) {
	render := func(direct bool) *frameCapture {
		capture := &frameCapture{}
		opts := testOptions()
		opts.DirectDraw = direct
		rc, _ := newTestContext(t, opts, soft.WithPresentHook(capture.hook))
		for f := 0; f < 3; f++ {
			_, err := rc.RenderFrame()
			require.NoError(t, err)
		}
		require.NoError(t, rc.Shutdown())
		require.Eventually(t, func() bool { return capture.get(2) != nil }, time.Second, 5*time.Millisecond)
		return capture
	}

	indirect, direct := render(false), render(true)
	for f := uint64(0); f < 3; f++ {
		assert.Equal(t, direct.get(f).Pix, indirect.get(f).Pix, "frame %d", f)
	}
	assert.NotEqual(t, indirect.get(0).Pix, indirect.get(2).Pix)
}

func TestRotationWrapsAt360(t *testing.T) {
	rc, _ := newTestContext(t, testOptions())
	rc.SetRotation(357)

	var angles []float32
	for f := 0; f < 3; f++ {
		s, err := rc.RenderFrame()
		require.NoError(t, err)
		angles = append(angles, s.Angle)
	}
	assert.Equal(t, []float32{358, 359, 0}, angles)
	assert.Equal(t, float32(0), rc.Rotation())
	require.NoError(t, rc.Shutdown())
}

func TestSetRotationFoldsIntoRange(t *testing.T) {
	rc, _ := newTestContext(t, testOptions())

	rc.SetRotation(-5)
	assert.Equal(t, float32(355), rc.Rotation())
	rc.SetRotation(360)
	assert.Equal(t, float32(0), rc.Rotation())

	rc.SetRotation(-1)
	s, err := rc.RenderFrame()
	require.NoError(t, err)
	assert.Equal(t, float32(0), s.Angle)
	require.NoError(t, rc.Shutdown())
}

func TestRotationStepHoldsAngleAtZero(t *testing.T) {
	rc, _ := newTestContext(t, testOptions())

	first, err := rc.RenderFrame()
	require.NoError(t, err)
	require.NoError(t, rc.SetRotationStep(0))
	for f := 0; f < 3; f++ {
		s, err := rc.RenderFrame()
		require.NoError(t, err)
		assert.Equal(t, first.Angle, s.Angle)
	}

	assert.ErrorIs(t, rc.SetRotationStep(-1), core.ErrInvalidConfig)
	assert.ErrorIs(t, rc.SetRotationStep(float32(gomath.NaN())), core.ErrInvalidConfig)
	assert.Equal(t, float32(0), rc.RotationStep())
	require.NoError(t, rc.Shutdown())
}

func TestRepeatedFramesProduceIdenticalRecords(t *testing.T) {
	opts := testOptions()
	opts.RotationStep = 0
	rc, _ := newTestContext(t, opts)

	_, err := rc.RenderFrame()
	require.NoError(t, err)
	first := rc.args.Records(0)
	_, err = rc.RenderFrame()
	require.NoError(t, err)
	_, err = rc.RenderFrame()
	require.NoError(t, err)
	assert.Equal(t, first, rc.args.Records(0))
	require.NoError(t, rc.Shutdown())
}

func TestBarriersBalanceEveryFrame(t *testing.T) {
	rc, _ := newTestContext(t, testOptions())
	for f := 0; f < 4; f++ {
		_, err := rc.RenderFrame()
		require.NoError(t, err)
		require.NoError(t, rc.tracker.Balanced())

		barriers := rc.tracker.Barriers()
		require.Len(t, barriers, 4)
		// Into render target, around the argument copy, back to present.
		assert.Equal(t, metadata.ResourceStateRenderTarget, barriers[0].After)
		assert.Equal(t, metadata.ResourceStateCopyDest, barriers[1].After)
		assert.Equal(t, metadata.ResourceStateIndirectArgument, barriers[2].After)
		assert.Equal(t, metadata.ResourceStatePresent, barriers[3].After)
	}
	require.NoError(t, rc.Shutdown())
}

func TestRenderFrameFailsOnFenceTimeout(t *testing.T) {
	opts := testOptions()
	opts.FrameLatency = 1
	opts.FenceTimeout = 5 * time.Millisecond
	rc, _ := newTestContext(t, opts, soft.WithExecutionDelay(200*time.Millisecond))

	_, err := rc.RenderFrame()
	require.NoError(t, err)
	_, err = rc.RenderFrame()
	assert.ErrorIs(t, err, core.ErrFenceTimeout)
}

func TestNewRenderContextRejectsBadOptions(t *testing.T) {
	dev := soft.New()
	defer dev.Release()

	opts := testOptions()
	opts.InstanceCount = 0
	_, err := NewRenderContext(dev, opts, cubeMesh(), metadata.ShaderSet{})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	for _, step := range []float32{-1, 360, float32(gomath.NaN()), float32(gomath.Inf(1))} {
		opts = testOptions()
		opts.RotationStep = step
		_, err = NewRenderContext(dev, opts, cubeMesh(), metadata.ShaderSet{})
		assert.ErrorIs(t, err, core.ErrInvalidConfig, "step %v", step)
	}

	_, err = NewRenderContext(dev, testOptions(), &metadata.MeshData{Name: "empty"}, metadata.ShaderSet{})
	assert.ErrorIs(t, err, core.ErrResourceCreation)
}
