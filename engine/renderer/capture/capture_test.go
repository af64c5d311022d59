package capture

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/anima-indirect/engine/config"
	"github.com/spaghettifunk/anima-indirect/engine/core"
)

func testImage(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	img.SetRGBA(3, 1, color.RGBA{R: 255, A: 255})
	return img
}

func TestWriterCapturesEveryNthFrame(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	w, err := NewWriter(config.CaptureConfig{Dir: dir, Every: 2}, "run")
	require.NoError(t, err)

	src := testImage(color.RGBA{R: 25, G: 51, B: 76, A: 255})
	for f := uint64(0); f < 4; f++ {
		w.Hook(f, src)
	}
	require.NoError(t, w.Err())
	assert.Equal(t, []string{w.Path(0), w.Path(2)}, w.Written())
	assert.Equal(t, filepath.Join(dir, "run-frame-000002.bmp"), w.Path(2))

	f, err := os.Open(w.Path(2))
	require.NoError(t, err)
	defer f.Close()
	got, err := bmp.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, src.Rect, got.Bounds())
	r, g, b, _ := got.At(3, 1).RGBA()
	assert.Equal(t, []uint32{0xffff, 0, 0}, []uint32{r, g, b})
	r, g, b, _ = got.At(0, 0).RGBA()
	assert.Equal(t, []uint32{25 * 0x101, 51 * 0x101, 76 * 0x101}, []uint32{r, g, b})
}

func TestWriterRejectsBadConfig(t *testing.T) {
	_, err := NewWriter(config.CaptureConfig{}, "run")
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = NewWriter(config.CaptureConfig{Dir: t.TempDir(), Font: "missing.fnt"}, "run")
	assert.Error(t, err)
}

func TestWriterRecordsSaveFailures(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(config.CaptureConfig{Dir: dir}, "run")
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(w.Path(0), 0o755))

	w.Hook(0, testImage(color.RGBA{A: 255}))
	assert.Error(t, w.Err())
	assert.Empty(t, w.Written())
}
