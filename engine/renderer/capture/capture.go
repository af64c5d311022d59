package capture

import (
	"bufio"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"sync"

	"github.com/fzipp/bmfont"
	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/anima-indirect/engine/assets/loaders"
	"github.com/spaghettifunk/anima-indirect/engine/config"
	"github.com/spaghettifunk/anima-indirect/engine/core"
)

/**
 * @brief Writes every n-th presented frame to a BMP file, optionally stamped
 * with the frame number in a bitmap font. Hook runs on the device queue.
 */
type Writer struct {
	dir   string
	every uint64
	run   string
	font  *bmfont.BitmapFont

	mu      sync.Mutex
	written []string
	err     error
}

func NewWriter(cfg config.CaptureConfig, runID string) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("capture directory is empty: %w", core.ErrInvalidConfig)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	w := &Writer{dir: cfg.Dir, every: max(cfg.Every, 1), run: runID}
	if cfg.Font != "" {
		font, err := loaders.LoadBitmapFont(cfg.Font)
		if err != nil {
			return nil, fmt.Errorf("failed to load capture font %s: %w", cfg.Font, err)
		}
		w.font = font
	}
	core.LogInfo("capturing every %d frame(s) to %s", w.every, w.dir)
	return w, nil
}

// Path is the file frame is captured to.
func (w *Writer) Path(frame uint64) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-frame-%06d.bmp", w.run, frame))
}

func (w *Writer) Hook(frame uint64, img *image.RGBA) {
	if frame%w.every != 0 {
		return
	}
	out := image.NewRGBA(img.Rect)
	draw.Draw(out, out.Rect, img, img.Rect.Min, draw.Src)
	if w.font != nil {
		w.label(out, fmt.Sprintf("frame %d", frame))
	}
	path := w.Path(frame)
	err := Save(path, out)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		core.LogError("capture of frame %d failed: %s", frame, err)
		if w.err == nil {
			w.err = err
		}
		return
	}
	w.written = append(w.written, path)
}

func (w *Writer) label(dst draw.Image, text string) {
	lh := w.font.Descriptor.Common.LineHeight
	w.font.DrawText(dst, image.Pt(2, lh+2), text)
}

// Written lists the captured files in frame order.
func (w *Writer) Written() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.written...)
}

// Err is the first write failure.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func Save(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := bmp.Encode(bw, img); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
