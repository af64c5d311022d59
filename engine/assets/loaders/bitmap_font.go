package loaders

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fzipp/bmfont"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

// BitmapFontLoader loads AngelCode BMFont descriptors (`.fnt`) with their pages.
type BitmapFontLoader struct{}

func (fl *BitmapFontLoader) Load(path string, params interface{}) (*metadata.Resource, error) {
	font, err := LoadBitmapFont(path)
	if err != nil {
		return nil, err
	}
	return &metadata.Resource{
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		FullPath: path,
		Type:     metadata.ResourceTypeBitmapFont,
		DataSize: uint64(len(font.Descriptor.Chars)),
		Data:     font,
	}, nil
}

func (fl *BitmapFontLoader) Unload(resource *metadata.Resource) error {
	resource.Data = nil
	resource.DataSize = 0
	return nil
}

// LoadBitmapFont reads a `.fnt` descriptor and the page images it names.
func LoadBitmapFont(path string) (*bmfont.BitmapFont, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".fnt" {
		return nil, fmt.Errorf("unsupported bitmap font type %q", ext)
	}
	font, err := bmfont.Load(path)
	if err != nil {
		return nil, err
	}
	d := font.Descriptor
	core.LogDebug("bitmap font '%s' %dpt: %d glyphs, %d pages, line height %d",
		d.Info.Face, d.Info.Size, len(d.Chars), len(d.Pages), d.Common.LineHeight)
	return font, nil
}
