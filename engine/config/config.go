package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/spaghettifunk/anima-indirect/engine/core"
)

const (
	BackendVulkan = "vulkan"
	BackendSoft   = "soft"
)

type Config struct {
	Window   WindowConfig   `toml:"window" yaml:"window"`
	Renderer RendererConfig `toml:"renderer" yaml:"renderer"`
	Assets   AssetsConfig   `toml:"assets" yaml:"assets"`
	Capture  CaptureConfig  `toml:"capture" yaml:"capture"`
	Log      LogConfig      `toml:"log" yaml:"log"`
}

type WindowConfig struct {
	Title    string `toml:"title" yaml:"title"`
	X        int32  `toml:"x" yaml:"x"`
	Y        int32  `toml:"y" yaml:"y"`
	Width    uint32 `toml:"width" yaml:"width"`
	Height   uint32 `toml:"height" yaml:"height"`
	Headless bool   `toml:"headless" yaml:"headless"`
}

type RendererConfig struct {
	Backend       string     `toml:"backend" yaml:"backend"`
	Validation    bool       `toml:"validation" yaml:"validation"`
	InstanceCount uint32     `toml:"instance_count" yaml:"instance_count"`
	FrameLatency  uint32     `toml:"frame_latency" yaml:"frame_latency"`
	FenceTimeout  uint32     `toml:"fence_timeout_ms" yaml:"fence_timeout_ms"`
	RotationStep  float32    `toml:"rotation_step" yaml:"rotation_step"`
	ClearColor    [4]float32 `toml:"clear_color" yaml:"clear_color"`
	SyncInterval  uint32     `toml:"sync_interval" yaml:"sync_interval"`
	DirectDraw    bool       `toml:"direct_draw" yaml:"direct_draw"`
	MaxFrames     uint64     `toml:"max_frames" yaml:"max_frames"`
}

type AssetsConfig struct {
	Dir          string `toml:"dir" yaml:"dir"`
	Mesh         string `toml:"mesh" yaml:"mesh"`
	VertexShader string `toml:"vertex_shader" yaml:"vertex_shader"`
	PixelShader  string `toml:"pixel_shader" yaml:"pixel_shader"`
	Watch        bool   `toml:"watch" yaml:"watch"`
}

type CaptureConfig struct {
	Dir   string `toml:"dir" yaml:"dir"`
	Every uint64 `toml:"every" yaml:"every"`
	Font  string `toml:"font" yaml:"font"`
}

type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// Default returns the configuration of the stock demo: four instances,
// two frames in flight and a 400x240 window.
func Default() *Config {
	return &Config{
		Window: WindowConfig{
			Title:  "Anima ExecuteIndirect",
			X:      100,
			Y:      100,
			Width:  400,
			Height: 240,
		},
		Renderer: RendererConfig{
			Backend:       BackendVulkan,
			Validation:    true,
			InstanceCount: 4,
			FrameLatency:  2,
			FenceTimeout:  10000,
			RotationStep:  1.0,
			ClearColor:    [4]float32{0.1, 0.2, 0.3, 1.0},
			SyncInterval:  1,
		},
		Assets: AssetsConfig{
			Dir:          "assets",
			VertexShader: "shaders/indirect.vert.spv",
			PixelShader:  "shaders/indirect.frag.spv",
		},
		Log: LogConfig{
			Level: "debug",
		},
	}
}

// Load reads a TOML or YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := cfg.decode(filepath.Ext(path), data); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to the defaults when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		core.LogWarn("config file %s not found, using defaults", path)
		return Default(), nil
	}
	return cfg, err
}

func (c *Config) decode(ext string, data []byte) error {
	switch strings.ToLower(ext) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(c)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(c)
	default:
		return fmt.Errorf("unsupported config format %q: %w", ext, core.ErrInvalidConfig)
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Window.Width == 0 || c.Window.Height == 0 {
		errs = append(errs, fmt.Errorf("window size %dx%d", c.Window.Width, c.Window.Height))
	}
	if c.Renderer.Backend != BackendVulkan && c.Renderer.Backend != BackendSoft {
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Renderer.Backend))
	}
	if c.Renderer.InstanceCount == 0 {
		errs = append(errs, errors.New("instance_count must be at least 1"))
	}
	if c.Renderer.FrameLatency == 0 {
		errs = append(errs, errors.New("frame_latency must be at least 1"))
	}
	if step := c.Renderer.RotationStep; !(step >= 0 && step < 360) {
		errs = append(errs, fmt.Errorf("rotation_step %v must lie in [0, 360)", step))
	}
	if c.Renderer.FenceTimeout == 0 {
		errs = append(errs, errors.New("fence_timeout_ms must be positive"))
	}
	if c.Window.Headless && c.Renderer.Backend != BackendSoft {
		errs = append(errs, errors.New("headless mode requires the soft backend"))
	}
	if c.Window.Headless && c.Renderer.MaxFrames == 0 {
		errs = append(errs, errors.New("headless mode requires max_frames"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", core.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (r RendererConfig) FenceTimeoutDuration() time.Duration {
	return time.Duration(r.FenceTimeout) * time.Millisecond
}

// AssetPath resolves p relative to the assets directory unless it is absolute.
func (c *Config) AssetPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Assets.Dir, p)
}
