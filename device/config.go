package device

import (
	"io/fs"

	"github.com/gogpu/g3d/shaders"
	"github.com/gogpu/gputypes"
)

// Default configuration values.
const (
	DefaultWidth           = 1280
	DefaultHeight          = 720
	DefaultBackBufferCount = 3

	DefaultRTVHeapSize     = 512
	DefaultDSVHeapSize     = 128
	DefaultSRVHeapSize     = 4096
	DefaultSamplerHeapSize = 256

	DefaultGraphicsCommandBuffers = 3
	DefaultComputeCommandBuffers  = 2
	DefaultCopyCommandBuffers     = 2

	// DefaultDynamicCallSlots is the number of call-data slots per frame.
	DefaultDynamicCallSlots = 4096
	// DynamicCallSlotSize is the stride of one call-data slot. It matches
	// the minimum uniform buffer offset alignment.
	DynamicCallSlotSize = 256

	DefaultBindGroupCacheSize = 1024

	// MaxColorTargets is the maximum number of color attachments.
	MaxColorTargets = 8
)

// Config configures a Device. Zero fields take the defaults above.
type Config struct {
	Width  int
	Height int

	BackBufferCount  int
	BackBufferFormat gputypes.TextureFormat

	RTVHeapSize     int
	DSVHeapSize     int
	SRVHeapSize     int
	SamplerHeapSize int

	GraphicsCommandBuffers int
	ComputeCommandBuffers  int
	CopyCommandBuffers     int

	DynamicCallSlots   int
	BindGroupCacheSize int

	// Shaders resolves pipeline shader paths. Defaults to shaders.FS.
	Shaders fs.FS
	// ValidateShaders runs naga validation on WGSL at load time.
	ValidateShaders bool

	// VSync selects FIFO presentation; otherwise immediate.
	VSync bool
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.Height <= 0 {
		c.Height = DefaultHeight
	}
	if c.BackBufferCount <= 0 {
		c.BackBufferCount = DefaultBackBufferCount
	}
	if c.BackBufferFormat == gputypes.TextureFormatUndefined {
		c.BackBufferFormat = gputypes.TextureFormatBGRA8Unorm
	}
	if c.RTVHeapSize <= 0 {
		c.RTVHeapSize = DefaultRTVHeapSize
	}
	if c.DSVHeapSize <= 0 {
		c.DSVHeapSize = DefaultDSVHeapSize
	}
	if c.SRVHeapSize <= 0 {
		c.SRVHeapSize = DefaultSRVHeapSize
	}
	if c.SamplerHeapSize <= 0 {
		c.SamplerHeapSize = DefaultSamplerHeapSize
	}
	if c.GraphicsCommandBuffers <= 0 {
		c.GraphicsCommandBuffers = DefaultGraphicsCommandBuffers
	}
	if c.ComputeCommandBuffers <= 0 {
		c.ComputeCommandBuffers = DefaultComputeCommandBuffers
	}
	if c.CopyCommandBuffers <= 0 {
		c.CopyCommandBuffers = DefaultCopyCommandBuffers
	}
	if c.DynamicCallSlots <= 0 {
		c.DynamicCallSlots = DefaultDynamicCallSlots
	}
	if c.BindGroupCacheSize <= 0 {
		c.BindGroupCacheSize = DefaultBindGroupCacheSize
	}
	if c.Shaders == nil {
		c.Shaders = shaders.FS
	}
	return c
}
