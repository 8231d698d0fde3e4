package g3d

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// Renderer defaults.
const (
	// DefaultShadowExtent is the half size in world units of the
	// orthographic shadow volume.
	DefaultShadowExtent = 20
	// DefaultMaxLights is the capacity of the per-frame light list.
	DefaultMaxLights = 256
)

// Option configures a Renderer during creation.
//
// Example:
//
//	r, err := g3d.New(dev, res,
//	    g3d.WithWindow(app),
//	    g3d.WithEventSource(app),
//	    g3d.WithShadowExtent(50),
//	)
type Option func(*options)

type options struct {
	window       gpucontext.WindowProvider
	events       gpucontext.EventSource
	overlay      Overlay
	shadowExtent float32
	clearColor   gputypes.Color
	maxLights    int
}

func defaultOptions() options {
	return options{
		shadowExtent: DefaultShadowExtent,
		clearColor:   gputypes.Color{A: 1},
		maxLights:    DefaultMaxLights,
	}
}

// WithWindow sizes the back buffers from the window's client area in
// physical pixels.
func WithWindow(w gpucontext.WindowProvider) Option {
	return func(o *options) {
		o.window = w
	}
}

// WithEventSource subscribes the renderer to resize events.
func WithEventSource(es gpucontext.EventSource) Option {
	return func(o *options) {
		o.events = es
	}
}

// WithOverlay draws o on top of every composited frame.
func WithOverlay(ov Overlay) Option {
	return func(o *options) {
		o.overlay = ov
	}
}

// WithShadowExtent sets the half size of the directional shadow volume.
// Non-positive values keep the default.
func WithShadowExtent(extent float32) Option {
	return func(o *options) {
		if extent > 0 {
			o.shadowExtent = extent
		}
	}
}

// WithClearColor sets the back buffer clear color.
func WithClearColor(c gputypes.Color) Option {
	return func(o *options) {
		o.clearColor = c
	}
}

// WithMaxLights sets the capacity of the light list. Lights beyond it are
// dropped with a warning.
func WithMaxLights(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLights = n
		}
	}
}
