package g3d

import (
	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/resource"
)

// FrameContext is handed to every pass's Render. Cmd is the frame's single
// graphics command buffer; passes record into it and never submit it.
type FrameContext struct {
	Device    *device.Device
	Resources *resource.Manager
	Cmd       *device.CommandBuffer

	Scene     *SceneRenderInfo
	Constants SceneConstants
	// SceneBuffer holds the encoded Constants and LightBuffer the packed
	// light list, both for the current back buffer index.
	SceneBuffer *device.Buffer
	LightBuffer *device.Buffer
	LightCount  int

	Frame      uint64
	FrameIndex int
	// Handle is the pass being rendered.
	Handle PassHandle

	registry *PassRegistry
}

// Input returns the output render target of pass h.
func (c *FrameContext) Input(h PassHandle) (*device.RenderTarget, error) {
	p, err := c.registry.Get(h)
	if err != nil {
		return nil, err
	}
	return c.Resources.GetRenderTarget(p.Output())
}

// Environment returns the scene's environment map. Unknown handles resolve
// to the black fallback, with one warning per handle.
func (c *FrameContext) Environment() *resource.EnvironmentMap {
	return c.Resources.EnvironmentOrFallback(c.Scene.Environment)
}
