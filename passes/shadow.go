package passes

import (
	"github.com/gogpu/g3d"
	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/resource"
	"github.com/gogpu/g3d/shaders"
	"github.com/gogpu/gputypes"
)

// DefaultShadowMapSize is the edge of the shadow map in texels.
const DefaultShadowMapSize = 2048

// ShadowPass renders scene depth from the primary directional light into a
// depth-only target.
type ShadowPass struct {
	base
	// Size is the shadow map edge. Zero selects DefaultShadowMapSize.
	Size      uint32
	DepthBias int32
	SlopeBias float32

	pipeline *device.GraphicsPipeline
	draws    int
}

// NewShadowPass returns a shadow pass with the default size and bias.
func NewShadowPass() *ShadowPass {
	return &ShadowPass{Size: DefaultShadowMapSize, DepthBias: 2, SlopeBias: 2}
}

// Init creates the shadow map and the depth-only pipeline.
func (p *ShadowPass) Init(ctx *g3d.InitContext) error {
	size := p.Size
	if size == 0 {
		size = DefaultShadowMapSize
	}
	err := p.createOutput(ctx, device.RenderTargetDesc{
		Width:       size,
		Height:      size,
		DepthFormat: gputypes.TextureFormatDepth32Float,
		Flags:       device.AllowDepthTexture,
	})
	if err != nil {
		return err
	}
	p.pipeline, err = graphicsPipeline(ctx.Resources, device.GraphicsPipelineDesc{
		Label:        "shadow",
		Shader:       shaders.Shadow,
		VertexLayout: resource.PositionLayout(),
		DepthFormat:  gputypes.TextureFormatDepth32Float,
		DepthTest:    true,
		DepthWrite:   true,
		DepthBias:    p.DepthBias,
		SlopeBias:    p.SlopeBias,
		CullMode:     gputypes.CullModeBack,
		Bindings: []device.Binding{
			{Name: "scene", Kind: device.BindUniform},
		},
		DynamicCallData: device.DynamicCallData{Size: drawConstantsSize},
	})
	return err
}

// SubInit has nothing to configure.
func (p *ShadowPass) SubInit(*g3d.InitContext, g3d.NoInput) error { return nil }

// Render draws every object's depth into the shadow map.
func (p *ShadowPass) Render(ctx *g3d.FrameContext) error {
	rt, err := p.target()
	if err != nil {
		return err
	}
	bg, err := ctx.Device.BindGroup(p.pipeline, 0, ctx.SceneBuffer.Data.View)
	if err != nil {
		return err
	}
	pass := ctx.Device.BeginRenderTarget(ctx.Cmd, rt, device.LoadActionClear)
	defer pass.End()
	pass.SetPipeline(p.pipeline.Data.Pipeline)
	pass.SetBindGroup(0, bg, nil)
	p.draws, err = drawObjects(ctx, pass, p.pipeline, nil)
	return err
}

// Draws returns the number of objects drawn in the last frame.
func (p *ShadowPass) Draws() int { return p.draws }
