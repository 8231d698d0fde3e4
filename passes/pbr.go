package passes

import (
	"github.com/gogpu/g3d"
	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/internal/descriptor"
	"github.com/gogpu/g3d/shaders"
	"github.com/gogpu/gputypes"
)

// PBRInput names the G-buffer and shadow map read by the lighting pass.
type PBRInput struct {
	Geometry g3d.PassHandle
	Shadow   g3d.PassHandle
}

// Dependencies returns the geometry and shadow passes.
func (in PBRInput) Dependencies() []g3d.PassHandle {
	return []g3d.PassHandle{in.Geometry, in.Shadow}
}

// PBRPass resolves the G-buffer into HDR radiance: Cook-Torrance direct
// lighting for every light, the shadow map for the primary light and
// diffuse irradiance from the scene's environment.
type PBRPass struct {
	base
	input PBRInput

	pipeline *device.GraphicsPipeline
	linear   *device.Sampler
	shadow   *device.Sampler
}

// NewPBRPass returns a lighting pass.
func NewPBRPass() *PBRPass { return &PBRPass{} }

// Init creates the HDR target, the samplers and the lighting pipeline.
func (p *PBRPass) Init(ctx *g3d.InitContext) error {
	if err := p.createOutput(ctx, windowTarget(HDRFormat)); err != nil {
		return err
	}
	var err error
	if p.linear, err = linearClamp(ctx.Device, "pbr linear"); err != nil {
		return err
	}
	p.shadow, err = ctx.Device.CreateSampler(device.SamplerDesc{
		Label:   "pbr shadow",
		Compare: gputypes.CompareFunctionLessEqual,
	})
	if err != nil {
		return err
	}
	p.pipeline, err = graphicsPipeline(ctx.Resources, device.GraphicsPipelineDesc{
		Label:               "pbr",
		Shader:              shaders.PBR,
		RenderTargetFormats: []gputypes.TextureFormat{HDRFormat},
		Bindings: []device.Binding{
			{Name: "scene", Kind: device.BindUniform},
			{Name: "lights", Kind: device.BindStorage},
			{Name: "albedo_tex", Group: 1, Kind: device.BindTexture},
			{Name: "normal_tex", Group: 1, Kind: device.BindTexture},
			{Name: "material_tex", Group: 1, Kind: device.BindTexture},
			{Name: "depth_tex", Group: 1, Kind: device.BindDepthTexture},
			{Name: "shadow_tex", Group: 1, Kind: device.BindDepthTexture},
			{Name: "irradiance_tex", Group: 1, Kind: device.BindTexture, ViewDimension: gputypes.TextureViewDimensionCube},
			{Name: "linear_smp", Group: 1, Kind: device.BindSampler},
			{Name: "shadow_smp", Group: 1, Kind: device.BindComparisonSampler},
		},
	})
	return err
}

// SubInit checks that the inputs carry a G-buffer and a shadow map.
func (p *PBRPass) SubInit(ctx *g3d.InitContext, input PBRInput) error {
	gb, err := ctx.Input(input.Geometry)
	if err != nil {
		return err
	}
	if len(gb.Data.Colors) < len(gbufferFormats) || gb.Data.Depth == nil {
		return errInput(input.Geometry, "a G-buffer with depth")
	}
	sm, err := ctx.Input(input.Shadow)
	if err != nil {
		return err
	}
	if sm.Data.Depth == nil {
		return errInput(input.Shadow, "a depth attachment")
	}
	p.input = input
	return nil
}

// Render lights the G-buffer.
func (p *PBRPass) Render(ctx *g3d.FrameContext) error {
	rt, err := p.target()
	if err != nil {
		return err
	}
	gb, err := ctx.Input(p.input.Geometry)
	if err != nil {
		return err
	}
	sm, err := ctx.Input(p.input.Shadow)
	if err != nil {
		return err
	}
	env := ctx.Environment()
	ctx.Device.ReadRenderTarget(ctx.Cmd, gb)
	ctx.Device.ReadRenderTarget(ctx.Cmd, sm)
	ctx.Device.Transition(ctx.Cmd, env.Irradiance, device.StateShaderResource, device.AllSubresources)

	return fullscreen(ctx, rt, p.pipeline, nil,
		[]descriptor.Handle{ctx.SceneBuffer.Data.View, ctx.LightBuffer.Data.View},
		[]descriptor.Handle{
			gb.ColorSRV(0), gb.ColorSRV(1), gb.ColorSRV(2), gb.DepthSRV(),
			sm.DepthSRV(), env.Irradiance.Data.SRV,
			p.linear.Data.Handle, p.shadow.Data.Handle,
		})
}

// Close releases the HDR target and the samplers.
func (p *PBRPass) Close() error {
	for _, s := range []*device.Sampler{p.linear, p.shadow} {
		if s != nil {
			p.res.Device().DestroySampler(s)
		}
	}
	p.linear, p.shadow = nil, nil
	return p.base.Close()
}
