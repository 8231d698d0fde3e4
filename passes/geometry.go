package passes

import (
	"github.com/gogpu/g3d"
	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/resource"
	"github.com/gogpu/g3d/shaders"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// G-buffer layout: albedo, view normal and metallic/roughness/emissive.
var gbufferFormats = []gputypes.TextureFormat{
	gputypes.TextureFormatRGBA8Unorm,
	gputypes.TextureFormatRGBA16Float,
	gputypes.TextureFormatRGBA8Unorm,
}

// GeometryPass rasterizes the scene into the G-buffer.
type GeometryPass struct {
	base

	pipeline *device.GraphicsPipeline
	sampler  *device.Sampler
	draws    int
}

// NewGeometryPass returns a geometry pass.
func NewGeometryPass() *GeometryPass { return &GeometryPass{} }

// Init creates the window-sized G-buffer and its pipeline.
func (p *GeometryPass) Init(ctx *g3d.InitContext) error {
	desc := windowTarget(gbufferFormats...)
	desc.DepthFormat = gputypes.TextureFormatDepth32Float
	desc.Flags |= device.AllowDepthTexture
	if err := p.createOutput(ctx, desc); err != nil {
		return err
	}
	var err error
	p.sampler, err = ctx.Device.CreateSampler(device.SamplerDesc{
		Label:         "gbuffer material",
		AddressMode:   gputypes.AddressModeRepeat,
		MaxAnisotropy: 8,
	})
	if err != nil {
		return err
	}
	p.pipeline, err = graphicsPipeline(ctx.Resources, device.GraphicsPipelineDesc{
		Label:               "gbuffer",
		Shader:              shaders.GBuffer,
		VertexLayout:        resource.VertexLayout(),
		RenderTargetFormats: gbufferFormats,
		DepthFormat:         gputypes.TextureFormatDepth32Float,
		DepthTest:           true,
		DepthWrite:          true,
		CullMode:            gputypes.CullModeBack,
		Bindings: []device.Binding{
			{Name: "scene", Kind: device.BindUniform},
			{Name: "base_tex", Group: 1, Kind: device.BindTexture},
			{Name: "base_smp", Group: 1, Kind: device.BindSampler},
			{Name: "material", Group: 1, Kind: device.BindUniform},
		},
		DynamicCallData: device.DynamicCallData{Size: drawConstantsSize},
	})
	return err
}

// SubInit has nothing to configure.
func (p *GeometryPass) SubInit(*g3d.InitContext, g3d.NoInput) error { return nil }

// Render draws every object with its material.
func (p *GeometryPass) Render(ctx *g3d.FrameContext) error {
	rt, err := p.target()
	if err != nil {
		return err
	}
	for _, obj := range ctx.Scene.Objects {
		mat := ctx.Resources.GetMaterial(obj.Material)
		tex := ctx.Resources.GetTexture(mat.Desc.BaseColorTexture)
		ctx.Device.Transition(ctx.Cmd, tex, device.StateShaderResource, device.AllSubresources)
	}
	scene, err := ctx.Device.BindGroup(p.pipeline, 0, ctx.SceneBuffer.Data.View)
	if err != nil {
		return err
	}

	pass := ctx.Device.BeginRenderTarget(ctx.Cmd, rt, device.LoadActionClear)
	defer pass.End()
	pass.SetPipeline(p.pipeline.Data.Pipeline)
	pass.SetBindGroup(0, scene, nil)
	var bound hal.BindGroup
	p.draws, err = drawObjects(ctx, pass, p.pipeline, func(mat *resource.Material) error {
		tex := ctx.Resources.GetTexture(mat.Desc.BaseColorTexture)
		bg, err := ctx.Device.BindGroup(p.pipeline, 1, tex.Data.SRV, p.sampler.Data.Handle, mat.Constants.Data.View)
		if err != nil {
			return err
		}
		if bg != bound {
			pass.SetBindGroup(1, bg, nil)
			bound = bg
		}
		return nil
	})
	return err
}

// Draws returns the number of objects drawn in the last frame.
func (p *GeometryPass) Draws() int { return p.draws }

// Close releases the G-buffer and the material sampler.
func (p *GeometryPass) Close() error {
	if p.sampler != nil {
		p.res.Device().DestroySampler(p.sampler)
		p.sampler = nil
	}
	return p.base.Close()
}
