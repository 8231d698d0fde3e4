package passes

import (
	"github.com/gogpu/g3d"
	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/internal/descriptor"
	"github.com/gogpu/g3d/shaders"
	"github.com/gogpu/gputypes"
)

// FXAAPass applies fast approximate anti-aliasing to its source's first
// color output.
type FXAAPass struct {
	base
	source g3d.PassHandle

	pipeline *device.GraphicsPipeline
	sampler  *device.Sampler
}

// NewFXAAPass returns an FXAA pass.
func NewFXAAPass() *FXAAPass { return &FXAAPass{} }

// Init creates the HDR target and the FXAA pipeline.
func (p *FXAAPass) Init(ctx *g3d.InitContext) error {
	if err := p.createOutput(ctx, windowTarget(HDRFormat)); err != nil {
		return err
	}
	var err error
	if p.sampler, err = linearClamp(ctx.Device, "fxaa"); err != nil {
		return err
	}
	p.pipeline, err = graphicsPipeline(ctx.Resources, device.GraphicsPipelineDesc{
		Label:               "fxaa",
		Shader:              shaders.FXAA,
		RenderTargetFormats: []gputypes.TextureFormat{HDRFormat},
		Bindings: []device.Binding{
			{Name: "src_tex", Kind: device.BindTexture},
			{Name: "src_smp", Kind: device.BindSampler},
		},
	})
	return err
}

// SubInit records the source pass.
func (p *FXAAPass) SubInit(ctx *g3d.InitContext, input SourceInput) error {
	if err := checkColorSource(ctx, input.Source); err != nil {
		return err
	}
	p.source = input.Source
	return nil
}

// Render filters the source into the pass output.
func (p *FXAAPass) Render(ctx *g3d.FrameContext) error {
	rt, err := p.target()
	if err != nil {
		return err
	}
	src, err := ctx.Input(p.source)
	if err != nil {
		return err
	}
	ctx.Device.ReadRenderTarget(ctx.Cmd, src)
	return fullscreen(ctx, rt, p.pipeline, nil, []descriptor.Handle{src.ColorSRV(0), p.sampler.Data.Handle})
}

// Close releases the target and the sampler.
func (p *FXAAPass) Close() error {
	if p.sampler != nil {
		p.res.Device().DestroySampler(p.sampler)
		p.sampler = nil
	}
	return p.base.Close()
}
