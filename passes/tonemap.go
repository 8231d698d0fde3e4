package passes

import (
	"github.com/gogpu/g3d"
	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/internal/descriptor"
	"github.com/gogpu/g3d/shaders"
	"github.com/gogpu/gputypes"
)

// LDRFormat is the format of the tone mapped output.
const LDRFormat = gputypes.TextureFormatRGBA8Unorm

// TonemapPass maps HDR radiance to display range with exposure and an ACES
// curve.
type TonemapPass struct {
	base
	source g3d.PassHandle

	Exposure float32

	pipeline *device.GraphicsPipeline
	sampler  *device.Sampler
}

// NewTonemapPass returns a tone mapping pass with unit exposure.
func NewTonemapPass() *TonemapPass { return &TonemapPass{Exposure: 1} }

// Init creates the LDR target and the pipeline.
func (p *TonemapPass) Init(ctx *g3d.InitContext) error {
	if err := p.createOutput(ctx, windowTarget(LDRFormat)); err != nil {
		return err
	}
	var err error
	if p.sampler, err = linearClamp(ctx.Device, "tonemap"); err != nil {
		return err
	}
	p.pipeline, err = graphicsPipeline(ctx.Resources, device.GraphicsPipelineDesc{
		Label:               "tonemap",
		Shader:              shaders.Tonemap,
		RenderTargetFormats: []gputypes.TextureFormat{LDRFormat},
		Bindings: []device.Binding{
			{Name: "src_tex", Kind: device.BindTexture},
			{Name: "src_smp", Kind: device.BindSampler},
		},
		DynamicCallData: device.DynamicCallData{Size: 16},
	})
	return err
}

// SubInit records the source pass.
func (p *TonemapPass) SubInit(ctx *g3d.InitContext, input SourceInput) error {
	if err := checkColorSource(ctx, input.Source); err != nil {
		return err
	}
	p.source = input.Source
	return nil
}

// Render tone maps the source.
func (p *TonemapPass) Render(ctx *g3d.FrameContext) error {
	rt, err := p.target()
	if err != nil {
		return err
	}
	src, err := ctx.Input(p.source)
	if err != nil {
		return err
	}
	ctx.Device.ReadRenderTarget(ctx.Cmd, src)
	exposure := p.Exposure
	if exposure <= 0 {
		exposure = 1
	}
	return fullscreen(ctx, rt, p.pipeline, encodeParams(exposure),
		[]descriptor.Handle{src.ColorSRV(0), p.sampler.Data.Handle})
}

// Close releases the target and the sampler.
func (p *TonemapPass) Close() error {
	if p.sampler != nil {
		p.res.Device().DestroySampler(p.sampler)
		p.sampler = nil
	}
	return p.base.Close()
}
