package passes

import (
	"fmt"

	"github.com/gogpu/g3d"
	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/internal/descriptor"
	"github.com/gogpu/g3d/shaders"
	"github.com/gogpu/gputypes"
)

// Compute pass labels of the bloom chain.
const (
	BloomExtractLabel = "bloom extract"
	BloomBlurHLabel   = "bloom blur h"
	BloomBlurVLabel   = "bloom blur v"
)

const bloomGroupSize = 8

// BloomPass extracts the bright parts of its source at half resolution,
// blurs them with a separable filter and adds them back.
type BloomPass struct {
	base
	source g3d.PassHandle

	Threshold float32
	Intensity float32

	extract, blurH, blurV *device.ComputePipeline
	combine               *device.GraphicsPipeline
	sampler               *device.Sampler

	// ping and pong are the half-resolution work textures. They follow the
	// source size.
	ping, pong *device.Texture
}

// NewBloomPass returns a bloom pass with the default threshold and
// intensity.
func NewBloomPass() *BloomPass {
	return &BloomPass{Threshold: 1, Intensity: 0.5}
}

// Init creates the output and the four pipelines.
func (p *BloomPass) Init(ctx *g3d.InitContext) error {
	if err := p.createOutput(ctx, windowTarget(HDRFormat)); err != nil {
		return err
	}
	var err error
	if p.sampler, err = linearClamp(ctx.Device, "bloom"); err != nil {
		return err
	}
	bindings := []device.Binding{
		{Name: "src_tex", Kind: device.BindUnfilterableTexture},
		{Name: "dst_tex", Kind: device.BindStorageTexture, Format: HDRFormat},
	}
	for _, c := range []struct {
		entry string
		dst   **device.ComputePipeline
	}{
		{"extract", &p.extract},
		{"blur_h", &p.blurH},
		{"blur_v", &p.blurV},
	} {
		*c.dst, err = computePipeline(ctx.Resources, device.ComputePipelineDesc{
			Label:           "bloom " + c.entry,
			Shader:          shaders.Bloom,
			Entry:           c.entry,
			Bindings:        bindings,
			DynamicCallData: device.DynamicCallData{Size: 16},
		})
		if err != nil {
			return err
		}
	}
	p.combine, err = graphicsPipeline(ctx.Resources, device.GraphicsPipelineDesc{
		Label:               "bloom combine",
		Shader:              shaders.BloomCombine,
		RenderTargetFormats: []gputypes.TextureFormat{HDRFormat},
		Bindings: []device.Binding{
			{Name: "scene_tex", Kind: device.BindTexture},
			{Name: "bloom_tex", Kind: device.BindTexture},
			{Name: "linear_smp", Kind: device.BindSampler},
		},
		DynamicCallData: device.DynamicCallData{Size: 16},
	})
	return err
}

// SubInit records the source pass.
func (p *BloomPass) SubInit(ctx *g3d.InitContext, input SourceInput) error {
	if err := checkColorSource(ctx, input.Source); err != nil {
		return err
	}
	p.source = input.Source
	return nil
}

// ensureTextures (re)creates ping and pong at half the source size.
func (p *BloomPass) ensureTextures(dev *device.Device, w, h uint32) error {
	hw, hh := max(w/2, 1), max(h/2, 1)
	if p.ping != nil && p.ping.Data.Width == hw && p.ping.Data.Height == hh {
		return nil
	}
	p.releaseTextures(dev)
	for i, dst := range []**device.Texture{&p.ping, &p.pong} {
		t, err := dev.CreateTexture(device.TextureDesc{
			Label:     fmt.Sprintf("bloom %d", i),
			Width:     hw,
			Height:    hh,
			Format:    HDRFormat,
			MipLevels: 1,
			Flags:     device.AllowUnorderedAccess,
		})
		if err != nil {
			p.releaseTextures(dev)
			return err
		}
		*dst = t
	}
	logger().Debug("passes: bloom textures sized", "width", hw, "height", hh)
	return nil
}

func (p *BloomPass) releaseTextures(dev *device.Device) {
	for _, t := range []**device.Texture{&p.ping, &p.pong} {
		if *t != nil {
			dev.DestroyTexture(*t)
			*t = nil
		}
	}
}

// Render runs extract, horizontal blur and vertical blur, then combines.
func (p *BloomPass) Render(ctx *g3d.FrameContext) error {
	rt, err := p.target()
	if err != nil {
		return err
	}
	src, err := ctx.Input(p.source)
	if err != nil {
		return err
	}
	if err := p.ensureTextures(ctx.Device, src.Data.Width, src.Data.Height); err != nil {
		return err
	}
	ctx.Device.ReadRenderTarget(ctx.Cmd, src)

	params := encodeParams(p.Threshold, p.Intensity)
	steps := []struct {
		label    string
		pipeline *device.ComputePipeline
		in       descriptor.Handle
		inTex    *device.Texture
		out      *device.Texture
	}{
		{BloomExtractLabel, p.extract, src.ColorSRV(0), nil, p.ping},
		{BloomBlurHLabel, p.blurH, p.ping.Data.SRV, p.ping, p.pong},
		{BloomBlurVLabel, p.blurV, p.pong.Data.SRV, p.pong, p.ping},
	}
	for _, s := range steps {
		if s.inTex != nil {
			ctx.Device.Transition(ctx.Cmd, s.inTex, device.StateShaderResource, device.AllSubresources)
		}
		ctx.Device.Transition(ctx.Cmd, s.out, device.StateUnorderedAccess, device.AllSubresources)
		bg, err := ctx.Device.BindGroup(s.pipeline, 0, s.in, s.out.Data.MipUAVs[0])
		if err != nil {
			return fmt.Errorf("%s: %w", s.label, err)
		}
		pass := ctx.Cmd.BeginComputePass(s.label)
		pass.SetPipeline(s.pipeline.Data.Pipeline)
		pass.SetBindGroup(0, bg, nil)
		if err := ctx.Device.SetCallData(pass, s.pipeline, params); err != nil {
			pass.End()
			return fmt.Errorf("%s: %w", s.label, err)
		}
		pass.Dispatch(groupCount(s.out.Data.Width), groupCount(s.out.Data.Height), 1)
		pass.End()
	}

	ctx.Device.Transition(ctx.Cmd, p.ping, device.StateShaderResource, device.AllSubresources)
	return fullscreen(ctx, rt, p.combine, params,
		[]descriptor.Handle{src.ColorSRV(0), p.ping.Data.SRV, p.sampler.Data.Handle})
}

func groupCount(n uint32) uint32 {
	return (n + bloomGroupSize - 1) / bloomGroupSize
}

// Close releases the output, the work textures and the sampler.
func (p *BloomPass) Close() error {
	if p.res != nil {
		dev := p.res.Device()
		p.releaseTextures(dev)
		if p.sampler != nil {
			dev.DestroySampler(p.sampler)
			p.sampler = nil
		}
	}
	return p.base.Close()
}
