package passes

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/g3d"
	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/internal/descriptor"
	"github.com/gogpu/g3d/resource"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

func logger() *slog.Logger { return g3d.Logger() }

// Handles of the standard passes.
const (
	Shadow          g3d.PassHandle = "shadow"
	Geometry        g3d.PassHandle = "geometry"
	PBR             g3d.PassHandle = "pbr"
	FXAA            g3d.PassHandle = "fxaa"
	Bloom           g3d.PassHandle = "bloom"
	Tonemap         g3d.PassHandle = "tonemap"
	RayTracedShadow g3d.PassHandle = "rt_shadow"
)

// ErrIncompatibleInput is returned by SubInit when a dependency's output
// lacks an attachment the pass reads.
var ErrIncompatibleInput = errors.New("passes: incompatible input")

func errInput(h g3d.PassHandle, want string) error {
	return fmt.Errorf("%w: %q must output %s", ErrIncompatibleInput, h, want)
}

// HDRFormat is the format of the lighting and post-processing targets.
const HDRFormat = gputypes.TextureFormatRGBA16Float

// drawConstantsSize is the call data of one object draw: its world matrix.
const drawConstantsSize = 64

// SourceInput is the input of single-source post-processing passes.
type SourceInput struct {
	Source g3d.PassHandle
}

// Dependencies returns the source pass.
func (in SourceInput) Dependencies() []g3d.PassHandle { return []g3d.PassHandle{in.Source} }

// GeometryInput is the input of passes reading the G-buffer.
type GeometryInput struct {
	Geometry g3d.PassHandle
}

// Dependencies returns the geometry pass.
func (in GeometryInput) Dependencies() []g3d.PassHandle { return []g3d.PassHandle{in.Geometry} }

// StandardStack is the execution order created by CreateStandardPasses.
var StandardStack = []g3d.PassHandle{Shadow, Geometry, PBR, FXAA, Bloom, Tonemap}

// CreateStandardPasses creates the deferred pipeline under the standard
// handles and configures r to run it.
func CreateStandardPasses(r *g3d.Renderer) error {
	steps := []func() error{
		func() error { return g3d.CreateRenderPass(r, Shadow, NewShadowPass(), g3d.NoInput{}) },
		func() error { return g3d.CreateRenderPass(r, Geometry, NewGeometryPass(), g3d.NoInput{}) },
		func() error {
			return g3d.CreateRenderPass(r, PBR, NewPBRPass(), PBRInput{Geometry: Geometry, Shadow: Shadow})
		},
		func() error { return g3d.CreateRenderPass(r, FXAA, NewFXAAPass(), SourceInput{Source: PBR}) },
		func() error { return g3d.CreateRenderPass(r, Bloom, NewBloomPass(), SourceInput{Source: FXAA}) },
		func() error { return g3d.CreateRenderPass(r, Tonemap, NewTonemapPass(), SourceInput{Source: Bloom}) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return r.ConfigureRenderPasses(StandardStack)
}

// base holds the output every pass owns.
type base struct {
	res    *resource.Manager
	output resource.RenderTargetHandle
}

// Output returns the pass's render target.
func (b *base) Output() resource.RenderTargetHandle { return b.output }

// createOutput registers desc under the pass's handle.
func (b *base) createOutput(ctx *g3d.InitContext, desc device.RenderTargetDesc) error {
	h, err := ctx.Resources.CreateRenderTarget(desc, string(ctx.Handle))
	if err != nil {
		return err
	}
	b.res, b.output = ctx.Resources, h
	return nil
}

func (b *base) target() (*device.RenderTarget, error) {
	return b.res.GetRenderTarget(b.output)
}

// Close releases the output render target.
func (b *base) Close() error {
	if b.res != nil && b.output.Valid() {
		b.res.DestroyRenderTarget(b.output)
		b.output = 0
	}
	return nil
}

// windowTarget describes a window-sized, sampleable target.
func windowTarget(formats ...gputypes.TextureFormat) device.RenderTargetDesc {
	return device.RenderTargetDesc{
		ColorFormats: formats,
		Flags:        device.AllowRenderTargetTexture | device.TrackWindowSize,
	}
}

func graphicsPipeline(res *resource.Manager, desc device.GraphicsPipelineDesc) (*device.GraphicsPipeline, error) {
	h, err := res.CreateGraphicsPipeline(desc)
	if err != nil {
		return nil, err
	}
	return res.GetGraphicsPipeline(h)
}

func computePipeline(res *resource.Manager, desc device.ComputePipelineDesc) (*device.ComputePipeline, error) {
	h, err := res.CreateComputePipeline(desc)
	if err != nil {
		return nil, err
	}
	return res.GetComputePipeline(h)
}

// linearClamp creates the sampler of full-screen passes.
func linearClamp(dev *device.Device, label string) (*device.Sampler, error) {
	return dev.CreateSampler(device.SamplerDesc{
		Label:       label,
		AddressMode: gputypes.AddressModeClampToEdge,
	})
}

// fullscreen draws the full-screen triangle of the post-processing shaders
// into rt, binding groups[i] as group i.
func fullscreen(ctx *g3d.FrameContext, rt *device.RenderTarget, p *device.GraphicsPipeline,
	callData []byte, groups ...[]descriptor.Handle,
) error {
	bgs := make([]hal.BindGroup, len(groups))
	for i, g := range groups {
		bg, err := ctx.Device.BindGroup(p, uint32(i), g...) //nolint:gosec // few groups
		if err != nil {
			return err
		}
		bgs[i] = bg
	}
	pass := ctx.Device.BeginRenderTarget(ctx.Cmd, rt, device.LoadActionClear)
	defer pass.End()
	pass.SetPipeline(p.Data.Pipeline)
	for i, bg := range bgs {
		pass.SetBindGroup(uint32(i), bg, nil) //nolint:gosec // few groups
	}
	if callData != nil {
		if err := ctx.Device.SetCallData(pass, p, callData); err != nil {
			return err
		}
	}
	pass.Draw(3, 1, 0, 0)
	return nil
}

// drawObjects issues one indexed draw per scene object with the world
// matrix as call data. bindMaterial, when set, binds the object's material
// first.
func drawObjects(ctx *g3d.FrameContext, pass hal.RenderPassEncoder, p *device.GraphicsPipeline,
	bindMaterial func(*resource.Material) error,
) (int, error) {
	draws := 0
	for _, obj := range ctx.Scene.Objects {
		mesh := ctx.Resources.GetMesh(obj.Mesh)
		if bindMaterial != nil {
			if err := bindMaterial(ctx.Resources.GetMaterial(obj.Material)); err != nil {
				return draws, err
			}
		}
		if err := ctx.Device.SetCallData(pass, p, encodeMat4(obj.World)); err != nil {
			return draws, fmt.Errorf("draw %q: %w", mesh.Name, err)
		}
		pass.SetVertexBuffer(0, mesh.VertexBuffer.Data.Buffer, 0)
		pass.SetIndexBuffer(mesh.IndexBuffer.Data.Buffer, mesh.IndexBuffer.Desc.IndexFormat, 0)
		pass.DrawIndexed(mesh.IndexCount, 1, 0, 0, 0)
		draws++
	}
	return draws, nil
}

func encodeMat4(m mgl32.Mat4) []byte {
	b := make([]byte, drawConstantsSize)
	for i, f := range m {
		binary.LittleEndian.PutUint32(b[4*i:], math32.Float32bits(f))
	}
	return b
}

// encodeParams packs up to four floats as one vec4.
func encodeParams(v ...float32) []byte {
	b := make([]byte, 16)
	for i, f := range v[:min(len(v), 4)] {
		binary.LittleEndian.PutUint32(b[4*i:], math32.Float32bits(f))
	}
	return b
}

// checkColorSource fails unless h outputs a sampleable color attachment.
func checkColorSource(ctx *g3d.InitContext, h g3d.PassHandle) error {
	rt, err := ctx.Input(h)
	if err != nil {
		return err
	}
	if len(rt.Data.Colors) == 0 || !rt.ColorSRV(0).Valid() {
		return errInput(h, "a sampleable color attachment")
	}
	return nil
}
