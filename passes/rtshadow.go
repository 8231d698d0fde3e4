package passes

import (
	"github.com/gogpu/g3d"
	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/shaders"
	"github.com/gogpu/gputypes"
)

// RayTracedShadowLabel labels the compute pass that traces shadow rays.
const RayTracedShadowLabel = "rt shadows"

// RayTracedShadowPass traces one ray per pixel toward the primary light
// through the scene's TLAS and writes a visibility mask: 1 lit, 0 shadowed.
// Without a TLAS the mask is cleared to lit.
type RayTracedShadowPass struct {
	base
	geometry g3d.PassHandle

	pipeline *device.RaytracingPipeline
	traced   bool
}

// NewRayTracedShadowPass returns a ray traced shadow pass.
func NewRayTracedShadowPass() *RayTracedShadowPass { return &RayTracedShadowPass{} }

// Init creates the mask target and the raytracing pipeline.
func (p *RayTracedShadowPass) Init(ctx *g3d.InitContext) error {
	desc := windowTarget(device.RTShadowMaskFormat)
	desc.Flags |= device.AllowUnorderedAccessTexture
	desc.ClearColors = []gputypes.Color{{R: 1, G: 1, B: 1, A: 1}}
	if err := p.createOutput(ctx, desc); err != nil {
		return err
	}
	h, err := ctx.Resources.CreateRaytracingPipeline(device.RaytracingPipelineDesc{
		Label:     "rt shadow",
		Shader:    shaders.RTShadow,
		RayGen:    "raygen",
		HitGroups: []device.HitGroup{{Name: "shadow", ClosestHit: "closest_hit"}},
		Miss:      []string{"miss"},
		Bindings: []device.Binding{
			{Name: "scene", Kind: device.BindUniform},
			{Name: "depth_tex", Kind: device.BindDepthTexture},
			{Name: "shadow_mask", Kind: device.BindStorageTexture, Format: device.RTShadowMaskFormat},
			{Name: "instances", Group: 1, Kind: device.BindStorage},
			{Name: "nodes", Group: 1, Kind: device.BindStorage},
			{Name: "triangles", Group: 1, Kind: device.BindStorage},
		},
	})
	if err != nil {
		return err
	}
	p.pipeline, err = ctx.Resources.GetRaytracingPipeline(h)
	return err
}

// SubInit checks that the geometry pass outputs a sampleable depth.
func (p *RayTracedShadowPass) SubInit(ctx *g3d.InitContext, input GeometryInput) error {
	gb, err := ctx.Input(input.Geometry)
	if err != nil {
		return err
	}
	if !gb.DepthSRV().Valid() {
		return errInput(input.Geometry, "a sampleable depth attachment")
	}
	p.geometry = input.Geometry
	return nil
}

// Render traces the mask, or clears it when the scene has no TLAS.
func (p *RayTracedShadowPass) Render(ctx *g3d.FrameContext) error {
	rt, err := p.target()
	if err != nil {
		return err
	}
	tlas := ctx.Scene.TLAS
	p.traced = tlas != nil
	if tlas == nil {
		ctx.Device.BeginRenderTarget(ctx.Cmd, rt, device.LoadActionClear).End()
		return nil
	}
	gb, err := ctx.Input(p.geometry)
	if err != nil {
		return err
	}
	ctx.Device.ReadRenderTarget(ctx.Cmd, gb)
	for _, b := range []*device.Buffer{tlas.Data.Instances, tlas.Data.Nodes, tlas.Data.Triangles} {
		ctx.Device.TransitionBuffer(ctx.Cmd, b, device.StateShaderResource)
	}
	ctx.Cmd.Transition(rt.Data.Colors[0].Resource, device.StateUnorderedAccess, device.AllSubresources)

	frame, err := ctx.Device.BindGroup(p.pipeline, 0, ctx.SceneBuffer.Data.View, gb.DepthSRV(), rt.ColorUAV(0))
	if err != nil {
		return err
	}
	accel, err := ctx.Device.BindGroup(p.pipeline, 1,
		tlas.Data.Instances.Data.View, tlas.Data.Nodes.Data.View, tlas.Data.Triangles.Data.View)
	if err != nil {
		return err
	}
	pass := ctx.Cmd.BeginComputePass(RayTracedShadowLabel)
	pass.SetBindGroup(0, frame, nil)
	pass.SetBindGroup(1, accel, nil)
	ctx.Device.DispatchRays(pass, p.pipeline, rt.Data.Width, rt.Data.Height)
	pass.End()
	return nil
}

// Traced reports whether the last frame traced rays.
func (p *RayTracedShadowPass) Traced() bool { return p.traced }
