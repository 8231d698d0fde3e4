package passes

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/g3d"
	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/internal/haltest"
	"github.com/gogpu/g3d/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	r   *g3d.Renderer
	dev *device.Device
	res *resource.Manager
	rec *haltest.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	open, rec, _ := haltest.OpenDevice(t)
	dev, err := device.New(open, device.Config{Width: 64, Height: 48, BackBufferCount: 2, DynamicCallSlots: 64})
	require.NoError(t, err)
	res, err := resource.NewManager(dev)
	require.NoError(t, err)
	r, err := g3d.New(dev, res)
	require.NoError(t, err)
	t.Cleanup(func() {
		if r.State() != g3d.StateShutDown {
			_ = r.Shutdown()
		}
		_ = res.Close()
		_ = dev.Close()
	})
	return &fixture{r: r, dev: dev, res: res, rec: rec}
}

// scene returns two cubes lit by one directional light.
func (f *fixture) scene(t *testing.T) *g3d.SceneRenderInfo {
	t.Helper()
	mesh, err := f.res.CreateMesh(resource.CubeMeshData())
	require.NoError(t, err)
	mat, err := f.res.CreateMaterial(resource.MaterialDesc{Name: "red", BaseColor: mgl32.Vec4{1, 0, 0, 1}, Roughness: 0.5})
	require.NoError(t, err)
	return &g3d.SceneRenderInfo{
		Objects: []g3d.RenderObject{
			{Mesh: mesh, Material: mat, World: mgl32.Ident4()},
			{Mesh: mesh, Material: mat, World: mgl32.Translate3D(2, 0, 0)},
		},
		Lights: []g3d.Light{g3d.DirectionalLight(mgl32.Vec3{0, -1, 0}, mgl32.Vec3{1, 1, 1}, 3)},
		Camera: g3d.Camera{
			View:       mgl32.LookAtV(mgl32.Vec3{0, 2, 5}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0}),
			Projection: mgl32.Perspective(mgl32.DegToRad(60), 64.0/48.0, 0.1, 100),
			Position:   mgl32.Vec3{0, 2, 5},
		},
	}
}

func TestStandardStack(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, CreateStandardPasses(f.r))
	assert.Equal(t, StandardStack, f.r.Stack())
	scene := f.scene(t)

	f.rec.Reset()
	require.NoError(t, f.r.RenderScene(scene))

	assert.Equal(t, []string{"shadow", "geometry", "pbr", "fxaa", "bloom", "tonemap", "back buffer 0"}, f.rec.PassLabels())
	assert.Equal(t, 2, f.rec.Pass("shadow").Draws)
	assert.Equal(t, 2, f.rec.Pass("geometry").Draws)
	assert.Equal(t, 1, f.rec.Pass("pbr").Draws)

	composite := f.rec.Pass("back buffer 0")
	require.Len(t, composite.Sampled, 1)
	assert.Equal(t, "tonemap color0 srv", composite.Sampled[0].Desc.Label)
	assert.Equal(t, Tonemap, f.r.Stats().CompositeSource)

	shadow := passOf[*ShadowPass](t, f.r, Shadow)
	assert.Equal(t, 2, shadow.Draws())
	rt, err := f.res.GetRenderTarget(shadow.Output())
	require.NoError(t, err)
	assert.Equal(t, uint32(DefaultShadowMapSize), rt.Data.Width)
	assert.Empty(t, rt.Data.Colors)
	assert.True(t, rt.DepthSRV().Valid())

	gb, err := f.res.GetRenderTargetHandle(string(Geometry))
	require.NoError(t, err)
	gbuffer, err := f.res.GetRenderTarget(gb)
	require.NoError(t, err)
	assert.Len(t, gbuffer.Data.Colors, 3)
	assert.Equal(t, uint32(64), gbuffer.Data.Width)
	assert.Equal(t, uint32(48), gbuffer.Data.Height)
}

func passOf[T g3d.RenderPass](t *testing.T, r *g3d.Renderer, h g3d.PassHandle) T {
	t.Helper()
	p, err := g3d.PassByHandle[T](r, h)
	require.NoError(t, err)
	return p
}

func TestBloomDispatches(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, CreateStandardPasses(f.r))
	scene := f.scene(t)

	f.rec.Reset()
	require.NoError(t, f.r.RenderScene(scene))
	for _, label := range []string{BloomExtractLabel, BloomBlurHLabel, BloomBlurVLabel} {
		ds := f.rec.DispatchesIn(label)
		require.Len(t, ds, 1, label)
		assert.Equal(t, uint32(4), ds[0].X, label)
		assert.Equal(t, uint32(3), ds[0].Y, label)
		assert.Equal(t, uint32(1), ds[0].Z, label)
	}

	require.NoError(t, f.r.Resize(128, 96))
	f.rec.Reset()
	require.NoError(t, f.r.RenderScene(scene))
	ds := f.rec.DispatchesIn(BloomExtractLabel)
	require.Len(t, ds, 1)
	assert.Equal(t, uint32(8), ds[0].X)
	assert.Equal(t, uint32(6), ds[0].Y)

	bloom := passOf[*BloomPass](t, f.r, Bloom)
	assert.Equal(t, uint32(64), bloom.ping.Data.Width)
	assert.Equal(t, uint32(48), bloom.pong.Data.Height)
}

func TestResizeKeepsOutputs(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, CreateStandardPasses(f.r))
	tonemap := passOf[*TonemapPass](t, f.r, Tonemap)
	before := tonemap.Output()

	require.NoError(t, f.r.Resize(100, 50))
	assert.Equal(t, before, tonemap.Output())
	rt, err := f.res.GetRenderTarget(before)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), rt.Data.Width)
	assert.Equal(t, uint32(50), rt.Data.Height)

	shadow := passOf[*ShadowPass](t, f.r, Shadow)
	sm, err := f.res.GetRenderTarget(shadow.Output())
	require.NoError(t, err)
	assert.Equal(t, uint32(DefaultShadowMapSize), sm.Data.Width)
}

func TestCustomShadowSize(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, g3d.CreateRenderPass(f.r, "sun", &ShadowPass{Size: 512}, g3d.NoInput{}))
	p := passOf[*ShadowPass](t, f.r, "sun")
	rt, err := f.res.GetRenderTarget(p.Output())
	require.NoError(t, err)
	assert.Equal(t, uint32(512), rt.Data.Width)
	assert.Equal(t, "sun", rt.Desc.Label)
}

func TestIncompatibleInput(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, g3d.CreateRenderPass(f.r, Geometry, NewGeometryPass(), g3d.NoInput{}))
	require.NoError(t, g3d.CreateRenderPass(f.r, Tonemap, NewTonemapPass(), SourceInput{Source: Geometry}))

	err := g3d.CreateRenderPass(f.r, PBR, NewPBRPass(), PBRInput{Geometry: Geometry, Shadow: Tonemap})
	require.ErrorIs(t, err, ErrIncompatibleInput)
	_, err = f.r.GetRenderPassByHandle(PBR)
	assert.ErrorIs(t, err, g3d.ErrUnknownPass)

	// The failed pass released its output, so the name is free again.
	_, err = f.res.GetRenderTargetHandle(string(PBR))
	assert.ErrorIs(t, err, resource.ErrUnknownRenderTarget)

	require.NoError(t, g3d.CreateRenderPass(f.r, Shadow, NewShadowPass(), g3d.NoInput{}))
	err = g3d.CreateRenderPass(f.r, FXAA, NewFXAAPass(), SourceInput{Source: Shadow})
	assert.ErrorIs(t, err, ErrIncompatibleInput)
	require.NoError(t, g3d.CreateRenderPass(f.r, PBR, NewPBRPass(), PBRInput{Geometry: Geometry, Shadow: Shadow}))
}

func TestRayTracedShadow(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, g3d.CreateRenderPass(f.r, Geometry, NewGeometryPass(), g3d.NoInput{}))
	require.NoError(t, g3d.CreateRenderPass(f.r, RayTracedShadow, NewRayTracedShadowPass(), GeometryInput{Geometry: Geometry}))
	require.NoError(t, f.r.ConfigureRenderPasses([]g3d.PassHandle{Geometry, RayTracedShadow}))
	scene := f.scene(t)
	rts := passOf[*RayTracedShadowPass](t, f.r, RayTracedShadow)

	mask, err := f.res.GetRenderTarget(rts.Output())
	require.NoError(t, err)
	assert.Equal(t, device.RTShadowMaskFormat, mask.Data.Colors[0].Format)
	assert.True(t, mask.ColorUAV(0).Valid())

	f.rec.Reset()
	require.NoError(t, f.r.RenderScene(scene))
	assert.False(t, rts.Traced())
	assert.Empty(t, f.rec.DispatchesIn(RayTracedShadowLabel))
	assert.NotNil(t, f.rec.Pass(string(RayTracedShadow)))

	blas, err := f.res.MeshBLAS(scene.Objects[0].Mesh)
	require.NoError(t, err)
	tlas, err := f.dev.CreateTLAS(device.TLASDesc{Label: "scene", Instances: []device.Instance{
		{BLAS: blas, Transform: scene.Objects[0].World},
		{BLAS: blas, Transform: scene.Objects[1].World},
	}})
	require.NoError(t, err)
	t.Cleanup(func() { f.dev.DestroyTLAS(tlas) })
	scene.TLAS = tlas

	f.rec.Reset()
	require.NoError(t, f.r.RenderScene(scene))
	assert.True(t, rts.Traced())
	ds := f.rec.DispatchesIn(RayTracedShadowLabel)
	require.Len(t, ds, 1)
	assert.Equal(t, uint32(8), ds[0].X)
	assert.Equal(t, uint32(6), ds[0].Y)
	assert.Len(t, ds[0].BindGroups, 2)
	assert.Nil(t, f.rec.Pass(string(RayTracedShadow)))
}

func TestShutdownReleasesOutputs(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, CreateStandardPasses(f.r))
	var outputs []resource.RenderTargetHandle
	for _, h := range StandardStack {
		p, err := f.r.GetRenderPassByHandle(h)
		require.NoError(t, err)
		outputs = append(outputs, p.Output())
	}
	require.NoError(t, f.r.Shutdown())
	for _, out := range outputs {
		_, err := f.res.GetRenderTarget(out)
		assert.Error(t, err)
	}
}
