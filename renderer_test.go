package g3d

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/internal/haltest"
	"github.com/gogpu/g3d/resource"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRenderer(t *testing.T, opts ...Option) (*Renderer, *haltest.Recorder) {
	t.Helper()
	open, rec, _ := haltest.OpenDevice(t)
	dev, err := device.New(open, device.Config{Width: 64, Height: 48, BackBufferCount: 2, DynamicCallSlots: 32})
	require.NoError(t, err)
	res, err := resource.NewManager(dev)
	require.NoError(t, err)
	r, err := New(dev, res, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if r.State() != StateShutDown {
			_ = r.Shutdown()
		}
		_ = res.Close()
		_ = dev.Close()
	})
	return r, rec
}

// deps is the input of test passes.
type deps []PassHandle

func (d deps) Dependencies() []PassHandle { return d }

// testPass clears a small color target and records what it saw.
type testPass struct {
	depthOnly bool
	fail      error
	closed    *[]PassHandle

	handle     PassHandle
	res        *resource.Manager
	out        resource.RenderTargetHandle
	renders    int
	lightCount int
	inputs     []*device.RenderTarget
}

func (p *testPass) Init(ctx *InitContext) error {
	desc := device.RenderTargetDesc{Width: 16, Height: 16, Flags: device.AllowRenderTargetTexture}
	if p.depthOnly {
		desc.DepthFormat = gputypes.TextureFormatDepth32Float
	} else {
		desc.ColorFormats = []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm}
	}
	out, err := ctx.Resources.CreateRenderTarget(desc, string(ctx.Handle))
	if err != nil {
		return err
	}
	p.handle, p.res, p.out = ctx.Handle, ctx.Resources, out
	return nil
}

func (p *testPass) SubInit(ctx *InitContext, in deps) error {
	for _, h := range in {
		rt, err := ctx.Input(h)
		if err != nil {
			return err
		}
		p.inputs = append(p.inputs, rt)
	}
	return nil
}

func (p *testPass) Render(ctx *FrameContext) error {
	p.renders++
	p.lightCount = ctx.LightCount
	if p.fail != nil {
		return p.fail
	}
	rt, err := ctx.Resources.GetRenderTarget(p.out)
	if err != nil {
		return err
	}
	ctx.Device.BeginRenderTarget(ctx.Cmd, rt, device.LoadActionClear).End()
	return nil
}

func (p *testPass) Output() resource.RenderTargetHandle { return p.out }

func (p *testPass) Close() error {
	if p.closed != nil {
		*p.closed = append(*p.closed, p.handle)
	}
	p.res.DestroyRenderTarget(p.out)
	return nil
}

// otherPass has the same shape as testPass under a different type.
type otherPass struct{ testPass }

func TestNewRejectsMissingDevice(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, device.ErrInvalidDesc)
}

func TestStateMachine(t *testing.T) {
	r, rec := newTestRenderer(t)
	assert.Equal(t, StateUninitialized, r.State())
	assert.ErrorIs(t, r.RenderScene(nil), ErrInvalidState)

	require.NoError(t, r.ConfigureRenderPasses(nil))
	assert.Equal(t, StateConfigured, r.State())

	rec.Reset()
	require.NoError(t, r.RenderScene(nil))
	assert.Equal(t, StateRendering, r.State())
	assert.Equal(t, []string{"back buffer 0"}, rec.PassLabels())
	assert.Equal(t, PassHandle(""), r.Stats().CompositeSource)

	// Passes may still be added and the stack reconfigured while rendering.
	require.NoError(t, CreateRenderPass(r, "late", &testPass{}, deps(nil)))
	require.NoError(t, r.ConfigureRenderPasses([]PassHandle{"late"}))
	assert.Equal(t, StateConfigured, r.State())

	require.NoError(t, r.Shutdown())
	assert.Equal(t, StateShutDown, r.State())
	assert.Equal(t, "shut down", r.State().String())
	assert.ErrorIs(t, r.RenderScene(nil), ErrInvalidState)
	assert.ErrorIs(t, r.Shutdown(), ErrInvalidState)
	assert.ErrorIs(t, r.Resize(10, 10), ErrInvalidState)
	assert.ErrorIs(t, r.ConfigureRenderPasses(nil), ErrInvalidState)
	assert.ErrorIs(t, CreateRenderPass(r, "after", &testPass{}, deps(nil)), ErrInvalidState)
}

func TestCreateRenderPassValidation(t *testing.T) {
	r, _ := newTestRenderer(t)

	assert.ErrorIs(t, CreateRenderPass(r, "a", &testPass{}, deps{"missing"}), ErrMissingDependency)
	assert.ErrorIs(t, CreateRenderPass(r, "a", &testPass{}, deps{"a"}), ErrDependencyOrder)
	assert.ErrorIs(t, CreateRenderPass(r, "", &testPass{}, deps(nil)), ErrUnknownPass)

	require.NoError(t, CreateRenderPass(r, "a", &testPass{}, deps(nil)))
	assert.ErrorIs(t, CreateRenderPass(r, "a", &testPass{}, deps(nil)), ErrDuplicatePass)

	b := &testPass{}
	require.NoError(t, CreateRenderPass(r, "b", b, deps{"a"}))
	require.Len(t, b.inputs, 1)
	assert.Equal(t, "a", b.inputs[0].Desc.Label)
	assert.Equal(t, []PassHandle{"a"}, r.passes.Dependencies("b"))
	assert.Equal(t, []PassHandle{"a", "b"}, r.passes.Created())
}

func TestConfigureRenderPassesValidation(t *testing.T) {
	r, _ := newTestRenderer(t)
	require.NoError(t, CreateRenderPass(r, "a", &testPass{}, deps(nil)))
	require.NoError(t, CreateRenderPass(r, "b", &testPass{}, deps{"a"}))
	require.NoError(t, CreateRenderPass(r, "depth", &testPass{depthOnly: true}, deps(nil)))

	tests := []struct {
		name  string
		stack []PassHandle
		want  error
	}{
		{"dependency after dependent", []PassHandle{"b", "a"}, ErrDependencyOrder},
		{"dependency missing from stack", []PassHandle{"b"}, ErrDependencyOrder},
		{"duplicate", []PassHandle{"a", "a"}, ErrDuplicatePass},
		{"unknown", []PassHandle{"a", "x"}, ErrUnknownPass},
		{"no color output last", []PassHandle{"a", "depth"}, device.ErrInvalidDesc},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, r.ConfigureRenderPasses(tt.stack), tt.want)
			assert.Equal(t, StateUninitialized, r.State())
		})
	}

	require.NoError(t, r.ConfigureRenderPasses([]PassHandle{"depth", "a", "b"}))
	assert.Equal(t, []PassHandle{"depth", "a", "b"}, r.Stack())
}

func TestRenderSceneRunsStackAndComposites(t *testing.T) {
	r, rec := newTestRenderer(t)
	a, b := &testPass{}, &testPass{}
	require.NoError(t, CreateRenderPass(r, "a", a, deps(nil)))
	require.NoError(t, CreateRenderPass(r, "b", b, deps{"a"}))
	require.NoError(t, r.ConfigureRenderPasses([]PassHandle{"a", "b"}))

	rec.Reset()
	require.NoError(t, r.RenderScene(&SceneRenderInfo{}))
	assert.Equal(t, []string{"a", "b", "back buffer 0"}, rec.PassLabels())
	composite := rec.Pass("back buffer 0")
	require.NotNil(t, composite)
	require.Len(t, composite.Sampled, 1)
	assert.Equal(t, "b color0 srv", composite.Sampled[0].Desc.Label)
	assert.Equal(t, FrameStats{Frame: 0, Passes: []PassHandle{"a", "b"}, CompositeSource: "b"}, r.Stats())

	rec.Reset()
	require.NoError(t, r.RenderScene(&SceneRenderInfo{}))
	assert.Equal(t, []string{"a", "b", "back buffer 1"}, rec.PassLabels())
	assert.Equal(t, uint64(1), r.Stats().Frame)
	assert.Equal(t, 2, a.renders)
	assert.Equal(t, 2, b.renders)
}

func TestRenderSceneFailureSkipsPresent(t *testing.T) {
	r, rec := newTestRenderer(t)
	boom := errors.New("boom")
	b := &testPass{fail: boom}
	require.NoError(t, CreateRenderPass(r, "a", &testPass{}, deps(nil)))
	require.NoError(t, CreateRenderPass(r, "b", b, deps(nil)))
	require.NoError(t, r.ConfigureRenderPasses([]PassHandle{"a", "b"}))

	rec.Reset()
	err := r.RenderScene(nil)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `"b"`)
	assert.Nil(t, rec.Pass("back buffer 0"))
	assert.Equal(t, StateConfigured, r.State())

	// The aborted frame returned its command buffer, so rendering resumes.
	b.fail = nil
	require.NoError(t, r.RenderScene(nil))
	assert.Equal(t, StateRendering, r.State())
}

func TestPassByHandle(t *testing.T) {
	r, _ := newTestRenderer(t)
	a := &testPass{}
	require.NoError(t, CreateRenderPass(r, "a", a, deps(nil)))

	got, err := PassByHandle[*testPass](r, "a")
	require.NoError(t, err)
	assert.Same(t, a, got)
	assert.Same(t, a, MustPassByHandle[*testPass](r, "a"))

	_, err = PassByHandle[*otherPass](r, "a")
	assert.ErrorIs(t, err, ErrPassType)
	_, err = PassByHandle[*testPass](r, "nope")
	assert.ErrorIs(t, err, ErrUnknownPass)
	assert.Panics(t, func() { MustPassByHandle[*testPass](r, "nope") })
}

func TestShutdownClosesInReverseCreationOrder(t *testing.T) {
	r, _ := newTestRenderer(t)
	var closed []PassHandle
	for _, h := range []PassHandle{"first", "second", "third"} {
		require.NoError(t, CreateRenderPass(r, h, &testPass{closed: &closed}, deps(nil)))
	}
	require.NoError(t, r.Shutdown())
	assert.Equal(t, []PassHandle{"third", "second", "first"}, closed)
	_, err := r.Resources().GetRenderTargetHandle("first")
	assert.ErrorIs(t, err, resource.ErrUnknownRenderTarget)
}

type recordingOverlay struct {
	targets []string
	err     error
}

func (o *recordingOverlay) Draw(_ *device.CommandBuffer, target *device.RenderTarget) error {
	o.targets = append(o.targets, target.Desc.Label)
	return o.err
}

func TestOverlayDrawsOnBackBuffer(t *testing.T) {
	ov := &recordingOverlay{}
	r, _ := newTestRenderer(t, WithOverlay(ov))
	require.NoError(t, r.ConfigureRenderPasses(nil))
	require.NoError(t, r.RenderScene(nil))
	require.NoError(t, r.RenderScene(nil))
	assert.Equal(t, []string{"back buffer 0", "back buffer 1"}, ov.targets)

	ov.err = errors.New("overlay broke")
	assert.ErrorIs(t, r.RenderScene(nil), ov.err)
}

func TestClearColor(t *testing.T) {
	c := gputypes.Color{R: 0.1, G: 0.2, B: 0.3, A: 1}
	r, _ := newTestRenderer(t, WithClearColor(c))
	require.NoError(t, r.ConfigureRenderPasses(nil))
	require.NoError(t, r.RenderScene(nil))
	require.NoError(t, r.RenderScene(nil))
	assert.Equal(t, []gputypes.Color{c}, r.Device().BackBuffer().Desc.ClearColors)
}

func TestLightListTruncated(t *testing.T) {
	r, _ := newTestRenderer(t, WithMaxLights(2))
	p := &testPass{}
	require.NoError(t, CreateRenderPass(r, "p", p, deps(nil)))
	require.NoError(t, r.ConfigureRenderPasses([]PassHandle{"p"}))

	lights := make([]Light, 5)
	for i := range lights {
		lights[i] = PointLight(mgl32.Vec3{float32(i), 0, 0}, mgl32.Vec3{1, 1, 1}, 1, 10)
	}
	require.NoError(t, r.RenderScene(&SceneRenderInfo{Lights: lights}))
	assert.Equal(t, 2, p.lightCount)

	require.NoError(t, r.RenderScene(&SceneRenderInfo{Lights: lights[:1]}))
	assert.Equal(t, 1, p.lightCount)
}

func TestWindowSizing(t *testing.T) {
	r, _ := newTestRenderer(t, WithWindow(gpucontext.NullWindowProvider{W: 50, H: 40, SF: 2}))
	w, h := r.Device().Size()
	assert.Equal(t, uint32(100), w)
	assert.Equal(t, uint32(80), h)
}

// resizeEvents captures the resize callback.
type resizeEvents struct {
	gpucontext.NullEventSource
	onResize func(w, h int)
}

func (e *resizeEvents) OnResize(fn func(w, h int)) { e.onResize = fn }

func TestResizeFollowsEvents(t *testing.T) {
	ev := &resizeEvents{}
	r, _ := newTestRenderer(t, WithEventSource(ev))
	require.NotNil(t, ev.onResize)

	p := &testPass{}
	require.NoError(t, CreateRenderPass(r, "p", p, deps(nil)))
	tracked, err := r.Resources().CreateRenderTarget(device.RenderTargetDesc{
		ColorFormats: []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm},
		Flags:        device.TrackWindowSize,
		Scale:        0.5,
	}, "half")
	require.NoError(t, err)

	ev.onResize(200, 100)
	w, h := r.Device().Size()
	assert.Equal(t, uint32(200), w)
	assert.Equal(t, uint32(100), h)

	rt, err := r.Resources().GetRenderTarget(tracked)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), rt.Data.Width)
	assert.Equal(t, uint32(50), rt.Data.Height)

	fixed, err := r.Resources().GetRenderTarget(p.Output())
	require.NoError(t, err)
	assert.Equal(t, uint32(16), fixed.Data.Width)
}

func TestEnvironmentFallbackWarnsOnce(t *testing.T) {
	var logs bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn})))
	t.Cleanup(func() { SetLogger(nil) })

	r, _ := newTestRenderer(t)
	ctx := &FrameContext{Resources: r.res, Scene: &SceneRenderInfo{Environment: 77}}
	fallback := r.res.EnvironmentOrFallback(r.res.FallbackEnvironment())
	for range 5 {
		assert.Same(t, fallback, ctx.Environment())
	}
	assert.Equal(t, 1, strings.Count(logs.String(), "unknown handle"))

	ctx.Scene.Environment = 78
	ctx.Environment()
	assert.Equal(t, 2, strings.Count(logs.String(), "unknown handle"))

	ctx.Scene.Environment = 0
	assert.Same(t, fallback, ctx.Environment())
	assert.Equal(t, 2, strings.Count(logs.String(), "unknown handle"), "the zero handle is silent")
}
