package g3d

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/resource"
	"github.com/gogpu/g3d/shaders"
	"github.com/gogpu/gputypes"
)

// State is the lifecycle state of a Renderer.
type State int

// Renderer states.
const (
	StateUninitialized State = iota
	StateConfigured
	StateRendering
	StateShutDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateRendering:
		return "rendering"
	case StateShutDown:
		return "shut down"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CompositePassLabel labels the render pass that writes the back buffer.
const CompositePassLabel = "composite"

// Overlay draws on top of the composited back buffer, after every pass.
type Overlay interface {
	Draw(cmd *device.CommandBuffer, target *device.RenderTarget) error
}

// FrameStats describes the last rendered frame.
type FrameStats struct {
	Frame  uint64
	Passes []PassHandle
	// CompositeSource is the pass whose output reached the back buffer.
	// It is empty when the stack is empty.
	CompositeSource PassHandle
}

// Renderer runs a configured stack of render passes once per frame and
// presents the result.
type Renderer struct {
	dev  *device.Device
	res  *resource.Manager
	opts options

	// mu serialises frames against Resize, which may arrive from the
	// platform goroutine.
	mu     sync.Mutex
	state  State
	passes *PassRegistry

	sceneBuffers []*device.Buffer
	lightBuffers []*device.Buffer
	composite    *device.GraphicsPipeline

	frame uint64
	stats FrameStats
}

// New creates a renderer drawing with dev and res. With WithWindow the back
// buffers are resized to the window's physical size; with WithEventSource
// later resizes follow the window.
func New(dev *device.Device, res *resource.Manager, opts ...Option) (*Renderer, error) {
	if dev == nil || res == nil {
		return nil, fmt.Errorf("%w: renderer needs a device and a resource manager", device.ErrInvalidDesc)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	r := &Renderer{dev: dev, res: res, opts: o, passes: newPassRegistry()}

	if o.window != nil {
		w, h := o.window.Size()
		scale := o.window.ScaleFactor()
		if scale <= 0 {
			scale = 1
		}
		if err := dev.Resize(int(math.Round(float64(w)*scale)), int(math.Round(float64(h)*scale))); err != nil {
			return nil, fmt.Errorf("g3d: size to window: %w", err)
		}
	}
	if err := r.createFrameResources(); err != nil {
		r.releaseFrameResources()
		return nil, err
	}
	if o.events != nil {
		o.events.OnResize(func(width, height int) {
			if err := r.Resize(width, height); err != nil {
				slogger().Warn("g3d: resize failed", "width", width, "height", height, "err", err)
			}
		})
	}
	w, h := dev.Size()
	slogger().Info("g3d: renderer created", "width", w, "height", h,
		"back_buffers", dev.BackBufferCount(), "max_lights", o.maxLights)
	return r, nil
}

func (r *Renderer) createFrameResources() error {
	n := r.dev.BackBufferCount()
	for i := range n {
		sb, err := r.dev.CreateConstantBuffer(device.ConstantBufferDesc{
			Label: fmt.Sprintf("scene constants %d", i),
			Size:  SceneConstantsSize,
		})
		if err != nil {
			return err
		}
		r.sceneBuffers = append(r.sceneBuffers, sb)
		lb, err := r.dev.CreateStorageBuffer(device.StorageBufferDesc{
			Label: fmt.Sprintf("lights %d", i),
			Size:  uint64(r.opts.maxLights) * LightSize, //nolint:gosec // positive option
		})
		if err != nil {
			return err
		}
		r.lightBuffers = append(r.lightBuffers, lb)
	}
	p, err := r.dev.CreateGraphicsPipeline(device.GraphicsPipelineDesc{
		Label:               CompositePassLabel,
		Shader:              shaders.Composite,
		RenderTargetFormats: []gputypes.TextureFormat{r.dev.BackBufferFormat()},
		Bindings: []device.Binding{
			{Name: "src_tex", Kind: device.BindTexture},
			{Name: "src_smp", Kind: device.BindSampler},
		},
	})
	if err != nil {
		return err
	}
	r.composite = p
	return nil
}

func (r *Renderer) releaseFrameResources() {
	for _, b := range r.sceneBuffers {
		r.dev.DestroyBuffer(b)
	}
	for _, b := range r.lightBuffers {
		r.dev.DestroyBuffer(b)
	}
	r.sceneBuffers, r.lightBuffers = nil, nil
	if r.composite != nil {
		r.dev.DestroyPipeline(r.composite)
		r.composite = nil
	}
}

// Device returns the renderer's device.
func (r *Renderer) Device() *device.Device { return r.dev }

// Resources returns the renderer's resource manager.
func (r *Renderer) Resources() *resource.Manager { return r.res }

// State returns the lifecycle state.
func (r *Renderer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stack returns the configured execution order.
func (r *Renderer) Stack() []PassHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PassHandle(nil), r.passes.Stack()...)
}

// Stats returns the statistics of the last rendered frame.
func (r *Renderer) Stats() FrameStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// ConfigureRenderPasses fixes the execution order. Every handle must name a
// created pass, appear once, and follow all of its dependencies. The last
// pass's output is composited onto the back buffer, so it needs a color
// attachment.
func (r *Renderer) ConfigureRenderPasses(stack []PassHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateShutDown {
		return fmt.Errorf("%w: configure after shutdown", ErrInvalidState)
	}
	if err := r.passes.validate(stack); err != nil {
		return err
	}
	if len(stack) > 0 {
		last := stack[len(stack)-1]
		p, _ := r.passes.Get(last)
		rt, err := r.res.GetRenderTarget(p.Output())
		if err != nil {
			return fmt.Errorf("g3d: composite source %q: %w", last, err)
		}
		if len(rt.Data.Colors) == 0 {
			return fmt.Errorf("%w: composite source %q has no color output", device.ErrInvalidDesc, last)
		}
	}
	r.passes.stack = append([]PassHandle(nil), stack...)
	r.state = StateConfigured
	slogger().Info("g3d: pass stack configured", "passes", len(stack))
	return nil
}

// RenderScene renders one frame of scene through the configured stack,
// composites the last output onto the back buffer and presents it.
func (r *Renderer) RenderScene(scene *SceneRenderInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateConfigured, StateRendering:
	default:
		return fmt.Errorf("%w: render while %s", ErrInvalidState, r.state)
	}
	if scene == nil {
		scene = &SceneRenderInfo{}
	}

	r.dev.BeginFrame()
	index := r.dev.FrameIndex()
	w, h := r.dev.Size()

	lights := scene.Lights
	if len(lights) > r.opts.maxLights {
		slogger().Warn("g3d: light list truncated", "lights", len(lights), "max", r.opts.maxLights)
		lights = lights[:r.opts.maxLights]
	}
	constants := BuildSceneConstants(scene, w, h, r.frame, r.opts.shadowExtent, len(lights))
	sceneBuffer, lightBuffer := r.sceneBuffers[index], r.lightBuffers[index]
	if err := sceneBuffer.Update(constants.Encode()); err != nil {
		return fmt.Errorf("g3d: upload scene constants: %w", err)
	}
	if len(lights) > 0 {
		if err := lightBuffer.Update(EncodeLights(lights)); err != nil {
			return fmt.Errorf("g3d: upload lights: %w", err)
		}
	}

	cmd, err := r.dev.GetFreeGraphicsCommandBuffer()
	if err != nil {
		return err
	}
	ctx := &FrameContext{
		Device:      r.dev,
		Resources:   r.res,
		Cmd:         cmd,
		Scene:       scene,
		Constants:   constants,
		SceneBuffer: sceneBuffer,
		LightBuffer: lightBuffer,
		LightCount:  len(lights),
		Frame:       r.frame,
		FrameIndex:  index,
		registry:    r.passes,
	}
	r.dev.TransitionBuffer(cmd, lightBuffer, device.StateShaderResource)

	stack := r.passes.Stack()
	for _, h := range stack {
		p, _ := r.passes.Get(h)
		ctx.Handle = h
		if err := p.Render(ctx); err != nil {
			return r.abort(cmd, fmt.Errorf("g3d: render pass %q: %w", h, err))
		}
	}

	back := r.dev.BackBuffer()
	var source PassHandle
	if len(stack) > 0 {
		source = stack[len(stack)-1]
	}
	if err := r.compositeTo(cmd, back, source); err != nil {
		return r.abort(cmd, err)
	}
	if r.opts.overlay != nil {
		if err := r.opts.overlay.Draw(cmd, back); err != nil {
			return r.abort(cmd, fmt.Errorf("g3d: overlay: %w", err))
		}
	}
	if err := r.dev.ExecuteGraphicsCommandListAndFlip(cmd); err != nil {
		return fmt.Errorf("g3d: present frame %d: %w", r.frame, err)
	}

	r.stats = FrameStats{Frame: r.frame, Passes: append([]PassHandle(nil), stack...), CompositeSource: source}
	r.frame++
	r.state = StateRendering
	return nil
}

// compositeTo draws a full-screen triangle sampling source's output into
// back. An empty source only clears back.
func (r *Renderer) compositeTo(cmd *device.CommandBuffer, back *device.RenderTarget, source PassHandle) error {
	back.Desc.ClearColors = []gputypes.Color{r.opts.clearColor}
	if source == "" {
		r.dev.BeginRenderTarget(cmd, back, device.LoadActionClear).End()
		return nil
	}
	p, _ := r.passes.Get(source)
	src, err := r.res.GetRenderTarget(p.Output())
	if err != nil {
		return fmt.Errorf("g3d: composite source %q: %w", source, err)
	}
	bg, err := r.dev.BindGroup(r.composite, 0, src.ColorSRV(0), r.res.Sampler().Data.Handle)
	if err != nil {
		return fmt.Errorf("g3d: composite: %w", err)
	}
	r.dev.ReadRenderTarget(cmd, src)
	pass := r.dev.BeginRenderTarget(cmd, back, device.LoadActionClear)
	pass.SetPipeline(r.composite.Data.Pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Draw(3, 1, 0, 0)
	pass.End()
	return nil
}

// abort submits what cmd recorded so the buffer returns to its pool, and
// returns err.
func (r *Renderer) abort(cmd *device.CommandBuffer, err error) error {
	if serr := r.dev.ExecuteGraphicsCommandList(cmd); serr != nil {
		slogger().Warn("g3d: submit of failed frame", "frame", r.frame, "err", serr)
	}
	return err
}

// Resize resizes the back buffers and every window-sized render target.
// Pass outputs keep their handles.
func (r *Renderer) Resize(width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateShutDown {
		return fmt.Errorf("%w: resize after shutdown", ErrInvalidState)
	}
	return r.dev.Resize(width, height)
}

// Shutdown waits for the GPU, closes every pass that implements io.Closer
// in reverse creation order and releases the renderer's own objects. The
// device and resource manager stay open.
func (r *Renderer) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateShutDown {
		return fmt.Errorf("%w: already shut down", ErrInvalidState)
	}
	r.dev.Flush()
	errs := r.passes.closeAll()
	r.releaseFrameResources()
	r.state = StateShutDown
	slogger().Info("g3d: renderer shut down", "frames", r.frame)
	return errors.Join(errs...)
}
