// Package device is the GPU object factory of the renderer.
//
// A Device owns the descriptor heaps, the graphics, compute and copy command
// buffer pools, the back buffers and a fence-batched release queue. Every
// object it creates is a declarative Desc plus the native Data built from
// it. Destroying an object returns its descriptors to the heaps and queues
// its native objects for release; both retire only after the submissions
// that may still reference them have completed.
package device

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/g3d/internal/cache"
	"github.com/gogpu/g3d/internal/cmdpool"
	"github.com/gogpu/g3d/internal/descriptor"
	"github.com/gogpu/g3d/internal/shader"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Option configures New.
type Option func(*options)

type options struct {
	surface hal.Surface
	adapter hal.Adapter
	info    gputypes.AdapterInfo
}

// WithSurface presents back buffers to surface. Without a surface the
// device renders offscreen.
func WithSurface(surface hal.Surface) Option {
	return func(o *options) { o.surface = surface }
}

// WithAdapter records the adapter the device was opened on. info.Backend
// selects the shader format.
func WithAdapter(adapter hal.Adapter, info gputypes.AdapterInfo) Option {
	return func(o *options) {
		o.adapter = adapter
		o.info = info
	}
}

// Device creates and owns GPU objects.
type Device struct {
	cfg     Config
	hal     hal.Device
	queue   hal.Queue
	surface hal.Surface
	adapter hal.Adapter
	info    gputypes.AdapterInfo

	pools    *cmdpool.Pools
	rtv      *descriptor.Heap
	dsv      *descriptor.Heap
	srv      *descriptor.Heap
	samplers *descriptor.Heap

	release    releaseQueue
	bindGroups *cache.Cache[bindKey, hal.BindGroup]
	callData   *callDataRing
	shaders    *shader.Loader

	layoutSerial atomic.Uint64
	closed       atomic.Bool

	mu          sync.Mutex
	width       uint32
	height      uint32
	backBuffers []*RenderTarget
	frameIndex  int
	frames      uint64
	tracked     []*RenderTarget

	liveMu sync.Mutex
	live   map[any]func()
}

var _ gpucontext.DeviceProvider = (*Device)(nil)

// New creates a device on an opened HAL device.
func New(open hal.OpenDevice, cfg Config, opts ...Option) (*Device, error) {
	if open.Device == nil || open.Queue == nil {
		return nil, fmt.Errorf("%w: nil HAL device or queue", ErrInvalidDesc)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg = cfg.withDefaults()

	d := &Device{
		cfg:     cfg,
		hal:     open.Device,
		queue:   open.Queue,
		surface: o.surface,
		adapter: o.adapter,
		info:    o.info,
		width:   uint32(cfg.Width),  //nolint:gosec // positive after defaults
		height:  uint32(cfg.Height), //nolint:gosec // positive after defaults
		live:    make(map[any]func()),
		shaders: shader.NewLoader(cfg.Shaders,
			shader.WithSPIRV(shader.NeedsSPIRV(o.info.Backend)),
			shader.WithValidation(cfg.ValidateShaders)),
	}
	if err := d.init(); err != nil {
		d.teardown()
		return nil, err
	}
	slogger().Info("device: opened",
		"adapter", o.info.Name, "backend", o.info.Backend, "width", d.width, "height", d.height,
		"back_buffers", cfg.BackBufferCount, "surface", d.surface != nil)
	return d, nil
}

func (d *Device) init() error {
	releaseEntry := func(e descriptor.Entry) {
		if e.View != nil {
			d.hal.DestroyTextureView(e.View)
		}
		if e.Sampler != nil {
			d.hal.DestroySampler(e.Sampler)
		}
	}
	heaps := []struct {
		dst  **descriptor.Heap
		desc descriptor.HeapDesc
	}{
		{&d.rtv, descriptor.HeapDesc{Label: "rtv", Kind: descriptor.RenderTargetView, Capacity: d.cfg.RTVHeapSize}},
		{&d.dsv, descriptor.HeapDesc{Label: "dsv", Kind: descriptor.DepthStencilView, Capacity: d.cfg.DSVHeapSize}},
		{&d.srv, descriptor.HeapDesc{Label: "srv", Kind: descriptor.ShaderResourceView, Capacity: d.cfg.SRVHeapSize, ShaderVisible: true}},
		{&d.samplers, descriptor.HeapDesc{Label: "sampler", Kind: descriptor.Sampler, Capacity: d.cfg.SamplerHeapSize, ShaderVisible: true}},
	}
	for _, h := range heaps {
		heap, err := descriptor.NewHeap(h.desc, releaseEntry)
		if err != nil {
			return err
		}
		*h.dst = heap
	}

	pools, err := cmdpool.NewPools(d.hal, cmdpool.SingleQueue(d.queue), cmdpool.Sizes{
		cmdpool.Graphics: d.cfg.GraphicsCommandBuffers,
		cmdpool.Compute:  d.cfg.ComputeCommandBuffers,
		cmdpool.Copy:     d.cfg.CopyCommandBuffers,
	})
	if err != nil {
		return err
	}
	d.pools = pools

	d.bindGroups = cache.New[bindKey, hal.BindGroup](d.cfg.BindGroupCacheSize, func(_ bindKey, bg hal.BindGroup) {
		d.release.Defer("bind group", func() { d.hal.DestroyBindGroup(bg) })
	})

	ring, err := d.newCallDataRing(uint32(d.cfg.DynamicCallSlots), d.cfg.BackBufferCount) //nolint:gosec // positive after defaults
	if err != nil {
		return err
	}
	d.callData = ring

	if err := d.configureSurface(); err != nil {
		return err
	}
	d.backBuffers = make([]*RenderTarget, d.cfg.BackBufferCount)
	for i := range d.backBuffers {
		data, err := d.buildRenderTarget(d.backBufferDesc(i), d.width, d.height)
		if err != nil {
			return err
		}
		d.backBuffers[i] = &RenderTarget{Desc: *d.backBufferDesc(i), Data: data}
	}
	return nil
}

func (d *Device) backBufferDesc(i int) *RenderTargetDesc {
	return &RenderTargetDesc{
		Label:        fmt.Sprintf("back buffer %d", i),
		ColorFormats: []gputypes.TextureFormat{d.cfg.BackBufferFormat},
		Flags:        AllowRenderTargetTexture,
	}
}

func (d *Device) configureSurface() error {
	if d.surface == nil {
		return nil
	}
	mode := gputypes.PresentModeImmediate
	if d.cfg.VSync {
		mode = gputypes.PresentModeFifo
	}
	err := d.surface.Configure(d.hal, &hal.SurfaceConfiguration{
		Width:       d.width,
		Height:      d.height,
		Format:      d.cfg.BackBufferFormat,
		Usage:       gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopyDst,
		PresentMode: mode,
		AlphaMode:   gputypes.CompositeAlphaModeOpaque,
	})
	if err != nil {
		return fmt.Errorf("device: configure surface %dx%d: %w", d.width, d.height, err)
	}
	return nil
}

// track registers the destroy function of a live object.
func (d *Device) track(obj any, destroy func()) {
	d.liveMu.Lock()
	d.live[obj] = destroy
	d.liveMu.Unlock()
}

// untrack destroys obj if it is still live.
func (d *Device) untrack(obj any) {
	d.liveMu.Lock()
	destroy, ok := d.live[obj]
	delete(d.live, obj)
	d.liveMu.Unlock()
	if ok {
		destroy()
	}
}

// LiveObjects returns the number of objects created and not yet destroyed.
func (d *Device) LiveObjects() int {
	d.liveMu.Lock()
	defer d.liveMu.Unlock()
	return len(d.live)
}

func (d *Device) heaps() []*descriptor.Heap {
	return []*descriptor.Heap{d.rtv, d.dsv, d.srv, d.samplers}
}

// Close waits for the GPU, destroys every live object and releases the
// device's own resources. The HAL device itself stays open.
func (d *Device) Close() error {
	if d.closed.Swap(true) {
		return ErrClosed
	}
	d.pools.Flush()

	d.liveMu.Lock()
	live := d.live
	d.live = make(map[any]func())
	d.liveMu.Unlock()
	for _, destroy := range live {
		destroy()
	}
	d.teardown()
	slogger().Info("device: closed", "objects", len(live))
	return nil
}

// teardown releases what init built, in reverse order. It tolerates a
// partially initialized device.
func (d *Device) teardown() {
	for i, bb := range d.backBuffers {
		if bb != nil {
			d.destroyRenderTargetData(bb.Desc.Label, bb.Data)
			d.backBuffers[i] = nil
		}
	}
	if d.surface != nil {
		d.surface.Unconfigure(d.hal)
	}
	if d.callData != nil {
		buf := d.callData.buffer
		d.release.Defer("call data ring", func() { d.hal.DestroyBuffer(buf) })
	}
	if d.bindGroups != nil {
		d.bindGroups.Clear()
	}
	if d.pools != nil {
		d.pools.Destroy()
	}
	for _, h := range d.heaps() {
		if h != nil {
			h.Drain()
		}
	}
	d.release.Drain()
}

// Device returns the HAL device.
func (d *Device) Device() gpucontext.Device { return d.hal }

// Queue returns the HAL queue.
func (d *Device) Queue() gpucontext.Queue { return d.queue }

// HAL returns the HAL device for direct use.
func (d *Device) HAL() hal.Device { return d.hal }

// SurfaceFormat returns the back buffer format, or Undefined when headless.
func (d *Device) SurfaceFormat() gputypes.TextureFormat {
	if d.surface == nil {
		return gputypes.TextureFormatUndefined
	}
	return d.cfg.BackBufferFormat
}

// BackBufferFormat returns the format of the back buffers.
func (d *Device) BackBufferFormat() gputypes.TextureFormat { return d.cfg.BackBufferFormat }

// Adapter returns the adapter passed to WithAdapter.
func (d *Device) Adapter() gpucontext.Adapter { return d.adapter }

// AdapterInfo returns the adapter name and type.
func (d *Device) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: d.info.Name, Type: adapterType(d.info)}
}

func adapterType(info gputypes.AdapterInfo) gpucontext.AdapterType {
	if info.Name == "" && info.Backend == gputypes.BackendEmpty {
		return gpucontext.AdapterTypeUnknown
	}
	switch info.DeviceType {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		return gpucontext.AdapterTypeSoftware
	default:
		return gpucontext.AdapterTypeUnknown
	}
}

// Size returns the window size the device renders at.
func (d *Device) Size() (uint32, uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.width, d.height
}

// Shaders returns the device's shader loader.
func (d *Device) Shaders() *shader.Loader { return d.shaders }

// HeapStats describes one descriptor heap.
type HeapStats struct {
	Kind     descriptor.Kind
	Label    string
	Capacity int
	Live     int
	Pending  int
}

// Stats is a snapshot of device counters.
type Stats struct {
	Heaps           []HeapStats
	PendingReleases int
	LiveObjects     int
	Submissions     [cmdpool.NumQueueKinds]uint64
	LastSubmitted   uint64
	Completed       uint64
	Frames          uint64
	CallDataUsed    uint32
	BindGroups      cache.Stats
}

// Stats returns a snapshot of descriptor usage, pending releases and queue
// progress.
func (d *Device) Stats() Stats {
	s := Stats{
		PendingReleases: d.release.Len(),
		LiveObjects:     d.LiveObjects(),
		Submissions:     d.pools.Submissions(),
		LastSubmitted:   d.pools.LastSubmitted(),
		Completed:       d.pools.Completed(),
		CallDataUsed:    d.callData.used(),
		BindGroups:      d.bindGroups.Stats(),
	}
	for _, h := range d.heaps() {
		s.Heaps = append(s.Heaps, HeapStats{
			Kind:     h.Kind(),
			Label:    h.Label(),
			Capacity: h.Capacity(),
			Live:     h.Len(),
			Pending:  h.Pending(),
		})
	}
	d.mu.Lock()
	s.Frames = d.frames
	d.mu.Unlock()
	return s
}
