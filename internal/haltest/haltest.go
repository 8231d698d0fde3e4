// Package haltest wraps the noop HAL backend with recording objects so tests
// can observe the commands a component issues: compute dispatches with their
// bound views, render passes and draws, barriers, copies and submissions.
//
// The queue can also be switched to manual completion, which lets tests hold
// submissions "in flight" and retire them from another goroutine.
package haltest

import (
	"image"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// Open creates a recording device and queue on the noop backend.
func Open(t testing.TB) (*Device, *Queue) {
	t.Helper()
	instance, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	open, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	rec := &Recorder{}
	dev := &Device{Device: open.Device, Rec: rec}
	q := &Queue{Queue: open.Queue, rec: rec}
	t.Cleanup(func() {
		open.Device.Destroy()
		instance.Destroy()
	})
	return dev, q
}

// OpenDevice is Open returning a hal.OpenDevice.
func OpenDevice(t testing.TB) (hal.OpenDevice, *Recorder, *Queue) {
	t.Helper()
	dev, q := Open(t)
	return hal.OpenDevice{Device: dev, Queue: q}, dev.Rec, q
}

// Dispatch is one recorded compute dispatch.
type Dispatch struct {
	Pass       string
	X, Y, Z    uint32
	BindGroups map[uint32]*BindGroup
}

// Draw is one recorded draw call.
type Draw struct {
	Pass      string
	Vertices  uint32
	Indices   uint32
	Instances uint32
	Indexed   bool
}

// RenderPass is one recorded render pass.
type RenderPass struct {
	Label  string
	Colors []*TextureView
	Depth  *TextureView
	Draws  int
	// Sampled lists the views bound through bind groups in this pass.
	Sampled []*TextureView
}

// Recorder collects the commands issued through a recording device.
// Recorder is safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	nextID atomic.Uintptr

	Textures        []*Texture
	Views           []*TextureView
	BindGroups      []*BindGroup
	Dispatches      []Dispatch
	Draws           []Draw
	RenderPasses    []*RenderPass
	ComputePasses   []string
	TextureBarriers []hal.TextureBarrier
	BufferBarriers  []hal.BufferBarrier
	BufferCopies    int
	TextureCopies   int
	TextureWrites   int
	Submissions     int
	Presents        int
	Encodings       []string

	// FailTexture, when set, is consulted before each texture creation; a
	// non-nil result is returned instead of a texture.
	FailTexture func(desc *hal.TextureDescriptor) error
	// FailPresent, when non-nil, is returned by every Present.
	FailPresent error

	DestroyedTextures   int
	DestroyedViews      int
	DestroyedBindGroups int
	DestroyedBuffers    int
}

func (r *Recorder) id() uintptr { return r.nextID.Add(1) }

// View returns the recorded view with native handle h.
func (r *Recorder) View(h uintptr) *TextureView {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.Views {
		if v.id == h {
			return v
		}
	}
	return nil
}

// Reset clears recorded commands. Created objects are kept.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Dispatches = nil
	r.Draws = nil
	r.RenderPasses = nil
	r.ComputePasses = nil
	r.TextureBarriers = nil
	r.BufferBarriers = nil
	r.BufferCopies = 0
	r.TextureCopies = 0
	r.TextureWrites = 0
	r.Submissions = 0
	r.Presents = 0
	r.Encodings = nil
}

// DispatchesIn returns the dispatches recorded in compute passes named pass.
func (r *Recorder) DispatchesIn(pass string) []Dispatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Dispatch
	for _, d := range r.Dispatches {
		if d.Pass == pass {
			out = append(out, d)
		}
	}
	return out
}

// Pass returns the last render pass with the given label.
func (r *Recorder) Pass(label string) *RenderPass {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.RenderPasses) - 1; i >= 0; i-- {
		if r.RenderPasses[i].Label == label {
			return r.RenderPasses[i]
		}
	}
	return nil
}

// PassLabels returns the labels of all render passes in order.
func (r *Recorder) PassLabels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.RenderPasses))
	for i, p := range r.RenderPasses {
		out[i] = p.Label
	}
	return out
}

// Texture wraps a noop texture with an identity and its descriptor.
type Texture struct {
	hal.Texture
	id   uintptr
	Desc hal.TextureDescriptor
}

// NativeHandle returns the texture identity.
func (t *Texture) NativeHandle() uintptr { return t.id }

// TextureView wraps a noop view with the texture and range it selects.
type TextureView struct {
	hal.TextureView
	id      uintptr
	Texture *Texture
	Desc    hal.TextureViewDescriptor
}

// NativeHandle returns the view identity, which bind group entries carry.
func (v *TextureView) NativeHandle() uintptr { return v.id }

// BindGroup wraps a noop bind group with its entries.
type BindGroup struct {
	hal.BindGroup
	id      uintptr
	Label   string
	Entries []gputypes.BindGroupEntry
}

// Views returns the texture views bound in g, resolved through rec.
func (g *BindGroup) Views(rec *Recorder) []*TextureView {
	var out []*TextureView
	for _, e := range g.Entries {
		if tv, ok := e.Resource.(gputypes.TextureViewBinding); ok {
			if v := rec.View(tv.TextureView); v != nil {
				out = append(out, v)
			}
		}
	}
	return out
}

// Device records object creation and hands out recording encoders.
type Device struct {
	hal.Device
	Rec *Recorder
}

// CreateTexture records the descriptor.
func (d *Device) CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	d.Rec.mu.Lock()
	fail := d.Rec.FailTexture
	d.Rec.mu.Unlock()
	if fail != nil {
		if err := fail(desc); err != nil {
			return nil, err
		}
	}
	inner, err := d.Device.CreateTexture(desc)
	if err != nil {
		return nil, err
	}
	t := &Texture{Texture: inner, id: d.Rec.id(), Desc: *desc}
	d.Rec.mu.Lock()
	d.Rec.Textures = append(d.Rec.Textures, t)
	d.Rec.mu.Unlock()
	return t, nil
}

// CreateTextureView records the view range.
func (d *Device) CreateTextureView(texture hal.Texture, desc *hal.TextureViewDescriptor) (hal.TextureView, error) {
	inner, err := d.Device.CreateTextureView(texture, desc)
	if err != nil {
		return nil, err
	}
	v := &TextureView{TextureView: inner, id: d.Rec.id()}
	v.Texture, _ = texture.(*Texture)
	if desc != nil {
		v.Desc = *desc
	}
	d.Rec.mu.Lock()
	d.Rec.Views = append(d.Rec.Views, v)
	d.Rec.mu.Unlock()
	return v, nil
}

// CreateBindGroup records the entries.
func (d *Device) CreateBindGroup(desc *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	inner, err := d.Device.CreateBindGroup(desc)
	if err != nil {
		return nil, err
	}
	g := &BindGroup{BindGroup: inner, id: d.Rec.id(), Label: desc.Label}
	g.Entries = append(g.Entries, desc.Entries...)
	d.Rec.mu.Lock()
	d.Rec.BindGroups = append(d.Rec.BindGroups, g)
	d.Rec.mu.Unlock()
	return g, nil
}

// DestroyTexture counts the release.
func (d *Device) DestroyTexture(t hal.Texture) {
	d.Rec.mu.Lock()
	d.Rec.DestroyedTextures++
	d.Rec.mu.Unlock()
	d.Device.DestroyTexture(unwrapTexture(t))
}

// DestroyTextureView counts the release.
func (d *Device) DestroyTextureView(v hal.TextureView) {
	d.Rec.mu.Lock()
	d.Rec.DestroyedViews++
	d.Rec.mu.Unlock()
	if w, ok := v.(*TextureView); ok {
		v = w.TextureView
	}
	d.Device.DestroyTextureView(v)
}

// DestroyBindGroup counts the release.
func (d *Device) DestroyBindGroup(g hal.BindGroup) {
	d.Rec.mu.Lock()
	d.Rec.DestroyedBindGroups++
	d.Rec.mu.Unlock()
	if w, ok := g.(*BindGroup); ok {
		g = w.BindGroup
	}
	d.Device.DestroyBindGroup(g)
}

// DestroyBuffer counts the release.
func (d *Device) DestroyBuffer(b hal.Buffer) {
	d.Rec.mu.Lock()
	d.Rec.DestroyedBuffers++
	d.Rec.mu.Unlock()
	d.Device.DestroyBuffer(b)
}

// Counts returns a snapshot of the release counters.
func (r *Recorder) Counts() (textures, views, bindGroups, buffers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.DestroyedTextures, r.DestroyedViews, r.DestroyedBindGroups, r.DestroyedBuffers
}

// CreateCommandEncoder returns a recording encoder.
func (d *Device) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	inner, err := d.Device.CreateCommandEncoder(desc)
	if err != nil {
		return nil, err
	}
	return &Encoder{CommandEncoder: inner, rec: d.Rec}, nil
}

// Queue counts submissions and optionally holds them in flight.
type Queue struct {
	hal.Queue
	rec *Recorder

	manual    atomic.Bool
	submitted atomic.Uint64
	completed atomic.Uint64
}

// SetManual switches to manual completion: submissions stay in flight until
// Complete is called.
func (q *Queue) SetManual(manual bool) {
	q.manual.Store(manual)
	if !manual {
		q.completed.Store(q.submitted.Load())
	}
}

// Submit records a submission and returns its index.
func (q *Queue) Submit(bufs []hal.CommandBuffer) (uint64, error) {
	idx := q.submitted.Add(1)
	if !q.manual.Load() {
		q.completed.Store(idx)
	}
	q.rec.mu.Lock()
	q.rec.Submissions++
	q.rec.mu.Unlock()
	return idx, nil
}

// PollCompleted returns the highest completed submission index.
func (q *Queue) PollCompleted() uint64 { return q.completed.Load() }

// Submitted returns the highest submission index handed out.
func (q *Queue) Submitted() uint64 { return q.submitted.Load() }

// Complete marks every submission up to idx as finished.
func (q *Queue) Complete(idx uint64) {
	for {
		cur := q.completed.Load()
		if idx <= cur || q.completed.CompareAndSwap(cur, idx) {
			return
		}
	}
}

// CompleteAll marks every submission so far as finished.
func (q *Queue) CompleteAll() { q.Complete(q.submitted.Load()) }

// WriteTexture counts texture uploads.
func (q *Queue) WriteTexture(dst *hal.ImageCopyTexture, data []byte, layout *hal.ImageDataLayout, size *hal.Extent3D) error {
	q.rec.mu.Lock()
	q.rec.TextureWrites++
	q.rec.mu.Unlock()
	return q.Queue.WriteTexture(dst, data, layout, size)
}

// Present counts presentations. A non-nil Recorder.FailPresent is returned
// in place of presenting.
func (q *Queue) Present(surface hal.Surface, texture hal.SurfaceTexture, damage []image.Rectangle) error {
	q.rec.mu.Lock()
	fail := q.rec.FailPresent
	if fail == nil {
		q.rec.Presents++
	}
	q.rec.mu.Unlock()
	if fail != nil {
		return fail
	}
	return q.Queue.Present(surface, texture, damage)
}
