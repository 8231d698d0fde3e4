package device

import (
	"fmt"

	"github.com/gogpu/g3d/internal/cmdpool"
	"github.com/gogpu/g3d/internal/descriptor"
	"github.com/gogpu/g3d/internal/resstate"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// RenderTargetFlags selects optional render target behavior.
type RenderTargetFlags uint8

const (
	// AllowRenderTargetTexture builds shader resource views of the color
	// attachments.
	AllowRenderTargetTexture RenderTargetFlags = 1 << iota
	// AllowDepthTexture builds a shader resource view of the depth
	// attachment.
	AllowDepthTexture
	// TrackWindowSize sizes the target from the window, scaled by Scale,
	// and recreates it on Resize.
	TrackWindowSize
	// AllowUnorderedAccessTexture builds unordered access views of the
	// color attachments for compute writes.
	AllowUnorderedAccessTexture
)

// RenderTargetDesc describes up to eight color attachments and an optional
// depth attachment. A target with no color attachment must have depth.
type RenderTargetDesc struct {
	Label string
	// Width and Height are ignored with TrackWindowSize.
	Width  uint32
	Height uint32
	// Scale multiplies the window size with TrackWindowSize. Zero selects 1.
	Scale float32

	ColorFormats []gputypes.TextureFormat
	DepthFormat  gputypes.TextureFormat

	// ClearColors are matched to ColorFormats by index; missing entries
	// clear to transparent black.
	ClearColors []gputypes.Color
	// ClearDepth is the depth clear value. Zero selects 1.
	ClearDepth float32

	Flags RenderTargetFlags
}

// Attachment is one texture of a render target.
type Attachment struct {
	Texture  hal.Texture
	View     hal.TextureView
	Resource *resstate.Resource
	Format   gputypes.TextureFormat
	// Target is the RTV or DSV slot holding View.
	Target descriptor.Handle
	// SRV is set when the target was created shader-readable.
	SRV descriptor.Handle
	// UAV is set for color attachments of AllowUnorderedAccessTexture
	// targets.
	UAV descriptor.Handle
}

// Viewport is a render pass viewport.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// Rect is a scissor rectangle.
type Rect struct {
	X, Y, Width, Height uint32
}

// RenderTargetData is the native side of a RenderTarget. Resize replaces
// its contents in place.
type RenderTargetData struct {
	Colors   []Attachment
	Depth    *Attachment
	Width    uint32
	Height   uint32
	Viewport Viewport
	Scissor  Rect
}

// RenderTarget is a set of attachments rendered in one pass.
type RenderTarget struct {
	Desc RenderTargetDesc
	Data *RenderTargetData
}

// ColorSRV returns the shader resource view of color attachment i, or the
// zero handle.
func (rt *RenderTarget) ColorSRV(i int) descriptor.Handle {
	if i < 0 || i >= len(rt.Data.Colors) {
		return descriptor.Handle{}
	}
	return rt.Data.Colors[i].SRV
}

// ColorUAV returns the unordered access view of color attachment i, or the
// zero handle.
func (rt *RenderTarget) ColorUAV(i int) descriptor.Handle {
	if i < 0 || i >= len(rt.Data.Colors) {
		return descriptor.Handle{}
	}
	return rt.Data.Colors[i].UAV
}

// DepthSRV returns the shader resource view of the depth attachment, or the
// zero handle.
func (rt *RenderTarget) DepthSRV() descriptor.Handle {
	if rt.Data.Depth == nil {
		return descriptor.Handle{}
	}
	return rt.Data.Depth.SRV
}

// LoadAction selects what BeginRenderTarget does with existing contents.
type LoadAction uint8

const (
	// LoadActionClear clears every attachment to its clear value.
	LoadActionClear LoadAction = iota
	// LoadActionLoad keeps existing contents.
	LoadActionLoad
)

func validateTargetFormats(label string, colors []gputypes.TextureFormat, depth gputypes.TextureFormat) error {
	if len(colors) > MaxColorTargets || (len(colors) == 0 && depth == gputypes.TextureFormatUndefined) {
		return fmt.Errorf("%w: %q has %d color formats", ErrColorTargetCount, label, len(colors))
	}
	for i, f := range colors {
		if f == gputypes.TextureFormatUndefined || f.IsDepthStencil() {
			return fmt.Errorf("%w: %q color %d has format %s", ErrInvalidDesc, label, i, f)
		}
	}
	if depth != gputypes.TextureFormatUndefined && !depth.HasDepth() {
		return fmt.Errorf("%w: %q depth format %s", ErrInvalidDesc, label, depth)
	}
	return nil
}

// CreateRenderTarget creates a render target. Window-tracked targets follow
// every Resize.
func (d *Device) CreateRenderTarget(desc RenderTargetDesc) (*RenderTarget, error) {
	if err := validateTargetFormats(desc.Label, desc.ColorFormats, desc.DepthFormat); err != nil {
		return nil, err
	}
	d.mu.Lock()
	w, h := d.targetSize(&desc)
	d.mu.Unlock()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: render target %q is %dx%d", ErrInvalidDesc, desc.Label, w, h)
	}

	data, err := d.buildRenderTarget(&desc, w, h)
	if err != nil {
		return nil, err
	}
	rt := &RenderTarget{Desc: desc, Data: data}
	if desc.Flags&TrackWindowSize != 0 {
		d.mu.Lock()
		d.tracked = append(d.tracked, rt)
		d.mu.Unlock()
	}
	d.track(rt, func() {
		d.mu.Lock()
		for i, t := range d.tracked {
			if t == rt {
				d.tracked = append(d.tracked[:i], d.tracked[i+1:]...)
				break
			}
		}
		d.mu.Unlock()
		d.destroyRenderTargetData(desc.Label, rt.Data)
	})
	slogger().Debug("device: render target created", "label", desc.Label, "width", w, "height", h,
		"colors", len(desc.ColorFormats), "depth", desc.DepthFormat != gputypes.TextureFormatUndefined)
	return rt, nil
}

// DestroyRenderTarget releases the target's attachments.
func (d *Device) DestroyRenderTarget(rt *RenderTarget) {
	if rt == nil {
		return
	}
	d.untrack(rt)
}

// targetSize resolves the size of desc. d.mu must be held.
func (d *Device) targetSize(desc *RenderTargetDesc) (uint32, uint32) {
	if desc.Flags&TrackWindowSize == 0 {
		return desc.Width, desc.Height
	}
	scale := desc.Scale
	if scale <= 0 {
		scale = 1
	}
	w := max(1, uint32(float32(d.width)*scale))
	h := max(1, uint32(float32(d.height)*scale))
	return w, h
}

func (d *Device) buildRenderTarget(desc *RenderTargetDesc, w, h uint32) (*RenderTargetData, error) {
	data := &RenderTargetData{
		Width:    w,
		Height:   h,
		Viewport: Viewport{Width: float32(w), Height: float32(h), MaxDepth: 1},
		Scissor:  Rect{Width: w, Height: h},
	}
	for i, f := range desc.ColorFormats {
		usage := gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc
		if desc.Flags&AllowRenderTargetTexture != 0 {
			usage |= gputypes.TextureUsageTextureBinding
		}
		uav := desc.Flags&AllowUnorderedAccessTexture != 0
		if uav {
			usage |= gputypes.TextureUsageStorageBinding
		}
		a, err := d.buildAttachment(fmt.Sprintf("%s color%d", desc.Label, i), f, w, h, usage,
			d.rtv, desc.Flags&AllowRenderTargetTexture != 0, uav)
		if err != nil {
			d.destroyRenderTargetData(desc.Label, data)
			return nil, err
		}
		data.Colors = append(data.Colors, a)
	}
	if desc.DepthFormat != gputypes.TextureFormatUndefined {
		usage := gputypes.TextureUsageRenderAttachment
		if desc.Flags&AllowDepthTexture != 0 {
			usage |= gputypes.TextureUsageTextureBinding
		}
		a, err := d.buildAttachment(desc.Label+" depth", desc.DepthFormat, w, h, usage,
			d.dsv, desc.Flags&AllowDepthTexture != 0, false)
		if err != nil {
			d.destroyRenderTargetData(desc.Label, data)
			return nil, err
		}
		data.Depth = &a
	}
	return data, nil
}

func (d *Device) buildAttachment(label string, format gputypes.TextureFormat, w, h uint32,
	usage gputypes.TextureUsage, heap *descriptor.Heap, readable, unordered bool,
) (Attachment, error) {
	tex, err := d.hal.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         usage,
	})
	if err != nil {
		return Attachment{}, fmt.Errorf("device: create %q: %w", label, err)
	}
	a := Attachment{
		Texture:  tex,
		Resource: resstate.NewTextureResource(label, tex, 1, 1, resstate.Common),
		Format:   format,
	}
	a.Target, a.View, err = d.newView(heap, tex, &hal.TextureViewDescriptor{
		Label:           label + " target",
		Format:          format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		d.hal.DestroyTexture(tex)
		return Attachment{}, err
	}
	if readable {
		aspect := gputypes.TextureAspectAll
		if format.IsDepthStencil() {
			aspect = gputypes.TextureAspectDepthOnly
		}
		a.SRV, _, err = d.newView(d.srv, tex, &hal.TextureViewDescriptor{
			Label:           label + " srv",
			Format:          format,
			Dimension:       gputypes.TextureViewDimension2D,
			Aspect:          aspect,
			MipLevelCount:   1,
			ArrayLayerCount: 1,
		})
		if err != nil {
			d.freeHandle(heap, a.Target)
			d.release.Defer(label, func() { d.hal.DestroyTexture(tex) })
			return Attachment{}, err
		}
	}
	if unordered {
		a.UAV, _, err = d.newView(d.srv, tex, &hal.TextureViewDescriptor{
			Label:           label + " uav",
			Format:          format,
			Dimension:       gputypes.TextureViewDimension2D,
			Aspect:          gputypes.TextureAspectAll,
			MipLevelCount:   1,
			ArrayLayerCount: 1,
		})
		if err != nil {
			d.freeHandle(heap, a.Target)
			d.freeHandle(d.srv, a.SRV)
			d.release.Defer(label, func() { d.hal.DestroyTexture(tex) })
			return Attachment{}, err
		}
	}
	return a, nil
}

func (d *Device) destroyAttachment(label string, heap *descriptor.Heap, a *Attachment) {
	d.freeHandle(heap, a.Target)
	d.freeHandle(d.srv, a.SRV)
	d.freeHandle(d.srv, a.UAV)
	a.Target, a.SRV, a.UAV = descriptor.Handle{}, descriptor.Handle{}, descriptor.Handle{}
	tex := a.Texture
	d.release.Defer(label, func() { d.hal.DestroyTexture(tex) })
}

func (d *Device) destroyRenderTargetData(label string, data *RenderTargetData) {
	for i := range data.Colors {
		d.destroyAttachment(label, d.rtv, &data.Colors[i])
	}
	if data.Depth != nil {
		d.destroyAttachment(label, d.dsv, data.Depth)
	}
}

// recreateRenderTarget rebuilds rt at w×h. The RenderTarget, its Data
// pointer, the attachment Resources and every descriptor handle survive, so
// holders of any of them see the new textures.
func (d *Device) recreateRenderTarget(rt *RenderTarget, w, h uint32) error {
	data, err := d.buildRenderTarget(&rt.Desc, w, h)
	if err != nil {
		return err
	}
	old := rt.Data
	for i := range data.Colors {
		d.adoptAttachment(rt.Desc.Label, d.rtv, &old.Colors[i], &data.Colors[i])
	}
	if data.Depth != nil {
		d.adoptAttachment(rt.Desc.Label, d.dsv, old.Depth, data.Depth)
	}
	*rt.Data = *data
	return nil
}

// adoptAttachment moves next into the descriptor slots and state resource of
// prev and releases prev's texture.
func (d *Device) adoptAttachment(label string, heap *descriptor.Heap, prev, next *Attachment) {
	next.Target = d.moveSlot(label, heap, prev.Target, next.Target)
	next.SRV = d.moveSlot(label, d.srv, prev.SRV, next.SRV)
	next.UAV = d.moveSlot(label, d.srv, prev.UAV, next.UAV)
	prev.Resource.Rebind(next.Texture, resstate.Common)
	next.Resource = prev.Resource
	tex := prev.Texture
	d.release.Defer(label, func() { d.hal.DestroyTexture(tex) })
}

// moveSlot rebinds keep to the entry held by src and frees src. The view keep
// held is released after the GPU is done with it.
func (d *Device) moveSlot(label string, heap *descriptor.Heap, keep, src descriptor.Handle) descriptor.Handle {
	if !keep.Valid() || !src.Valid() {
		return src
	}
	prev, err := heap.Get(keep)
	if err != nil {
		return src
	}
	next, err := heap.Get(src)
	if err != nil {
		return src
	}
	_ = heap.Set(src, descriptor.Entry{})
	d.freeHandle(heap, src)
	if err := heap.Set(keep, next); err != nil {
		slogger().Warn("device: descriptor rebind failed", "heap", heap.Label(), "err", err)
		return keep
	}
	if prev.View != nil {
		v := prev.View
		d.release.Defer(label, func() { d.hal.DestroyTextureView(v) })
	}
	d.purgeBindGroups(keep)
	return keep
}

// BeginRenderTarget transitions the attachments for writing, opens a render
// pass on cmd and sets the target's viewport and scissor.
func (d *Device) BeginRenderTarget(cmd *cmdpool.CommandBuffer, rt *RenderTarget, load LoadAction) hal.RenderPassEncoder {
	data := rt.Data
	loadOp := gputypes.LoadOpClear
	if load == LoadActionLoad {
		loadOp = gputypes.LoadOpLoad
	}
	desc := &hal.RenderPassDescriptor{Label: rt.Desc.Label}
	for i := range data.Colors {
		c := &data.Colors[i]
		cmd.Transition(c.Resource, resstate.RenderTarget, resstate.AllSubresources)
		var clearColor gputypes.Color
		if i < len(rt.Desc.ClearColors) {
			clearColor = rt.Desc.ClearColors[i]
		}
		desc.ColorAttachments = append(desc.ColorAttachments, hal.RenderPassColorAttachment{
			View:       c.View,
			LoadOp:     loadOp,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: clearColor,
		})
	}
	if data.Depth != nil {
		cmd.Transition(data.Depth.Resource, resstate.DepthWrite, resstate.AllSubresources)
		clearDepth := rt.Desc.ClearDepth
		if clearDepth == 0 {
			clearDepth = 1
		}
		desc.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:            data.Depth.View,
			DepthLoadOp:     loadOp,
			DepthStoreOp:    gputypes.StoreOpStore,
			DepthClearValue: clearDepth,
		}
	}
	pass := cmd.BeginRenderPass(desc)
	vp := data.Viewport
	pass.SetViewport(vp.X, vp.Y, vp.Width, vp.Height, vp.MinDepth, vp.MaxDepth)
	sc := data.Scissor
	pass.SetScissorRect(sc.X, sc.Y, sc.Width, sc.Height)
	return pass
}

// ReadRenderTarget transitions every attachment of rt for sampling.
func (d *Device) ReadRenderTarget(cmd *cmdpool.CommandBuffer, rt *RenderTarget) int {
	n := 0
	for i := range rt.Data.Colors {
		n += cmd.Transition(rt.Data.Colors[i].Resource, resstate.ShaderResource, resstate.AllSubresources)
	}
	if rt.Data.Depth != nil {
		n += cmd.Transition(rt.Data.Depth.Resource, resstate.DepthRead|resstate.ShaderResource, resstate.AllSubresources)
	}
	return n
}
