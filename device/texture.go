package device

import (
	"fmt"

	"github.com/gogpu/g3d/internal/descriptor"
	"github.com/gogpu/g3d/internal/resstate"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// TextureFlags selects optional texture capabilities.
type TextureFlags uint8

const (
	// AllowUnorderedAccess adds storage usage and per-mip SRV/UAV
	// descriptors for compute writes such as mip generation.
	AllowUnorderedAccess TextureFlags = 1 << iota
	// AllowRenderTarget adds render attachment usage.
	AllowRenderTarget
	// AllowDepthStencil adds render attachment usage for depth formats.
	AllowDepthStencil
	// SRGB samples the texture through an sRGB view of its linear format.
	SRGB
)

// TextureDesc describes a 2D or cube texture.
type TextureDesc struct {
	Label  string
	Width  uint32
	Height uint32
	Format gputypes.TextureFormat
	// MipLevels is clamped to the full chain; zero selects the full chain.
	MipLevels uint32
	Cube      bool
	Flags     TextureFlags
}

// TextureData is the native side of a Texture.
type TextureData struct {
	Texture  hal.Texture
	Resource *resstate.Resource

	// SRV samples every mip and layer.
	SRV descriptor.Handle
	// MipSRVs and MipUAVs select one mip level each. Only set with
	// AllowUnorderedAccess.
	MipSRVs []descriptor.Handle
	MipUAVs []descriptor.Handle

	Width     uint32
	Height    uint32
	MipLevels uint32
	Layers    uint32
}

// Texture is a sampled texture.
type Texture struct {
	Desc TextureDesc
	Data *TextureData
}

// MipSize returns the size of mip level.
func (t *Texture) MipSize(level uint32) (uint32, uint32) {
	return MipSize(t.Data.Width, t.Data.Height, level)
}

// CreateTexture creates a texture and its shader resource descriptors.
func (d *Device) CreateTexture(desc TextureDesc) (*Texture, error) {
	if desc.Width == 0 || desc.Height == 0 || desc.Format == gputypes.TextureFormatUndefined {
		return nil, fmt.Errorf("%w: texture %q is %dx%d %s", ErrInvalidDesc, desc.Label, desc.Width, desc.Height, desc.Format)
	}
	mips := MipLevelCount(desc.Width, desc.Height)
	if desc.MipLevels != 0 && desc.MipLevels < mips {
		mips = desc.MipLevels
	}
	layers := uint32(1)
	srvDim := gputypes.TextureViewDimension2D
	mipDim := gputypes.TextureViewDimension2D
	if desc.Cube {
		if desc.Width != desc.Height {
			return nil, fmt.Errorf("%w: cube texture %q is not square", ErrInvalidDesc, desc.Label)
		}
		layers = 6
		srvDim = gputypes.TextureViewDimensionCube
		mipDim = gputypes.TextureViewDimension2DArray
	}

	usage := gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst | gputypes.TextureUsageCopySrc
	if desc.Flags&AllowUnorderedAccess != 0 {
		usage |= gputypes.TextureUsageStorageBinding
	}
	if desc.Flags&(AllowRenderTarget|AllowDepthStencil) != 0 {
		usage |= gputypes.TextureUsageRenderAttachment
	}

	srvFormat := desc.Format
	var viewFormats []gputypes.TextureFormat
	if desc.Flags&SRGB != 0 {
		s, ok := srgbVariant(desc.Format)
		if !ok {
			return nil, fmt.Errorf("%w: texture %q: no sRGB view of %s", ErrInvalidDesc, desc.Label, desc.Format)
		}
		srvFormat = s
		viewFormats = []gputypes.TextureFormat{s}
	}

	tex, err := d.hal.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: layers},
		MipLevelCount: mips,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         usage,
		ViewFormats:   viewFormats,
	})
	if err != nil {
		return nil, fmt.Errorf("device: create texture %q: %w", desc.Label, err)
	}
	data := &TextureData{
		Texture:   tex,
		Resource:  resstate.NewTextureResource(desc.Label, tex, mips, layers, resstate.Common),
		Width:     desc.Width,
		Height:    desc.Height,
		MipLevels: mips,
		Layers:    layers,
	}

	aspect := gputypes.TextureAspectAll
	if desc.Format.IsDepthStencil() {
		aspect = gputypes.TextureAspectDepthOnly
	}
	data.SRV, _, err = d.newView(d.srv, tex, &hal.TextureViewDescriptor{
		Label:           desc.Label + " srv",
		Format:          srvFormat,
		Dimension:       srvDim,
		Aspect:          aspect,
		MipLevelCount:   mips,
		ArrayLayerCount: layers,
	})
	if err != nil {
		d.destroyTextureData(desc.Label, data)
		return nil, err
	}

	if desc.Flags&AllowUnorderedAccess != 0 {
		for m := uint32(0); m < mips; m++ {
			mipView := hal.TextureViewDescriptor{
				Format:          desc.Format,
				Dimension:       mipDim,
				Aspect:          gputypes.TextureAspectAll,
				BaseMipLevel:    m,
				MipLevelCount:   1,
				ArrayLayerCount: layers,
			}
			mipView.Label = fmt.Sprintf("%s mip%d srv", desc.Label, m)
			srv, _, err := d.newView(d.srv, tex, &mipView)
			if err != nil {
				d.destroyTextureData(desc.Label, data)
				return nil, err
			}
			data.MipSRVs = append(data.MipSRVs, srv)

			mipView.Label = fmt.Sprintf("%s mip%d uav", desc.Label, m)
			uav, _, err := d.newView(d.srv, tex, &mipView)
			if err != nil {
				d.destroyTextureData(desc.Label, data)
				return nil, err
			}
			data.MipUAVs = append(data.MipUAVs, uav)
		}
	}

	t := &Texture{Desc: desc, Data: data}
	d.track(t, func() { d.destroyTextureData(desc.Label, data) })
	slogger().Debug("device: texture created", "label", desc.Label, "width", desc.Width, "height", desc.Height,
		"format", desc.Format, "mips", mips, "layers", layers)
	return t, nil
}

// DestroyTexture frees the texture's descriptors and releases the native
// texture once in-flight work completes.
func (d *Device) DestroyTexture(t *Texture) {
	if t == nil || t.Data == nil {
		return
	}
	d.untrack(t)
}

func (d *Device) destroyTextureData(label string, data *TextureData) {
	d.freeHandle(d.srv, data.SRV)
	for _, h := range data.MipSRVs {
		d.freeHandle(d.srv, h)
	}
	for _, h := range data.MipUAVs {
		d.freeHandle(d.srv, h)
	}
	data.SRV = descriptor.Handle{}
	data.MipSRVs, data.MipUAVs = nil, nil
	tex := data.Texture
	d.release.Defer(label, func() { d.hal.DestroyTexture(tex) })
}

// UploadTexture writes mip 0 of every layer. See UploadTextureMip.
func (d *Device) UploadTexture(t *Texture, pixels []byte) error {
	return d.UploadTextureMip(t, 0, pixels)
}

// UploadTextureMip writes one mip level of every layer. pixels holds the
// layers back to back with tightly packed rows. The mip is transitioned to
// CopyDest on a copy command buffer before the queue write.
func (d *Device) UploadTextureMip(t *Texture, mip uint32, pixels []byte) error {
	bpp := BytesPerPixel(t.Desc.Format)
	if bpp == 0 {
		return fmt.Errorf("%w: texture %q: cannot upload %s", ErrInvalidDesc, t.Desc.Label, t.Desc.Format)
	}
	if mip >= t.Data.MipLevels {
		return fmt.Errorf("%w: texture %q has no mip %d", ErrInvalidDesc, t.Desc.Label, mip)
	}
	w, h := t.MipSize(mip)
	want := int(w * h * bpp * t.Data.Layers)
	if len(pixels) != want {
		return fmt.Errorf("%w: texture %q mip %d needs %d bytes, got %d", ErrInvalidDesc, t.Desc.Label, mip, want, len(pixels))
	}

	cmd, err := d.GetFreeCopyCommandBuffer()
	if err != nil {
		return err
	}
	cmd.Transition(t.Data.Resource, resstate.CopyDest, int(mip))
	if err := d.ExecuteCopyCommandList(cmd); err != nil {
		return err
	}
	err = d.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: t.Data.Texture, MipLevel: mip, Aspect: gputypes.TextureAspectAll},
		pixels,
		&hal.ImageDataLayout{BytesPerRow: w * bpp, RowsPerImage: h},
		&hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: t.Data.Layers},
	)
	if err != nil {
		return fmt.Errorf("device: upload %q mip %d: %w", t.Desc.Label, mip, err)
	}
	return nil
}

// newView creates a texture view and binds it to a fresh slot of heap. The
// heap owns the view from then on.
func (d *Device) newView(heap *descriptor.Heap, tex hal.Texture, desc *hal.TextureViewDescriptor) (descriptor.Handle, hal.TextureView, error) {
	view, err := d.hal.CreateTextureView(tex, desc)
	if err != nil {
		return descriptor.Handle{}, nil, fmt.Errorf("device: create view %q: %w", desc.Label, err)
	}
	h, err := heap.Allocate()
	if err != nil {
		d.hal.DestroyTextureView(view)
		return descriptor.Handle{}, nil, err
	}
	if err := heap.Set(h, descriptor.Entry{View: view, Owned: true}); err != nil {
		d.hal.DestroyTextureView(view)
		return descriptor.Handle{}, nil, err
	}
	return h, view, nil
}

// freeHandle returns h to its heap's deferred queue and drops cached bind
// groups that reference it.
func (d *Device) freeHandle(heap *descriptor.Heap, h descriptor.Handle) {
	if !h.Valid() {
		return
	}
	if err := heap.Free(h); err != nil {
		slogger().Warn("device: descriptor free failed", "heap", heap.Label(), "err", err)
		return
	}
	d.purgeBindGroups(h)
}
