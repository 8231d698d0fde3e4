package device

import (
	"fmt"

	"github.com/gogpu/g3d/internal/descriptor"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// SamplerDesc describes a sampler. Zero filters select linear, a zero
// address mode selects clamp-to-edge.
type SamplerDesc struct {
	Label         string
	Filter        gputypes.FilterMode
	MipFilter     gputypes.FilterMode
	AddressMode   gputypes.AddressMode
	Compare       gputypes.CompareFunction
	MaxAnisotropy uint16
}

// SamplerData is the native side of a Sampler.
type SamplerData struct {
	Sampler hal.Sampler
	Handle  descriptor.Handle
}

// Sampler is a sampler bound to a slot of the sampler heap.
type Sampler struct {
	Desc SamplerDesc
	Data *SamplerData
}

// CreateSampler creates a sampler descriptor.
func (d *Device) CreateSampler(desc SamplerDesc) (*Sampler, error) {
	filter := desc.Filter
	if filter == gputypes.FilterModeUndefined {
		filter = gputypes.FilterModeLinear
	}
	mip := desc.MipFilter
	if mip == gputypes.FilterModeUndefined {
		mip = gputypes.FilterModeLinear
	}
	addr := desc.AddressMode
	if addr == gputypes.AddressModeUndefined {
		addr = gputypes.AddressModeClampToEdge
	}
	aniso := max(desc.MaxAnisotropy, 1)

	s, err := d.hal.CreateSampler(&hal.SamplerDescriptor{
		Label:        desc.Label,
		AddressModeU: addr,
		AddressModeV: addr,
		AddressModeW: addr,
		MagFilter:    filter,
		MinFilter:    filter,
		MipmapFilter: mip,
		LodMaxClamp:  32,
		Compare:      desc.Compare,
		Anisotropy:   aniso,
	})
	if err != nil {
		return nil, fmt.Errorf("device: create sampler %q: %w", desc.Label, err)
	}
	h, err := d.samplers.Allocate()
	if err != nil {
		d.hal.DestroySampler(s)
		return nil, err
	}
	if err := d.samplers.Set(h, descriptor.Entry{Sampler: s, Owned: true}); err != nil {
		d.hal.DestroySampler(s)
		return nil, err
	}
	smp := &Sampler{Desc: desc, Data: &SamplerData{Sampler: s, Handle: h}}
	d.track(smp, func() { d.freeHandle(d.samplers, h) })
	return smp, nil
}

// DestroySampler frees the sampler's descriptor; the heap destroys the
// native sampler when the slot is reclaimed.
func (d *Device) DestroySampler(s *Sampler) {
	if s == nil {
		return
	}
	d.untrack(s)
}
