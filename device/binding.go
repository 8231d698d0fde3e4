package device

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// maxGroupBindings bounds the bindings of one group.
const maxGroupBindings = 16

// BindingKind is the type of resource a binding slot accepts.
type BindingKind uint8

const (
	// BindUniform is a constant buffer.
	BindUniform BindingKind = iota
	// BindStorage is a read-only storage buffer.
	BindStorage
	// BindStorageRW is a read-write storage buffer.
	BindStorageRW
	// BindTexture is a filterable float texture.
	BindTexture
	// BindUnfilterableTexture is a float texture read with textureLoad.
	BindUnfilterableTexture
	// BindDepthTexture is a depth texture.
	BindDepthTexture
	// BindStorageTexture is a write-only storage texture.
	BindStorageTexture
	// BindSampler is a filtering sampler.
	BindSampler
	// BindComparisonSampler is a depth comparison sampler.
	BindComparisonSampler
)

// String returns the kind name.
func (k BindingKind) String() string {
	switch k {
	case BindUniform:
		return "uniform"
	case BindStorage:
		return "storage"
	case BindStorageRW:
		return "storage_rw"
	case BindTexture:
		return "texture"
	case BindUnfilterableTexture:
		return "unfilterable_texture"
	case BindDepthTexture:
		return "depth_texture"
	case BindStorageTexture:
		return "storage_texture"
	case BindSampler:
		return "sampler"
	case BindComparisonSampler:
		return "comparison_sampler"
	default:
		return fmt.Sprintf("BindingKind(%d)", k)
	}
}

func (k BindingKind) isSampler() bool {
	return k == BindSampler || k == BindComparisonSampler
}

func (k BindingKind) isBuffer() bool {
	return k == BindUniform || k == BindStorage || k == BindStorageRW
}

// Binding declares one shader resource slot. Bindings within a group are
// numbered in declaration order.
type Binding struct {
	Name  string
	Group uint32
	Kind  BindingKind
	// Stages defaults to vertex|fragment for graphics pipelines and to
	// compute otherwise.
	Stages gputypes.ShaderStages
	// ViewDimension applies to texture kinds. Zero selects 2D.
	ViewDimension gputypes.TextureViewDimension
	// Format is the texel format of storage textures.
	Format gputypes.TextureFormat
}

// DynamicCallData declares per-draw constants bound through a dynamic
// offset. Size is at most DynamicCallSlotSize.
type DynamicCallData struct {
	Size uint32
}

// Slot locates a binding in a pipeline layout.
type Slot struct {
	Group   uint32
	Binding uint32
}

// Layout is the binding layout of a pipeline: the bind group layouts, the
// pipeline layout and the ordered name → slot index table.
type Layout struct {
	id    uint64
	label string

	groups   []hal.BindGroupLayout
	bindings [][]Binding
	slots    map[string]Slot
	names    []string
	pipeline hal.PipelineLayout

	callDataGroup int
	callDataSize  uint32
}

// Slot returns the slot of the named binding.
func (l *Layout) Slot(name string) (Slot, error) {
	s, ok := l.slots[name]
	if !ok {
		return Slot{}, fmt.Errorf("%w: %q in %q", ErrUnknownBinding, name, l.label)
	}
	return s, nil
}

// Names returns binding names in declaration order.
func (l *Layout) Names() []string { return l.names }

// GroupCount returns the number of bind groups, call data included.
func (l *Layout) GroupCount() int { return len(l.groups) }

// GroupBindings returns the bindings of group in binding order.
func (l *Layout) GroupBindings(group uint32) []Binding {
	if int(group) >= len(l.bindings) {
		return nil
	}
	return l.bindings[group]
}

// CallDataGroup returns the group index of the dynamic call data.
func (l *Layout) CallDataGroup() (uint32, bool) {
	if l.callDataGroup < 0 {
		return 0, false
	}
	return uint32(l.callDataGroup), true //nolint:gosec // small group index
}

// PipelineLayout returns the native pipeline layout.
func (l *Layout) PipelineLayout() hal.PipelineLayout { return l.pipeline }

func layoutEntry(b Binding, index uint32, stages gputypes.ShaderStages) gputypes.BindGroupLayoutEntry {
	if b.Stages != 0 {
		stages = b.Stages
	}
	dim := b.ViewDimension
	if dim == gputypes.TextureViewDimensionUndefined {
		dim = gputypes.TextureViewDimension2D
	}
	e := gputypes.BindGroupLayoutEntry{Binding: index, Visibility: stages}
	switch b.Kind {
	case BindUniform:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
	case BindStorage:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}
	case BindStorageRW:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
	case BindTexture:
		e.Texture = &gputypes.TextureBindingLayout{SampleType: gputypes.TextureSampleTypeFloat, ViewDimension: dim}
	case BindUnfilterableTexture:
		e.Texture = &gputypes.TextureBindingLayout{SampleType: gputypes.TextureSampleTypeUnfilterableFloat, ViewDimension: dim}
	case BindDepthTexture:
		e.Texture = &gputypes.TextureBindingLayout{SampleType: gputypes.TextureSampleTypeDepth, ViewDimension: dim}
	case BindStorageTexture:
		e.StorageTexture = &gputypes.StorageTextureBindingLayout{
			Access:        gputypes.StorageTextureAccessWriteOnly,
			Format:        b.Format,
			ViewDimension: dim,
		}
	case BindSampler:
		e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
	case BindComparisonSampler:
		e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeComparison}
	}
	return e
}

// createLayout builds bind group layouts for bindings and, when callData is
// set, one more group holding a dynamic-offset uniform.
func (d *Device) createLayout(label string, bindings []Binding, callData DynamicCallData, stages gputypes.ShaderStages) (*Layout, error) {
	if callData.Size > DynamicCallSlotSize {
		return nil, fmt.Errorf("%w: %q call data is %d bytes, limit %d", ErrInvalidDesc, label, callData.Size, DynamicCallSlotSize)
	}
	l := &Layout{
		id:            d.layoutSerial.Add(1),
		label:         label,
		slots:         make(map[string]Slot, len(bindings)),
		callDataGroup: -1,
	}

	groupCount := 0
	for _, b := range bindings {
		groupCount = max(groupCount, int(b.Group)+1)
	}
	l.bindings = make([][]Binding, groupCount)
	for _, b := range bindings {
		if b.Name == "" {
			return nil, fmt.Errorf("%w: %q has an unnamed binding", ErrInvalidDesc, label)
		}
		if _, dup := l.slots[b.Name]; dup {
			return nil, fmt.Errorf("%w: %q declares %q twice", ErrInvalidDesc, label, b.Name)
		}
		if b.Kind == BindStorageTexture && StorageFormatName(b.Format) == "" {
			return nil, fmt.Errorf("%w: %q binding %q: %s is not a storage format", ErrInvalidDesc, label, b.Name, b.Format)
		}
		idx := uint32(len(l.bindings[b.Group])) //nolint:gosec // bounded below
		if idx >= maxGroupBindings {
			return nil, fmt.Errorf("%w: %q group %d has more than %d bindings", ErrInvalidDesc, label, b.Group, maxGroupBindings)
		}
		l.bindings[b.Group] = append(l.bindings[b.Group], b)
		l.slots[b.Name] = Slot{Group: b.Group, Binding: idx}
		l.names = append(l.names, b.Name)
	}

	for g, group := range l.bindings {
		entries := make([]gputypes.BindGroupLayoutEntry, len(group))
		for i, b := range group {
			entries[i] = layoutEntry(b, uint32(i), stages) //nolint:gosec // < maxGroupBindings
		}
		bgl, err := d.hal.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s group%d", label, g),
			Entries: entries,
		})
		if err != nil {
			d.destroyLayout(l)
			return nil, fmt.Errorf("create %s bind group layout %d: %w", label, g, err)
		}
		l.groups = append(l.groups, bgl)
	}

	if callData.Size > 0 {
		bgl, err := d.hal.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label: label + " call data",
			Entries: []gputypes.BindGroupLayoutEntry{{
				Binding:    0,
				Visibility: stages,
				Buffer: &gputypes.BufferBindingLayout{
					Type:             gputypes.BufferBindingTypeUniform,
					HasDynamicOffset: true,
					MinBindingSize:   uint64(callData.Size),
				},
			}},
		})
		if err != nil {
			d.destroyLayout(l)
			return nil, fmt.Errorf("create %s call data layout: %w", label, err)
		}
		l.callDataGroup = len(l.groups)
		l.callDataSize = callData.Size
		l.groups = append(l.groups, bgl)
		l.bindings = append(l.bindings, nil)
	}

	pl, err := d.hal.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + " layout",
		BindGroupLayouts: l.groups,
	})
	if err != nil {
		d.destroyLayout(l)
		return nil, fmt.Errorf("create %s pipeline layout: %w", label, err)
	}
	l.pipeline = pl
	return l, nil
}

// destroyLayout releases the layouts in reverse creation order after
// dropping every bind group built from them.
func (d *Device) destroyLayout(l *Layout) {
	d.purgeLayoutBindGroups(l)
	if l.pipeline != nil {
		pl := l.pipeline
		d.release.Defer(l.label, func() { d.hal.DestroyPipelineLayout(pl) })
		l.pipeline = nil
	}
	for i := len(l.groups) - 1; i >= 0; i-- {
		bgl := l.groups[i]
		d.release.Defer(l.label, func() { d.hal.DestroyBindGroupLayout(bgl) })
	}
	l.groups = nil
}
