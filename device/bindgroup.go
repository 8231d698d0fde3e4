package device

import (
	"fmt"

	"github.com/gogpu/g3d/internal/descriptor"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// bindKey identifies a bind group by layout, group and the exact handles
// bound. Handles carry their slot generation, so a recycled slot never hits
// a stale group.
type bindKey struct {
	layout  uint64
	group   uint32
	n       uint8
	handles [maxGroupBindings]descriptor.Handle
}

// BindGroup returns the bind group for group of p with handles bound in
// binding order, creating it on a cache miss.
func (d *Device) BindGroup(p Pipeline, group uint32, handles ...descriptor.Handle) (hal.BindGroup, error) {
	l := p.BindingLayout()
	bindings := l.GroupBindings(group)
	if len(bindings) == 0 {
		return nil, fmt.Errorf("%w: %q has no group %d", ErrUnknownBinding, l.label, group)
	}
	if len(handles) != len(bindings) {
		return nil, fmt.Errorf("%w: %q group %d takes %d handles, got %d",
			ErrBindingMismatch, l.label, group, len(bindings), len(handles))
	}
	key := bindKey{layout: l.id, group: group, n: uint8(len(handles))} //nolint:gosec // <= maxGroupBindings
	copy(key.handles[:], handles)

	return d.bindGroups.GetOrCreate(key, func() (hal.BindGroup, error) {
		entries := make([]gputypes.BindGroupEntry, len(bindings))
		for i, b := range bindings {
			res, err := d.resolveBinding(b, handles[i])
			if err != nil {
				return nil, fmt.Errorf("%q group %d: %w", l.label, group, err)
			}
			entries[i] = gputypes.BindGroupEntry{Binding: uint32(i), Resource: res} //nolint:gosec // < maxGroupBindings
		}
		bg, err := d.hal.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:   fmt.Sprintf("%s group%d", l.label, group),
			Layout:  l.groups[group],
			Entries: entries,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s bind group %d: %w", l.label, group, err)
		}
		return bg, nil
	})
}

// BindGroupByName resolves names to slots and returns the bind group of the
// group they share. Every binding of that group must be named.
func (d *Device) BindGroupByName(p Pipeline, bound map[string]descriptor.Handle) (uint32, hal.BindGroup, error) {
	l := p.BindingLayout()
	var (
		group   uint32
		handles []descriptor.Handle
	)
	first := true
	for name, h := range bound {
		s, err := l.Slot(name)
		if err != nil {
			return 0, nil, err
		}
		if first {
			group = s.Group
			handles = make([]descriptor.Handle, len(l.GroupBindings(group)))
			first = false
		} else if s.Group != group {
			return 0, nil, fmt.Errorf("%w: %q is in group %d, expected %d", ErrBindingMismatch, name, s.Group, group)
		}
		handles[s.Binding] = h
	}
	if first {
		return 0, nil, fmt.Errorf("%w: no bindings given for %q", ErrUnknownBinding, l.label)
	}
	bg, err := d.BindGroup(p, group, handles...)
	return group, bg, err
}

func (d *Device) resolveBinding(b Binding, h descriptor.Handle) (gputypes.BindingResource, error) {
	if b.Kind.isSampler() {
		e, err := d.samplers.Get(h)
		if err != nil {
			return nil, fmt.Errorf("%w: binding %q: %w", ErrBindingMismatch, b.Name, err)
		}
		if e.Sampler == nil {
			return nil, fmt.Errorf("%w: %q is not a sampler", ErrBindingMismatch, b.Name)
		}
		return gputypes.SamplerBinding{Sampler: e.Sampler.NativeHandle()}, nil
	}
	e, err := d.srv.Get(h)
	if err != nil {
		return nil, fmt.Errorf("%w: binding %q: %w", ErrBindingMismatch, b.Name, err)
	}
	if b.Kind.isBuffer() {
		if e.Buffer == nil {
			return nil, fmt.Errorf("%w: %q expects a %s buffer", ErrBindingMismatch, b.Name, b.Kind)
		}
		return gputypes.BufferBinding{Buffer: e.Buffer.NativeHandle(), Offset: e.Offset, Size: e.Size}, nil
	}
	if e.View == nil {
		return nil, fmt.Errorf("%w: %q expects a %s view", ErrBindingMismatch, b.Name, b.Kind)
	}
	return gputypes.TextureViewBinding{TextureView: e.View.NativeHandle()}, nil
}

// purgeBindGroups drops every cached group that references h.
func (d *Device) purgeBindGroups(h descriptor.Handle) {
	n := d.bindGroups.RemoveIf(func(k bindKey, _ hal.BindGroup) bool {
		for _, kh := range k.handles[:k.n] {
			if kh == h {
				return true
			}
		}
		return false
	})
	if n > 0 {
		slogger().Debug("device: bind groups purged", "count", n, "slot", h.Index())
	}
}

// purgeLayoutBindGroups drops every cached group built from l.
func (d *Device) purgeLayoutBindGroups(l *Layout) {
	d.bindGroups.RemoveIf(func(k bindKey, _ hal.BindGroup) bool { return k.layout == l.id })
}
