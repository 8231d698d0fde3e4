package device

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// BindGroupSetter is implemented by render and compute pass encoders.
type BindGroupSetter interface {
	SetBindGroup(index uint32, group hal.BindGroup, offsets []uint32)
}

// callDataRing is a uniform buffer split into one region per back buffer.
// Each region holds slots of DynamicCallSlotSize bytes handed out in order
// and reset at the start of the frame that owns the region.
type callDataRing struct {
	mu     sync.Mutex
	buffer hal.Buffer
	slots  uint32
	frame  uint32
	next   uint32
}

func (d *Device) newCallDataRing(slots uint32, frames int) (*callDataRing, error) {
	size := uint64(slots) * DynamicCallSlotSize * uint64(frames) //nolint:gosec // small config values
	buf, err := d.hal.CreateBuffer(&hal.BufferDescriptor{
		Label: "call data ring",
		Size:  size,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("device: create call data ring: %w", err)
	}
	return &callDataRing{buffer: buf, slots: slots}, nil
}

func (r *callDataRing) reset(frame int) {
	r.mu.Lock()
	r.frame = uint32(frame) //nolint:gosec // back buffer index
	r.next = 0
	r.mu.Unlock()
}

func (r *callDataRing) alloc() (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= r.slots {
		return 0, fmt.Errorf("%w: %d slots used this frame", ErrCallDataFull, r.slots)
	}
	off := (r.frame*r.slots + r.next) * DynamicCallSlotSize
	r.next++
	return off, nil
}

func (r *callDataRing) used() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// PushCallData copies data into the next call data slot of the current
// frame and returns its dynamic offset.
func (d *Device) PushCallData(data []byte) (uint32, error) {
	if len(data) > DynamicCallSlotSize {
		return 0, fmt.Errorf("%w: call data is %d bytes, limit %d", ErrInvalidDesc, len(data), DynamicCallSlotSize)
	}
	off, err := d.callData.alloc()
	if err != nil {
		return 0, err
	}
	if len(data) > 0 {
		if err := d.queue.WriteBuffer(d.callData.buffer, uint64(off), data); err != nil {
			return 0, fmt.Errorf("device: write call data: %w", err)
		}
	}
	return off, nil
}

// CallDataBindGroup returns the call data group of p and its index.
func (d *Device) CallDataBindGroup(p Pipeline) (uint32, hal.BindGroup, error) {
	l := p.BindingLayout()
	group, ok := l.CallDataGroup()
	if !ok {
		return 0, nil, fmt.Errorf("%w: %q", ErrNoCallData, l.label)
	}
	key := bindKey{layout: l.id, group: group}
	bg, err := d.bindGroups.GetOrCreate(key, func() (hal.BindGroup, error) {
		bg, err := d.hal.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:  l.label + " call data",
			Layout: l.groups[group],
			Entries: []gputypes.BindGroupEntry{{
				Binding: 0,
				Resource: gputypes.BufferBinding{
					Buffer: d.callData.buffer.NativeHandle(),
					Size:   uint64(l.callDataSize),
				},
			}},
		})
		if err != nil {
			return nil, fmt.Errorf("create %s call data group: %w", l.label, err)
		}
		return bg, nil
	})
	return group, bg, err
}

// SetCallData pushes data and binds it on pass for the next draw or
// dispatch.
func (d *Device) SetCallData(pass BindGroupSetter, p Pipeline, data []byte) error {
	group, bg, err := d.CallDataBindGroup(p)
	if err != nil {
		return err
	}
	off, err := d.PushCallData(data)
	if err != nil {
		return err
	}
	pass.SetBindGroup(group, bg, []uint32{off})
	return nil
}
