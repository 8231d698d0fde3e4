package resstate

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Tracker queues barriers for one command buffer.
// A Tracker is owned by a single recording goroutine.
type Tracker struct {
	textures []hal.TextureBarrier
	buffers  []hal.BufferBarrier
	emitted  uint64
}

// Transition moves r (or one of its mip levels when sub is not
// AllSubresources) to state to and returns the number of barriers queued.
//
// A whole-resource transition first returns any mip level that diverged from
// the resource state back to it, then issues a single barrier for the whole
// resource and stamps every mip level with to. Transitioning again to the
// same state queues nothing. A sub outside the mip range is logged and
// treated as AllSubresources.
func (t *Tracker) Transition(r *Resource, to State, sub int) int {
	if r == nil {
		return 0
	}
	if r.buffer != nil {
		if r.current == to {
			return 0
		}
		t.buffers = append(t.buffers, hal.BufferBarrier{
			Buffer: r.buffer,
			Usage:  hal.BufferUsageTransition{OldUsage: r.current.BufferUsage(), NewUsage: to.BufferUsage()},
		})
		r.current = to
		r.subs[0] = to
		t.emitted++
		return 1
	}

	if sub != AllSubresources && (sub < 0 || sub >= len(r.subs)) {
		slogger().Warn("resstate: subresource out of range, transitioning whole resource",
			"resource", r.label, "sub", sub, "subresources", len(r.subs))
		sub = AllSubresources
	}
	if sub != AllSubresources {
		if r.subs[sub] == to {
			return 0
		}
		t.queueTexture(r, r.subs[sub], to, uint32(sub), 1) //nolint:gosec // sub < len(subs)
		r.subs[sub] = to
		return 1
	}

	n := 0
	for i, s := range r.subs {
		if s != r.current {
			t.queueTexture(r, s, r.current, uint32(i), 1) //nolint:gosec // i < len(subs)
			r.subs[i] = r.current
			n++
		}
	}
	if r.current != to {
		t.queueTexture(r, r.current, to, 0, uint32(len(r.subs))) //nolint:gosec // mip count fits
		n++
	}
	r.current = to
	for i := range r.subs {
		r.subs[i] = to
	}
	return n
}

func (t *Tracker) queueTexture(r *Resource, from, to State, mip, count uint32) {
	t.textures = append(t.textures, hal.TextureBarrier{
		Texture: r.texture,
		Range: hal.TextureRange{
			Aspect:          gputypes.TextureAspectAll,
			BaseMipLevel:    mip,
			MipLevelCount:   count,
			BaseArrayLayer:  0,
			ArrayLayerCount: r.layers,
		},
		Usage: hal.TextureUsageTransition{OldUsage: from.TextureUsage(), NewUsage: to.TextureUsage()},
	})
	t.emitted++
}

// Pending returns the number of queued barriers.
func (t *Tracker) Pending() int { return len(t.textures) + len(t.buffers) }

// Emitted returns the number of barriers queued over the tracker lifetime.
func (t *Tracker) Emitted() uint64 { return t.emitted }

// Flush records queued barriers on enc and clears the queue.
func (t *Tracker) Flush(enc hal.CommandEncoder) {
	if len(t.buffers) > 0 {
		enc.TransitionBuffers(t.buffers)
		t.buffers = t.buffers[:0]
	}
	if len(t.textures) > 0 {
		enc.TransitionTextures(t.textures)
		t.textures = t.textures[:0]
	}
}

// Discard drops queued barriers without recording them.
func (t *Tracker) Discard() {
	t.textures = t.textures[:0]
	t.buffers = t.buffers[:0]
}
