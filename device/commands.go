package device

import (
	"errors"
	"fmt"

	"github.com/gogpu/g3d/internal/cmdpool"
	"github.com/gogpu/g3d/internal/resstate"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// GetFreeGraphicsCommandBuffer returns a recording graphics command buffer.
// It blocks while the next buffer in the ring is still executing.
func (d *Device) GetFreeGraphicsCommandBuffer() (*cmdpool.CommandBuffer, error) {
	return d.getFree(cmdpool.Graphics)
}

// GetFreeComputeCommandBuffer returns a recording compute command buffer.
func (d *Device) GetFreeComputeCommandBuffer() (*cmdpool.CommandBuffer, error) {
	return d.getFree(cmdpool.Compute)
}

// GetFreeCopyCommandBuffer returns a recording copy command buffer.
func (d *Device) GetFreeCopyCommandBuffer() (*cmdpool.CommandBuffer, error) {
	return d.getFree(cmdpool.Copy)
}

func (d *Device) getFree(kind cmdpool.QueueKind) (*cmdpool.CommandBuffer, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	return d.pools.GetFree(kind)
}

// ExecuteGraphicsCommandList submits a graphics command buffer.
func (d *Device) ExecuteGraphicsCommandList(cmd *cmdpool.CommandBuffer) error {
	return d.execute(cmdpool.Graphics, cmd)
}

// ExecuteComputeCommandList submits a compute command buffer.
func (d *Device) ExecuteComputeCommandList(cmd *cmdpool.CommandBuffer) error {
	return d.execute(cmdpool.Compute, cmd)
}

// ExecuteCopyCommandList submits a copy command buffer.
func (d *Device) ExecuteCopyCommandList(cmd *cmdpool.CommandBuffer) error {
	return d.execute(cmdpool.Copy, cmd)
}

func (d *Device) execute(kind cmdpool.QueueKind, cmd *cmdpool.CommandBuffer) error {
	if cmd.Kind() != kind {
		return fmt.Errorf("%w: %s buffer on %s queue", ErrWrongQueue, cmd.Kind(), kind)
	}
	if err := d.pools.Execute(cmd); err != nil {
		if errors.Is(err, cmdpool.ErrForeignBuffer) {
			return fmt.Errorf("%w: %w", ErrWrongQueue, err)
		}
		return err
	}
	return nil
}

// Transition queues a state change of t on cmd. sub selects one mip level or
// resstate.AllSubresources.
func (d *Device) Transition(cmd *cmdpool.CommandBuffer, t *Texture, state resstate.State, sub int) int {
	return cmd.Transition(t.Data.Resource, state, sub)
}

// TransitionBuffer queues a state change of b on cmd.
func (d *Device) TransitionBuffer(cmd *cmdpool.CommandBuffer, b *Buffer, state resstate.State) int {
	return cmd.Transition(b.Data.Resource, state, resstate.AllSubresources)
}

// BackBuffer returns the render target of the current back buffer.
func (d *Device) BackBuffer() *RenderTarget {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backBuffers[d.frameIndex]
}

// FrameIndex returns the current back buffer index.
func (d *Device) FrameIndex() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frameIndex
}

// BackBufferCount returns the number of back buffers.
func (d *Device) BackBufferCount() int { return d.cfg.BackBufferCount }

// BeginFrame resets the call data region of the current back buffer.
func (d *Device) BeginFrame() {
	d.callData.reset(d.FrameIndex())
}

// ExecuteGraphicsCommandListAndFlip finishes the frame recorded on cmd: the
// back buffer is copied to the surface when one exists, cmd is submitted,
// the surface is presented, retired descriptors and objects are released
// and the back buffer index advances.
func (d *Device) ExecuteGraphicsCommandListAndFlip(cmd *cmdpool.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	back := d.backBuffers[d.frameIndex]
	color := &back.Data.Colors[0]

	var acquired *hal.AcquiredSurfaceTexture
	if d.surface != nil {
		cmd.Transition(color.Resource, resstate.CopySource, resstate.AllSubresources)
		st, err := d.surface.AcquireTexture(nil)
		if err != nil {
			cmd.Transition(color.Resource, resstate.Present, resstate.AllSubresources)
			slogger().Warn("device: acquire surface texture failed", "err", err)
		} else {
			acquired = st
			cmd.Encoder().CopyTextureToTexture(color.Texture, st.Texture, []hal.TextureCopy{{
				SrcBase: hal.ImageCopyTexture{Texture: color.Texture, Aspect: gputypes.TextureAspectAll},
				DstBase: hal.ImageCopyTexture{Texture: st.Texture, Aspect: gputypes.TextureAspectAll},
				Size:    hal.Extent3D{Width: back.Data.Width, Height: back.Data.Height, DepthOrArrayLayers: 1},
			}})
		}
	}
	cmd.Transition(color.Resource, resstate.Present, resstate.AllSubresources)

	if err := d.execute(cmdpool.Graphics, cmd); err != nil {
		if acquired != nil {
			d.surface.DiscardTexture(acquired.Texture)
		}
		return err
	}
	var presentErr error
	if acquired != nil {
		if err := d.queue.Present(d.surface, acquired.Texture, nil); err != nil {
			presentErr = fmt.Errorf("device: present: %w", err)
			slogger().Warn("device: present failed", "frame", d.frames, "err", err)
		} else if acquired.Suboptimal {
			slogger().Debug("device: surface suboptimal", "width", d.width, "height", d.height)
		}
	}
	// The submission happened, so the frame retires even when present fails.
	d.processDeferredLocked()
	d.frameIndex = (d.frameIndex + 1) % len(d.backBuffers)
	d.frames++
	return presentErr
}

// Flush blocks until every submitted command buffer has completed, then
// releases everything that was waiting on them.
func (d *Device) Flush() {
	d.pools.Flush()
	d.processDeferred()
}

// ProcessDeferred releases descriptors and objects whose submissions have
// completed. It returns the number of objects and slots released.
func (d *Device) ProcessDeferred() int {
	return d.processDeferred()
}

func (d *Device) processDeferred() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.processDeferredLocked()
}

// processDeferredLocked reclaims completed batches. Objects freed while a
// command buffer is still recording may be referenced by it, so their batch
// stays open until no buffer is recording and is then sealed with the last
// submission index.
func (d *Device) processDeferredLocked() int {
	submitted, completed := d.pools.LastSubmitted(), d.pools.Completed()
	seal := d.pools.Recording() == 0
	n := 0
	for _, h := range d.heaps() {
		if seal {
			h.Seal(submitted)
		}
		n += h.Reclaim(completed)
	}
	if seal {
		d.release.Seal(submitted)
	}
	n += d.release.Reclaim(completed)
	return n
}
