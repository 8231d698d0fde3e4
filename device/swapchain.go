package device

import "fmt"

// Resize resizes the back buffers, the surface and every window-tracked
// render target. Sizes below 1 are clamped to 1. It waits for the GPU
// first, so no in-flight work references the old textures. On error the
// device keeps its previous size and targets already rebuilt are rebuilt
// at that size.
func (d *Device) Resize(width, height int) error {
	if d.closed.Load() {
		return ErrClosed
	}
	w := uint32(max(width, 1))  //nolint:gosec // clamped positive
	h := uint32(max(height, 1)) //nolint:gosec // clamped positive

	d.pools.Flush()

	d.mu.Lock()
	defer d.mu.Unlock()
	if w == d.width && h == d.height {
		return nil
	}
	oldW, oldH := d.width, d.height
	d.width, d.height = w, h

	// resized lists the targets already rebuilt, so a failure can put them
	// back to the old size.
	var resized []*RenderTarget
	fail := func(err error) error {
		d.width, d.height = oldW, oldH
		for _, rt := range resized {
			bw, bh := d.targetSize(&rt.Desc)
			if rt.Desc.Flags&TrackWindowSize == 0 {
				bw, bh = oldW, oldH
			}
			if rerr := d.recreateRenderTarget(rt, bw, bh); rerr != nil {
				slogger().Warn("device: resize rollback", "target", rt.Desc.Label, "err", rerr)
			}
		}
		if serr := d.configureSurface(); serr != nil {
			slogger().Warn("device: resize rollback", "err", serr)
		}
		return err
	}

	for _, bb := range d.backBuffers {
		if err := d.recreateRenderTarget(bb, w, h); err != nil {
			return fail(fmt.Errorf("device: resize %s: %w", bb.Desc.Label, err))
		}
		resized = append(resized, bb)
	}
	if err := d.configureSurface(); err != nil {
		return fail(err)
	}
	for _, rt := range d.tracked {
		tw, th := d.targetSize(&rt.Desc)
		if err := d.recreateRenderTarget(rt, tw, th); err != nil {
			return fail(fmt.Errorf("device: resize %s: %w", rt.Desc.Label, err))
		}
		resized = append(resized, rt)
	}
	released := d.processDeferredLocked()
	slogger().Info("device: resized", "width", w, "height", h, "tracked", len(d.tracked), "released", released)
	return nil
}
