package haltest

import (
	"github.com/gogpu/wgpu/hal"
)

// Encoder records the commands issued on a noop command encoder.
type Encoder struct {
	hal.CommandEncoder
	rec *Recorder
}

// BeginEncoding records the label.
func (e *Encoder) BeginEncoding(label string) error {
	e.rec.mu.Lock()
	e.rec.Encodings = append(e.rec.Encodings, label)
	e.rec.mu.Unlock()
	return e.CommandEncoder.BeginEncoding(label)
}

// TransitionTextures copies the barriers; callers reuse the slice.
func (e *Encoder) TransitionTextures(barriers []hal.TextureBarrier) {
	e.rec.mu.Lock()
	e.rec.TextureBarriers = append(e.rec.TextureBarriers, barriers...)
	e.rec.mu.Unlock()
	e.CommandEncoder.TransitionTextures(barriers)
}

// TransitionBuffers copies the barriers.
func (e *Encoder) TransitionBuffers(barriers []hal.BufferBarrier) {
	e.rec.mu.Lock()
	e.rec.BufferBarriers = append(e.rec.BufferBarriers, barriers...)
	e.rec.mu.Unlock()
	e.CommandEncoder.TransitionBuffers(barriers)
}

// CopyBufferToBuffer counts the copy.
func (e *Encoder) CopyBufferToBuffer(src, dst hal.Buffer, regions []hal.BufferCopy) {
	e.rec.mu.Lock()
	e.rec.BufferCopies++
	e.rec.mu.Unlock()
	e.CommandEncoder.CopyBufferToBuffer(src, dst, regions)
}

// CopyBufferToTexture counts the copy.
func (e *Encoder) CopyBufferToTexture(src hal.Buffer, dst hal.Texture, regions []hal.BufferTextureCopy) {
	e.rec.mu.Lock()
	e.rec.TextureCopies++
	e.rec.mu.Unlock()
	e.CommandEncoder.CopyBufferToTexture(src, unwrapTexture(dst), regions)
}

// CopyTextureToBuffer counts the copy.
func (e *Encoder) CopyTextureToBuffer(src hal.Texture, dst hal.Buffer, regions []hal.BufferTextureCopy) {
	e.rec.mu.Lock()
	e.rec.TextureCopies++
	e.rec.mu.Unlock()
	e.CommandEncoder.CopyTextureToBuffer(unwrapTexture(src), dst, regions)
}

// CopyTextureToTexture counts the copy.
func (e *Encoder) CopyTextureToTexture(src, dst hal.Texture, regions []hal.TextureCopy) {
	e.rec.mu.Lock()
	e.rec.TextureCopies++
	e.rec.mu.Unlock()
	e.CommandEncoder.CopyTextureToTexture(unwrapTexture(src), unwrapTexture(dst), regions)
}

// BeginRenderPass records the attachments.
func (e *Encoder) BeginRenderPass(desc *hal.RenderPassDescriptor) hal.RenderPassEncoder {
	p := &RenderPass{Label: desc.Label}
	for _, c := range desc.ColorAttachments {
		v, _ := c.View.(*TextureView)
		p.Colors = append(p.Colors, v)
	}
	if desc.DepthStencilAttachment != nil {
		p.Depth, _ = desc.DepthStencilAttachment.View.(*TextureView)
	}
	e.rec.mu.Lock()
	e.rec.RenderPasses = append(e.rec.RenderPasses, p)
	e.rec.mu.Unlock()
	return &renderPass{RenderPassEncoder: e.CommandEncoder.BeginRenderPass(desc), rec: e.rec, pass: p}
}

// BeginComputePass records the pass label.
func (e *Encoder) BeginComputePass(desc *hal.ComputePassDescriptor) hal.ComputePassEncoder {
	label := ""
	if desc != nil {
		label = desc.Label
	}
	e.rec.mu.Lock()
	e.rec.ComputePasses = append(e.rec.ComputePasses, label)
	e.rec.mu.Unlock()
	return &computePass{
		ComputePassEncoder: e.CommandEncoder.BeginComputePass(desc),
		rec:                e.rec,
		label:              label,
		groups:             make(map[uint32]*BindGroup),
	}
}

func unwrapTexture(t hal.Texture) hal.Texture {
	if w, ok := t.(*Texture); ok {
		return w.Texture
	}
	return t
}

type renderPass struct {
	hal.RenderPassEncoder
	rec  *Recorder
	pass *RenderPass
}

func (p *renderPass) SetBindGroup(index uint32, group hal.BindGroup, offsets []uint32) {
	if g, ok := group.(*BindGroup); ok {
		views := g.Views(p.rec)
		p.rec.mu.Lock()
		p.pass.Sampled = append(p.pass.Sampled, views...)
		p.rec.mu.Unlock()
	}
	p.RenderPassEncoder.SetBindGroup(index, group, offsets)
}

func (p *renderPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	p.record(Draw{Pass: p.pass.Label, Vertices: vertexCount, Instances: instanceCount})
	p.RenderPassEncoder.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
}

func (p *renderPass) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	p.record(Draw{Pass: p.pass.Label, Indices: indexCount, Instances: instanceCount, Indexed: true})
	p.RenderPassEncoder.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
}

func (p *renderPass) record(d Draw) {
	p.rec.mu.Lock()
	p.rec.Draws = append(p.rec.Draws, d)
	p.pass.Draws++
	p.rec.mu.Unlock()
}

type computePass struct {
	hal.ComputePassEncoder
	rec    *Recorder
	label  string
	groups map[uint32]*BindGroup
}

func (p *computePass) SetBindGroup(index uint32, group hal.BindGroup, offsets []uint32) {
	if g, ok := group.(*BindGroup); ok {
		p.groups[index] = g
	}
	p.ComputePassEncoder.SetBindGroup(index, group, offsets)
}

func (p *computePass) Dispatch(x, y, z uint32) {
	groups := make(map[uint32]*BindGroup, len(p.groups))
	for k, v := range p.groups {
		groups[k] = v
	}
	p.rec.mu.Lock()
	p.rec.Dispatches = append(p.rec.Dispatches, Dispatch{Pass: p.label, X: x, Y: y, Z: z, BindGroups: groups})
	p.rec.mu.Unlock()
	p.ComputePassEncoder.Dispatch(x, y, z)
}
