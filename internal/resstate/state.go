// Package resstate tracks the hardware usage state of GPU resources and
// turns state changes into HAL barriers.
//
// A Resource remembers the state of the whole resource and of each mip level.
// Tracker.Transition compares the requested state against the tracked one and
// queues a barrier only on a real change, so binding the same resource the
// same way many times in a row costs nothing. Queued barriers are recorded
// onto a command encoder with Flush.
package resstate

import (
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// State is a set of usage flags.
type State uint32

// Resource states.
const (
	Common State = 0

	VertexAndConstantBuffer State = 1 << iota
	IndexBuffer
	RenderTarget
	UnorderedAccess
	DepthWrite
	DepthRead
	NonPixelShaderResource
	PixelShaderResource
	CopyDest
	CopySource
	Present
	AccelerationStructure

	// ShaderResource is readable from every shader stage.
	ShaderResource = NonPixelShaderResource | PixelShaderResource
)

var stateNames = []struct {
	s    State
	name string
}{
	{VertexAndConstantBuffer, "VertexAndConstantBuffer"},
	{IndexBuffer, "IndexBuffer"},
	{RenderTarget, "RenderTarget"},
	{UnorderedAccess, "UnorderedAccess"},
	{DepthWrite, "DepthWrite"},
	{DepthRead, "DepthRead"},
	{NonPixelShaderResource, "NonPixelShaderResource"},
	{PixelShaderResource, "PixelShaderResource"},
	{CopyDest, "CopyDest"},
	{CopySource, "CopySource"},
	{Present, "Present"},
	{AccelerationStructure, "AccelerationStructure"},
}

// String returns the flags joined by '|'.
func (s State) String() string {
	if s == Common {
		return "Common"
	}
	var parts []string
	for _, n := range stateNames {
		if s&n.s != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// TextureUsage maps s to the WebGPU texture usage used in barriers.
// Present maps to CopySrc because presentation copies the back buffer into
// the surface texture.
func (s State) TextureUsage() gputypes.TextureUsage {
	var u gputypes.TextureUsage
	if s&(RenderTarget|DepthWrite) != 0 {
		u |= gputypes.TextureUsageRenderAttachment
	}
	if s&(ShaderResource|DepthRead) != 0 {
		u |= gputypes.TextureUsageTextureBinding
	}
	if s&UnorderedAccess != 0 {
		u |= gputypes.TextureUsageStorageBinding
	}
	if s&CopyDest != 0 {
		u |= gputypes.TextureUsageCopyDst
	}
	if s&(CopySource|Present) != 0 {
		u |= gputypes.TextureUsageCopySrc
	}
	return u
}

// BufferUsage maps s to the WebGPU buffer usage used in barriers.
func (s State) BufferUsage() gputypes.BufferUsage {
	var u gputypes.BufferUsage
	if s&VertexAndConstantBuffer != 0 {
		u |= gputypes.BufferUsageVertex | gputypes.BufferUsageUniform
	}
	if s&IndexBuffer != 0 {
		u |= gputypes.BufferUsageIndex
	}
	if s&(UnorderedAccess|ShaderResource|AccelerationStructure) != 0 {
		u |= gputypes.BufferUsageStorage
	}
	if s&CopyDest != 0 {
		u |= gputypes.BufferUsageCopyDst
	}
	if s&CopySource != 0 {
		u |= gputypes.BufferUsageCopySrc
	}
	return u
}

// AllSubresources selects the whole resource in Transition.
const AllSubresources = -1

// Resource is the tracked state of one native texture or buffer.
type Resource struct {
	label   string
	texture hal.Texture
	buffer  hal.Buffer
	layers  uint32
	current State
	subs    []State
}

// NewTextureResource tracks a texture with mips levels and layers array
// layers, all starting in initial.
func NewTextureResource(label string, tex hal.Texture, mips, layers uint32, initial State) *Resource {
	if mips == 0 {
		mips = 1
	}
	if layers == 0 {
		layers = 1
	}
	r := &Resource{label: label, texture: tex, layers: layers, current: initial, subs: make([]State, mips)}
	for i := range r.subs {
		r.subs[i] = initial
	}
	return r
}

// NewBufferResource tracks a buffer starting in initial.
func NewBufferResource(label string, buf hal.Buffer, initial State) *Resource {
	return &Resource{label: label, buffer: buf, layers: 1, current: initial, subs: []State{initial}}
}

// Label returns the debug label.
func (r *Resource) Label() string { return r.label }

// State returns the whole-resource state.
func (r *Resource) State() State { return r.current }

// SubresourceCount returns the number of tracked mip levels.
func (r *Resource) SubresourceCount() int { return len(r.subs) }

// SubresourceState returns the tracked state of mip level i.
func (r *Resource) SubresourceState(i int) State { return r.subs[i] }

// IsTexture reports whether r wraps a texture.
func (r *Resource) IsTexture() bool { return r.texture != nil }

// Texture returns the wrapped texture, nil for buffers.
func (r *Resource) Texture() hal.Texture { return r.texture }

// Buffer returns the wrapped buffer, nil for textures.
func (r *Resource) Buffer() hal.Buffer { return r.buffer }

// Rebind swaps the native texture after recreation and resets all tracked
// states to initial.
func (r *Resource) Rebind(tex hal.Texture, initial State) {
	r.texture = tex
	r.current = initial
	for i := range r.subs {
		r.subs[i] = initial
	}
}
