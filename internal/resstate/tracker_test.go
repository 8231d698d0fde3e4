package resstate

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureEncoder records barriers passed to it.
type captureEncoder struct {
	hal.CommandEncoder
	textures []hal.TextureBarrier
	buffers  []hal.BufferBarrier
}

func (c *captureEncoder) TransitionTextures(b []hal.TextureBarrier) {
	c.textures = append(c.textures, b...)
}

func (c *captureEncoder) TransitionBuffers(b []hal.BufferBarrier) {
	c.buffers = append(c.buffers, b...)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Common", Common.String())
	assert.Equal(t, "NonPixelShaderResource|PixelShaderResource", ShaderResource.String())
	assert.Equal(t, "RenderTarget", RenderTarget.String())
}

func TestStateUsages(t *testing.T) {
	tests := []struct {
		state State
		want  gputypes.TextureUsage
	}{
		{RenderTarget, gputypes.TextureUsageRenderAttachment},
		{ShaderResource, gputypes.TextureUsageTextureBinding},
		{UnorderedAccess, gputypes.TextureUsageStorageBinding},
		{CopyDest, gputypes.TextureUsageCopyDst},
		{Present, gputypes.TextureUsageCopySrc},
		{Common, 0},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.TextureUsage())
		})
	}
	assert.Equal(t, gputypes.BufferUsageIndex, IndexBuffer.BufferUsage())
}

func TestWholeTransitionStampsSubresources(t *testing.T) {
	r := NewTextureResource("tex", &noop.Texture{}, 5, 1, CopyDest)
	var tr Tracker

	assert.Equal(t, 1, tr.Transition(r, ShaderResource, AllSubresources))
	assert.Equal(t, ShaderResource, r.State())
	for i := 0; i < r.SubresourceCount(); i++ {
		assert.Equal(t, ShaderResource, r.SubresourceState(i), "mip %d", i)
	}

	assert.Equal(t, 0, tr.Transition(r, ShaderResource, AllSubresources), "repeat must be free")
	assert.Equal(t, 1, tr.Pending())
}

func TestSubresourceTransition(t *testing.T) {
	r := NewTextureResource("tex", &noop.Texture{}, 4, 6, ShaderResource)
	var tr Tracker

	assert.Equal(t, 1, tr.Transition(r, UnorderedAccess, 2))
	assert.Equal(t, 0, tr.Transition(r, UnorderedAccess, 2))
	assert.Equal(t, UnorderedAccess, r.SubresourceState(2))
	assert.Equal(t, ShaderResource, r.SubresourceState(1))
	assert.Equal(t, ShaderResource, r.State(), "subresource transitions leave the resource state alone")

	enc := &captureEncoder{}
	tr.Flush(enc)
	require.Len(t, enc.textures, 1)
	b := enc.textures[0]
	assert.Equal(t, uint32(2), b.Range.BaseMipLevel)
	assert.Equal(t, uint32(1), b.Range.MipLevelCount)
	assert.Equal(t, uint32(6), b.Range.ArrayLayerCount)
	assert.Equal(t, gputypes.TextureUsageTextureBinding, b.Usage.OldUsage)
	assert.Equal(t, gputypes.TextureUsageStorageBinding, b.Usage.NewUsage)
	assert.Equal(t, 0, tr.Pending())
}

func TestWholeTransitionReconcilesDivergedMips(t *testing.T) {
	r := NewTextureResource("tex", &noop.Texture{}, 4, 1, ShaderResource)
	var tr Tracker
	tr.Transition(r, UnorderedAccess, 1)
	tr.Transition(r, UnorderedAccess, 3)
	tr.Discard()

	// Two reconciling barriers plus one whole-resource barrier.
	assert.Equal(t, 3, tr.Transition(r, RenderTarget, AllSubresources))
	enc := &captureEncoder{}
	tr.Flush(enc)
	require.Len(t, enc.textures, 3)

	assert.Equal(t, uint32(1), enc.textures[0].Range.BaseMipLevel)
	assert.Equal(t, gputypes.TextureUsageStorageBinding, enc.textures[0].Usage.OldUsage)
	assert.Equal(t, gputypes.TextureUsageTextureBinding, enc.textures[0].Usage.NewUsage)

	whole := enc.textures[2]
	assert.Equal(t, uint32(0), whole.Range.BaseMipLevel)
	assert.Equal(t, uint32(4), whole.Range.MipLevelCount)
	assert.Equal(t, gputypes.TextureUsageRenderAttachment, whole.Usage.NewUsage)

	for i := 0; i < 4; i++ {
		assert.Equal(t, RenderTarget, r.SubresourceState(i))
	}
	assert.Equal(t, 0, tr.Transition(r, RenderTarget, AllSubresources))
}

func TestDivergedMipsBackToResourceState(t *testing.T) {
	r := NewTextureResource("tex", &noop.Texture{}, 3, 1, ShaderResource)
	var tr Tracker
	tr.Transition(r, UnorderedAccess, 2)

	// Only the diverged mip needs a barrier.
	assert.Equal(t, 1, tr.Transition(r, ShaderResource, AllSubresources))
	assert.Equal(t, ShaderResource, r.SubresourceState(2))
}

func TestBufferTransition(t *testing.T) {
	r := NewBufferResource("vb", &noop.Buffer{}, CopyDest)
	var tr Tracker

	assert.Equal(t, 1, tr.Transition(r, VertexAndConstantBuffer, AllSubresources))
	assert.Equal(t, 0, tr.Transition(r, VertexAndConstantBuffer, AllSubresources))

	enc := &captureEncoder{}
	tr.Flush(enc)
	require.Len(t, enc.buffers, 1)
	assert.Equal(t, gputypes.BufferUsageCopyDst, enc.buffers[0].Usage.OldUsage)
	assert.Equal(t, uint64(1), tr.Emitted())
}

func TestRebind(t *testing.T) {
	r := NewTextureResource("rt", &noop.Texture{}, 1, 1, Common)
	var tr Tracker
	tr.Transition(r, RenderTarget, AllSubresources)

	r.Rebind(&noop.Texture{}, Common)
	assert.Equal(t, Common, r.State())
	assert.Equal(t, 1, tr.Transition(r, RenderTarget, AllSubresources))
	assert.Nil(t, r.Buffer())
	assert.True(t, r.IsTexture())
}

func TestOutOfRangeSubresourceTransitionsWhole(t *testing.T) {
	var logs bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { SetLogger(nil) })

	r := NewTextureResource("tex", &noop.Texture{}, 3, 1, Common)
	var tr Tracker
	for _, sub := range []int{3, 99, -2} {
		assert.NotPanics(t, func() { tr.Transition(r, ShaderResource, sub) })
	}
	assert.Equal(t, ShaderResource, r.State())
	for i := range r.SubresourceCount() {
		assert.Equal(t, ShaderResource, r.SubresourceState(i))
	}

	enc := &captureEncoder{}
	tr.Flush(enc)
	require.Len(t, enc.textures, 1, "later out-of-range transitions to the same state are no-ops")
	assert.Equal(t, uint32(3), enc.textures[0].Range.MipLevelCount)
	assert.Contains(t, logs.String(), "subresource out of range")
	assert.Contains(t, logs.String(), "sub=99")
}
