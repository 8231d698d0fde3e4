package device

import (
	"testing"

	"github.com/gogpu/g3d/internal/descriptor"
	"github.com/gogpu/g3d/internal/haltest"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quadPipeline(t *testing.T, d *Device) *GraphicsPipeline {
	t.Helper()
	p, err := d.CreateGraphicsPipeline(GraphicsPipelineDesc{
		Label:               "quad",
		Shader:              "test.wgsl",
		RenderTargetFormats: []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm},
		Bindings: []Binding{
			{Name: "albedo", Kind: BindTexture},
			{Name: "samp", Kind: BindSampler},
		},
		DynamicCallData: DynamicCallData{Size: 64},
	})
	require.NoError(t, err)
	return p
}

func TestGraphicsPipelineLayout(t *testing.T) {
	d, _, _ := newTestDevice(t)
	p := quadPipeline(t, d)
	l := p.BindingLayout()

	assert.Equal(t, []string{"albedo", "samp"}, l.Names())
	assert.Equal(t, 2, l.GroupCount())
	s, err := l.Slot("samp")
	require.NoError(t, err)
	assert.Equal(t, Slot{Group: 0, Binding: 1}, s)
	_, err = l.Slot("normal")
	assert.ErrorIs(t, err, ErrUnknownBinding)

	g, ok := l.CallDataGroup()
	assert.True(t, ok)
	assert.Equal(t, uint32(1), g)
	assert.NotNil(t, l.PipelineLayout())
	assert.Equal(t, DefaultVertexEntry, p.Desc.VertexEntry)
	assert.Equal(t, gputypes.CompareFunctionLessEqual, p.Desc.DepthCompare)
	assert.Equal(t, 1, d.LiveObjects())

	d.DestroyPipeline(p)
	assert.Zero(t, d.LiveObjects())
}

func TestPipelineValidation(t *testing.T) {
	d, _, _ := newTestDevice(t)

	_, err := d.CreateGraphicsPipeline(GraphicsPipelineDesc{Label: "noshader"})
	assert.ErrorIs(t, err, ErrInvalidDesc)

	_, err = d.CreateGraphicsPipeline(GraphicsPipelineDesc{
		Label:               "missing",
		Shader:              "test.wgsl",
		FragmentEntry:       "fs_missing",
		RenderTargetFormats: []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm},
	})
	assert.ErrorIs(t, err, ErrMissingEntryPoint)

	_, err = d.CreateGraphicsPipeline(GraphicsPipelineDesc{
		Label:       "depth only",
		Shader:      "test.wgsl",
		DepthFormat: gputypes.TextureFormatDepth32Float,
		DepthTest:   true,
		DepthWrite:  true,
	})
	require.NoError(t, err, "depth-only pipelines skip the fragment entry")

	_, err = d.CreateGraphicsPipeline(GraphicsPipelineDesc{
		Label:               "dup",
		Shader:              "test.wgsl",
		RenderTargetFormats: []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm},
		Bindings:            []Binding{{Name: "a", Kind: BindTexture}, {Name: "a", Kind: BindSampler}},
	})
	assert.ErrorIs(t, err, ErrInvalidDesc)

	_, err = d.CreateComputePipeline(ComputePipelineDesc{
		Label: "big", Shader: "test.wgsl",
		DynamicCallData: DynamicCallData{Size: DynamicCallSlotSize + 4},
	})
	assert.ErrorIs(t, err, ErrInvalidDesc)

	_, err = d.CreateComputePipeline(ComputePipelineDesc{
		Label: "storage", Shader: "test.wgsl",
		Bindings: []Binding{{Name: "dst", Kind: BindStorageTexture, Format: gputypes.TextureFormatDepth32Float}},
	})
	assert.ErrorIs(t, err, ErrInvalidDesc)

	_, err = d.CreateComputePipeline(ComputePipelineDesc{Label: "nofile", Shader: "missing.wgsl"})
	assert.Error(t, err)
}

func TestBindGroupCacheAndPurge(t *testing.T) {
	d, rec, _ := newTestDevice(t)
	p := quadPipeline(t, d)
	tex, err := d.CreateTexture(TextureDesc{Label: "albedo", Width: 8, Height: 8, Format: gputypes.TextureFormatRGBA8Unorm})
	require.NoError(t, err)
	samp, err := d.CreateSampler(SamplerDesc{Label: "linear"})
	require.NoError(t, err)

	a, err := d.BindGroup(p, 0, tex.Data.SRV, samp.Data.Handle)
	require.NoError(t, err)
	b, err := d.BindGroup(p, 0, tex.Data.SRV, samp.Data.Handle)
	require.NoError(t, err)
	assert.Same(t, a.(*haltest.BindGroup), b.(*haltest.BindGroup))
	require.Len(t, rec.BindGroups, 1)
	views := rec.BindGroups[0].Views(rec)
	require.Len(t, views, 1)
	assert.Equal(t, "albedo srv", views[0].Desc.Label)

	group, c, err := d.BindGroupByName(p, map[string]descriptor.Handle{"albedo": tex.Data.SRV, "samp": samp.Data.Handle})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), group)
	assert.Same(t, a.(*haltest.BindGroup), c.(*haltest.BindGroup))
	assert.Equal(t, uint64(2), d.Stats().BindGroups.Hits)

	d.DestroyTexture(tex)
	assert.Zero(t, d.Stats().BindGroups.Len)
	d.Flush()
	_, _, destroyed, _ := rec.Counts()
	assert.Equal(t, 1, destroyed)
}

func TestBindGroupMismatch(t *testing.T) {
	d, _, _ := newTestDevice(t)
	p := quadPipeline(t, d)
	samp, err := d.CreateSampler(SamplerDesc{Label: "linear"})
	require.NoError(t, err)

	_, err = d.BindGroup(p, 0, samp.Data.Handle)
	assert.ErrorIs(t, err, ErrBindingMismatch)
	_, err = d.BindGroup(p, 0, samp.Data.Handle, samp.Data.Handle)
	assert.ErrorIs(t, err, ErrBindingMismatch, "a sampler in a texture slot")
	_, err = d.BindGroup(p, 5)
	assert.ErrorIs(t, err, ErrUnknownBinding)
	_, _, err = d.BindGroupByName(p, map[string]descriptor.Handle{"nope": samp.Data.Handle})
	assert.ErrorIs(t, err, ErrUnknownBinding)
}

func TestCallDataRing(t *testing.T) {
	d, _, _ := newTestDevice(t)
	p := quadPipeline(t, d)

	group, bg, err := d.CallDataBindGroup(p)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), group)
	assert.NotNil(t, bg)

	for i := uint32(0); i < 4; i++ {
		off, err := d.PushCallData(make([]byte, 64))
		require.NoError(t, err)
		assert.Equal(t, i*DynamicCallSlotSize, off)
	}
	_, err = d.PushCallData([]byte{1})
	assert.ErrorIs(t, err, ErrCallDataFull)
	assert.Equal(t, uint32(4), d.Stats().CallDataUsed)

	_, err = d.PushCallData(make([]byte, DynamicCallSlotSize+1))
	assert.ErrorIs(t, err, ErrInvalidDesc)

	cmd, err := d.GetFreeGraphicsCommandBuffer()
	require.NoError(t, err)
	require.NoError(t, d.ExecuteGraphicsCommandListAndFlip(cmd))
	d.BeginFrame()
	off, err := d.PushCallData([]byte{1})
	require.NoError(t, err)
	assert.Equal(t, uint32(4*DynamicCallSlotSize), off, "second frame region")
}

func TestCallDataRequiresDeclaration(t *testing.T) {
	d, _, _ := newTestDevice(t)
	p, err := d.CreateComputePipeline(ComputePipelineDesc{Label: "plain", Shader: "test.wgsl"})
	require.NoError(t, err)
	_, _, err = d.CallDataBindGroup(p)
	assert.ErrorIs(t, err, ErrNoCallData)
}
