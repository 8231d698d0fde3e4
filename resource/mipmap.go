package resource

import (
	"fmt"

	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/internal/resstate"
	"github.com/gogpu/g3d/shaders"
	"github.com/gogpu/gputypes"
)

// MipGroupSize is the workgroup edge of the mip generation shaders.
const MipGroupSize = 8

// MipPassLabel labels the compute passes of mip generation.
const MipPassLabel = "mipgen"

// MipDispatch is one step of a mip chain: Src is read, Dst is written with
// X×Y workgroups per layer.
type MipDispatch struct {
	Src, Dst uint32
	X, Y     uint32
}

// MipDispatches returns the serial dispatch plan for a w×h texture with
// mips levels: one step per level after the first.
func MipDispatches(w, h, mips uint32) []MipDispatch {
	if mips < 2 {
		return nil
	}
	out := make([]MipDispatch, 0, mips-1)
	for n := uint32(0); n+1 < mips; n++ {
		dw, dh := device.MipSize(w, h, n+1)
		out = append(out, MipDispatch{
			Src: n,
			Dst: n + 1,
			X:   (dw + MipGroupSize - 1) / MipGroupSize,
			Y:   (dh + MipGroupSize - 1) / MipGroupSize,
		})
	}
	return out
}

type mipKey struct {
	array  bool
	format gputypes.TextureFormat
}

// mipPipeline returns the box filter pipeline for the texture's format,
// the array variant for cube maps.
func (m *Manager) mipPipeline(tex *device.Texture) (*device.ComputePipeline, error) {
	key := mipKey{array: tex.Desc.Cube, format: tex.Desc.Format}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if p, ok := m.mipgen[key]; ok {
		return p, nil
	}
	name := device.StorageFormatName(key.format)
	if name == "" {
		return nil, fmt.Errorf("%w: %q format %s", ErrNotMipmappable, tex.Desc.Label, key.format)
	}
	path, dim := shaders.MipGen, gputypes.TextureViewDimension2D
	if key.array {
		path, dim = shaders.MipGenArray, gputypes.TextureViewDimension2DArray
	}
	p, err := m.dev.CreateComputePipeline(device.ComputePipelineDesc{
		Label:   "mipgen " + name,
		Shader:  path,
		Defines: []device.Define{{Name: "FORMAT", Value: name}},
		Bindings: []device.Binding{
			{Name: "src_mip", Kind: device.BindUnfilterableTexture, ViewDimension: dim},
			{Name: "dst_mip", Kind: device.BindStorageTexture, ViewDimension: dim, Format: key.format},
		},
	})
	if err != nil {
		return nil, err
	}
	m.mipgen[key] = p
	return p, nil
}

// MipMapTexture fills mips 1..n-1 of tex from mip 0 with a 2×2 box filter.
// Each level is a compute pass reading level N as a shader resource and
// writing level N+1 as unordered access; every layer of a cube is done in
// the same dispatch. The work is executed and flushed before returning, and
// the whole texture is left in the ShaderResource state.
func (m *Manager) MipMapTexture(tex *device.Texture) error {
	mips := tex.Data.MipLevels
	if mips < 2 {
		return nil
	}
	if len(tex.Data.MipSRVs) != int(mips) || len(tex.Data.MipUAVs) != int(mips) {
		return fmt.Errorf("%w: %q", ErrNotMipmappable, tex.Desc.Label)
	}
	p, err := m.mipPipeline(tex)
	if err != nil {
		return err
	}

	cmd, err := m.dev.GetFreeComputeCommandBuffer()
	if err != nil {
		return err
	}
	steps := MipDispatches(tex.Data.Width, tex.Data.Height, mips)
	for _, s := range steps {
		m.dev.Transition(cmd, tex, resstate.ShaderResource, int(s.Src))
		m.dev.Transition(cmd, tex, resstate.UnorderedAccess, int(s.Dst))
		bg, err := m.dev.BindGroup(p, 0, tex.Data.MipSRVs[s.Src], tex.Data.MipUAVs[s.Dst])
		if err != nil {
			return fmt.Errorf("resource: mipmap %q level %d: %w", tex.Desc.Label, s.Dst, err)
		}
		pass := cmd.BeginComputePass(MipPassLabel)
		pass.SetPipeline(p.Data.Pipeline)
		pass.SetBindGroup(0, bg, nil)
		pass.Dispatch(s.X, s.Y, tex.Data.Layers)
		pass.End()
	}
	m.dev.Transition(cmd, tex, resstate.ShaderResource, resstate.AllSubresources)
	if err := m.dev.ExecuteComputeCommandList(cmd); err != nil {
		return err
	}
	m.dev.Flush()

	m.mu.Lock()
	m.mipDispatch += len(steps)
	m.mu.Unlock()
	slogger().Debug("resource: mip chain generated", "texture", tex.Desc.Label, "mips", mips, "layers", tex.Data.Layers)
	return nil
}

// MipDispatchCount returns the number of mip generation dispatches issued.
func (m *Manager) MipDispatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mipDispatch
}
