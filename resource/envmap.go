package resource

import (
	"bytes"
	"fmt"

	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/internal/descriptor"
	"github.com/gogpu/g3d/internal/hdr"
	"github.com/gogpu/g3d/internal/resstate"
	"github.com/gogpu/g3d/shaders"
	"github.com/gogpu/gputypes"
)

// Compute pass labels of environment precompute.
const (
	EquirectPassLabel   = "equirect to cube"
	IrradiancePassLabel = "irradiance"
)

// EnvironmentFormat is the texel format of environment and irradiance
// cubes.
const EnvironmentFormat = gputypes.TextureFormatRGBA16Float

// EnvironmentMap is a prefiltered image based lighting source: the
// environment cube with its full mip chain and the diffuse irradiance cube.
type EnvironmentMap struct {
	Name        string
	Environment *device.Texture
	Irradiance  *device.Texture
}

// CreateEnvironmentMap decodes a Radiance HDR equirectangular image and
// precomputes its environment and irradiance cubes.
func (m *Manager) CreateEnvironmentMap(path string) (EnvironmentMapHandle, error) {
	data, err := m.readAsset(path)
	if err != nil {
		slogger().Warn("resource: environment missing, using fallback", "path", path, "err", err)
		return 0, fmt.Errorf("resource: load environment %s: %w", path, err)
	}
	img, err := hdr.Decode(bytes.NewReader(data))
	if err != nil {
		slogger().Warn("resource: environment undecodable, using fallback", "path", path, "err", err)
		return 0, fmt.Errorf("resource: decode environment %s: %w", path, err)
	}
	return m.CreateEnvironmentMapFromImage(img, path)
}

// CreateEnvironmentMapFromImage precomputes the cubes of an equirectangular
// float image:
//
//  1. upload img as an RGBA32F texture;
//  2. project it onto the faces of the environment cube;
//  3. generate the cube's mip chain;
//  4. convolve the cube into the irradiance cube.
//
// All work is flushed before returning.
func (m *Manager) CreateEnvironmentMapFromImage(img *hdr.Image, name string) (EnvironmentMapHandle, error) {
	if img == nil || img.Width <= 0 || img.Height <= 0 || len(img.Pix) != 4*img.Width*img.Height {
		return 0, fmt.Errorf("%w: environment %q", device.ErrInvalidDesc, name)
	}
	equirectPipe, irradiancePipe, err := m.environmentPipelines()
	if err != nil {
		return 0, err
	}

	equirect, err := m.dev.CreateTexture(device.TextureDesc{
		Label:     name + " equirect",
		Width:     uint32(img.Width),  //nolint:gosec // positive, checked above
		Height:    uint32(img.Height), //nolint:gosec // positive, checked above
		Format:    gputypes.TextureFormatRGBA32Float,
		MipLevels: 1,
	})
	if err != nil {
		return 0, err
	}
	defer m.dev.DestroyTexture(equirect)
	if err := m.dev.UploadTexture(equirect, encodeFloats(img.Pix)); err != nil {
		return 0, err
	}

	env, err := m.dev.CreateTexture(device.TextureDesc{
		Label:  name + " environment",
		Width:  m.opts.envSize,
		Height: m.opts.envSize,
		Format: EnvironmentFormat,
		Cube:   true,
		Flags:  device.AllowUnorderedAccess,
	})
	if err != nil {
		return 0, err
	}
	irr, err := m.dev.CreateTexture(device.TextureDesc{
		Label:     name + " irradiance",
		Width:     m.opts.irradianceSize,
		Height:    m.opts.irradianceSize,
		Format:    EnvironmentFormat,
		MipLevels: 1,
		Cube:      true,
		Flags:     device.AllowUnorderedAccess,
	})
	if err != nil {
		m.dev.DestroyTexture(env)
		return 0, err
	}
	fail := func(err error) (EnvironmentMapHandle, error) {
		m.dev.DestroyTexture(env)
		m.dev.DestroyTexture(irr)
		return 0, fmt.Errorf("resource: environment %q: %w", name, err)
	}

	if err := m.cubeDispatch(equirectPipe, EquirectPassLabel, env, equirect,
		equirect.Data.SRV, env.Data.MipUAVs[0]); err != nil {
		return fail(err)
	}
	if err := m.MipMapTexture(env); err != nil {
		return fail(err)
	}
	if err := m.cubeDispatch(irradiancePipe, IrradiancePassLabel, irr, env,
		env.Data.SRV, m.sampler.Data.Handle, irr.Data.MipUAVs[0]); err != nil {
		return fail(err)
	}
	m.dev.Flush()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return fail(err)
	}
	h := m.environments.add(&EnvironmentMap{Name: name, Environment: env, Irradiance: irr})
	slogger().Info("resource: environment map created", "name", name, "handle", h.ID(),
		"source_w", img.Width, "source_h", img.Height, "size", m.opts.envSize, "mips", env.Data.MipLevels)
	return h, nil
}

// cubeDispatch writes mip 0 of every face of dst from src with one compute
// pass and leaves dst readable.
func (m *Manager) cubeDispatch(p *device.ComputePipeline, label string, dst, src *device.Texture,
	handles ...descriptor.Handle,
) error {
	bg, err := m.dev.BindGroup(p, 0, handles...)
	if err != nil {
		return err
	}
	cmd, err := m.dev.GetFreeComputeCommandBuffer()
	if err != nil {
		return err
	}
	m.dev.Transition(cmd, src, resstate.ShaderResource, resstate.AllSubresources)
	m.dev.Transition(cmd, dst, resstate.UnorderedAccess, 0)
	groups := (dst.Data.Width + MipGroupSize - 1) / MipGroupSize
	pass := cmd.BeginComputePass(label)
	pass.SetPipeline(p.Data.Pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(groups, groups, dst.Data.Layers)
	pass.End()
	if dst.Data.MipLevels == 1 {
		m.dev.Transition(cmd, dst, resstate.ShaderResource, resstate.AllSubresources)
	}
	return m.dev.ExecuteComputeCommandList(cmd)
}

func (m *Manager) environmentPipelines() (*device.ComputePipeline, *device.ComputePipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, nil, err
	}
	if m.equirect == nil {
		p, err := m.dev.CreateComputePipeline(device.ComputePipelineDesc{
			Label:  "equirect to cube",
			Shader: shaders.EquirectToCube,
			Bindings: []device.Binding{
				{Name: "equirect", Kind: device.BindUnfilterableTexture},
				{Name: "cube", Kind: device.BindStorageTexture, Format: EnvironmentFormat,
					ViewDimension: gputypes.TextureViewDimension2DArray},
			},
		})
		if err != nil {
			return nil, nil, err
		}
		m.equirect = p
	}
	if m.irradiance == nil {
		p, err := m.dev.CreateComputePipeline(device.ComputePipelineDesc{
			Label:  "irradiance",
			Shader: shaders.Irradiance,
			Bindings: []device.Binding{
				{Name: "env", Kind: device.BindTexture, ViewDimension: gputypes.TextureViewDimensionCube},
				{Name: "env_smp", Kind: device.BindSampler},
				{Name: "irradiance", Kind: device.BindStorageTexture, Format: EnvironmentFormat,
					ViewDimension: gputypes.TextureViewDimension2DArray},
			},
		})
		if err != nil {
			return nil, nil, err
		}
		m.irradiance = p
	}
	return m.equirect, m.irradiance, nil
}

// GetEnvironmentMap returns the environment map for h. The zero handle
// selects the black fallback.
func (m *Manager) GetEnvironmentMap(h EnvironmentMapHandle) (*EnvironmentMap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !h.Valid() {
		h = m.fallbackEnv
	}
	return m.environments.lookup(h)
}

// EnvironmentOrFallback returns the environment map for h, or the black
// fallback. An unknown non-zero handle is logged once.
func (m *Manager) EnvironmentOrFallback(h EnvironmentMapHandle) *EnvironmentMap {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.environments.orFallback(h, m.fallbackEnv)
}

// FallbackEnvironment returns the handle of the black environment.
func (m *Manager) FallbackEnvironment() EnvironmentMapHandle { return m.fallbackEnv }

func encodeFloats(pix []float32) []byte {
	out := make([]byte, 4*len(pix))
	for i, f := range pix {
		putFloat(out[4*i:], f)
	}
	return out
}
