package resource

import (
	"github.com/gogpu/g3d/device"
	"github.com/gogpu/gputypes"
)

// Checkerboard fallback layout.
const (
	CheckerSize = 64
	CheckerTile = 8
)

// checkerboard returns magenta and black CheckerTile-sized squares as
// tightly packed RGBA8.
func checkerboard() []byte {
	pix := make([]byte, CheckerSize*CheckerSize*4)
	for y := 0; y < CheckerSize; y++ {
		for x := 0; x < CheckerSize; x++ {
			i := 4 * (y*CheckerSize + x)
			if (x/CheckerTile+y/CheckerTile)%2 == 0 {
				pix[i], pix[i+2] = 0xFF, 0xFF
			}
			pix[i+3] = 0xFF
		}
	}
	return pix
}

func (m *Manager) createFallbacks() error {
	var err error
	m.fallbackTexture, err = m.CreateTexture(device.TextureDesc{
		Label:     "fallback checkerboard",
		Width:     CheckerSize,
		Height:    CheckerSize,
		Format:    gputypes.TextureFormatRGBA8Unorm,
		MipLevels: 1,
		Flags:     device.SRGB,
	}, checkerboard())
	if err != nil {
		return err
	}
	m.whiteTexture, err = m.CreateTexture(device.TextureDesc{
		Label:     "white",
		Width:     1,
		Height:    1,
		Format:    gputypes.TextureFormatRGBA8Unorm,
		MipLevels: 1,
	}, []byte{0xFF, 0xFF, 0xFF, 0xFF})
	if err != nil {
		return err
	}
	m.fallbackMesh, err = m.CreateMesh(CubeMeshData())
	if err != nil {
		return err
	}
	m.fallbackMaterial, err = m.CreateMaterial(MaterialDesc{Name: "fallback", Roughness: 1})
	if err != nil {
		return err
	}

	env, err := m.blackCube("fallback environment")
	if err != nil {
		return err
	}
	irr, err := m.blackCube("fallback irradiance")
	if err != nil {
		m.dev.DestroyTexture(env)
		return err
	}
	m.mu.Lock()
	m.fallbackEnv = m.environments.add(&EnvironmentMap{Name: "fallback", Environment: env, Irradiance: irr})
	m.mu.Unlock()
	return nil
}

func (m *Manager) blackCube(label string) (*device.Texture, error) {
	tex, err := m.dev.CreateTexture(device.TextureDesc{
		Label:     label,
		Width:     1,
		Height:    1,
		Format:    EnvironmentFormat,
		MipLevels: 1,
		Cube:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := m.dev.UploadTexture(tex, make([]byte, 6*device.BytesPerPixel(EnvironmentFormat))); err != nil {
		m.dev.DestroyTexture(tex)
		return nil, err
	}
	return tex, nil
}
