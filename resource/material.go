package resource

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/g3d/device"
)

// MaterialConstantsSize is the size of the packed material constants.
const MaterialConstantsSize = 32

// MaterialDesc describes a surface. A zero BaseColor selects opaque white
// and a zero BaseColorTexture the white texture.
type MaterialDesc struct {
	Name             string
	BaseColor        mgl32.Vec4
	Metallic         float32
	Roughness        float32
	Emissive         float32
	BaseColorTexture TextureHandle
}

// Encode packs the constants: base color, then metallic, roughness and
// emissive strength.
func (d MaterialDesc) Encode() []byte {
	out := make([]byte, MaterialConstantsSize)
	for i, f := range d.BaseColor {
		putFloat(out[4*i:], f)
	}
	putFloat(out[16:], d.Metallic)
	putFloat(out[20:], d.Roughness)
	putFloat(out[24:], d.Emissive)
	return out
}

// Material is a MaterialDesc with its constant buffer.
type Material struct {
	Desc      MaterialDesc
	Constants *device.Buffer
}

// CreateMaterial uploads the material constants.
func (m *Manager) CreateMaterial(desc MaterialDesc) (MaterialHandle, error) {
	if desc.BaseColor == (mgl32.Vec4{}) {
		desc.BaseColor = mgl32.Vec4{1, 1, 1, 1}
	}
	if !desc.BaseColorTexture.Valid() {
		desc.BaseColorTexture = m.whiteTexture
	}
	cb, err := m.dev.CreateConstantBuffer(device.ConstantBufferDesc{Label: desc.Name + " material", Size: MaterialConstantsSize})
	if err != nil {
		return 0, err
	}
	if err := cb.Update(desc.Encode()); err != nil {
		m.dev.DestroyBuffer(cb)
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		m.dev.DestroyBuffer(cb)
		return 0, err
	}
	h := m.materials.add(&Material{Desc: desc, Constants: cb})
	slogger().Debug("resource: material created", "name", desc.Name, "handle", h.ID())
	return h, nil
}

// GetMaterial returns the material for h, or the white fallback.
func (m *Manager) GetMaterial(h MaterialHandle) *Material {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.materials.orFallback(h, m.fallbackMaterial)
}

// FallbackMaterial returns the handle of the white material.
func (m *Manager) FallbackMaterial() MaterialHandle { return m.fallbackMaterial }

// DestroyMaterial releases the material's constants. Its texture is kept.
func (m *Manager) DestroyMaterial(h MaterialHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == m.fallbackMaterial {
		return
	}
	if mat, ok := m.materials.remove(h); ok {
		m.dev.DestroyBuffer(mat.Constants)
	}
}
