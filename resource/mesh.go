package resource

import (
	"encoding/binary"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/g3d/device"
	"github.com/gogpu/gputypes"
)

// VertexStride is the size of one packed Vertex.
const VertexStride = 32

// Vertex is the vertex format of every mesh.
type Vertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	UV       mgl32.Vec2
}

// MeshData is an indexed triangle list in CPU memory.
type MeshData struct {
	Name     string
	Vertices []Vertex
	Indices  []uint32
}

// Mesh is an uploaded MeshData. The positions and indices are kept for
// acceleration structure builds.
type Mesh struct {
	Name         string
	VertexBuffer *device.Buffer
	IndexBuffer  *device.Buffer
	IndexCount   uint32
	Bounds       device.AABB

	positions []mgl32.Vec3
	indices   []uint32
	blas      *device.BLAS
}

// VertexLayout returns the full vertex layout: position, normal and uv at
// locations 0, 1 and 2.
func VertexLayout() []gputypes.VertexBufferLayout {
	return []gputypes.VertexBufferLayout{{
		ArrayStride: VertexStride,
		StepMode:    gputypes.VertexStepModeVertex,
		Attributes: []gputypes.VertexAttribute{
			{Format: gputypes.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
			{Format: gputypes.VertexFormatFloat32x3, Offset: 12, ShaderLocation: 1},
			{Format: gputypes.VertexFormatFloat32x2, Offset: 24, ShaderLocation: 2},
		},
	}}
}

// PositionLayout reads only the position of the same vertex buffers.
func PositionLayout() []gputypes.VertexBufferLayout {
	l := VertexLayout()
	l[0].Attributes = l[0].Attributes[:1]
	return l
}

// EncodeVertices packs vertices in the VertexLayout format.
func EncodeVertices(vs []Vertex) []byte {
	out := make([]byte, len(vs)*VertexStride)
	for i, v := range vs {
		p := out[i*VertexStride:]
		for k := 0; k < 3; k++ {
			putFloat(p[4*k:], v.Position[k])
			putFloat(p[12+4*k:], v.Normal[k])
		}
		putFloat(p[24:], v.UV[0])
		putFloat(p[28:], v.UV[1])
	}
	return out
}

// EncodeIndices packs 32-bit indices.
func EncodeIndices(idx []uint32) []byte {
	out := make([]byte, 4*len(idx))
	for i, v := range idx {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return out
}

func putFloat(p []byte, f float32) {
	binary.LittleEndian.PutUint32(p, math32.Float32bits(f))
}

func validateMesh(data MeshData) error {
	if len(data.Vertices) == 0 || len(data.Indices) == 0 || len(data.Indices)%3 != 0 {
		return fmt.Errorf("%w: mesh %q has %d vertices and %d indices",
			device.ErrInvalidDesc, data.Name, len(data.Vertices), len(data.Indices))
	}
	for _, i := range data.Indices {
		if int(i) >= len(data.Vertices) {
			return fmt.Errorf("%w: mesh %q index %d out of range", device.ErrInvalidDesc, data.Name, i)
		}
	}
	return nil
}

// CreateMesh uploads data into immutable vertex and index buffers.
func (m *Manager) CreateMesh(data MeshData) (MeshHandle, error) {
	if err := validateMesh(data); err != nil {
		return 0, err
	}
	vb, err := m.dev.CreateVertexBuffer(device.VertexBufferDesc{
		Label:  data.Name + " vertices",
		Data:   EncodeVertices(data.Vertices),
		Stride: VertexStride,
	})
	if err != nil {
		return 0, err
	}
	ib, err := m.dev.CreateIndexBuffer(device.IndexBufferDesc{
		Label:  data.Name + " indices",
		Data:   EncodeIndices(data.Indices),
		Format: gputypes.IndexFormatUint32,
	})
	if err != nil {
		m.dev.DestroyBuffer(vb)
		return 0, err
	}

	mesh := &Mesh{
		Name:         data.Name,
		VertexBuffer: vb,
		IndexBuffer:  ib,
		IndexCount:   uint32(len(data.Indices)), //nolint:gosec // bounded by buffer size
		Bounds:       device.EmptyAABB(),
		positions:    make([]mgl32.Vec3, len(data.Vertices)),
		indices:      append([]uint32(nil), data.Indices...),
	}
	for i, v := range data.Vertices {
		mesh.positions[i] = v.Position
		mesh.Bounds.Grow(v.Position)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		m.destroyMesh(mesh)
		return 0, err
	}
	h := m.meshes.add(mesh)
	slogger().Debug("resource: mesh created", "name", data.Name, "handle", h.ID(),
		"vertices", len(data.Vertices), "indices", len(data.Indices))
	return h, nil
}

// GetMesh returns the mesh for h, or the fallback cube.
func (m *Manager) GetMesh(h MeshHandle) *Mesh {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meshes.orFallback(h, m.fallbackMesh)
}

// FallbackMesh returns the handle of the unit cube.
func (m *Manager) FallbackMesh() MeshHandle { return m.fallbackMesh }

// DestroyMesh releases the mesh and its acceleration structure.
func (m *Manager) DestroyMesh(h MeshHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == m.fallbackMesh {
		return
	}
	if mesh, ok := m.meshes.remove(h); ok {
		m.destroyMesh(mesh)
	}
}

func (m *Manager) destroyMesh(mesh *Mesh) {
	m.dev.DestroyBuffer(mesh.VertexBuffer)
	m.dev.DestroyBuffer(mesh.IndexBuffer)
	if mesh.blas != nil {
		m.dev.DestroyBLAS(mesh.blas)
		mesh.blas = nil
	}
}

// MeshBLAS returns the bottom-level acceleration structure of the mesh,
// building it on first use.
func (m *Manager) MeshBLAS(h MeshHandle) (*device.BLAS, error) {
	m.mu.Lock()
	mesh, err := m.meshes.lookup(h)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if mesh.blas != nil {
		return mesh.blas, nil
	}
	blas, err := m.dev.CreateBLAS(device.BLASDesc{Label: mesh.Name, Positions: mesh.positions, Indices: mesh.indices})
	if err != nil {
		return nil, err
	}
	mesh.blas = blas
	return blas, nil
}

// CubeMeshData returns a unit cube centred on the origin with per-face
// normals and uvs: 24 vertices and 36 counter-clockwise indices.
func CubeMeshData() MeshData {
	faces := []struct{ n, u, v mgl32.Vec3 }{
		{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}},
		{mgl32.Vec3{0, -1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1}},
		{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 1, 0}},
	}
	corners := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
	data := MeshData{Name: "cube"}
	for _, f := range faces {
		base := uint32(len(data.Vertices)) //nolint:gosec // 24 vertices
		for _, c := range corners {
			p := f.n.Mul(0.5).Add(f.u.Mul(c[0] * 0.5)).Add(f.v.Mul(c[1] * 0.5))
			data.Vertices = append(data.Vertices, Vertex{
				Position: p,
				Normal:   f.n,
				UV:       mgl32.Vec2{(c[0] + 1) / 2, (1 - c[1]) / 2},
			})
		}
		data.Indices = append(data.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return data
}
