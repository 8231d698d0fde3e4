package device

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// strip returns n unit triangles laid out along +x.
func strip(n int) ([]mgl32.Vec3, []uint32) {
	var pos []mgl32.Vec3
	var idx []uint32
	for i := 0; i < n; i++ {
		x := float32(i)
		base := uint32(len(pos))
		pos = append(pos, mgl32.Vec3{x, 0, 0}, mgl32.Vec3{x + 1, 0, 0}, mgl32.Vec3{x, 1, 0})
		idx = append(idx, base, base+1, base+2)
	}
	return pos, idx
}

func TestBuildBVH(t *testing.T) {
	pos, idx := strip(16)
	bvh, err := BuildBVH(pos, idx)
	require.NoError(t, err)

	assert.Len(t, bvh.Nodes, 7)
	assert.Len(t, bvh.Triangles, 16)
	assert.Equal(t, 3, bvh.Depth())
	root := bvh.Bounds()
	assert.Equal(t, mgl32.Vec3{0, 0, 0}, root.Min)
	assert.Equal(t, mgl32.Vec3{16, 1, 0}, root.Max)

	covered := 0
	for _, n := range bvh.Nodes {
		if !n.Leaf() {
			continue
		}
		assert.LessOrEqual(t, n.Count, uint32(bvhLeafSize))
		for _, tri := range bvh.Triangles[n.LeftFirst : n.LeftFirst+n.Count] {
			for _, v := range tri {
				assert.GreaterOrEqual(t, v[0], n.Bounds.Min[0])
				assert.LessOrEqual(t, v[0], n.Bounds.Max[0])
			}
		}
		covered += int(n.Count)
	}
	assert.Equal(t, 16, covered)
}

func TestBuildBVHDegenerate(t *testing.T) {
	pos := []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}
	idx := make([]uint32, 0, 30)
	for i := 0; i < 10; i++ {
		idx = append(idx, 0, 1, 2)
	}
	bvh, err := BuildBVH(pos, idx)
	require.NoError(t, err)
	require.Len(t, bvh.Nodes, 1, "coincident centroids stay in one leaf")
	assert.Equal(t, uint32(10), bvh.Nodes[0].Count)
}

func TestBuildBVHRejectsBadInput(t *testing.T) {
	pos, idx := strip(2)
	_, err := BuildBVH(pos, nil)
	assert.ErrorIs(t, err, ErrInvalidDesc)
	_, err = BuildBVH(pos, idx[:4])
	assert.ErrorIs(t, err, ErrInvalidDesc)
	_, err = BuildBVH(pos, []uint32{0, 1, 99})
	assert.ErrorIs(t, err, ErrInvalidDesc)
}

func TestEncodeRecords(t *testing.T) {
	nodes := EncodeNodes([]BVHNode{{
		Bounds:    AABB{Min: mgl32.Vec3{1, 2, 3}, Max: mgl32.Vec3{4, 5, 6}},
		LeftFirst: 7,
		Count:     2,
	}})
	require.Len(t, nodes, BVHNodeSize)
	assert.Equal(t, float32(3), math.Float32frombits(binary.LittleEndian.Uint32(nodes[8:])))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(nodes[12:]))
	assert.Equal(t, float32(4), math.Float32frombits(binary.LittleEndian.Uint32(nodes[16:])))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(nodes[28:]))

	tris := EncodeTriangles([][3]mgl32.Vec3{{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}})
	require.Len(t, tris, BVHTriangleSize)
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(tris[12:])))
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(tris[44:])))

	rec := InstanceRecord{WorldToObject: mgl32.Translate3D(-2, 0, 0), NodeOffset: 5, TriOffset: 9, Mask: 0xFF}.Encode()
	require.Len(t, rec, InstanceSize)
	assert.Equal(t, float32(-2), math.Float32frombits(binary.LittleEndian.Uint32(rec[48:])))
	assert.Equal(t, uint32(5), binary.LittleEndian.Uint32(rec[96:]))
	assert.Equal(t, uint32(9), binary.LittleEndian.Uint32(rec[100:]))
	assert.Equal(t, uint32(0xFF), binary.LittleEndian.Uint32(rec[104:]))
}

func TestAABBTransform(t *testing.T) {
	b := AABB{Min: mgl32.Vec3{-1, -1, -1}, Max: mgl32.Vec3{1, 1, 1}}
	out := b.Transform(mgl32.Translate3D(10, 0, 0).Mul4(mgl32.Scale3D(2, 1, 1)))
	assert.Equal(t, mgl32.Vec3{8, -1, -1}, out.Min)
	assert.Equal(t, mgl32.Vec3{12, 1, 1}, out.Max)
	assert.True(t, EmptyAABB().Empty())
	assert.True(t, EmptyAABB().Transform(mgl32.Ident4()).Empty())
}

func TestCreateBLASAndTLAS(t *testing.T) {
	d, rec, _ := newTestDevice(t)
	pos, idx := strip(8)
	a, err := d.CreateBLAS(BLASDesc{Label: "strip", Positions: pos, Indices: idx})
	require.NoError(t, err)
	assert.Equal(t, uint32(8), a.Data.TriCount)
	assert.Equal(t, uint32(3), a.Data.NodeCount)
	assert.Equal(t, uint64(3*BVHNodeSize), a.Data.Nodes.Desc.Size)
	assert.Equal(t, uint64(8*BVHTriangleSize), a.Data.Triangles.Desc.Size)
	assert.Equal(t, 2, rec.BufferCopies)

	pos, idx = strip(1)
	b, err := d.CreateBLAS(BLASDesc{Label: "single", Positions: pos, Indices: idx})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), b.Data.NodeCount)

	rec.Reset()
	tlas, err := d.CreateTLAS(TLASDesc{Label: "scene", Instances: []Instance{
		{BLAS: a, Transform: mgl32.Ident4()},
		{BLAS: a, Transform: mgl32.Translate3D(0, 10, 0)},
		{BLAS: b, Transform: mgl32.Translate3D(-5, 0, 0), Mask: 1},
	}})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), tlas.Data.Count)
	assert.Equal(t, uint64(3*InstanceSize), tlas.Data.Instances.Desc.Size)
	assert.Equal(t, uint64(4*BVHNodeSize), tlas.Data.Nodes.Desc.Size, "shared blas copied once")
	assert.Equal(t, uint64(9*BVHTriangleSize), tlas.Data.Triangles.Desc.Size)
	assert.Equal(t, 5, rec.BufferCopies, "instances plus nodes and triangles of two blas")
	assert.Equal(t, mgl32.Vec3{-5, 0, 0}, tlas.Data.Bounds.Min)
	assert.Equal(t, mgl32.Vec3{8, 11, 0}, tlas.Data.Bounds.Max)
	assert.True(t, tlas.Data.Instances.Data.View.Valid())

	d.DestroyBLAS(a)
	d.DestroyTLAS(tlas)
	d.Flush()
}

func TestCreateTLASEdgeCases(t *testing.T) {
	d, _, _ := newTestDevice(t)
	empty, err := d.CreateTLAS(TLASDesc{Label: "empty"})
	require.NoError(t, err)
	assert.Zero(t, empty.Data.Count)
	assert.Equal(t, uint64(InstanceSize), empty.Data.Instances.Desc.Size)
	assert.Equal(t, uint64(BVHNodeSize), empty.Data.Nodes.Desc.Size)

	_, err = d.CreateTLAS(TLASDesc{Label: "bad", Instances: []Instance{{Transform: mgl32.Ident4()}}})
	assert.ErrorIs(t, err, ErrInvalidDesc)

	_, err = d.CreateBLAS(BLASDesc{Label: "none"})
	assert.ErrorIs(t, err, ErrInvalidDesc)
}

func TestRaytracingPipeline(t *testing.T) {
	d, rec, _ := newTestDevice(t)
	p, err := d.CreateRaytracingPipeline(RaytracingPipelineDesc{
		Label:     "rt shadows",
		Shader:    "rt.wgsl",
		RayGen:    "raygen",
		HitGroups: []HitGroup{{Name: "shadow", ClosestHit: "closest_hit"}},
		Miss:      []string{"miss"},
		Bindings: []Binding{
			{Name: "scene", Kind: BindUniform},
			{Name: "depth", Kind: BindDepthTexture},
			{Name: "mask", Kind: BindStorageTexture, Format: RTShadowMaskFormat},
			{Name: "instances", Group: 1, Kind: BindStorage},
			{Name: "nodes", Group: 1, Kind: BindStorage},
			{Name: "triangles", Group: 1, Kind: BindStorage},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"raygen", "closest_hit", "miss"}, p.Data.Table.Entries)
	i, ok := p.Data.Table.HitGroupIndex("shadow")
	assert.True(t, ok)
	assert.Equal(t, 1, i)
	i, ok = p.Data.Table.MissIndex("miss")
	assert.True(t, ok)
	assert.Equal(t, 2, i)
	_, ok = p.Data.Table.HitGroupIndex("reflection")
	assert.False(t, ok)

	cmd, err := d.GetFreeComputeCommandBuffer()
	require.NoError(t, err)
	pass := cmd.BeginComputePass("rt shadows")
	d.DispatchRays(pass, p, 100, 60)
	pass.End()
	require.NoError(t, d.ExecuteComputeCommandList(cmd))

	ds := rec.DispatchesIn("rt shadows")
	require.Len(t, ds, 1)
	assert.Equal(t, uint32(13), ds[0].X)
	assert.Equal(t, uint32(8), ds[0].Y)
	assert.Equal(t, uint32(1), ds[0].Z)

	_, err = d.CreateRaytracingPipeline(RaytracingPipelineDesc{
		Label: "bad", Shader: "rt.wgsl", RayGen: "raygen",
		HitGroups: []HitGroup{{Name: "reflect", ClosestHit: "reflect_hit"}},
	})
	assert.ErrorIs(t, err, ErrMissingEntryPoint)

	_, err = d.CreateRaytracingPipeline(RaytracingPipelineDesc{
		Label: "dup", Shader: "rt.wgsl", RayGen: "raygen",
		Miss: []string{"miss", "miss"},
	})
	assert.ErrorIs(t, err, ErrInvalidDesc)
}
