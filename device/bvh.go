package device

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// GPU record sizes of the software acceleration structures.
const (
	BVHNodeSize     = 32
	BVHTriangleSize = 48
	InstanceSize    = 112

	bvhLeafSize = 4
)

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min, Max mgl32.Vec3
}

// EmptyAABB returns an inverted box that any Grow call replaces.
func EmptyAABB() AABB {
	inf := math32.Inf(1)
	return AABB{Min: mgl32.Vec3{inf, inf, inf}, Max: mgl32.Vec3{-inf, -inf, -inf}}
}

// Grow extends b to contain p.
func (b *AABB) Grow(p mgl32.Vec3) {
	for i := 0; i < 3; i++ {
		b.Min[i] = math32.Min(b.Min[i], p[i])
		b.Max[i] = math32.Max(b.Max[i], p[i])
	}
}

// Union extends b to contain o.
func (b *AABB) Union(o AABB) {
	b.Grow(o.Min)
	b.Grow(o.Max)
}

// Empty reports whether b contains no point.
func (b AABB) Empty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

// Transform returns the bounds of b's eight corners under m.
func (b AABB) Transform(m mgl32.Mat4) AABB {
	out := EmptyAABB()
	if b.Empty() {
		return out
	}
	for c := 0; c < 8; c++ {
		p := mgl32.Vec3{b.Min[0], b.Min[1], b.Min[2]}
		for i := 0; i < 3; i++ {
			if c&(1<<i) != 0 {
				p[i] = b.Max[i]
			}
		}
		out.Grow(m.Mul4x1(p.Vec4(1)).Vec3())
	}
	return out
}

// BVHNode is one node of a bounding volume hierarchy. Leaves have Count > 0
// and their first triangle in LeftFirst; inner nodes have their children at
// LeftFirst and LeftFirst+1.
type BVHNode struct {
	Bounds    AABB
	LeftFirst uint32
	Count     uint32
}

// Leaf reports whether n holds triangles.
func (n BVHNode) Leaf() bool { return n.Count > 0 }

// BVH is a bounding volume hierarchy over triangles reordered to match its
// leaves.
type BVH struct {
	Nodes     []BVHNode
	Triangles [][3]mgl32.Vec3
}

// Bounds returns the bounds of the root.
func (b *BVH) Bounds() AABB { return b.Nodes[0].Bounds }

// Depth returns the number of levels.
func (b *BVH) Depth() int { return b.depth(0) }

func (b *BVH) depth(i uint32) int {
	n := b.Nodes[i]
	if n.Leaf() {
		return 1
	}
	return 1 + max(b.depth(n.LeftFirst), b.depth(n.LeftFirst+1))
}

type bvhTriangle struct {
	v        [3]mgl32.Vec3
	centroid mgl32.Vec3
}

// BuildBVH builds a hierarchy over the indexed triangle list by splitting
// each node at the median centroid of its longest axis.
func BuildBVH(positions []mgl32.Vec3, indices []uint32) (*BVH, error) {
	if len(indices) == 0 || len(indices)%3 != 0 {
		return nil, fmt.Errorf("%w: %d indices do not form triangles", ErrInvalidDesc, len(indices))
	}
	tris := make([]bvhTriangle, len(indices)/3)
	for i := range tris {
		for k := 0; k < 3; k++ {
			idx := indices[3*i+k]
			if int(idx) >= len(positions) {
				return nil, fmt.Errorf("%w: index %d out of %d positions", ErrInvalidDesc, idx, len(positions))
			}
			tris[i].v[k] = positions[idx]
		}
		tris[i].centroid = tris[i].v[0].Add(tris[i].v[1]).Add(tris[i].v[2]).Mul(1.0 / 3)
	}

	b := &bvhBuilder{tris: tris, nodes: make([]BVHNode, 1, 2*len(tris))}
	b.nodes[0] = BVHNode{LeftFirst: 0, Count: uint32(len(tris))} //nolint:gosec // bounded by input
	b.subdivide(0)

	out := &BVH{Nodes: b.nodes, Triangles: make([][3]mgl32.Vec3, len(tris))}
	for i, t := range tris {
		out.Triangles[i] = t.v
	}
	return out, nil
}

type bvhBuilder struct {
	tris  []bvhTriangle
	nodes []BVHNode
}

func (b *bvhBuilder) bounds(first, count uint32) (AABB, AABB) {
	box, cbox := EmptyAABB(), EmptyAABB()
	for _, t := range b.tris[first : first+count] {
		for _, v := range t.v {
			box.Grow(v)
		}
		cbox.Grow(t.centroid)
	}
	return box, cbox
}

func (b *bvhBuilder) subdivide(ni uint32) {
	n := b.nodes[ni]
	box, cbox := b.bounds(n.LeftFirst, n.Count)
	b.nodes[ni].Bounds = box
	if n.Count <= bvhLeafSize {
		return
	}
	extent := cbox.Max.Sub(cbox.Min)
	axis := 0
	if extent[1] > extent[axis] {
		axis = 1
	}
	if extent[2] > extent[axis] {
		axis = 2
	}
	if extent[axis] <= 0 {
		return
	}
	span := b.tris[n.LeftFirst : n.LeftFirst+n.Count]
	sort.Slice(span, func(i, j int) bool { return span[i].centroid[axis] < span[j].centroid[axis] })

	half := n.Count / 2
	left := uint32(len(b.nodes)) //nolint:gosec // bounded by 2*triangles
	b.nodes = append(b.nodes,
		BVHNode{LeftFirst: n.LeftFirst, Count: half},
		BVHNode{LeftFirst: n.LeftFirst + half, Count: n.Count - half},
	)
	b.nodes[ni].LeftFirst = left
	b.nodes[ni].Count = 0
	b.subdivide(left)
	b.subdivide(left + 1)
}

// EncodeNodes packs nodes in the shader layout. Indices stay relative to the
// owning hierarchy; instances carry the base offsets.
func EncodeNodes(nodes []BVHNode) []byte {
	out := make([]byte, len(nodes)*BVHNodeSize)
	for i, n := range nodes {
		p := out[i*BVHNodeSize:]
		putVec3(p[0:], n.Bounds.Min)
		binary.LittleEndian.PutUint32(p[12:], n.LeftFirst)
		putVec3(p[16:], n.Bounds.Max)
		binary.LittleEndian.PutUint32(p[28:], n.Count)
	}
	return out
}

// EncodeTriangles packs triangles as three vec4 each.
func EncodeTriangles(tris [][3]mgl32.Vec3) []byte {
	out := make([]byte, len(tris)*BVHTriangleSize)
	for i, t := range tris {
		p := out[i*BVHTriangleSize:]
		for k, v := range t {
			putVec3(p[16*k:], v)
			putFloat(p[16*k+12:], 1)
		}
	}
	return out
}

// InstanceRecord is the GPU record of one TLAS instance.
type InstanceRecord struct {
	WorldToObject mgl32.Mat4
	Bounds        AABB
	NodeOffset    uint32
	TriOffset     uint32
	Mask          uint32
}

// Encode packs r in the shader layout.
func (r InstanceRecord) Encode() []byte {
	out := make([]byte, InstanceSize)
	for i, f := range r.WorldToObject {
		putFloat(out[4*i:], f)
	}
	putVec3(out[64:], r.Bounds.Min)
	putVec3(out[80:], r.Bounds.Max)
	binary.LittleEndian.PutUint32(out[96:], r.NodeOffset)
	binary.LittleEndian.PutUint32(out[100:], r.TriOffset)
	binary.LittleEndian.PutUint32(out[104:], r.Mask)
	return out
}

func putVec3(p []byte, v mgl32.Vec3) {
	putFloat(p[0:], v[0])
	putFloat(p[4:], v[1])
	putFloat(p[8:], v[2])
}

func putFloat(p []byte, f float32) {
	binary.LittleEndian.PutUint32(p, math32.Float32bits(f))
}
