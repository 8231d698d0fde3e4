package device

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/g3d/internal/cmdpool"
	"github.com/gogpu/g3d/internal/resstate"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

const (
	// RayGroupSize is the workgroup edge of ray generation shaders.
	RayGroupSize = 8
	// RTShadowMaskFormat is the storage format of ray traced shadow masks.
	RTShadowMaskFormat = gputypes.TextureFormatR32Float
)

// BLASDesc describes a bottom-level acceleration structure over an indexed
// triangle list.
type BLASDesc struct {
	Label     string
	Positions []mgl32.Vec3
	Indices   []uint32
}

// BLASData is the GPU side of a BLAS.
type BLASData struct {
	Nodes     *Buffer
	Triangles *Buffer
	NodeCount uint32
	TriCount  uint32
	Bounds    AABB
	Depth     int
}

// BLAS is a bottom-level acceleration structure.
type BLAS struct {
	Desc BLASDesc
	Data *BLASData
}

// Instance places a BLAS in the scene. A zero Mask selects 0xFF.
type Instance struct {
	BLAS      *BLAS
	Transform mgl32.Mat4
	Mask      uint32
}

// TLASDesc describes a top-level acceleration structure.
type TLASDesc struct {
	Label     string
	Instances []Instance
}

// TLASData is the GPU side of a TLAS. The node and triangle buffers hold
// every referenced BLAS back to back.
type TLASData struct {
	Instances *Buffer
	Nodes     *Buffer
	Triangles *Buffer
	Count     uint32
	Bounds    AABB
}

// TLAS is a top-level acceleration structure.
type TLAS struct {
	Desc TLASDesc
	Data *TLASData
}

// CreateBLAS builds a BVH on the CPU and uploads it. The upload is recorded
// on a graphics command buffer and flushed before returning.
func (d *Device) CreateBLAS(desc BLASDesc) (*BLAS, error) {
	bvh, err := BuildBVH(desc.Positions, desc.Indices)
	if err != nil {
		return nil, fmt.Errorf("blas %q: %w", desc.Label, err)
	}
	nodes := EncodeNodes(bvh.Nodes)
	tris := EncodeTriangles(bvh.Triangles)

	data := &BLASData{
		NodeCount: uint32(len(bvh.Nodes)),     //nolint:gosec // bounded by input
		TriCount:  uint32(len(bvh.Triangles)), //nolint:gosec // bounded by input
		Bounds:    bvh.Bounds(),
		Depth:     bvh.Depth(),
	}
	if data.Nodes, err = d.CreateStorageBuffer(StorageBufferDesc{Label: desc.Label + " nodes", Size: uint64(len(nodes))}); err != nil {
		return nil, err
	}
	if data.Triangles, err = d.CreateStorageBuffer(StorageBufferDesc{Label: desc.Label + " triangles", Size: uint64(len(tris))}); err != nil {
		d.DestroyBuffer(data.Nodes)
		return nil, err
	}
	destroy := func() {
		d.DestroyBuffer(data.Nodes)
		d.DestroyBuffer(data.Triangles)
	}

	err = d.buildOnGraphicsQueue(func(cmd *cmdpool.CommandBuffer) error {
		if err := d.stageCopy(cmd, data.Nodes, 0, nodes); err != nil {
			return err
		}
		if err := d.stageCopy(cmd, data.Triangles, 0, tris); err != nil {
			return err
		}
		cmd.Transition(data.Nodes.Data.Resource, resstate.AccelerationStructure, resstate.AllSubresources)
		cmd.Transition(data.Triangles.Data.Resource, resstate.AccelerationStructure, resstate.AllSubresources)
		return nil
	})
	if err != nil {
		destroy()
		return nil, fmt.Errorf("blas %q: %w", desc.Label, err)
	}
	b := &BLAS{Desc: desc, Data: data}
	d.track(b, destroy)
	slogger().Debug("device: blas built", "label", desc.Label, "triangles", data.TriCount,
		"nodes", data.NodeCount, "depth", data.Depth)
	return b, nil
}

// DestroyBLAS releases the BLAS buffers. TLASes built from it keep their
// own copies.
func (d *Device) DestroyBLAS(b *BLAS) { d.untrack(b) }

// CreateTLAS builds instance records over BLASes and gathers their nodes and
// triangles into shared buffers with GPU copies. It flushes before
// returning. A TLAS without instances holds one masked-out record.
func (d *Device) CreateTLAS(desc TLASDesc) (*TLAS, error) {
	type placement struct{ node, tri uint32 }
	placed := make(map[*BLAS]placement)
	var order []*BLAS
	var nodeCount, triCount uint32

	data := &TLASData{Count: uint32(len(desc.Instances)), Bounds: EmptyAABB()} //nolint:gosec // bounded by input
	records := make([]byte, 0, max(1, len(desc.Instances))*InstanceSize)
	for i, inst := range desc.Instances {
		if inst.BLAS == nil || inst.BLAS.Data == nil {
			return nil, fmt.Errorf("%w: tlas %q instance %d has no blas", ErrInvalidDesc, desc.Label, i)
		}
		p, ok := placed[inst.BLAS]
		if !ok {
			p = placement{node: nodeCount, tri: triCount}
			placed[inst.BLAS] = p
			order = append(order, inst.BLAS)
			nodeCount += inst.BLAS.Data.NodeCount
			triCount += inst.BLAS.Data.TriCount
		}
		mask := inst.Mask
		if mask == 0 {
			mask = 0xFF
		}
		rec := InstanceRecord{
			WorldToObject: inst.Transform.Inv(),
			Bounds:        inst.BLAS.Data.Bounds.Transform(inst.Transform),
			NodeOffset:    p.node,
			TriOffset:     p.tri,
			Mask:          mask,
		}
		data.Bounds.Union(rec.Bounds)
		records = append(records, rec.Encode()...)
	}
	if len(records) == 0 {
		records = append(records, InstanceRecord{}.Encode()...)
	}

	var err error
	if data.Instances, err = d.CreateStorageBuffer(StorageBufferDesc{Label: desc.Label + " instances", Size: uint64(len(records))}); err != nil {
		return nil, err
	}
	nodeBytes := uint64(max(nodeCount, 1)) * BVHNodeSize
	if data.Nodes, err = d.CreateStorageBuffer(StorageBufferDesc{Label: desc.Label + " nodes", Size: nodeBytes}); err != nil {
		d.DestroyBuffer(data.Instances)
		return nil, err
	}
	triBytes := uint64(max(triCount, 1)) * BVHTriangleSize
	if data.Triangles, err = d.CreateStorageBuffer(StorageBufferDesc{Label: desc.Label + " triangles", Size: triBytes}); err != nil {
		d.DestroyBuffer(data.Instances)
		d.DestroyBuffer(data.Nodes)
		return nil, err
	}
	destroy := func() {
		d.DestroyBuffer(data.Instances)
		d.DestroyBuffer(data.Nodes)
		d.DestroyBuffer(data.Triangles)
	}

	err = d.buildOnGraphicsQueue(func(cmd *cmdpool.CommandBuffer) error {
		if err := d.stageCopy(cmd, data.Instances, 0, records); err != nil {
			return err
		}
		cmd.Transition(data.Nodes.Data.Resource, resstate.CopyDest, resstate.AllSubresources)
		cmd.Transition(data.Triangles.Data.Resource, resstate.CopyDest, resstate.AllSubresources)
		for _, b := range order {
			cmd.Transition(b.Data.Nodes.Data.Resource, resstate.CopySource, resstate.AllSubresources)
			cmd.Transition(b.Data.Triangles.Data.Resource, resstate.CopySource, resstate.AllSubresources)
		}
		enc := cmd.Encoder()
		for _, b := range order {
			p := placed[b]
			enc.CopyBufferToBuffer(b.Data.Nodes.Data.Buffer, data.Nodes.Data.Buffer, []hal.BufferCopy{{
				DstOffset: uint64(p.node) * BVHNodeSize,
				Size:      uint64(b.Data.NodeCount) * BVHNodeSize,
			}})
			enc.CopyBufferToBuffer(b.Data.Triangles.Data.Buffer, data.Triangles.Data.Buffer, []hal.BufferCopy{{
				DstOffset: uint64(p.tri) * BVHTriangleSize,
				Size:      uint64(b.Data.TriCount) * BVHTriangleSize,
			}})
		}
		for _, b := range order {
			cmd.Transition(b.Data.Nodes.Data.Resource, resstate.AccelerationStructure, resstate.AllSubresources)
			cmd.Transition(b.Data.Triangles.Data.Resource, resstate.AccelerationStructure, resstate.AllSubresources)
		}
		for _, buf := range []*Buffer{data.Instances, data.Nodes, data.Triangles} {
			cmd.Transition(buf.Data.Resource, resstate.AccelerationStructure, resstate.AllSubresources)
		}
		return nil
	})
	if err != nil {
		destroy()
		return nil, fmt.Errorf("tlas %q: %w", desc.Label, err)
	}
	t := &TLAS{Desc: desc, Data: data}
	d.track(t, destroy)
	slogger().Debug("device: tlas built", "label", desc.Label, "instances", data.Count,
		"blas", len(order), "nodes", nodeCount, "triangles", triCount)
	return t, nil
}

// DestroyTLAS releases the TLAS buffers.
func (d *Device) DestroyTLAS(t *TLAS) { d.untrack(t) }

// buildOnGraphicsQueue records with record on a fresh graphics command
// buffer, submits it and waits for the GPU.
func (d *Device) buildOnGraphicsQueue(record func(*cmdpool.CommandBuffer) error) error {
	cmd, err := d.GetFreeGraphicsCommandBuffer()
	if err != nil {
		return err
	}
	if err := record(cmd); err != nil {
		return err
	}
	if err := d.ExecuteGraphicsCommandList(cmd); err != nil {
		return err
	}
	d.Flush()
	return nil
}

// HitGroup names a hit group and its closest-hit function.
type HitGroup struct {
	Name       string
	ClosestHit string
}

// RaytracingPipelineDesc describes a ray generation shader with its hit
// groups and miss shaders. It runs as a compute pipeline that walks the
// software acceleration structures.
type RaytracingPipelineDesc struct {
	Label     string
	Shader    string
	Defines   []Define
	RayGen    string
	HitGroups []HitGroup
	Miss      []string

	Bindings        []Binding
	DynamicCallData DynamicCallData
}

// ShaderTable orders the entries of a raytracing pipeline: ray generation
// first, then hit groups, then miss shaders.
type ShaderTable struct {
	Entries []string
	hit     map[string]int
	miss    map[string]int
}

// HitGroupIndex returns the table index of the named hit group.
func (t *ShaderTable) HitGroupIndex(name string) (int, bool) {
	i, ok := t.hit[name]
	return i, ok
}

// MissIndex returns the table index of the named miss shader.
func (t *ShaderTable) MissIndex(name string) (int, bool) {
	i, ok := t.miss[name]
	return i, ok
}

// RaytracingPipelineData is the native side of a RaytracingPipeline.
type RaytracingPipelineData struct {
	ComputePipelineData
	Table ShaderTable
}

// RaytracingPipeline is a raytracing pipeline and its shader table.
type RaytracingPipeline struct {
	Desc RaytracingPipelineDesc
	Data *RaytracingPipelineData
}

// BindingLayout returns the pipeline's binding layout.
func (p *RaytracingPipeline) BindingLayout() *Layout { return p.Data.Layout }

// CreateRaytracingPipeline validates the shader table against the shader
// and builds the ray generation entry as a compute pipeline.
func (d *Device) CreateRaytracingPipeline(desc RaytracingPipelineDesc) (*RaytracingPipeline, error) {
	if desc.Shader == "" || desc.RayGen == "" {
		return nil, fmt.Errorf("%w: raytracing pipeline %q needs a shader and a ray generation entry", ErrInvalidDesc, desc.Label)
	}
	table := ShaderTable{
		Entries: []string{desc.RayGen},
		hit:     make(map[string]int, len(desc.HitGroups)),
		miss:    make(map[string]int, len(desc.Miss)),
	}
	entries := []string{desc.RayGen}
	for _, hg := range desc.HitGroups {
		if hg.Name == "" || hg.ClosestHit == "" {
			return nil, fmt.Errorf("%w: %q has an incomplete hit group", ErrInvalidDesc, desc.Label)
		}
		if _, dup := table.hit[hg.Name]; dup {
			return nil, fmt.Errorf("%w: %q declares hit group %q twice", ErrInvalidDesc, desc.Label, hg.Name)
		}
		table.hit[hg.Name] = len(table.Entries)
		table.Entries = append(table.Entries, hg.ClosestHit)
		entries = append(entries, hg.ClosestHit)
	}
	for _, m := range desc.Miss {
		if _, dup := table.miss[m]; dup {
			return nil, fmt.Errorf("%w: %q declares miss shader %q twice", ErrInvalidDesc, desc.Label, m)
		}
		table.miss[m] = len(table.Entries)
		table.Entries = append(table.Entries, m)
		entries = append(entries, m)
	}
	if err := d.checkEntryPoints(desc.Label, desc.Shader, desc.Defines, entries...); err != nil {
		return nil, err
	}

	cp, err := d.buildComputePipeline(desc.Label, desc.Shader, desc.RayGen, desc.Defines, desc.Bindings, desc.DynamicCallData)
	if err != nil {
		return nil, err
	}
	p := &RaytracingPipeline{Desc: desc, Data: &RaytracingPipelineData{ComputePipelineData: *cp, Table: table}}
	d.track(p, func() { d.destroyComputePipelineData(desc.Label, cp) })
	return p, nil
}

// DispatchRays sets p on pass and launches one ray generation invocation per
// pixel of a width×height image.
func (d *Device) DispatchRays(pass hal.ComputePassEncoder, p *RaytracingPipeline, width, height uint32) {
	pass.SetPipeline(p.Data.Pipeline)
	pass.Dispatch(groups(width, RayGroupSize), groups(height, RayGroupSize), 1)
}

func groups(n, size uint32) uint32 {
	return (max(n, 1) + size - 1) / size
}
