package device

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/g3d/internal/cmdpool"
	"github.com/gogpu/g3d/internal/descriptor"
	"github.com/gogpu/g3d/internal/resstate"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// constantAlignment is the size granularity of constant buffers.
const constantAlignment = 256

// BufferDesc is the resolved description of a Buffer.
type BufferDesc struct {
	Label       string
	Size        uint64
	Usage       gputypes.BufferUsage
	Stride      uint32
	IndexFormat gputypes.IndexFormat
}

// BufferData is the native side of a Buffer.
type BufferData struct {
	Buffer   hal.Buffer
	Resource *resstate.Resource
	// View is the constant or storage range descriptor. Vertex and index
	// buffers have none.
	View descriptor.Handle
	// Count is the number of vertices or indices.
	Count uint32

	queue hal.Queue
}

// Buffer is a GPU buffer.
type Buffer struct {
	Desc BufferDesc
	Data *BufferData
}

// Update writes data at the start of the buffer through the queue.
func (b *Buffer) Update(data []byte) error {
	return b.UpdateAt(0, data)
}

// UpdateAt writes data at offset through the queue.
func (b *Buffer) UpdateAt(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > b.Desc.Size {
		return fmt.Errorf("%w: %d bytes at %d overflow buffer %q of %d bytes",
			ErrInvalidDesc, len(data), offset, b.Desc.Label, b.Desc.Size)
	}
	if err := b.Data.queue.WriteBuffer(b.Data.Buffer, offset, data); err != nil {
		return fmt.Errorf("device: update %q: %w", b.Desc.Label, err)
	}
	return nil
}

// VertexBufferDesc describes immutable vertex data.
type VertexBufferDesc struct {
	Label  string
	Data   []byte
	Stride uint32
}

// IndexBufferDesc describes immutable index data.
type IndexBufferDesc struct {
	Label  string
	Data   []byte
	Format gputypes.IndexFormat
}

// ConstantBufferDesc describes a uniform buffer. Size is rounded up to 256.
type ConstantBufferDesc struct {
	Label string
	Size  uint64
}

// StorageBufferDesc describes a read-only storage buffer. Data, when set,
// is uploaded through a staging copy and may be shorter than Size.
type StorageBufferDesc struct {
	Label string
	Size  uint64
	Data  []byte
}

// CreateVertexBuffer uploads vertex data through a staging buffer on the
// copy queue.
func (d *Device) CreateVertexBuffer(desc VertexBufferDesc) (*Buffer, error) {
	if len(desc.Data) == 0 || desc.Stride == 0 || len(desc.Data)%int(desc.Stride) != 0 {
		return nil, fmt.Errorf("%w: vertex buffer %q: %d bytes, stride %d", ErrInvalidDesc, desc.Label, len(desc.Data), desc.Stride)
	}
	b, err := d.newBuffer(BufferDesc{
		Label:  desc.Label,
		Size:   alignUp(uint64(len(desc.Data)), 4),
		Usage:  gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst,
		Stride: desc.Stride,
	}, resstate.Common)
	if err != nil {
		return nil, err
	}
	b.Data.Count = uint32(len(desc.Data)) / desc.Stride //nolint:gosec // checked above
	if err := d.uploadOnCopyQueue(b, desc.Data, resstate.VertexAndConstantBuffer); err != nil {
		d.DestroyBuffer(b)
		return nil, err
	}
	return b, nil
}

// CreateIndexBuffer uploads index data through a staging buffer on the
// copy queue.
func (d *Device) CreateIndexBuffer(desc IndexBufferDesc) (*Buffer, error) {
	var size int
	switch desc.Format {
	case gputypes.IndexFormatUint16:
		size = 2
	case gputypes.IndexFormatUint32:
		size = 4
	default:
		return nil, fmt.Errorf("%w: index buffer %q: format %v", ErrInvalidDesc, desc.Label, desc.Format)
	}
	if len(desc.Data) == 0 || len(desc.Data)%size != 0 {
		return nil, fmt.Errorf("%w: index buffer %q: %d bytes", ErrInvalidDesc, desc.Label, len(desc.Data))
	}
	b, err := d.newBuffer(BufferDesc{
		Label:       desc.Label,
		Size:        alignUp(uint64(len(desc.Data)), 4),
		Usage:       gputypes.BufferUsageIndex | gputypes.BufferUsageCopyDst,
		IndexFormat: desc.Format,
	}, resstate.Common)
	if err != nil {
		return nil, err
	}
	b.Data.Count = uint32(len(desc.Data) / size) //nolint:gosec // bounded by data length
	if err := d.uploadOnCopyQueue(b, desc.Data, resstate.IndexBuffer); err != nil {
		d.DestroyBuffer(b)
		return nil, err
	}
	return b, nil
}

// CreateConstantBuffer creates a uniform buffer with a constant buffer view.
func (d *Device) CreateConstantBuffer(desc ConstantBufferDesc) (*Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: constant buffer %q has zero size", ErrInvalidDesc, desc.Label)
	}
	b, err := d.newBuffer(BufferDesc{
		Label: desc.Label,
		Size:  alignUp(desc.Size, constantAlignment),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	}, resstate.VertexAndConstantBuffer)
	if err != nil {
		return nil, err
	}
	if err := d.bindBufferView(b); err != nil {
		d.DestroyBuffer(b)
		return nil, err
	}
	return b, nil
}

// CreateStorageBuffer creates a read-only storage buffer with a view.
func (d *Device) CreateStorageBuffer(desc StorageBufferDesc) (*Buffer, error) {
	size := max(desc.Size, uint64(len(desc.Data)))
	if size == 0 {
		return nil, fmt.Errorf("%w: storage buffer %q has zero size", ErrInvalidDesc, desc.Label)
	}
	b, err := d.newBuffer(BufferDesc{
		Label: desc.Label,
		Size:  alignUp(size, 4),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc,
	}, resstate.Common)
	if err != nil {
		return nil, err
	}
	if err := d.bindBufferView(b); err != nil {
		d.DestroyBuffer(b)
		return nil, err
	}
	if len(desc.Data) > 0 {
		if err := d.uploadOnCopyQueue(b, desc.Data, resstate.ShaderResource); err != nil {
			d.DestroyBuffer(b)
			return nil, err
		}
	}
	return b, nil
}

// DestroyBuffer frees the buffer's view and releases the native buffer once
// in-flight work completes.
func (d *Device) DestroyBuffer(b *Buffer) {
	if b == nil || b.Data == nil {
		return
	}
	d.untrack(b)
}

func (d *Device) newBuffer(desc BufferDesc, initial resstate.State) (*Buffer, error) {
	buf, err := d.hal.CreateBuffer(&hal.BufferDescriptor{Label: desc.Label, Size: desc.Size, Usage: desc.Usage})
	if err != nil {
		return nil, fmt.Errorf("device: create buffer %q: %w", desc.Label, err)
	}
	data := &BufferData{
		Buffer:   buf,
		Resource: resstate.NewBufferResource(desc.Label, buf, initial),
		queue:    d.queue,
	}
	b := &Buffer{Desc: desc, Data: data}
	d.track(b, func() {
		d.freeHandle(d.srv, data.View)
		data.View = descriptor.Handle{}
		d.release.Defer(desc.Label, func() { d.hal.DestroyBuffer(buf) })
	})
	return b, nil
}

func (d *Device) bindBufferView(b *Buffer) error {
	h, err := d.srv.Allocate()
	if err != nil {
		return err
	}
	if err := d.srv.Set(h, descriptor.Entry{Buffer: b.Data.Buffer, Size: b.Desc.Size}); err != nil {
		return err
	}
	b.Data.View = h
	return nil
}

func (d *Device) uploadOnCopyQueue(dst *Buffer, data []byte, final resstate.State) error {
	cmd, err := d.GetFreeCopyCommandBuffer()
	if err != nil {
		return err
	}
	if err := d.stageCopy(cmd, dst, 0, data); err != nil {
		return err
	}
	cmd.Transition(dst.Data.Resource, final, resstate.AllSubresources)
	return d.ExecuteCopyCommandList(cmd)
}

// stageCopy records a copy of data into dst at offset through a staging
// buffer mapped at creation. The staging buffer is released once the
// submission carrying cmd completes.
func (d *Device) stageCopy(cmd *cmdpool.CommandBuffer, dst *Buffer, offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	size := alignUp(uint64(len(data)), 4)
	staging, err := d.hal.CreateBuffer(&hal.BufferDescriptor{
		Label:            dst.Desc.Label + " staging",
		Size:             size,
		Usage:            gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc,
		MappedAtCreation: true,
	})
	if err != nil {
		return fmt.Errorf("device: create staging for %q: %w", dst.Desc.Label, err)
	}
	m, err := d.hal.MapBuffer(staging, 0, size)
	if err == nil && m.Ptr == nil {
		err = hal.ErrInvalidMapRange
	}
	if err != nil {
		d.hal.DestroyBuffer(staging)
		return fmt.Errorf("device: map staging for %q: %w", dst.Desc.Label, err)
	}
	copy(unsafe.Slice((*byte)(m.Ptr), size), data)
	if err := d.hal.UnmapBuffer(staging); err != nil {
		d.hal.DestroyBuffer(staging)
		return fmt.Errorf("device: unmap staging for %q: %w", dst.Desc.Label, err)
	}

	cmd.Transition(dst.Data.Resource, resstate.CopyDest, resstate.AllSubresources)
	cmd.Encoder().CopyBufferToBuffer(staging, dst.Data.Buffer, []hal.BufferCopy{{DstOffset: offset, Size: size}})
	d.release.Defer(dst.Desc.Label+" staging", func() { d.hal.DestroyBuffer(staging) })
	return nil
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) / a * a
}
