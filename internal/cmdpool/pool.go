// Package cmdpool pools reusable, fence-tracked command buffers per queue
// type.
//
// Each Pool owns a fixed ring of CommandBuffers created at startup. GetFree
// hands out the next slot in round-robin order and spins until the GPU has
// retired that slot's previous submission, so a burst of submissions stalls
// the CPU instead of growing the pool. Execute ends recording, submits the
// list and signals the buffer's fence with its next value.
package cmdpool

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gogpu/g3d/internal/resstate"
	"github.com/gogpu/wgpu/hal"
)

// Command buffer errors.
var (
	// ErrNotRecording is returned when executing a buffer that was not
	// handed out by GetFree.
	ErrNotRecording = errors.New("cmdpool: command buffer not recording")

	// ErrForeignBuffer is returned when executing a buffer on another pool.
	ErrForeignBuffer = errors.New("cmdpool: command buffer belongs to another pool")

	// ErrInvalidPoolSize is returned by NewPool for a zero size.
	ErrInvalidPoolSize = errors.New("cmdpool: pool size must be positive")
)

// QueueKind identifies a hardware queue type.
type QueueKind uint8

// Queue kinds.
const (
	Graphics QueueKind = iota
	Compute
	Copy

	// NumQueueKinds is the number of queue kinds.
	NumQueueKinds
)

// String returns the queue kind name.
func (k QueueKind) String() string {
	switch k {
	case Graphics:
		return "graphics"
	case Compute:
		return "compute"
	case Copy:
		return "copy"
	default:
		return fmt.Sprintf("QueueKind(%d)", k)
	}
}

// Queue is the subset of hal.Queue used for submission.
type Queue interface {
	Completer
	Submit(commandBuffers []hal.CommandBuffer) (uint64, error)
}

// EncoderFactory creates command encoders. hal.Device satisfies it.
type EncoderFactory interface {
	CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error)
	FreeCommandBuffer(cmdBuffer hal.CommandBuffer)
}

// CommandBuffer is one reusable command list with its fence.
type CommandBuffer struct {
	kind  QueueKind
	index int
	label string

	factory EncoderFactory
	encoder hal.CommandEncoder
	list    hal.CommandBuffer

	fence      *Fence
	fenceValue uint64
	recording  bool

	barriers resstate.Tracker
}

// Kind returns the queue kind the buffer submits to.
func (cb *CommandBuffer) Kind() QueueKind { return cb.kind }

// Index returns the slot index inside the pool.
func (cb *CommandBuffer) Index() int { return cb.index }

// Label returns the debug label.
func (cb *CommandBuffer) Label() string { return cb.label }

// Encoder returns the native encoder. Queued barriers are flushed first so
// commands recorded directly on it observe every prior transition.
func (cb *CommandBuffer) Encoder() hal.CommandEncoder {
	cb.barriers.Flush(cb.encoder)
	return cb.encoder
}

// Recording reports whether the buffer is open for commands.
func (cb *CommandBuffer) Recording() bool { return cb.recording }

// FenceValue returns the value the fence reaches when the last submission
// of this buffer completes.
func (cb *CommandBuffer) FenceValue() uint64 { return cb.fenceValue }

// Fence returns the buffer's fence.
func (cb *CommandBuffer) Fence() *Fence { return cb.fence }

// IsBusy reports whether the GPU may still be executing the last submission.
func (cb *CommandBuffer) IsBusy() bool {
	return cb.fence.Completed() < cb.fenceValue
}

// Wait blocks until the last submission completes.
func (cb *CommandBuffer) Wait() {
	cb.fence.Wait(cb.fenceValue)
}

// Transition queues a state change for r. See resstate.Tracker.
func (cb *CommandBuffer) Transition(r *resstate.Resource, to resstate.State, sub int) int {
	return cb.barriers.Transition(r, to, sub)
}

// FlushBarriers records queued transitions.
func (cb *CommandBuffer) FlushBarriers() {
	cb.barriers.Flush(cb.encoder)
}

// BarriersEmitted returns the number of barriers this buffer has queued.
func (cb *CommandBuffer) BarriersEmitted() uint64 { return cb.barriers.Emitted() }

// BeginRenderPass flushes queued barriers and opens a render pass.
func (cb *CommandBuffer) BeginRenderPass(desc *hal.RenderPassDescriptor) hal.RenderPassEncoder {
	cb.barriers.Flush(cb.encoder)
	return cb.encoder.BeginRenderPass(desc)
}

// BeginComputePass flushes queued barriers and opens a compute pass.
func (cb *CommandBuffer) BeginComputePass(label string) hal.ComputePassEncoder {
	cb.barriers.Flush(cb.encoder)
	return cb.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: label})
}

// Reset recycles the native list and reopens the encoder.
// The caller must know the buffer is not busy.
func (cb *CommandBuffer) Reset() error {
	if cb.recording {
		cb.encoder.DiscardEncoding()
		cb.recording = false
	}
	if cb.list != nil {
		cb.encoder.ResetAll([]hal.CommandBuffer{cb.list})
		cb.list = nil
	}
	cb.barriers.Discard()
	if err := cb.encoder.BeginEncoding(cb.label); err != nil {
		return fmt.Errorf("cmdpool: begin %s: %w", cb.label, err)
	}
	cb.recording = true
	return nil
}

func (cb *CommandBuffer) close() (hal.CommandBuffer, error) {
	if !cb.recording {
		return nil, fmt.Errorf("%w: %s", ErrNotRecording, cb.label)
	}
	cb.barriers.Flush(cb.encoder)
	list, err := cb.encoder.EndEncoding()
	cb.recording = false
	if err != nil {
		return nil, fmt.Errorf("cmdpool: end %s: %w", cb.label, err)
	}
	cb.list = list
	return list, nil
}

func (cb *CommandBuffer) destroy() {
	if cb.recording {
		cb.encoder.DiscardEncoding()
		cb.recording = false
	}
	if cb.list != nil {
		cb.factory.FreeCommandBuffer(cb.list)
		cb.list = nil
	}
	if cb.encoder != nil {
		cb.encoder.Destroy()
		cb.encoder = nil
	}
}

// Pool is a fixed ring of command buffers for one queue kind.
//
// A Pool is driven from one goroutine. Flush and Submissions may be called
// concurrently with it.
type Pool struct {
	kind    QueueKind
	queue   Queue
	buffers []*CommandBuffer
	next    int

	submitMu       sync.Mutex
	lastSubmission atomic.Uint64
	submissions    atomic.Uint64
}

// NewPool creates size command buffers for kind, each with its own fence.
func NewPool(factory EncoderFactory, queue Queue, kind QueueKind, size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %s pool", ErrInvalidPoolSize, kind)
	}
	p := &Pool{kind: kind, queue: queue, buffers: make([]*CommandBuffer, 0, size)}
	for i := 0; i < size; i++ {
		label := fmt.Sprintf("%s-cmd-%d", kind, i)
		enc, err := factory.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
		if err != nil {
			p.Destroy()
			return nil, fmt.Errorf("cmdpool: create %s: %w", label, err)
		}
		p.buffers = append(p.buffers, &CommandBuffer{
			kind:    kind,
			index:   i,
			label:   label,
			factory: factory,
			encoder: enc,
			fence:   NewFence(queue),
		})
	}
	return p, nil
}

// Kind returns the pool's queue kind.
func (p *Pool) Kind() QueueKind { return p.kind }

// Len returns the number of command buffers.
func (p *Pool) Len() int { return len(p.buffers) }

// Buffer returns the command buffer in slot i.
func (p *Pool) Buffer(i int) *CommandBuffer { return p.buffers[i] }

// GetFree returns the next command buffer in round-robin order, reset and
// recording. It spins while that buffer is busy.
func (p *Pool) GetFree() (*CommandBuffer, error) {
	cb := p.buffers[p.next]
	p.next = (p.next + 1) % len(p.buffers)
	for cb.IsBusy() {
		runtime.Gosched()
	}
	if err := cb.Reset(); err != nil {
		return nil, err
	}
	return cb, nil
}

// Execute closes cb, submits it and signals its fence with the next value.
func (p *Pool) Execute(cb *CommandBuffer) error {
	if cb.kind != p.kind || cb.index >= len(p.buffers) || p.buffers[cb.index] != cb {
		return fmt.Errorf("%w: %s on %s pool", ErrForeignBuffer, cb.label, p.kind)
	}
	list, err := cb.close()
	if err != nil {
		return err
	}

	p.submitMu.Lock()
	defer p.submitMu.Unlock()
	idx, err := p.queue.Submit([]hal.CommandBuffer{list})
	if err != nil {
		return fmt.Errorf("cmdpool: submit %s: %w", cb.label, err)
	}
	cb.fenceValue++
	cb.fence.Signal(cb.fenceValue, idx)
	p.lastSubmission.Store(idx)
	p.submissions.Add(1)
	return nil
}

// LastSubmission returns the queue index of the most recent submission.
func (p *Pool) LastSubmission() uint64 { return p.lastSubmission.Load() }

// Recording returns the number of buffers open for commands.
func (p *Pool) Recording() int {
	n := 0
	for _, cb := range p.buffers {
		if cb.recording {
			n++
		}
	}
	return n
}

// Submissions returns the number of successful submissions.
func (p *Pool) Submissions() uint64 { return p.submissions.Load() }

// Flush blocks until every buffer's last submission completes.
func (p *Pool) Flush() {
	for _, cb := range p.buffers {
		cb.Wait()
	}
}

// Destroy releases all encoders. The pool must be flushed first.
func (p *Pool) Destroy() {
	for _, cb := range p.buffers {
		cb.destroy()
	}
	p.buffers = nil
}
