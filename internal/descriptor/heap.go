// Package descriptor implements fixed-capacity descriptor heaps.
//
// A heap is a slab of descriptor slots addressed by Handle. Slots are handed
// out from a free list and returned through a deferred-free queue: Free only
// parks the slot in the open batch, and ProcessDeferredFree seals that batch
// with the fence value of the last submission and reclaims every sealed batch
// the GPU has finished with. A slot is therefore never reissued while a
// command buffer that may reference it is still in flight.
package descriptor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/wgpu/hal"
)

// Heap errors.
var (
	// ErrHeapExhausted is returned by Allocate when every slot is live.
	ErrHeapExhausted = errors.New("descriptor: heap exhausted")

	// ErrStaleHandle is returned for handles that do not name a live slot.
	ErrStaleHandle = errors.New("descriptor: stale or foreign handle")

	// ErrInvalidCapacity is returned by NewHeap for a zero capacity.
	ErrInvalidCapacity = errors.New("descriptor: capacity must be positive")
)

// Kind identifies what a heap stores.
type Kind uint8

const (
	// RenderTargetView heaps hold color attachment views.
	RenderTargetView Kind = iota
	// DepthStencilView heaps hold depth attachment views.
	DepthStencilView
	// ShaderResourceView heaps hold sampled views, storage views and
	// constant buffer ranges.
	ShaderResourceView
	// Sampler heaps hold samplers.
	Sampler
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case RenderTargetView:
		return "rtv"
	case DepthStencilView:
		return "dsv"
	case ShaderResourceView:
		return "srv"
	case Sampler:
		return "sampler"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// stride is the distance between consecutive slot addresses.
const stride = 32

// heapSerial gives each heap a distinct non-zero address range.
var heapSerial atomic.Uint64

// Handle addresses one slot of a heap.
// The zero Handle is invalid.
type Handle struct {
	// CPU is the slot address. Never zero for a valid handle.
	CPU uint64
	// GPU is the shader-visible address, zero for CPU-only heaps.
	GPU uint64

	index      uint32
	generation uint32
}

// Valid reports whether h was produced by Allocate.
func (h Handle) Valid() bool { return h.CPU != 0 }

// Index returns the slot index inside the owning heap.
func (h Handle) Index() uint32 { return h.index }

// Generation returns how many times the slot had been reused when h was
// issued. Caches keyed by handles include it to avoid aliasing recycled slots.
func (h Handle) Generation() uint32 { return h.generation }

// Entry is the native object bound to a slot.
// Only the fields relevant to the heap kind are set.
type Entry struct {
	View    hal.TextureView
	Sampler hal.Sampler

	Buffer hal.Buffer
	Offset uint64
	Size   uint64

	// Owned marks entries whose native object is destroyed on reclaim.
	Owned bool
}

// HeapDesc describes a heap.
type HeapDesc struct {
	Label         string
	Kind          Kind
	Capacity      int
	ShaderVisible bool
}

type slot struct {
	entry      Entry
	generation uint32
	live       bool
	deferred   bool
}

type batch struct {
	fence uint64
	slots []uint32
}

// Heap is a fixed-capacity slab allocator for descriptors.
//
// Heap is safe for concurrent use.
type Heap struct {
	mu sync.Mutex

	desc    HeapDesc
	cpuBase uint64
	gpuBase uint64

	slots []slot
	free  []uint32
	live  int

	open    []uint32
	sealed  []batch
	release func(Entry)
}

// NewHeap creates a heap with desc.Capacity slots.
// release is called for every reclaimed entry and may be nil.
func NewHeap(desc HeapDesc, release func(Entry)) (*Heap, error) {
	if desc.Capacity <= 0 {
		return nil, fmt.Errorf("%w: %s heap %q", ErrInvalidCapacity, desc.Kind, desc.Label)
	}
	serial := heapSerial.Add(1)
	h := &Heap{
		desc:    desc,
		cpuBase: serial << 32,
		slots:   make([]slot, desc.Capacity),
		free:    make([]uint32, desc.Capacity),
		release: release,
	}
	if desc.ShaderVisible {
		h.gpuBase = (serial << 32) | 1<<31
	}
	// Pop order hands out slot 0 first.
	for i := range h.free {
		h.free[i] = uint32(desc.Capacity - 1 - i) //nolint:gosec // bounded by capacity
	}
	return h, nil
}

// Kind returns the heap kind.
func (h *Heap) Kind() Kind { return h.desc.Kind }

// Label returns the heap label.
func (h *Heap) Label() string { return h.desc.Label }

// Capacity returns the number of slots.
func (h *Heap) Capacity() int { return h.desc.Capacity }

// Len returns the number of allocated slots that have not been freed.
func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}

// Pending returns the number of freed slots awaiting reclamation.
func (h *Heap) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pendingLocked()
}

// Allocate takes a slot from the free list.
func (h *Heap) Allocate() (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.free) == 0 {
		return Handle{}, fmt.Errorf("%w: %s heap %q (capacity %d, %d awaiting reclaim)",
			ErrHeapExhausted, h.desc.Kind, h.desc.Label, h.desc.Capacity, h.pendingLocked())
	}
	idx := h.free[len(h.free)-1]
	h.free = h.free[:len(h.free)-1]

	s := &h.slots[idx]
	s.generation++
	s.live = true
	s.entry = Entry{}
	h.live++
	return h.handleLocked(idx), nil
}

// MustAllocate is like Allocate but panics when the heap is exhausted.
// Heap capacity is configuration, so exhaustion is a setup bug.
func (h *Heap) MustAllocate() Handle {
	hd, err := h.Allocate()
	if err != nil {
		panic(err)
	}
	return hd
}

// Set binds e to the slot addressed by hd.
func (h *Heap) Set(hd Handle, e Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := h.slotLocked(hd)
	if err != nil {
		return err
	}
	s.entry = e
	return nil
}

// Get returns the entry bound to hd.
func (h *Heap) Get(hd Handle) (Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := h.slotLocked(hd)
	if err != nil {
		return Entry{}, err
	}
	return s.entry, nil
}

// Owns reports whether hd was issued by this heap and is still live.
func (h *Heap) Owns(hd Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.slotLocked(hd)
	return err == nil
}

// Free parks the slot in the open deferred batch. The slot is not reissued
// until ProcessDeferredFree observes that the GPU finished the batch.
func (h *Heap) Free(hd Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := h.slotLocked(hd)
	if err != nil {
		return err
	}
	s.live = false
	s.deferred = true
	h.live--
	h.open = append(h.open, hd.index)
	return nil
}

// ProcessDeferredFree seals the open batch with fence value submitted and
// reclaims every sealed batch whose fence is at or below completed.
// It returns the number of slots returned to the free list.
func (h *Heap) ProcessDeferredFree(submitted, completed uint64) int {
	h.Seal(submitted)
	return h.Reclaim(completed)
}

// Seal closes the open batch of freed slots under fence. Slots freed later
// go to a new batch.
func (h *Heap) Seal(fence uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.open) > 0 {
		h.sealed = append(h.sealed, batch{fence: fence, slots: h.open})
		h.open = nil
	}
}

// Reclaim returns the slots of every sealed batch whose fence is at or
// below completed to the free list. The open batch is left alone.
func (h *Heap) Reclaim(completed uint64) int {
	h.mu.Lock()

	var released []Entry
	n := 0
	keep := h.sealed[:0]
	for _, b := range h.sealed {
		if b.fence > completed {
			keep = append(keep, b)
			continue
		}
		for _, idx := range b.slots {
			s := &h.slots[idx]
			if s.entry.Owned {
				released = append(released, s.entry)
			}
			s.entry = Entry{}
			s.deferred = false
			h.free = append(h.free, idx)
			n++
		}
	}
	clear(h.sealed[len(keep):])
	h.sealed = keep
	release := h.release
	h.mu.Unlock()

	if release != nil {
		for _, e := range released {
			release(e)
		}
	}
	return n
}

// Drain reclaims everything, live slots included. Used at shutdown after the
// device is idle.
func (h *Heap) Drain() {
	h.mu.Lock()
	var released []Entry
	for i := range h.slots {
		s := &h.slots[i]
		if (s.live || s.deferred) && s.entry.Owned {
			released = append(released, s.entry)
		}
		*s = slot{generation: s.generation}
	}
	h.free = h.free[:0]
	for i := len(h.slots) - 1; i >= 0; i-- {
		h.free = append(h.free, uint32(i)) //nolint:gosec // bounded by capacity
	}
	h.open = nil
	h.sealed = nil
	h.live = 0
	release := h.release
	h.mu.Unlock()

	if release != nil {
		for _, e := range released {
			release(e)
		}
	}
}

func (h *Heap) handleLocked(idx uint32) Handle {
	hd := Handle{
		CPU:        h.cpuBase + uint64(idx)*stride,
		index:      idx,
		generation: h.slots[idx].generation,
	}
	if h.gpuBase != 0 {
		hd.GPU = h.gpuBase + uint64(idx)*stride
	}
	return hd
}

func (h *Heap) slotLocked(hd Handle) (*slot, error) {
	if !hd.Valid() || hd.CPU&^0xFFFFFFFF != h.cpuBase || int(hd.index) >= len(h.slots) {
		return nil, fmt.Errorf("%w: %s heap %q", ErrStaleHandle, h.desc.Kind, h.desc.Label)
	}
	s := &h.slots[hd.index]
	if !s.live || s.generation != hd.generation {
		return nil, fmt.Errorf("%w: %s heap %q slot %d", ErrStaleHandle, h.desc.Kind, h.desc.Label, hd.index)
	}
	return s, nil
}

func (h *Heap) pendingLocked() int {
	n := len(h.open)
	for _, b := range h.sealed {
		n += len(b.slots)
	}
	return n
}
