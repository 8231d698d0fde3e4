package resource

import (
	"fmt"

	"github.com/gogpu/g3d/device"
)

// Handle names an object of type T in a Manager. The zero Handle is
// invalid.
type Handle[T any] uint32

// Valid reports whether h is non-zero. It does not check liveness.
func (h Handle[T]) Valid() bool { return h != 0 }

// ID returns the raw table index.
func (h Handle[T]) ID() uint32 { return uint32(h) }

// String returns "#id".
func (h Handle[T]) String() string { return fmt.Sprintf("#%d", uint32(h)) }

// Handle kinds.
type (
	MeshHandle               = Handle[Mesh]
	TextureHandle            = Handle[device.Texture]
	MaterialHandle           = Handle[Material]
	RenderTargetHandle       = Handle[device.RenderTarget]
	GraphicsPipelineHandle   = Handle[device.GraphicsPipeline]
	ComputePipelineHandle    = Handle[device.ComputePipeline]
	RaytracingPipelineHandle = Handle[device.RaytracingPipeline]
	EnvironmentMapHandle     = Handle[EnvironmentMap]
)

// table stores objects under handles issued from a counter that only grows.
// The Manager's mutex guards it.
type table[T any] struct {
	kind   string
	next   uint32
	items  map[Handle[T]]*T
	warned map[Handle[T]]bool
}

func newTable[T any](kind string) *table[T] {
	return &table[T]{kind: kind, items: make(map[Handle[T]]*T), warned: make(map[Handle[T]]bool)}
}

func (t *table[T]) add(v *T) Handle[T] {
	t.next++
	h := Handle[T](t.next)
	t.items[h] = v
	return h
}

func (t *table[T]) get(h Handle[T]) (*T, bool) {
	v, ok := t.items[h]
	return v, ok
}

// lookup returns the object for h or ErrInvalidHandle.
func (t *table[T]) lookup(h Handle[T]) (*T, error) {
	v, ok := t.items[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrInvalidHandle, t.kind, h)
	}
	return v, nil
}

// orFallback returns the object for h, or the object under fallback. A
// non-zero unknown handle is logged once.
func (t *table[T]) orFallback(h, fallback Handle[T]) *T {
	if v, ok := t.items[h]; ok {
		return v
	}
	if h.Valid() && !t.warned[h] {
		t.warned[h] = true
		slogger().Warn("resource: unknown handle, using fallback", "kind", t.kind, "handle", h.ID())
	}
	return t.items[fallback]
}

func (t *table[T]) remove(h Handle[T]) (*T, bool) {
	v, ok := t.items[h]
	if ok {
		delete(t.items, h)
	}
	return v, ok
}

func (t *table[T]) len() int { return len(t.items) }

// drain removes every object and calls fn on each.
func (t *table[T]) drain(fn func(*T)) {
	for h, v := range t.items {
		delete(t.items, h)
		fn(v)
	}
}
