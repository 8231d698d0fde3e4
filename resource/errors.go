package resource

import "errors"

// Resource errors.
var (
	// ErrInvalidHandle is returned when a render target, pipeline or
	// environment map handle does not name a live object.
	ErrInvalidHandle = errors.New("resource: invalid handle")

	// ErrUnknownRenderTarget is returned when looking up a render target
	// name that was never registered.
	ErrUnknownRenderTarget = errors.New("resource: unknown render target")

	// ErrDuplicateName is returned when registering a render target name
	// twice.
	ErrDuplicateName = errors.New("resource: duplicate name")

	// ErrNotMipmappable is returned by MipMapTexture for textures created
	// without unordered access.
	ErrNotMipmappable = errors.New("resource: texture has no per-mip views")

	// ErrClosed is returned by operations on a closed manager.
	ErrClosed = errors.New("resource: manager closed")
)
