package device

import "errors"

// Device errors.
var (
	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("device: closed")

	// ErrInvalidDesc is returned for descriptors that cannot describe a
	// valid object: zero sizes, missing shader paths and similar.
	ErrInvalidDesc = errors.New("device: invalid descriptor")

	// ErrColorTargetCount is returned when a render target or graphics
	// pipeline names zero or more than MaxColorTargets color formats.
	ErrColorTargetCount = errors.New("device: color target count out of range")

	// ErrUnknownBinding is returned when looking up a binding name the
	// pipeline does not declare.
	ErrUnknownBinding = errors.New("device: unknown binding")

	// ErrBindingMismatch is returned when a descriptor handle does not fit
	// the binding it is bound to.
	ErrBindingMismatch = errors.New("device: descriptor does not match binding")

	// ErrNoCallData is returned for call-data operations on pipelines
	// without DynamicCallData.
	ErrNoCallData = errors.New("device: pipeline has no dynamic call data")

	// ErrCallDataFull is returned when a frame pushes more call data than
	// Config.DynamicCallSlots.
	ErrCallDataFull = errors.New("device: dynamic call data ring full")

	// ErrWrongQueue is returned when a command buffer is executed through
	// an Execute function of another queue kind.
	ErrWrongQueue = errors.New("device: command buffer executed on wrong queue")

	// ErrMissingEntryPoint is returned when a pipeline names an entry point
	// its WGSL source does not define.
	ErrMissingEntryPoint = errors.New("device: missing shader entry point")
)
