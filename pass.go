package g3d

import (
	"fmt"

	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/resource"
)

// PassHandle names a created pass. Passes reference a predecessor's output
// by its handle.
type PassHandle string

// RenderPass is one stage of the frame.
type RenderPass interface {
	// Init creates the pass's GPU objects.
	Init(ctx *InitContext) error
	// Render records the pass into ctx.Cmd.
	Render(ctx *FrameContext) error
	// Output returns the render target the pass writes.
	Output() resource.RenderTargetHandle
}

// InputData is the typed configuration of a pass.
type InputData interface {
	// Dependencies returns the passes whose outputs are read.
	Dependencies() []PassHandle
}

// NoInput is the input of passes without dependencies.
type NoInput struct{}

// Dependencies returns nil.
func (NoInput) Dependencies() []PassHandle { return nil }

// Pass is a RenderPass configured with input data after Init.
type Pass[I InputData] interface {
	RenderPass
	SubInit(ctx *InitContext, input I) error
}

// InitContext is handed to Init and SubInit.
type InitContext struct {
	Device    *device.Device
	Resources *resource.Manager
	// Handle is the handle of the pass being created.
	Handle PassHandle

	registry *PassRegistry
}

// Output returns the output render target handle of an already created
// pass.
func (c *InitContext) Output(h PassHandle) (resource.RenderTargetHandle, error) {
	p, err := c.registry.Get(h)
	if err != nil {
		return 0, err
	}
	return p.Output(), nil
}

// Input returns the output render target of an already created pass.
func (c *InitContext) Input(h PassHandle) (*device.RenderTarget, error) {
	out, err := c.Output(h)
	if err != nil {
		return nil, err
	}
	return c.Resources.GetRenderTarget(out)
}

type passEntry struct {
	pass RenderPass
	deps []PassHandle
}

// PassRegistry holds the created passes of one Renderer and its configured
// stack.
type PassRegistry struct {
	passes  map[PassHandle]*passEntry
	created []PassHandle
	stack   []PassHandle
}

func newPassRegistry() *PassRegistry {
	return &PassRegistry{passes: make(map[PassHandle]*passEntry)}
}

// Get returns the pass created under h.
func (pr *PassRegistry) Get(h PassHandle) (RenderPass, error) {
	e, ok := pr.passes[h]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPass, h)
	}
	return e.pass, nil
}

// Dependencies returns the dependencies h was created with.
func (pr *PassRegistry) Dependencies(h PassHandle) []PassHandle {
	if e, ok := pr.passes[h]; ok {
		return e.deps
	}
	return nil
}

// Created returns the handles in creation order.
func (pr *PassRegistry) Created() []PassHandle { return pr.created }

// Stack returns the configured execution order.
func (pr *PassRegistry) Stack() []PassHandle { return pr.stack }

// checkNew validates a pass about to be created under h.
func (pr *PassRegistry) checkNew(h PassHandle, deps []PassHandle) error {
	if h == "" {
		return fmt.Errorf("%w: empty pass handle", ErrUnknownPass)
	}
	if _, dup := pr.passes[h]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicatePass, h)
	}
	for _, d := range deps {
		if d == h {
			return fmt.Errorf("%w: %q depends on itself", ErrDependencyOrder, h)
		}
		if _, ok := pr.passes[d]; !ok {
			return fmt.Errorf("%w: %q needs %q", ErrMissingDependency, h, d)
		}
	}
	return nil
}

func (pr *PassRegistry) add(h PassHandle, p RenderPass, deps []PassHandle) {
	pr.passes[h] = &passEntry{pass: p, deps: append([]PassHandle(nil), deps...)}
	pr.created = append(pr.created, h)
}

// validate checks that stack is a topological order of created passes.
func (pr *PassRegistry) validate(stack []PassHandle) error {
	pos := make(map[PassHandle]int, len(stack))
	for i, h := range stack {
		if _, ok := pr.passes[h]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPass, h)
		}
		if _, dup := pos[h]; dup {
			return fmt.Errorf("%w: %q appears twice in the stack", ErrDuplicatePass, h)
		}
		pos[h] = i
	}
	for i, h := range stack {
		for _, d := range pr.passes[h].deps {
			j, ok := pos[d]
			if !ok {
				return fmt.Errorf("%w: %q needs %q, which is not in the stack", ErrDependencyOrder, h, d)
			}
			if j > i {
				return fmt.Errorf("%w: %q runs before its dependency %q", ErrDependencyOrder, h, d)
			}
		}
	}
	return nil
}

func (pr *PassRegistry) closeAll() []error {
	var errs []error
	for i := len(pr.created) - 1; i >= 0; i-- {
		h := pr.created[i]
		if c, ok := pr.passes[h].pass.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close pass %q: %w", h, err))
			}
		}
	}
	return errs
}

// CreateRenderPass initialises pass under h with input and registers it
// with r. Every dependency of input must already be created.
func CreateRenderPass[I InputData](r *Renderer, h PassHandle, pass Pass[I], input I) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateShutDown {
		return fmt.Errorf("%w: create pass %q after shutdown", ErrInvalidState, h)
	}
	deps := input.Dependencies()
	if err := r.passes.checkNew(h, deps); err != nil {
		return err
	}
	ctx := &InitContext{Device: r.dev, Resources: r.res, Handle: h, registry: r.passes}
	if err := pass.Init(ctx); err != nil {
		closePartial(pass)
		return fmt.Errorf("g3d: init pass %q: %w", h, err)
	}
	if err := pass.SubInit(ctx, input); err != nil {
		closePartial(pass)
		return fmt.Errorf("g3d: configure pass %q: %w", h, err)
	}
	r.passes.add(h, pass, deps)
	slogger().Debug("g3d: pass created", "pass", string(h), "dependencies", len(deps))
	return nil
}

// closePartial releases what a pass created before its Init or SubInit
// failed.
func closePartial(p RenderPass) {
	if c, ok := p.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			slogger().Warn("g3d: close of failed pass", "err", err)
		}
	}
}

// GetRenderPassByHandle returns the pass created under h.
func (r *Renderer) GetRenderPassByHandle(h PassHandle) (RenderPass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.passes.Get(h)
}

// PassByHandle returns the pass created under h as a T.
func PassByHandle[T RenderPass](r *Renderer, h PassHandle) (T, error) {
	var zero T
	p, err := r.GetRenderPassByHandle(h)
	if err != nil {
		return zero, err
	}
	t, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q is %T, not %T", ErrPassType, h, p, zero)
	}
	return t, nil
}

// MustPassByHandle is like PassByHandle but panics on error.
func MustPassByHandle[T RenderPass](r *Renderer, h PassHandle) T {
	t, err := PassByHandle[T](r, h)
	if err != nil {
		panic(err)
	}
	return t
}
