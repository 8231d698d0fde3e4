package resource

import (
	"fmt"

	"github.com/gogpu/g3d/device"
)

// CreateRenderTarget creates a render target. A non-empty name registers it
// for GetRenderTargetHandle; names are unique.
func (m *Manager) CreateRenderTarget(desc device.RenderTargetDesc, name string) (RenderTargetHandle, error) {
	if name != "" {
		m.mu.Lock()
		_, dup := m.targetNames[name]
		m.mu.Unlock()
		if dup {
			return 0, fmt.Errorf("%w: render target %q", ErrDuplicateName, name)
		}
	}
	if desc.Label == "" {
		desc.Label = name
	}
	rt, err := m.dev.CreateRenderTarget(desc)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		m.dev.DestroyRenderTarget(rt)
		return 0, err
	}
	if _, dup := m.targetNames[name]; dup && name != "" {
		m.dev.DestroyRenderTarget(rt)
		return 0, fmt.Errorf("%w: render target %q", ErrDuplicateName, name)
	}
	h := m.targets.add(rt)
	if name != "" {
		m.targetNames[name] = h
	}
	return h, nil
}

// GetRenderTarget returns the render target for h.
func (m *Manager) GetRenderTarget(h RenderTargetHandle) (*device.RenderTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targets.lookup(h)
}

// MustRenderTarget is GetRenderTarget that panics on error.
func (m *Manager) MustRenderTarget(h RenderTargetHandle) *device.RenderTarget {
	rt, err := m.GetRenderTarget(h)
	if err != nil {
		panic(err)
	}
	return rt
}

// GetRenderTargetHandle returns the handle registered under name.
func (m *Manager) GetRenderTargetHandle(name string) (RenderTargetHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.targetNames[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRenderTarget, name)
	}
	return h, nil
}

// MustRenderTargetHandle is GetRenderTargetHandle that panics on error.
func (m *Manager) MustRenderTargetHandle(name string) RenderTargetHandle {
	h, err := m.GetRenderTargetHandle(name)
	if err != nil {
		panic(err)
	}
	return h
}

// DestroyRenderTarget releases the target and frees its name.
func (m *Manager) DestroyRenderTarget(h RenderTargetHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.targets.remove(h)
	if !ok {
		return
	}
	for name, nh := range m.targetNames {
		if nh == h {
			delete(m.targetNames, name)
		}
	}
	m.dev.DestroyRenderTarget(rt)
}
