package resource

import "github.com/gogpu/g3d/device"

// CreateGraphicsPipeline builds a render pipeline owned by the manager.
func (m *Manager) CreateGraphicsPipeline(desc device.GraphicsPipelineDesc) (GraphicsPipelineHandle, error) {
	p, err := m.dev.CreateGraphicsPipeline(desc)
	if err != nil {
		return 0, err
	}
	return addPipeline(m, m.graphics, p)
}

// CreateComputePipeline builds a compute pipeline owned by the manager.
func (m *Manager) CreateComputePipeline(desc device.ComputePipelineDesc) (ComputePipelineHandle, error) {
	p, err := m.dev.CreateComputePipeline(desc)
	if err != nil {
		return 0, err
	}
	return addPipeline(m, m.compute, p)
}

// CreateRaytracingPipeline builds a raytracing pipeline owned by the
// manager.
func (m *Manager) CreateRaytracingPipeline(desc device.RaytracingPipelineDesc) (RaytracingPipelineHandle, error) {
	p, err := m.dev.CreateRaytracingPipeline(desc)
	if err != nil {
		return 0, err
	}
	return addPipeline(m, m.raytracing, p)
}

func addPipeline[T any, P interface {
	*T
	device.Pipeline
}](m *Manager, t *table[T], p P) (Handle[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		m.dev.DestroyPipeline(p)
		return 0, err
	}
	return t.add((*T)(p)), nil
}

// GetGraphicsPipeline returns the pipeline for h.
func (m *Manager) GetGraphicsPipeline(h GraphicsPipelineHandle) (*device.GraphicsPipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graphics.lookup(h)
}

// GetComputePipeline returns the pipeline for h.
func (m *Manager) GetComputePipeline(h ComputePipelineHandle) (*device.ComputePipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compute.lookup(h)
}

// GetRaytracingPipeline returns the pipeline for h.
func (m *Manager) GetRaytracingPipeline(h RaytracingPipelineHandle) (*device.RaytracingPipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raytracing.lookup(h)
}
