package resource

import (
	"fmt"
	"io/fs"
	"sync"

	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/internal/parallel"
	"github.com/gogpu/gputypes"
)

// Defaults for Manager options.
const (
	DefaultMaxTextureSize  = 4096
	DefaultEnvironmentSize = 512
	DefaultIrradianceSize  = 32
)

// Option configures NewManager.
type Option func(*options)

type options struct {
	maxTextureSize uint32
	envSize        uint32
	irradianceSize uint32
	assets         fs.FS
	decodeWorkers  int
}

// WithMaxTextureSize limits the larger edge of loaded images. Larger images
// are resampled down on load.
func WithMaxTextureSize(n uint32) Option {
	return func(o *options) { o.maxTextureSize = n }
}

// WithEnvironmentSize sets the face size of environment cube maps.
func WithEnvironmentSize(n uint32) Option {
	return func(o *options) { o.envSize = n }
}

// WithIrradianceSize sets the face size of irradiance cube maps.
func WithIrradianceSize(n uint32) Option {
	return func(o *options) { o.irradianceSize = n }
}

// WithAssets resolves LoadTexture and CreateEnvironmentMap paths in fsys
// instead of the operating system's file system.
func WithAssets(fsys fs.FS) Option {
	return func(o *options) { o.assets = fsys }
}

// WithDecodeWorkers sets the number of goroutines LoadTextures decodes
// images on. n <= 0 uses GOMAXPROCS.
func WithDecodeWorkers(n int) Option {
	return func(o *options) { o.decodeWorkers = n }
}

// Manager owns meshes, textures, materials, render targets, pipelines and
// environment maps created on one device.
//
// Manager is safe for concurrent use. GPU work (uploads, mip generation and
// environment precompute) runs on the caller's goroutine.
type Manager struct {
	dev  *device.Device
	opts options

	mu           sync.Mutex
	closed       bool
	meshes       *table[Mesh]
	textures     *table[device.Texture]
	materials    *table[Material]
	targets      *table[device.RenderTarget]
	targetNames  map[string]RenderTargetHandle
	graphics     *table[device.GraphicsPipeline]
	compute      *table[device.ComputePipeline]
	raytracing   *table[device.RaytracingPipeline]
	environments *table[EnvironmentMap]
	texturePaths map[string]TextureHandle

	decoder *parallel.Pool

	sampler     *device.Sampler
	mipgen      map[mipKey]*device.ComputePipeline
	equirect    *device.ComputePipeline
	irradiance  *device.ComputePipeline
	mipDispatch int

	fallbackMesh     MeshHandle
	fallbackTexture  TextureHandle
	whiteTexture     TextureHandle
	fallbackMaterial MaterialHandle
	fallbackEnv      EnvironmentMapHandle
}

// NewManager creates a manager on dev and its fallback objects: a
// checkerboard texture, a unit cube, a white material and a black
// environment. Each fallback is the first entry of its table.
func NewManager(dev *device.Device, opts ...Option) (*Manager, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", device.ErrInvalidDesc)
	}
	o := options{
		maxTextureSize: DefaultMaxTextureSize,
		envSize:        DefaultEnvironmentSize,
		irradianceSize: DefaultIrradianceSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	m := &Manager{
		dev:          dev,
		opts:         o,
		meshes:       newTable[Mesh]("mesh"),
		textures:     newTable[device.Texture]("texture"),
		materials:    newTable[Material]("material"),
		targets:      newTable[device.RenderTarget]("render target"),
		targetNames:  make(map[string]RenderTargetHandle),
		graphics:     newTable[device.GraphicsPipeline]("graphics pipeline"),
		compute:      newTable[device.ComputePipeline]("compute pipeline"),
		raytracing:   newTable[device.RaytracingPipeline]("raytracing pipeline"),
		environments: newTable[EnvironmentMap]("environment map"),
		texturePaths: make(map[string]TextureHandle),
		mipgen:       make(map[mipKey]*device.ComputePipeline),
		decoder:      parallel.NewPool(o.decodeWorkers),
	}

	s, err := dev.CreateSampler(device.SamplerDesc{Label: "resource linear", AddressMode: gputypes.AddressModeRepeat, MaxAnisotropy: 8})
	if err != nil {
		m.decoder.Close()
		return nil, err
	}
	m.sampler = s
	if err := m.createFallbacks(); err != nil {
		_ = m.Close()
		return nil, err
	}
	slogger().Info("resource: manager ready",
		"max_texture", o.maxTextureSize, "environment", o.envSize, "irradiance", o.irradianceSize,
		"decode_workers", m.decoder.Workers())
	return m, nil
}

// Device returns the device the manager creates objects on.
func (m *Manager) Device() *device.Device { return m.dev }

// Sampler returns the shared linear, repeating, anisotropic sampler.
func (m *Manager) Sampler() *device.Sampler { return m.sampler }

// Counts reports the number of live objects per table.
type Counts struct {
	Meshes            int
	Textures          int
	Materials         int
	RenderTargets     int
	GraphicsPipelines int
	ComputePipelines  int
	Raytracing        int
	EnvironmentMaps   int
}

// Counts returns the number of live objects in every table, fallbacks
// included.
func (m *Manager) Counts() Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Counts{
		Meshes:            m.meshes.len(),
		Textures:          m.textures.len(),
		Materials:         m.materials.len(),
		RenderTargets:     m.targets.len(),
		GraphicsPipelines: m.graphics.len(),
		ComputePipelines:  m.compute.len(),
		Raytracing:        m.raytracing.len(),
		EnvironmentMaps:   m.environments.len(),
	}
}

func (m *Manager) checkOpen() error {
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close destroys every object the manager owns. The device stays open.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.closed = true

	d := m.dev
	m.environments.drain(func(e *EnvironmentMap) {
		d.DestroyTexture(e.Environment)
		d.DestroyTexture(e.Irradiance)
	})
	m.materials.drain(func(mat *Material) { d.DestroyBuffer(mat.Constants) })
	m.meshes.drain(func(mesh *Mesh) { m.destroyMesh(mesh) })
	m.textures.drain(d.DestroyTexture)
	m.targets.drain(d.DestroyRenderTarget)
	m.graphics.drain(func(p *device.GraphicsPipeline) { d.DestroyPipeline(p) })
	m.compute.drain(func(p *device.ComputePipeline) { d.DestroyPipeline(p) })
	m.raytracing.drain(func(p *device.RaytracingPipeline) { d.DestroyPipeline(p) })
	for k, p := range m.mipgen {
		d.DestroyPipeline(p)
		delete(m.mipgen, k)
	}
	for _, p := range []*device.ComputePipeline{m.equirect, m.irradiance} {
		if p != nil {
			d.DestroyPipeline(p)
		}
	}
	m.equirect, m.irradiance = nil, nil
	d.DestroySampler(m.sampler)
	m.decoder.Close()
	clear(m.targetNames)
	clear(m.texturePaths)
	slogger().Info("resource: manager closed")
	return nil
}
