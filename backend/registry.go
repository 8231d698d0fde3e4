package backend

import (
	"sort"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Backend names.
const (
	Vulkan   = "vulkan"
	Metal    = "metal"
	DX12     = "dx12"
	GL       = "gl"
	Software = "software"
)

// registry holds registered backends.
// Priority order for backend selection (first available wins).
var registry = gpucontext.NewRegistry[hal.Backend](
	gpucontext.WithPriority(Vulkan, Metal, DX12, GL, Software),
)

// Register registers a backend under name. A backend registered under an
// existing name replaces it.
func Register(name string, b hal.Backend) {
	registry.Register(name, func() hal.Backend { return b })
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registry.Unregister(name)
}

// Available returns the registered backend names in sorted order.
func Available() []string {
	names := registry.Available()
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	return registry.Has(name)
}

// Get returns the backend registered under name, or nil.
func Get(name string) hal.Backend {
	return registry.Get(name)
}

// Default returns the best registered backend and its name.
// Returns nil and "" if no backends are registered.
func Default() (string, hal.Backend) {
	name := registry.BestName()
	if name == "" {
		return "", nil
	}
	return name, registry.Get(name)
}

// Name returns the registry name of a HAL backend variant.
func Name(v gputypes.Backend) string {
	switch v {
	case gputypes.BackendVulkan:
		return Vulkan
	case gputypes.BackendMetal:
		return Metal
	case gputypes.BackendDX12:
		return DX12
	case gputypes.BackendGL:
		return GL
	case gputypes.BackendEmpty:
		return Software
	default:
		return v.String()
	}
}

// SyncHAL registers every backend known to the HAL under its Name and
// returns how many were registered.
func SyncHAL() int {
	n := 0
	for _, v := range hal.AvailableBackends() {
		if b, ok := hal.GetBackend(v); ok {
			Register(Name(v), b)
			n++
		}
	}
	return n
}
