// Package backend selects and opens HAL backends for the renderer.
//
// Backends are registered by name in a priority registry. Importing a HAL
// backend package registers it with the HAL; SyncHAL copies those
// registrations into this package under their short names:
//
//	import _ "github.com/gogpu/wgpu/hal/allbackends"
//
//	backend.SyncHAL()
//	opened, err := backend.Open(backend.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer opened.Close()
//
//	dev, err := device.New(opened.Device, cfg, opened.DeviceOptions()...)
//
// # Backend Selection
//
// Open with an empty Name picks the best registered backend in the order
// vulkan, metal, dx12, gl, software. Within a backend the adapter is
// chosen by device type, discrete GPUs first.
//
// # Available Backends
//
//   - "vulkan", "metal", "dx12", "gl": native GPU backends
//   - "software": CPU fallback (also the name of the test-only noop backend)
package backend
