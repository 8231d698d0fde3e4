// Package g3d is the frame driver of a real-time 3D renderer built on
// gogpu/wgpu.
//
// # Overview
//
// A Renderer owns a registry of render passes. Passes are created with
// CreateRenderPass, which initialises them against the device and the
// resource manager, and ordered with ConfigureRenderPasses, which checks
// that every pass runs after the passes it reads. Each RenderScene call:
//
//  1. uploads the scene constants and light list for the current back buffer;
//  2. records every configured pass into one graphics command buffer;
//  3. composites the last pass's output onto the back buffer;
//  4. draws the optional overlay, then submits and presents.
//
// # Quick Start
//
//	open, _ := backend.Open(backend.Options{})
//	dev, _ := device.New(open.Device, device.DefaultConfig(), open.DeviceOptions()...)
//	res, _ := resource.NewManager(dev)
//	r, _ := g3d.New(dev, res)
//
//	_ = g3d.CreateRenderPass(r, "geometry", passes.NewGeometryPass(), g3d.NoInput{})
//	_ = g3d.CreateRenderPass(r, "tonemap", passes.NewTonemapPass(), passes.SourceInput{Source: "geometry"})
//	_ = r.ConfigureRenderPasses([]g3d.PassHandle{"geometry", "tonemap"})
//
//	for running {
//	    _ = r.RenderScene(&scene)
//	}
//	_ = r.Shutdown()
//
// # Architecture
//
//   - device: GPU object factory, queues, descriptor heaps and back buffers
//   - resource: handle tables, fallbacks, textures, mip and IBL generation
//   - passes: the standard deferred pipeline and post-processing
//   - backend: HAL backend selection
//   - internal: descriptor heaps, state tracking, command pools, bind group
//     cache, shader loading, the HDR decoder and the decode worker pool
package g3d
