// Package resource owns the renderer's assets behind typed handles.
//
// A Manager keeps one table per object kind. Handles are dense integers
// issued from a per-table counter and never reused, so a stale handle can
// never alias a newer object. Meshes, textures and materials always resolve:
// unknown handles map to fallback objects created with the manager. Render
// targets, pipelines and environment maps are configuration and unknown
// handles are errors.
//
// The manager also runs the texture work that needs the GPU: mip chain
// generation and image based lighting precompute for environment maps.
package resource
