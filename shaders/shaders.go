// Package shaders embeds the reference WGSL shaders used by the standard
// passes and by the resource manager's compute work.
//
// Paths are relative to FS, for example "composite.wgsl". Files containing
// $FORMAT are templates; the loader substitutes a storage texture format.
package shaders

import "embed"

// FS holds the embedded shader sources.
//
//go:embed *.wgsl
var FS embed.FS

// Shader paths.
const (
	Composite      = "composite.wgsl"
	MipGen         = "mipgen.wgsl"
	MipGenArray    = "mipgen_array.wgsl"
	EquirectToCube = "equirect_to_cube.wgsl"
	Irradiance     = "irradiance.wgsl"
	Shadow         = "shadow.wgsl"
	GBuffer        = "gbuffer.wgsl"
	PBR            = "pbr.wgsl"
	FXAA           = "fxaa.wgsl"
	Bloom          = "bloom.wgsl"
	BloomCombine   = "bloom_combine.wgsl"
	Tonemap        = "tonemap.wgsl"
	RTShadow       = "rt_shadow.wgsl"
)
