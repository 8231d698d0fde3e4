// Package passes implements the standard deferred pipeline of g3d: a
// directional shadow map, the G-buffer, PBR lighting, FXAA, bloom and tone
// mapping, plus an optional ray traced shadow mask.
//
// Each pass owns one render target registered under its pass handle.
// CreateStandardPasses wires the default chain:
//
//	shadow ─┐
//	        ├─ pbr ─ fxaa ─ bloom ─ tonemap
//	geometry┘
package passes
