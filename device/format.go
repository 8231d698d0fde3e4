package device

import (
	"math/bits"

	"github.com/gogpu/gputypes"
)

// BytesPerPixel returns the texel size of the uncompressed formats the
// renderer uses, or 0 for anything else.
func BytesPerPixel(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatR32Float, gputypes.TextureFormatDepth32Float:
		return 4
	case gputypes.TextureFormatRGBA16Float:
		return 8
	case gputypes.TextureFormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

// StorageFormatName returns the WGSL texel format name used in
// texture_storage declarations, or "" if f cannot be a storage texture.
func StorageFormatName(f gputypes.TextureFormat) string {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm:
		return "rgba8unorm"
	case gputypes.TextureFormatRGBA16Float:
		return "rgba16float"
	case gputypes.TextureFormatRGBA32Float:
		return "rgba32float"
	case gputypes.TextureFormatR32Float:
		return "r32float"
	default:
		return ""
	}
}

func srgbVariant(f gputypes.TextureFormat) (gputypes.TextureFormat, bool) {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8UnormSrgb, true
	case gputypes.TextureFormatBGRA8Unorm:
		return gputypes.TextureFormatBGRA8UnormSrgb, true
	default:
		return f, false
	}
}

// MipLevelCount returns the length of the full mip chain for a w×h image.
func MipLevelCount(w, h uint32) uint32 {
	return uint32(bits.Len32(max(w, h, 1))) //nolint:gosec // at most 32
}

// MipSize returns the size of mip level of a w×h image, never below 1.
func MipSize(w, h, level uint32) (uint32, uint32) {
	return max(1, w>>level), max(1, h>>level)
}
