package resource

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // GIF decoder
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"io/fs"
	"os"

	_ "golang.org/x/image/bmp"  // BMP decoder
	_ "golang.org/x/image/tiff" // TIFF decoder
	_ "golang.org/x/image/webp" // WebP decoder

	"github.com/gogpu/g3d/device"
	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"
)

// CreateTexture creates a texture and, when pixels is not nil, uploads mip
// 0 of every layer. Textures with more than one mip and unordered access
// get their chain generated after the upload.
func (m *Manager) CreateTexture(desc device.TextureDesc, pixels []byte) (TextureHandle, error) {
	tex, err := m.dev.CreateTexture(desc)
	if err != nil {
		return 0, err
	}
	if pixels != nil {
		if err := m.dev.UploadTexture(tex, pixels); err != nil {
			m.dev.DestroyTexture(tex)
			return 0, err
		}
		if tex.Data.MipLevels > 1 && desc.Flags&device.AllowUnorderedAccess != 0 {
			if err := m.MipMapTexture(tex); err != nil {
				m.dev.DestroyTexture(tex)
				return 0, err
			}
		}
	}
	return m.addTexture(tex)
}

func (m *Manager) addTexture(tex *device.Texture) (TextureHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		m.dev.DestroyTexture(tex)
		return 0, err
	}
	h := m.textures.add(tex)
	slogger().Debug("resource: texture created", "name", tex.Desc.Label, "handle", h.ID(),
		"width", tex.Data.Width, "height", tex.Data.Height, "mips", tex.Data.MipLevels)
	return h, nil
}

// CreateTextureFromImage uploads img as an RGBA8 texture with a full mip
// chain. Images larger than the maximum texture size are resampled with
// Catmull-Rom. srgb samples the texture through an sRGB view.
func (m *Manager) CreateTextureFromImage(img image.Image, name string, srgb bool) (TextureHandle, error) {
	b := img.Bounds()
	if b.Empty() {
		return 0, fmt.Errorf("%w: image %q is empty", device.ErrInvalidDesc, name)
	}
	w, h := fitSize(b.Dx(), b.Dy(), int(m.opts.maxTextureSize))
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if w != b.Dx() || h != b.Dy() {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		slogger().Debug("resource: image resampled", "name", name, "from_w", b.Dx(), "from_h", b.Dy(), "to_w", w, "to_h", h)
	} else {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	}

	flags := device.AllowUnorderedAccess
	if srgb {
		flags |= device.SRGB
	}
	return m.CreateTexture(device.TextureDesc{
		Label:  name,
		Width:  uint32(w), //nolint:gosec // positive, bounded by max size
		Height: uint32(h), //nolint:gosec // positive, bounded by max size
		Format: gputypes.TextureFormatRGBA8Unorm,
		Flags:  flags,
	}, dst.Pix)
}

// fitSize scales w×h down so that neither edge exceeds limit, keeping the
// aspect ratio. A limit of 0 disables scaling.
func fitSize(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	if w >= h {
		return limit, max(1, h*limit/w)
	}
	return max(1, w*limit/h), limit
}

// LoadTexture decodes a PNG, JPEG, GIF, BMP, TIFF or WebP file as an sRGB
// texture. Repeated loads of one path return the same handle. On failure
// the zero handle is returned, which resolves to the fallback texture.
func (m *Manager) LoadTexture(path string) (TextureHandle, error) {
	if h, ok := m.cachedTexture(path); ok {
		return h, nil
	}
	img, err := m.decodeAsset(path)
	if err != nil {
		return 0, err
	}
	return m.uploadDecoded(path, img)
}

// LoadTextures is LoadTexture over many paths. Images are decoded on the
// manager's decode workers and uploaded in order on the caller's
// goroutine. handles[i] belongs to paths[i]; failed entries hold the zero
// handle and their errors are joined.
func (m *Manager) LoadTextures(paths []string) ([]TextureHandle, error) {
	handles := make([]TextureHandle, len(paths))
	var pending []int
	for i, p := range paths {
		if h, ok := m.cachedTexture(p); ok {
			handles[i] = h
		} else {
			pending = append(pending, i)
		}
	}

	images := make([]image.Image, len(pending))
	errs := make([]error, len(pending))
	m.decoder.Map(len(pending), func(j int) {
		images[j], errs[j] = m.decodeAsset(paths[pending[j]])
	})

	for j, i := range pending {
		if errs[j] != nil {
			continue
		}
		// A path listed twice is decoded twice but uploaded once.
		if h, ok := m.cachedTexture(paths[i]); ok {
			handles[i] = h
			continue
		}
		handles[i], errs[j] = m.uploadDecoded(paths[i], images[j])
	}
	slogger().Debug("resource: textures loaded", "count", len(paths), "decoded", len(pending))
	return handles, errors.Join(errs...)
}

func (m *Manager) cachedTexture(path string) (TextureHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.texturePaths[path]; ok {
		if _, live := m.textures.get(h); live {
			return h, true
		}
	}
	return 0, false
}

func (m *Manager) decodeAsset(path string) (image.Image, error) {
	data, err := m.readAsset(path)
	if err != nil {
		slogger().Warn("resource: texture missing, using fallback", "path", path, "err", err)
		return nil, fmt.Errorf("resource: load texture %s: %w", path, err)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		slogger().Warn("resource: texture undecodable, using fallback", "path", path, "err", err)
		return nil, fmt.Errorf("resource: decode texture %s: %w", path, err)
	}
	slogger().Debug("resource: texture decoded", "path", path, "format", format)
	return img, nil
}

func (m *Manager) uploadDecoded(path string, img image.Image) (TextureHandle, error) {
	h, err := m.CreateTextureFromImage(img, path, true)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.texturePaths[path] = h
	m.mu.Unlock()
	return h, nil
}

func (m *Manager) readAsset(path string) ([]byte, error) {
	if m.opts.assets != nil {
		return fs.ReadFile(m.opts.assets, path)
	}
	return os.ReadFile(path)
}

// GetTexture returns the texture for h, or the fallback checkerboard.
func (m *Manager) GetTexture(h TextureHandle) *device.Texture {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.textures.orFallback(h, m.fallbackTexture)
}

// FallbackTexture returns the handle of the checkerboard texture.
func (m *Manager) FallbackTexture() TextureHandle { return m.fallbackTexture }

// WhiteTexture returns the handle of the 1×1 white texture.
func (m *Manager) WhiteTexture() TextureHandle { return m.whiteTexture }

// DestroyTexture releases the texture. Fallbacks are kept.
func (m *Manager) DestroyTexture(h TextureHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == m.fallbackTexture || h == m.whiteTexture {
		return
	}
	if tex, ok := m.textures.remove(h); ok {
		m.dev.DestroyTexture(tex)
	}
}
