// Package hdr decodes and encodes Radiance RGBE (.hdr) images.
//
// Decoded pixels are linear RGBA float32 with alpha 1, ready for upload as
// an RGBA32Float texture.
package hdr

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chewxy/math32"
)

// Decoding errors.
var (
	// ErrFormat is returned for input that is not a Radiance file.
	ErrFormat = errors.New("hdr: not a Radiance RGBE file")

	// ErrUnsupported is returned for pixel formats or orientations other
	// than 32-bit_rle_rgbe with -Y H +X W.
	ErrUnsupported = errors.New("hdr: unsupported layout")

	// ErrCorrupt is returned for truncated or malformed scanlines.
	ErrCorrupt = errors.New("hdr: corrupt scanline data")
)

const maxDimension = 1 << 15

// Image is a linear float image stored as RGBA rows, top to bottom.
type Image struct {
	Width  int
	Height int
	Pix    []float32
}

// NewImage allocates a black, opaque image.
func NewImage(w, h int) *Image {
	img := &Image{Width: w, Height: h, Pix: make([]float32, 4*w*h)}
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 1
	}
	return img
}

// At returns the RGB value at (x, y).
func (m *Image) At(x, y int) (r, g, b float32) {
	i := 4 * (y*m.Width + x)
	return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
}

// Set stores the RGB value at (x, y).
func (m *Image) Set(x, y int, r, g, b float32) {
	i := 4 * (y*m.Width + x)
	m.Pix[i], m.Pix[i+1], m.Pix[i+2], m.Pix[i+3] = r, g, b, 1
}

// Decode reads a Radiance image.
func Decode(r io.Reader) (*Image, error) {
	br := bufio.NewReader(r)
	w, h, err := readHeader(br)
	if err != nil {
		return nil, err
	}
	img := NewImage(w, h)
	line := make([]byte, 4*w)
	for y := 0; y < h; y++ {
		if err := readScanline(br, line, w); err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", ErrCorrupt, y, err)
		}
		for x := 0; x < w; x++ {
			p := line[4*x : 4*x+4]
			rf, gf, bf := fromRGBE(p[0], p[1], p[2], p[3])
			img.Set(x, y, rf, gf, bf)
		}
	}
	return img, nil
}

// DecodeConfig returns the image size without decoding pixels.
func DecodeConfig(r io.Reader) (width, height int, err error) {
	return readHeader(bufio.NewReader(r))
}

func readHeader(br *bufio.Reader) (int, int, error) {
	magic, err := br.ReadString('\n')
	if err != nil {
		return 0, 0, ErrFormat
	}
	magic = strings.TrimSpace(magic)
	if magic != "#?RADIANCE" && magic != "#?RGBE" {
		return 0, 0, ErrFormat
	}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return 0, 0, fmt.Errorf("%w: header: %w", ErrFormat, err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "FORMAT="); ok && v != "32-bit_rle_rgbe" {
			return 0, 0, fmt.Errorf("%w: format %q", ErrUnsupported, v)
		}
	}
	res, err := br.ReadString('\n')
	if err != nil {
		return 0, 0, fmt.Errorf("%w: resolution: %w", ErrFormat, err)
	}
	f := strings.Fields(res)
	if len(f) != 4 || f[0] != "-Y" || f[2] != "+X" {
		return 0, 0, fmt.Errorf("%w: resolution %q", ErrUnsupported, strings.TrimSpace(res))
	}
	h, err1 := strconv.Atoi(f[1])
	w, err2 := strconv.Atoi(f[3])
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 || w > maxDimension || h > maxDimension {
		return 0, 0, fmt.Errorf("%w: resolution %q", ErrFormat, strings.TrimSpace(res))
	}
	return w, h, nil
}

// readScanline fills line with w RGBE pixels, handling the adaptive RLE
// encoding and the flat fallback.
func readScanline(br *bufio.Reader, line []byte, w int) error {
	head, err := br.Peek(4)
	if err != nil {
		return err
	}
	if w < 8 || w > 0x7fff || head[0] != 2 || head[1] != 2 || head[2]&0x80 != 0 {
		_, err := io.ReadFull(br, line)
		return err
	}
	if int(head[2])<<8|int(head[3]) != w {
		return errors.New("scanline width mismatch")
	}
	if _, err := br.Discard(4); err != nil {
		return err
	}
	// Components are stored planar: all R, then G, B and E.
	for c := 0; c < 4; c++ {
		for x := 0; x < w; {
			n, err := br.ReadByte()
			if err != nil {
				return err
			}
			if n > 128 {
				run := int(n) - 128
				if x+run > w {
					return errors.New("run overflows scanline")
				}
				v, err := br.ReadByte()
				if err != nil {
					return err
				}
				for ; run > 0; run-- {
					line[4*x+c] = v
					x++
				}
				continue
			}
			count := int(n)
			if count == 0 || x+count > w {
				return errors.New("bad literal count")
			}
			for ; count > 0; count-- {
				v, err := br.ReadByte()
				if err != nil {
					return err
				}
				line[4*x+c] = v
				x++
			}
		}
	}
	return nil
}

func fromRGBE(r, g, b, e byte) (float32, float32, float32) {
	if e == 0 {
		return 0, 0, 0
	}
	f := math32.Ldexp(1, int(e)-(128+8))
	return float32(r) * f, float32(g) * f, float32(b) * f
}

func toRGBE(r, g, b float32) [4]byte {
	v := math32.Max(r, math32.Max(g, b))
	if v < 1e-32 {
		return [4]byte{}
	}
	frac, exp := math32.Frexp(v)
	scale := frac * 256 / v
	return [4]byte{byte(r * scale), byte(g * scale), byte(b * scale), byte(exp + 128)}
}

// Encode writes img as a flat (uncompressed) Radiance file.
func Encode(w io.Writer, img *Image) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "#?RADIANCE\nFORMAT=32-bit_rle_rgbe\n\n-Y %d +X %d\n", img.Height, img.Width)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			p := toRGBE(img.At(x, y))
			buf.Write(p[:])
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}
