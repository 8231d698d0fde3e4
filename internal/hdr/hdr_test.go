package hdr

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatRoundTrip(t *testing.T) {
	img := NewImage(3, 2)
	img.Set(0, 0, 1, 0.5, 0.25)
	img.Set(1, 0, 2, 2, 2)
	img.Set(2, 1, 0, 0, 0)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, img))

	w, h, err := DecodeConfig(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 3, w)
	assert.Equal(t, 2, h)

	got, err := Decode(&buf)
	require.NoError(t, err)
	r, g, b := got.At(0, 0)
	assert.Equal(t, []float32{1, 0.5, 0.25}, []float32{r, g, b})
	r, g, b = got.At(1, 0)
	assert.Equal(t, []float32{2, 2, 2}, []float32{r, g, b})
	r, g, b = got.At(2, 1)
	assert.Equal(t, []float32{0, 0, 0}, []float32{r, g, b})
	assert.Equal(t, float32(1), got.Pix[3], "alpha")
}

func TestRLEScanline(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("#?RADIANCE\n# made by hand\nFORMAT=32-bit_rle_rgbe\n\n-Y 1 +X 8\n")
	buf.Write([]byte{2, 2, 0, 8})
	// R, B and E are runs; G is a literal.
	buf.Write([]byte{128 + 8, 128})
	buf.Write([]byte{8, 0, 16, 32, 48, 64, 80, 96, 112})
	buf.Write([]byte{128 + 8, 0})
	buf.Write([]byte{128 + 8, 129})

	img, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, 8, img.Width)
	for x := 0; x < 8; x++ {
		r, g, b := img.At(x, 0)
		assert.Equal(t, float32(1), r)
		assert.InDelta(t, float64(x)*16/128, float64(g), 1e-6)
		assert.Equal(t, float32(0), b)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"magic", "P6\n1 1\n", ErrFormat},
		{"format", "#?RADIANCE\nFORMAT=32-bit_rle_xyze\n\n-Y 1 +X 1\n", ErrUnsupported},
		{"orientation", "#?RADIANCE\n\n+Y 1 +X 1\n", ErrUnsupported},
		{"size", "#?RADIANCE\n\n-Y 0 +X 1\n", ErrFormat},
		{"truncated", "#?RADIANCE\n\n-Y 2 +X 2\n\x01\x02", ErrCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
