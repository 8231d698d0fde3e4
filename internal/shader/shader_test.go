package shader

import (
	"encoding/binary"
	"testing"
	"testing/fstest"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vertexWGSL = `
@vertex
fn main(@builtin(vertex_index) idx: u32) -> @builtin(position) vec4<f32> {
    return vec4<f32>(0.0, 0.0, 0.0, 1.0);
}
`

func spirvFile(words ...uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"vs.wgsl":  {Data: []byte(vertexWGSL)},
		"vs.spv":   {Data: spirvFile(spirvMagic, 0x00010300, 0, 1, 0)},
		"bad.spv":  {Data: []byte{1, 2, 3}},
		"junk.spv": {Data: spirvFile(0xdeadbeef)},
	}
}

func TestLoaderWGSL(t *testing.T) {
	l := NewLoader(testFS())
	src, err := l.Source("vs.wgsl")
	require.NoError(t, err)
	assert.Equal(t, vertexWGSL, src.WGSL)
	assert.Nil(t, src.SPIRV)

	_, err = l.Source("vs.wgsl")
	require.NoError(t, err)
	assert.Equal(t, 1, l.Len())
}

func TestLoaderSPIRVFile(t *testing.T) {
	l := NewLoader(testFS())
	src, err := l.Source("vs.spv")
	require.NoError(t, err)
	require.Len(t, src.SPIRV, 5)
	assert.Equal(t, uint32(spirvMagic), src.SPIRV[0])

	_, err = l.Source("bad.spv")
	assert.ErrorIs(t, err, ErrInvalidSPIRV)
	_, err = l.Source("junk.spv")
	assert.ErrorIs(t, err, ErrInvalidSPIRV)
}

func TestLoaderDefines(t *testing.T) {
	fsys := fstest.MapFS{"t.wgsl": {Data: []byte("var dst: texture_storage_2d<$FORMAT, write>;")}}
	l := NewLoader(fsys)
	a, err := l.Source("t.wgsl", Define{Name: "FORMAT", Value: "rgba8unorm"})
	require.NoError(t, err)
	b, err := l.Source("t.wgsl", Define{Name: "FORMAT", Value: "rgba16float"})
	require.NoError(t, err)
	assert.Contains(t, a.WGSL, "<rgba8unorm, write>")
	assert.Contains(t, b.WGSL, "<rgba16float, write>")
	assert.Equal(t, 2, l.Len())
}

func TestLoaderNotFound(t *testing.T) {
	l := NewLoader(testFS())
	_, err := l.Source("missing.wgsl")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompileSPIRV(t *testing.T) {
	words, err := CompileSPIRV(vertexWGSL)
	require.NoError(t, err)
	assert.Equal(t, uint32(spirvMagic), words[0])

	l := NewLoader(testFS(), WithSPIRV(true))
	src, err := l.Source("vs.wgsl")
	require.NoError(t, err)
	assert.Empty(t, src.WGSL)
	assert.NotEmpty(t, src.SPIRV)
}

func TestCompileRejectsGarbage(t *testing.T) {
	_, err := CompileSPIRV("fn {")
	assert.ErrorIs(t, err, ErrCompile)
	assert.ErrorIs(t, Validate("fn {"), ErrCompile)
}

func TestNeedsSPIRV(t *testing.T) {
	assert.True(t, NeedsSPIRV(gputypes.BackendVulkan))
	assert.False(t, NeedsSPIRV(gputypes.BackendEmpty))
}
