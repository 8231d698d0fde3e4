package g3d

import (
	"encoding/binary"
	"testing"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatAt(b []byte, off int) float32 {
	return math32.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}

func TestLightEncode(t *testing.T) {
	spot := SpotLight(mgl32.Vec3{1, 2, 3}, mgl32.Vec3{0, 0, -2}, mgl32.Vec3{1, 0.5, 0.25}, 4, 10, 0.2, 0.1)
	assert.Equal(t, float32(0.2), spot.OuterAngle, "outer cone is clamped to the inner cone")

	b := spot.Encode()
	require.Len(t, b, LightSize)
	tests := []struct {
		off  int
		want float32
	}{
		{0, 1}, {4, 2}, {8, 3},
		{12, float32(LightSpot)},
		{16, 0}, {20, 0}, {24, -1},
		{28, 10},
		{32, 1}, {36, 0.5}, {40, 0.25},
		{44, 4},
		{48, math32.Cos(0.2)}, {52, math32.Cos(0.2)},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, floatAt(b, tt.off), 1e-6, "offset %d", tt.off)
	}

	point := PointLight(mgl32.Vec3{}, mgl32.Vec3{1, 1, 1}, 1, 5).Encode()
	assert.Equal(t, float32(LightPoint), floatAt(point, 12))
	assert.Zero(t, floatAt(point, 48), "cone cosines are only written for spot lights")

	sun := DirectionalLight(mgl32.Vec3{0, -3, 0}, mgl32.Vec3{1, 1, 1}, 2)
	assert.Equal(t, mgl32.Vec3{0, -1, 0}, sun.Direction)
	assert.Equal(t, mgl32.Vec3{0, -1, 0}, DirectionalLight(mgl32.Vec3{}, mgl32.Vec3{}, 1).Direction)

	all := EncodeLights([]Light{sun, spot})
	require.Len(t, all, 2*LightSize)
	assert.Equal(t, b, all[LightSize:])
	assert.Equal(t, "spot", LightSpot.String())
}

// assertMat4InDelta compares element by element with an absolute tolerance,
// so residues near zero pass.
func assertMat4InDelta(t *testing.T, want, got mgl32.Mat4, delta float64) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i], got[i], delta, "element %d", i)
	}
}

func TestBuildSceneConstants(t *testing.T) {
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
	proj := mgl32.Perspective(mgl32.DegToRad(60), 2, 0.1, 100)
	scene := &SceneRenderInfo{
		Camera: Camera{View: view, Projection: proj, Position: mgl32.Vec3{0, 0, 5}},
		Lights: []Light{
			PointLight(mgl32.Vec3{}, mgl32.Vec3{1, 0, 0}, 9, 5),
			DirectionalLight(mgl32.Vec3{1, -1, 0}, mgl32.Vec3{0, 1, 0}, 3),
		},
		Time: 1.5,
	}
	c := BuildSceneConstants(scene, 200, 100, 7, 20, 2)

	assertMat4InDelta(t, proj.Mul4(view), c.ViewProjection, 1e-4)
	assertMat4InDelta(t, mgl32.Ident4(), c.ViewProjection.Mul4(c.InverseViewProjection), 1e-4)
	assert.Equal(t, scene.Lights[1].Direction, c.LightDirection, "the first directional light is primary")
	assert.Equal(t, float32(3), c.LightIntensity)
	assert.Equal(t, mgl32.Vec3{0, 1, 0}, c.LightColor)

	b := c.Encode()
	require.Len(t, b, SceneConstantsSize)
	assert.Equal(t, view[0], floatAt(b, 0))
	assert.Equal(t, proj[5], floatAt(b, 64+20))
	assert.Equal(t, float32(5), floatAt(b, 320+8))
	assert.Equal(t, float32(1), floatAt(b, 320+12))
	assert.Equal(t, float32(3), floatAt(b, 336+12))
	assert.Equal(t, float32(1), floatAt(b, 352+4))
	assert.Equal(t, []float32{200, 100, 0.005, 0.01}, []float32{
		floatAt(b, 368), floatAt(b, 372), floatAt(b, 376), floatAt(b, 380),
	})
	assert.Equal(t, []float32{1.5, 2, 7, 20}, []float32{
		floatAt(b, 384), floatAt(b, 388), floatAt(b, 392), floatAt(b, 396),
	})

	none := BuildSceneConstants(&SceneRenderInfo{}, 0, 0, 0, 20, 0)
	assert.Equal(t, defaultLightDirection, none.LightDirection)
	nb := none.Encode()
	assert.Equal(t, float32(1), floatAt(nb, 368), "zero size encodes as 1")
}

func TestShadowViewProjection(t *testing.T) {
	const extent = 10
	target := mgl32.Vec3{1, 0, 1}
	for _, dir := range []mgl32.Vec3{{0, -1, 0}, {-0.3, -1, -0.2}, {1, 0, 0}} {
		m := ShadowViewProjection(dir, target, extent)

		// The target projects to the center of the map at mid depth.
		c := mgl32.TransformCoordinate(target, m)
		assert.InDelta(t, 0, c.X(), 1e-4)
		assert.InDelta(t, 0, c.Y(), 1e-4)
		assert.InDelta(t, 0.5, c.Z(), 1e-4)

		// Points toward the light are closer.
		toward := mgl32.TransformCoordinate(target.Sub(dir.Normalize().Mul(extent)), m)
		assert.InDelta(t, 0.25, toward.Z(), 1e-4)
	}
}
