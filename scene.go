package g3d

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/resource"
)

// Camera is the view of a frame. Projection maps depth to [0, 1].
type Camera struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
	Position   mgl32.Vec3
	// Target centers the directional shadow volume.
	Target mgl32.Vec3
}

// RenderObject is one draw of the flattened scene.
type RenderObject struct {
	Mesh     resource.MeshHandle
	Material resource.MaterialHandle
	World    mgl32.Mat4
}

// SceneRenderInfo is the flattened scene supplied once per frame.
type SceneRenderInfo struct {
	Objects     []RenderObject
	Lights      []Light
	Camera      Camera
	Environment resource.EnvironmentMapHandle
	// TLAS is optional. Ray traced passes write all-lit output without it.
	TLAS *device.TLAS
	Time float32
}

// SceneConstantsSize is the packed size of SceneConstants.
const SceneConstantsSize = 400

// SceneConstants is the global per-frame data bound at group 0 binding 0
// of the standard shaders.
type SceneConstants struct {
	View                  mgl32.Mat4
	Projection            mgl32.Mat4
	ViewProjection        mgl32.Mat4
	InverseViewProjection mgl32.Mat4
	ShadowViewProjection  mgl32.Mat4

	CameraPosition mgl32.Vec3
	LightDirection mgl32.Vec3
	LightIntensity float32
	LightColor     mgl32.Vec3

	Width, Height uint32
	Time          float32
	LightCount    int
	Frame         uint64
	ShadowExtent  float32
}

// defaultLightDirection lights scenes without a directional light.
var defaultLightDirection = mgl32.Vec3{-0.3, -1, -0.2}.Normalize()

// BuildSceneConstants derives the per-frame constants of scene for a
// width×height target. lightCount is the number of lights uploaded.
func BuildSceneConstants(scene *SceneRenderInfo, width, height uint32, frame uint64, shadowExtent float32, lightCount int) SceneConstants {
	cam := scene.Camera
	vp := cam.Projection.Mul4(cam.View)
	c := SceneConstants{
		View:                  cam.View,
		Projection:            cam.Projection,
		ViewProjection:        vp,
		InverseViewProjection: vp.Inv(),
		CameraPosition:        cam.Position,
		LightDirection:        defaultLightDirection,
		Width:                 width,
		Height:                height,
		Time:                  scene.Time,
		LightCount:            lightCount,
		Frame:                 frame,
		ShadowExtent:          shadowExtent,
	}
	if sun, ok := primaryLight(scene.Lights); ok {
		c.LightDirection = sun.Direction
		c.LightColor = sun.Color
		c.LightIntensity = sun.Intensity
	}
	c.ShadowViewProjection = ShadowViewProjection(c.LightDirection, cam.Target, shadowExtent)
	return c
}

// clipDepth remaps OpenGL clip depth [-1, 1] to [0, 1].
var clipDepth = mgl32.Mat4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 0.5, 0,
	0, 0, 0.5, 1,
}

// ShadowViewProjection returns the orthographic light space transform of a
// directional light along dir covering a cube of half size extent around
// target.
func ShadowViewProjection(dir, target mgl32.Vec3, extent float32) mgl32.Mat4 {
	dir = normalizeOr(dir, defaultLightDirection)
	up := mgl32.Vec3{0, 1, 0}
	if math32.Abs(dir.Dot(up)) > 0.99 {
		up = mgl32.Vec3{0, 0, 1}
	}
	eye := target.Sub(dir.Mul(2 * extent))
	view := mgl32.LookAtV(eye, target, up)
	proj := mgl32.Ortho(-extent, extent, -extent, extent, 0, 4*extent)
	return clipDepth.Mul4(proj).Mul4(view)
}

// Encode packs the constants in the layout of the shaders' Scene struct.
func (c *SceneConstants) Encode() []byte {
	b := make([]byte, SceneConstantsSize)
	putMat4(b[0:], c.View)
	putMat4(b[64:], c.Projection)
	putMat4(b[128:], c.ViewProjection)
	putMat4(b[192:], c.InverseViewProjection)
	putMat4(b[256:], c.ShadowViewProjection)
	putVec4(b[320:], c.CameraPosition.Vec4(1))
	putVec4(b[336:], c.LightDirection.Vec4(c.LightIntensity))
	putVec4(b[352:], c.LightColor.Vec4(1))
	w, h := float32(max(c.Width, 1)), float32(max(c.Height, 1))
	putVec4(b[368:], mgl32.Vec4{w, h, 1 / w, 1 / h})
	putVec4(b[384:], mgl32.Vec4{c.Time, float32(c.LightCount), float32(c.Frame), c.ShadowExtent})
	return b
}
