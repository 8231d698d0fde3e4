package g3d

import (
	"encoding/binary"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// LightKind selects the payload of a Light.
type LightKind uint8

// Light kinds. The values are the kind tag in the packed light list.
const (
	LightDirectional LightKind = iota
	LightPoint
	LightSpot
)

func (k LightKind) String() string {
	switch k {
	case LightDirectional:
		return "directional"
	case LightPoint:
		return "point"
	case LightSpot:
		return "spot"
	default:
		return "unknown"
	}
}

// LightSize is the packed size of one light in the light list.
const LightSize = 64

// Light is a directional, point or spot light. Use the constructors:
// fields outside a kind's payload are ignored.
type Light struct {
	Kind LightKind

	// Position of point and spot lights.
	Position mgl32.Vec3
	// Direction the light travels, for directional and spot lights.
	Direction mgl32.Vec3

	Color     mgl32.Vec3
	Intensity float32
	// Range is the distance at which point and spot lights fade to zero.
	Range float32

	// InnerAngle and OuterAngle are the half angles in radians of a spot
	// light's full and zero intensity cones.
	InnerAngle float32
	OuterAngle float32
}

// DirectionalLight returns a light travelling along dir.
func DirectionalLight(dir, color mgl32.Vec3, intensity float32) Light {
	return Light{Kind: LightDirectional, Direction: normalizeOr(dir, mgl32.Vec3{0, -1, 0}), Color: color, Intensity: intensity}
}

// PointLight returns an omnidirectional light at pos.
func PointLight(pos, color mgl32.Vec3, intensity, rng float32) Light {
	return Light{Kind: LightPoint, Position: pos, Color: color, Intensity: intensity, Range: rng}
}

// SpotLight returns a cone light at pos pointing along dir. outer is
// clamped to be no smaller than inner.
func SpotLight(pos, dir, color mgl32.Vec3, intensity, rng, inner, outer float32) Light {
	return Light{
		Kind:       LightSpot,
		Position:   pos,
		Direction:  normalizeOr(dir, mgl32.Vec3{0, -1, 0}),
		Color:      color,
		Intensity:  intensity,
		Range:      rng,
		InnerAngle: inner,
		OuterAngle: math32.Max(inner, outer),
	}
}

// Encode packs the light as four vec4s: position and kind, direction and
// range, color and intensity, then the cosines of the spot cone angles.
func (l Light) Encode() []byte {
	b := make([]byte, LightSize)
	l.encodeTo(b)
	return b
}

func (l Light) encodeTo(b []byte) {
	putVec3(b[0:], l.Position)
	putFloat(b[12:], float32(l.Kind))
	putVec3(b[16:], l.Direction)
	putFloat(b[28:], l.Range)
	putVec3(b[32:], l.Color)
	putFloat(b[44:], l.Intensity)
	if l.Kind == LightSpot {
		putFloat(b[48:], math32.Cos(l.InnerAngle))
		putFloat(b[52:], math32.Cos(l.OuterAngle))
	}
}

// EncodeLights packs lights back to back.
func EncodeLights(lights []Light) []byte {
	b := make([]byte, len(lights)*LightSize)
	for i, l := range lights {
		l.encodeTo(b[i*LightSize:])
	}
	return b
}

// primaryLight returns the first directional light.
func primaryLight(lights []Light) (Light, bool) {
	for _, l := range lights {
		if l.Kind == LightDirectional {
			return l, true
		}
	}
	return Light{}, false
}

func normalizeOr(v, fallback mgl32.Vec3) mgl32.Vec3 {
	if v.Len() < 1e-6 {
		return fallback
	}
	return v.Normalize()
}

func putFloat(p []byte, f float32) {
	binary.LittleEndian.PutUint32(p, math32.Float32bits(f))
}

func putVec3(p []byte, v mgl32.Vec3) {
	putFloat(p[0:], v[0])
	putFloat(p[4:], v[1])
	putFloat(p[8:], v[2])
}

func putVec4(p []byte, v mgl32.Vec4) {
	putVec3(p, v.Vec3())
	putFloat(p[12:], v[3])
}

func putMat4(p []byte, m mgl32.Mat4) {
	for i, f := range m {
		putFloat(p[4*i:], f)
	}
}
