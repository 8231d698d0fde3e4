package resource

import (
	"bytes"
	"testing"
	"testing/fstest"

	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/internal/haltest"
	"github.com/gogpu/g3d/internal/hdr"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMipDispatches(t *testing.T) {
	assert.Nil(t, MipDispatches(16, 16, 1))
	assert.Nil(t, MipDispatches(16, 16, 0))

	got := MipDispatches(100, 40, 7)
	require.Len(t, got, 6)
	assert.Equal(t, MipDispatch{Src: 0, Dst: 1, X: 7, Y: 3}, got[0])
	assert.Equal(t, MipDispatch{Src: 5, Dst: 6, X: 1, Y: 1}, got[5])
	for i, d := range got {
		assert.Equal(t, uint32(i), d.Src) //nolint:gosec // small
		assert.Equal(t, d.Src+1, d.Dst)
	}
}

// mipUse counts, per mip level of tex, the dispatches reading it as the
// source view and writing it as the destination view, and the single-mip
// barriers moving it to sampled and storage usage.
type mipUse struct {
	reads, writes      map[uint32]int
	toSampled, toWrite map[uint32]int
}

func recordedMipUse(rec *haltest.Recorder, tex *device.Texture) mipUse {
	u := mipUse{
		reads: map[uint32]int{}, writes: map[uint32]int{},
		toSampled: map[uint32]int{}, toWrite: map[uint32]int{},
	}
	for _, d := range rec.DispatchesIn(MipPassLabel) {
		views := d.BindGroups[0].Views(rec)
		if len(views) != 2 {
			continue
		}
		u.reads[views[0].Desc.BaseMipLevel]++
		u.writes[views[1].Desc.BaseMipLevel]++
	}
	for _, b := range rec.TextureBarriers {
		if b.Texture != tex.Data.Texture || b.Range.MipLevelCount != 1 {
			continue
		}
		switch b.Usage.NewUsage {
		case gputypes.TextureUsageTextureBinding:
			u.toSampled[b.Range.BaseMipLevel]++
		case gputypes.TextureUsageStorageBinding:
			u.toWrite[b.Range.BaseMipLevel]++
		}
	}
	return u
}

func TestMipMapTexture(t *testing.T) {
	tests := []struct {
		name      string
		w, h      uint32
		mips      uint32
		wantMips  uint32
		lastGroup [2]uint32
	}{
		{"square", 64, 64, 0, 7, [2]uint32{1, 1}},
		{"non-square", 100, 40, 0, 7, [2]uint32{1, 1}},
		{"non-power-of-two clamped", 37, 90, 3, 3, [2]uint32{2, 3}},
		{"wide", 256, 8, 0, 9, [2]uint32{1, 1}},
		{"single mip", 16, 16, 1, 1, [2]uint32{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, rec := newTestManager(t)
			h, err := m.CreateTexture(device.TextureDesc{
				Label:     tt.name,
				Width:     tt.w,
				Height:    tt.h,
				Format:    gputypes.TextureFormatRGBA8Unorm,
				MipLevels: tt.mips,
				Flags:     device.AllowUnorderedAccess,
			}, nil)
			require.NoError(t, err)
			tex := m.GetTexture(h)
			require.Equal(t, tt.wantMips, tex.Data.MipLevels)
			rec.Reset()
			before := m.MipDispatchCount()

			require.NoError(t, m.MipMapTexture(tex))

			dispatches := rec.DispatchesIn(MipPassLabel)
			require.Len(t, dispatches, int(tt.wantMips)-1)
			assert.Equal(t, int(tt.wantMips)-1, m.MipDispatchCount()-before)
			if tt.wantMips == 1 {
				assert.Empty(t, rec.TextureBarriers)
				return
			}

			plan := MipDispatches(tt.w, tt.h, tt.wantMips)
			for i, d := range dispatches {
				assert.Equal(t, [3]uint32{plan[i].X, plan[i].Y, 1}, [3]uint32{d.X, d.Y, d.Z}, "dispatch %d", i)
			}
			last := dispatches[len(dispatches)-1]
			lw, lh := device.MipSize(tt.w, tt.h, tt.wantMips-1)
			assert.Equal(t, [2]uint32{(lw + 7) / 8, (lh + 7) / 8}, [2]uint32{last.X, last.Y})
			assert.Equal(t, tt.lastGroup, [2]uint32{last.X, last.Y})

			u := recordedMipUse(rec, tex)
			for mip := range tt.wantMips {
				wantRead, wantWrite := 1, 1
				if mip == tt.wantMips-1 {
					wantRead = 0
				}
				if mip == 0 {
					wantWrite = 0
				}
				assert.Equal(t, wantRead, u.reads[mip], "reads of mip %d", mip)
				assert.Equal(t, wantWrite, u.writes[mip], "writes of mip %d", mip)
				assert.Equal(t, wantRead, u.toSampled[mip], "sampled barriers of mip %d", mip)
				assert.Equal(t, wantWrite, u.toWrite[mip], "storage barriers of mip %d", mip)
			}

			final := rec.TextureBarriers[len(rec.TextureBarriers)-1]
			assert.Equal(t, tex.Data.Texture, final.Texture)
			assert.Equal(t, tt.wantMips, final.Range.MipLevelCount, "the chain ends with one whole-texture barrier")
			assert.Equal(t, gputypes.TextureUsageTextureBinding, final.Usage.NewUsage)
		})
	}
}

func TestMipMapTextureRejectsPlainTexture(t *testing.T) {
	m, _, _ := newTestManager(t)
	h, err := m.CreateTexture(device.TextureDesc{
		Label: "plain", Width: 8, Height: 8, Format: gputypes.TextureFormatRGBA8Unorm,
	}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, m.MipMapTexture(m.GetTexture(h)), ErrNotMipmappable)
}

func TestCreateEnvironmentMapFromImage(t *testing.T) {
	m, _, rec := newTestManager(t, WithEnvironmentSize(32), WithIrradianceSize(4))
	rec.Reset()

	img := hdr.NewImage(16, 8)
	img.Set(3, 2, 4, 2, 1)
	h, err := m.CreateEnvironmentMapFromImage(img, "sky")
	require.NoError(t, err)
	require.True(t, h.Valid())
	assert.NotEqual(t, m.FallbackEnvironment(), h)

	env, err := m.GetEnvironmentMap(h)
	require.NoError(t, err)
	assert.Equal(t, "sky", env.Name)
	assert.Equal(t, [4]uint32{32, 32, 6, 6}, [4]uint32{
		env.Environment.Data.Width, env.Environment.Data.Height,
		env.Environment.Data.Layers, env.Environment.Data.MipLevels,
	})
	assert.Equal(t, [4]uint32{4, 4, 6, 1}, [4]uint32{
		env.Irradiance.Data.Width, env.Irradiance.Data.Height,
		env.Irradiance.Data.Layers, env.Irradiance.Data.MipLevels,
	})

	equirect := rec.DispatchesIn(EquirectPassLabel)
	require.Len(t, equirect, 1)
	assert.Equal(t, [3]uint32{4, 4, 6}, [3]uint32{equirect[0].X, equirect[0].Y, equirect[0].Z})

	mips := rec.DispatchesIn(MipPassLabel)
	require.Len(t, mips, 5)
	for _, d := range mips {
		assert.Equal(t, uint32(6), d.Z, "every face is filtered in one dispatch")
	}
	assert.Equal(t, [2]uint32{2, 2}, [2]uint32{mips[0].X, mips[0].Y})
	assert.Equal(t, [2]uint32{1, 1}, [2]uint32{mips[4].X, mips[4].Y})

	irr := rec.DispatchesIn(IrradiancePassLabel)
	require.Len(t, irr, 1)
	assert.Equal(t, [3]uint32{1, 1, 6}, [3]uint32{irr[0].X, irr[0].Y, irr[0].Z})

	_, err = m.GetEnvironmentMap(EnvironmentMapHandle(99))
	assert.ErrorIs(t, err, ErrInvalidHandle)

	fallback, err := m.GetEnvironmentMap(0)
	require.NoError(t, err)
	assert.Same(t, fallback.Environment, mustEnv(t, m, m.FallbackEnvironment()).Environment)

	_, err = m.CreateEnvironmentMapFromImage(&hdr.Image{Width: 2, Height: 2}, "short")
	assert.ErrorIs(t, err, device.ErrInvalidDesc)
}

func TestCreateEnvironmentMapFromFile(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, hdr.Encode(&buf, hdr.NewImage(8, 4)))
	m, _, _ := newTestManager(t,
		WithEnvironmentSize(16), WithIrradianceSize(2),
		WithAssets(fstest.MapFS{"sky.hdr": {Data: buf.Bytes()}, "bad.hdr": {Data: []byte("nope")}}))

	h, err := m.CreateEnvironmentMap("sky.hdr")
	require.NoError(t, err)
	assert.Equal(t, "sky.hdr", mustEnv(t, m, h).Name)

	missing, err := m.CreateEnvironmentMap("none.hdr")
	assert.Error(t, err)
	assert.False(t, missing.Valid())

	_, err = m.CreateEnvironmentMap("bad.hdr")
	assert.Error(t, err)
}

func mustEnv(t *testing.T, m *Manager, h EnvironmentMapHandle) *EnvironmentMap {
	t.Helper()
	env, err := m.GetEnvironmentMap(h)
	require.NoError(t, err)
	return env
}
