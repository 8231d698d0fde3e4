package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "g3dview.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
width = 640
height = 360
backend = "software"
frames = 3
rt_shadows = true
log_level = "debug"

[heaps]
srv = 1024
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, "software", cfg.Backend)
	assert.True(t, cfg.RTShadows)
	assert.Equal(t, defaultConfig().BackBuffers, cfg.BackBuffers)

	dc := cfg.deviceConfig()
	assert.Equal(t, 1024, dc.SRVHeapSize)
	assert.Zero(t, dc.RTVHeapSize)
	assert.Equal(t, 360, dc.Height)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"syntax", "width = ="},
		{"size", "width = 0"},
		{"frames", "frames = -2"},
		{"level", `log_level = "loud"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
