package shaders

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedPaths(t *testing.T) {
	paths := []string{
		Composite, MipGen, MipGenArray, EquirectToCube, Irradiance, Shadow,
		GBuffer, PBR, FXAA, Bloom, BloomCombine, Tonemap, RTShadow,
	}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			data, err := fs.ReadFile(FS, p)
			if err != nil {
				t.Fatalf("ReadFile(%q) failed: %v", p, err)
			}
			if !strings.Contains(string(data), "fn ") {
				t.Errorf("%s has no functions", p)
			}
		})
	}
}

func TestTemplatesUseFormat(t *testing.T) {
	for _, p := range []string{MipGen, MipGenArray} {
		data, err := fs.ReadFile(FS, p)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "$FORMAT") {
			t.Errorf("%s must be a $FORMAT template", p)
		}
	}
}
