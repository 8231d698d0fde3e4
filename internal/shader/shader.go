// Package shader resolves shader paths to HAL shader sources.
//
// Paths are looked up in an fs.FS. Files ending in .spv are read as SPIR-V
// words; anything else is treated as WGSL. When the loader targets a SPIR-V
// backend, WGSL is compiled with naga before it reaches the device.
package shader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// Shader loading errors.
var (
	// ErrNotFound is returned when a path does not exist in the loader's FS.
	ErrNotFound = errors.New("shader: not found")

	// ErrInvalidSPIRV is returned for .spv files that are not whole words or
	// lack the SPIR-V magic number.
	ErrInvalidSPIRV = errors.New("shader: invalid SPIR-V binary")

	// ErrCompile wraps naga compile and validation failures.
	ErrCompile = errors.New("shader: compile failed")
)

const spirvMagic = 0x07230203

// CompileSPIRV compiles WGSL source to SPIR-V words.
func CompileSPIRV(wgsl string) ([]uint32, error) {
	b, err := naga.Compile(wgsl)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	return wordsFromBytes(b)
}

// Validate parses, lowers and validates WGSL source without generating code.
func Validate(wgsl string) error {
	ast, err := naga.Parse(wgsl)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCompile, err)
	}
	module, err := naga.LowerWithSource(ast, wgsl)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCompile, err)
	}
	problems, err := naga.Validate(module)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCompile, err)
	}
	if len(problems) > 0 {
		msgs := make([]string, len(problems))
		for i := range problems {
			msgs[i] = problems[i].Error()
		}
		return fmt.Errorf("%w: %s", ErrCompile, strings.Join(msgs, "; "))
	}
	return nil
}

// wordsFromBytes converts little-endian SPIR-V bytes to words.
func wordsFromBytes(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 || len(b) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSPIRV, len(b))
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("%w: magic %#x", ErrInvalidSPIRV, words[0])
	}
	return words, nil
}

// NeedsSPIRV reports whether backend consumes SPIR-V rather than WGSL.
func NeedsSPIRV(backend gputypes.Backend) bool {
	return backend == gputypes.BackendVulkan
}

// Loader reads and caches shader sources.
//
// Loader is safe for concurrent use.
type Loader struct {
	fsys     fs.FS
	spirv    bool
	validate bool

	mu      sync.Mutex
	sources map[string]hal.ShaderSource
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithSPIRV makes the loader compile WGSL to SPIR-V.
func WithSPIRV(enabled bool) LoaderOption {
	return func(l *Loader) { l.spirv = enabled }
}

// WithValidation makes the loader validate WGSL with naga at load time.
func WithValidation(enabled bool) LoaderOption {
	return func(l *Loader) { l.validate = enabled }
}

// NewLoader creates a loader over fsys.
func NewLoader(fsys fs.FS, opts ...LoaderOption) *Loader {
	l := &Loader{fsys: fsys, sources: make(map[string]hal.ShaderSource)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Define substitutes Value for every "$Name" in a WGSL template.
type Define struct {
	Name  string
	Value string
}

func variantKey(p string, defines []Define) string {
	if len(defines) == 0 {
		return p
	}
	var b strings.Builder
	b.WriteString(p)
	for _, d := range defines {
		b.WriteByte('|')
		b.WriteString(d.Name)
		b.WriteByte('=')
		b.WriteString(d.Value)
	}
	return b.String()
}

// Source returns the shader source for p with defines applied, loading it
// on first use.
func (l *Loader) Source(p string, defines ...Define) (hal.ShaderSource, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := variantKey(p, defines)
	if src, ok := l.sources[key]; ok {
		return src, nil
	}
	data, err := fs.ReadFile(l.fsys, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return hal.ShaderSource{}, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return hal.ShaderSource{}, fmt.Errorf("shader: read %s: %w", p, err)
	}

	var src hal.ShaderSource
	if path.Ext(p) == ".spv" {
		words, err := wordsFromBytes(data)
		if err != nil {
			return hal.ShaderSource{}, fmt.Errorf("%s: %w", p, err)
		}
		src.SPIRV = words
	} else {
		text := string(data)
		for _, d := range defines {
			text = strings.ReplaceAll(text, "$"+d.Name, d.Value)
		}
		if l.validate {
			if err := Validate(text); err != nil {
				return hal.ShaderSource{}, fmt.Errorf("%s: %w", p, err)
			}
		}
		if l.spirv {
			words, err := CompileSPIRV(text)
			if err != nil {
				return hal.ShaderSource{}, fmt.Errorf("%s: %w", p, err)
			}
			src.SPIRV = words
		} else {
			src.WGSL = text
		}
	}
	l.sources[key] = src
	return src, nil
}

// Module creates a shader module for p on dev.
func (l *Loader) Module(dev hal.Device, p string, defines ...Define) (hal.ShaderModule, error) {
	src, err := l.Source(p, defines...)
	if err != nil {
		return nil, err
	}
	m, err := dev.CreateShaderModule(&hal.ShaderModuleDescriptor{Label: variantKey(p, defines), Source: src})
	if err != nil {
		return nil, fmt.Errorf("shader: create module %s: %w", p, err)
	}
	return m, nil
}

// Len returns the number of cached sources.
func (l *Loader) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sources)
}
