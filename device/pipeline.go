package device

import (
	"fmt"
	"regexp"

	"github.com/gogpu/g3d/internal/shader"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Define substitutes a value into a WGSL shader template.
type Define = shader.Define

// Default entry points.
const (
	DefaultVertexEntry   = "vs_main"
	DefaultFragmentEntry = "fs_main"
	DefaultComputeEntry  = "main"
)

// Pipeline is implemented by every pipeline kind.
type Pipeline interface {
	BindingLayout() *Layout
}

// GraphicsPipelineDesc describes a render pipeline. A pipeline without
// render target formats has no fragment stage.
type GraphicsPipelineDesc struct {
	Label   string
	Shader  string
	Defines []Define

	VertexEntry   string
	FragmentEntry string
	VertexLayout  []gputypes.VertexBufferLayout

	RenderTargetFormats []gputypes.TextureFormat
	DepthFormat         gputypes.TextureFormat
	DepthTest           bool
	DepthWrite          bool
	// DepthCompare defaults to LessEqual.
	DepthCompare gputypes.CompareFunction
	DepthBias    int32
	SlopeBias    float32

	CullMode  gputypes.CullMode
	FrontFace gputypes.FrontFace
	Topology  gputypes.PrimitiveTopology
	// Blend applies to every color target. Nil disables blending.
	Blend *gputypes.BlendState

	Bindings        []Binding
	DynamicCallData DynamicCallData
}

// GraphicsPipelineData is the native side of a GraphicsPipeline.
type GraphicsPipelineData struct {
	Module   hal.ShaderModule
	Pipeline hal.RenderPipeline
	Layout   *Layout
}

// GraphicsPipeline is a render pipeline and its binding layout.
type GraphicsPipeline struct {
	Desc GraphicsPipelineDesc
	Data *GraphicsPipelineData
}

// BindingLayout returns the pipeline's binding layout.
func (p *GraphicsPipeline) BindingLayout() *Layout { return p.Data.Layout }

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Label   string
	Shader  string
	Entry   string
	Defines []Define

	Bindings        []Binding
	DynamicCallData DynamicCallData
}

// ComputePipelineData is the native side of a ComputePipeline.
type ComputePipelineData struct {
	Module   hal.ShaderModule
	Pipeline hal.ComputePipeline
	Layout   *Layout
}

// ComputePipeline is a compute pipeline and its binding layout.
type ComputePipeline struct {
	Desc ComputePipelineDesc
	Data *ComputePipelineData
}

// BindingLayout returns the pipeline's binding layout.
func (p *ComputePipeline) BindingLayout() *Layout { return p.Data.Layout }

// CreateGraphicsPipeline compiles the shader and builds the pipeline.
func (d *Device) CreateGraphicsPipeline(desc GraphicsPipelineDesc) (*GraphicsPipeline, error) {
	if desc.Shader == "" {
		return nil, fmt.Errorf("%w: pipeline %q has no shader", ErrInvalidDesc, desc.Label)
	}
	if err := validateTargetFormats(desc.Label, desc.RenderTargetFormats, desc.DepthFormat); err != nil {
		return nil, err
	}
	if desc.VertexEntry == "" {
		desc.VertexEntry = DefaultVertexEntry
	}
	if desc.FragmentEntry == "" {
		desc.FragmentEntry = DefaultFragmentEntry
	}
	if desc.DepthCompare == gputypes.CompareFunctionUndefined {
		desc.DepthCompare = gputypes.CompareFunctionLessEqual
	}
	entries := []string{desc.VertexEntry}
	if len(desc.RenderTargetFormats) > 0 {
		entries = append(entries, desc.FragmentEntry)
	}
	if err := d.checkEntryPoints(desc.Label, desc.Shader, desc.Defines, entries...); err != nil {
		return nil, err
	}

	module, err := d.shaders.Module(d.hal, desc.Shader, desc.Defines...)
	if err != nil {
		return nil, fmt.Errorf("create %s pipeline: %w", desc.Label, err)
	}
	layout, err := d.createLayout(desc.Label, desc.Bindings, desc.DynamicCallData, gputypes.ShaderStagesVertexFragment)
	if err != nil {
		d.hal.DestroyShaderModule(module)
		return nil, err
	}

	rp := &hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: layout.pipeline,
		Vertex: hal.VertexState{
			Module:     module,
			EntryPoint: desc.VertexEntry,
			Buffers:    desc.VertexLayout,
		},
		Primitive: gputypes.PrimitiveState{
			Topology:  desc.Topology,
			FrontFace: desc.FrontFace,
			CullMode:  desc.CullMode,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	}
	if desc.DepthFormat != gputypes.TextureFormatUndefined {
		compare := gputypes.CompareFunctionAlways
		if desc.DepthTest {
			compare = desc.DepthCompare
		}
		keep := hal.StencilFaceState{
			Compare:     gputypes.CompareFunctionAlways,
			FailOp:      hal.StencilOperationKeep,
			DepthFailOp: hal.StencilOperationKeep,
			PassOp:      hal.StencilOperationKeep,
		}
		rp.DepthStencil = &hal.DepthStencilState{
			Format:              desc.DepthFormat,
			DepthWriteEnabled:   desc.DepthWrite,
			DepthCompare:        compare,
			StencilFront:        keep,
			StencilBack:         keep,
			DepthBias:           desc.DepthBias,
			DepthBiasSlopeScale: desc.SlopeBias,
		}
	}
	if len(desc.RenderTargetFormats) > 0 {
		targets := make([]gputypes.ColorTargetState, len(desc.RenderTargetFormats))
		for i, f := range desc.RenderTargetFormats {
			targets[i] = gputypes.ColorTargetState{Format: f, Blend: desc.Blend, WriteMask: gputypes.ColorWriteMaskAll}
		}
		rp.Fragment = &hal.FragmentState{Module: module, EntryPoint: desc.FragmentEntry, Targets: targets}
	}

	pipeline, err := d.hal.CreateRenderPipeline(rp)
	if err != nil {
		d.destroyLayout(layout)
		d.hal.DestroyShaderModule(module)
		return nil, fmt.Errorf("create %s pipeline: %w", desc.Label, err)
	}
	slogger().Debug("device: graphics pipeline created",
		"label", desc.Label, "shader", desc.Shader, "targets", len(desc.RenderTargetFormats),
		"bindings", len(desc.Bindings), "call_data", desc.DynamicCallData.Size)

	p := &GraphicsPipeline{Desc: desc, Data: &GraphicsPipelineData{Module: module, Pipeline: pipeline, Layout: layout}}
	d.track(p, func() {
		d.release.Defer(desc.Label, func() {
			d.hal.DestroyRenderPipeline(pipeline)
			d.hal.DestroyShaderModule(module)
		})
		d.destroyLayout(layout)
	})
	return p, nil
}

// CreateComputePipeline compiles the shader and builds the pipeline.
func (d *Device) CreateComputePipeline(desc ComputePipelineDesc) (*ComputePipeline, error) {
	if desc.Shader == "" {
		return nil, fmt.Errorf("%w: pipeline %q has no shader", ErrInvalidDesc, desc.Label)
	}
	if desc.Entry == "" {
		desc.Entry = DefaultComputeEntry
	}
	if err := d.checkEntryPoints(desc.Label, desc.Shader, desc.Defines, desc.Entry); err != nil {
		return nil, err
	}
	data, err := d.buildComputePipeline(desc.Label, desc.Shader, desc.Entry, desc.Defines, desc.Bindings, desc.DynamicCallData)
	if err != nil {
		return nil, err
	}
	p := &ComputePipeline{Desc: desc, Data: data}
	d.track(p, func() { d.destroyComputePipelineData(desc.Label, data) })
	return p, nil
}

func (d *Device) buildComputePipeline(label, path, entry string, defines []Define, bindings []Binding, callData DynamicCallData) (*ComputePipelineData, error) {
	module, err := d.shaders.Module(d.hal, path, defines...)
	if err != nil {
		return nil, fmt.Errorf("create %s pipeline: %w", label, err)
	}
	layout, err := d.createLayout(label, bindings, callData, gputypes.ShaderStageCompute)
	if err != nil {
		d.hal.DestroyShaderModule(module)
		return nil, err
	}
	pipeline, err := d.hal.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   label,
		Layout:  layout.pipeline,
		Compute: hal.ComputeState{Module: module, EntryPoint: entry},
	})
	if err != nil {
		d.destroyLayout(layout)
		d.hal.DestroyShaderModule(module)
		return nil, fmt.Errorf("create %s pipeline: %w", label, err)
	}
	slogger().Debug("device: compute pipeline created", "label", label, "shader", path, "entry", entry, "bindings", len(bindings))
	return &ComputePipelineData{Module: module, Pipeline: pipeline, Layout: layout}, nil
}

func (d *Device) destroyComputePipelineData(label string, data *ComputePipelineData) {
	pipeline, module := data.Pipeline, data.Module
	d.release.Defer(label, func() {
		d.hal.DestroyComputePipeline(pipeline)
		d.hal.DestroyShaderModule(module)
	})
	d.destroyLayout(data.Layout)
}

// DestroyPipeline releases p after the GPU has finished with it.
func (d *Device) DestroyPipeline(p Pipeline) {
	d.untrack(p)
}

// checkEntryPoints verifies that WGSL sources define every entry. SPIR-V
// sources are opaque and pass unchecked.
func (d *Device) checkEntryPoints(label, path string, defines []Define, entries ...string) error {
	src, err := d.shaders.Source(path, defines...)
	if err != nil {
		return fmt.Errorf("create %s pipeline: %w", label, err)
	}
	if src.WGSL == "" {
		return nil
	}
	for _, e := range entries {
		re := regexp.MustCompile(`\bfn\s+` + regexp.QuoteMeta(e) + `\s*\(`)
		if !re.MatchString(src.WGSL) {
			return fmt.Errorf("%w: %q in %s (%s)", ErrMissingEntryPoint, e, path, label)
		}
	}
	return nil
}
