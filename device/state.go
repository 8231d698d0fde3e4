package device

import (
	"github.com/gogpu/g3d/internal/cmdpool"
	"github.com/gogpu/g3d/internal/resstate"
)

// CommandBuffer is a pooled command buffer handed out by the GetFree*
// methods. Barriers queued with Transition are flushed when the next pass
// begins.
type CommandBuffer = cmdpool.CommandBuffer

// State is a set of resource usage flags.
type State = resstate.State

// Resource states accepted by Transition.
const (
	StateCommon          = resstate.Common
	StateRenderTarget    = resstate.RenderTarget
	StateUnorderedAccess = resstate.UnorderedAccess
	StateDepthWrite      = resstate.DepthWrite
	StateDepthRead       = resstate.DepthRead
	StateShaderResource  = resstate.ShaderResource
	StateCopyDest        = resstate.CopyDest
	StateCopySource      = resstate.CopySource
)

// AllSubresources selects every mip level in Transition.
const AllSubresources = resstate.AllSubresources
