package g3d

import "errors"

// Renderer errors. Pass graph errors are configuration errors and fatal by
// policy.
var (
	// ErrInvalidState is returned when an operation is called in the wrong
	// renderer state.
	ErrInvalidState = errors.New("g3d: invalid renderer state")

	// ErrMissingDependency is returned when a pass depends on a pass that
	// has not been created.
	ErrMissingDependency = errors.New("g3d: missing pass dependency")

	// ErrDependencyOrder is returned when a configured stack runs a pass
	// before one of its dependencies.
	ErrDependencyOrder = errors.New("g3d: pass dependency out of order")

	// ErrDuplicatePass is returned for a handle created or configured twice.
	ErrDuplicatePass = errors.New("g3d: duplicate pass")

	// ErrUnknownPass is returned for a handle with no created pass.
	ErrUnknownPass = errors.New("g3d: unknown pass")

	// ErrPassType is returned by PassByHandle when the pass has another
	// type.
	ErrPassType = errors.New("g3d: pass type mismatch")
)
