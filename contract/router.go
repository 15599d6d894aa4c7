package contract

import "context"

// Router dispatches Invoke to the governance bootstrap engine for the
// reserved "governance" schema id and to a general engine (normally
// wasmrunner.Runner) for every other schema, so callers depend on one
// Engine regardless of which schema they're invoking.
type Router struct {
	Builtin Engine
	General Engine
}

// NewRouter constructs a Router.
func NewRouter(builtin, general Engine) *Router {
	return &Router{Builtin: builtin, General: general}
}

// Invoke implements Engine by dispatching on ref.SchemaID.
func (r *Router) Invoke(ctx context.Context, ref ModuleRef, in Invocation) (Result, error) {
	if ref.SchemaID == "governance" {
		return r.Builtin.Invoke(ctx, ref, in)
	}
	return r.General.Invoke(ctx, ref, in)
}
