// Package builtinrunner hosts the governance-as-subject bootstrap
// contract as a native Go contract.Engine adapter, selected by the
// reserved schema id "governance" rather than compiled wasm.
package builtinrunner

import (
	"context"
	"encoding/json"
	"fmt"

	"kore/contract"
	"kore/governance"
)

// Runner implements contract.Engine for the reserved "governance" schema
// by delegating to governance.ApplyPatch. It ignores ref.Bytecode
// entirely — the bootstrap contract has no wasm module — and rejects any
// ModuleRef whose SchemaID isn't "governance".
type Runner struct{}

// NewRunner constructs a builtinrunner.Runner.
func NewRunner() *Runner { return &Runner{} }

// Invoke decodes in.InitialState as a governance.State, applies in.Payload
// as a JSON-patch fact via governance.ApplyPatch, and re-encodes the
// result. A structural-invariant violation yields Success=false with the
// original state unchanged, matching the Trap semantics of any other
// schema's contract.
func (r *Runner) Invoke(ctx context.Context, ref contract.ModuleRef, in contract.Invocation) (contract.Result, error) {
	if ref.SchemaID != "governance" {
		return contract.Result{}, fmt.Errorf("%w: builtinrunner only serves the governance schema", contract.ErrNoContract)
	}

	var current governance.State
	if len(in.InitialState) > 0 {
		if err := json.Unmarshal(in.InitialState, &current); err != nil {
			return contract.Result{}, fmt.Errorf("%w: initial state: %v", contract.ErrBadResultEncoding, err)
		}
	}

	next, success, err := governance.ApplyPatch(current, in.Payload)
	if err != nil {
		return contract.Result{}, err
	}

	nextJSON, err := json.Marshal(next)
	if err != nil {
		return contract.Result{}, fmt.Errorf("%w: %v", contract.ErrBadResultEncoding, err)
	}

	return contract.Result{
		FinalState:       nextJSON,
		ApprovalRequired: false,
		Success:          success,
	}, nil
}
