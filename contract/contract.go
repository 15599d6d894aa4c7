// Package contract implements the node's Contract Engine port: a
// module cache of contract bytecode keyed by (governance, schema, version)
// in front of a deterministic execution harness. The wasm engine itself is a
// collaborator consumed only through this port; this package defines the
// Engine interface and ships two concrete adapters in its wasmrunner and
// builtinrunner subpackages.
package contract

import (
	"context"
	"fmt"

	"kore/identity"
)

// ModuleRef names one compiled contract: the governance and schema it
// belongs to, the version it was read at, and the bytecode plus the
// source hash the module cache validates against.
type ModuleRef struct {
	GovernanceID identity.DigestId
	SchemaID     string
	GovVersion   uint64
	Bytecode     []byte
	SourceHash   identity.DigestId
}

// Invocation is the input to one deterministic contract call: the
// subject's current state, the event payload, and whether the invoker is
// the subject's owner, matching the three pointers the entry point
// receives into its linear memory region.
type Invocation struct {
	InitialState   []byte
	Payload        []byte
	InvokerIsOwner bool
}

// Result is a contract's output: the new state, whether the outcome
// requires an approval round, and whether execution itself succeeded.
// Success=false with an empty state is a committable outcome (a contract
// trap), not a pipeline error.
type Result struct {
	FinalState       []byte
	ApprovalRequired bool
	Success          bool
}

// Engine runs one compiled contract deterministically: identical inputs
// must produce identical outputs, with no wall-clock, filesystem, or
// network access.
type Engine interface {
	Invoke(ctx context.Context, ref ModuleRef, in Invocation) (Result, error)
}

// Failure taxonomy. A Trap is the one outcome the pipeline commits rather
// than surfaces as an error; the other four abort the round.
var (
	// ErrNoContract: the module cache has no entry for (governance,
	// schema, version).
	ErrNoContract = fmt.Errorf("contract: no contract for schema")
	// ErrInstantiationFailed: the engine could not instantiate the
	// module (malformed bytecode, missing imports).
	ErrInstantiationFailed = fmt.Errorf("contract: instantiation failed")
	// ErrEntryMissing: the module has no recognizable entry point.
	ErrEntryMissing = fmt.Errorf("contract: entry point missing")
	// ErrTrap: the contract trapped during execution.
	ErrTrap = fmt.Errorf("contract: execution trapped")
	// ErrBadResultEncoding: the contract's result pointer did not decode
	// as the canonical {final_state, approval_required, success} triple.
	ErrBadResultEncoding = fmt.Errorf("contract: bad result encoding")
)
