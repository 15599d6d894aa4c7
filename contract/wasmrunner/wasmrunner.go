// Package wasmrunner is the wasm adapter for the contract.Engine port,
// built on github.com/wasmerio/wasmer-go/wasmer. It hosts the guest
// contract behind a byte-addressed virtual memory the host owns outright
// (alloc/read_byte/write_byte/pointer_len/cout), rather than exposing the
// instance's own linear memory to Go, so execution stays deterministic and
// isolated per call regardless of what the compiled module's memory
// export looks like.
package wasmrunner

import (
	"context"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"

	"kore/contract"
	"kore/identity"
)

// Runner is the wasmer-backed contract.Engine adapter. One Runner's
// *wasmer.Engine is shared across invocations; each Invoke call gets a
// fresh store, module instantiation, and host-side buffer space so no
// state leaks between contracts.
type Runner struct {
	engine *wasmer.Engine
}

// NewRunner constructs a Runner with a fresh wasmer engine.
func NewRunner() *Runner {
	return &Runner{engine: wasmer.NewEngine()}
}

// entryPoint is the name every schema contract must export; it receives
// three host buffer pointers (initial state, payload, invoker-is-owner
// flag) and returns a pointer to the canonical-encoded Result triple.
const entryPoint = "kore_invoke"

// buffers is the per-invocation virtual memory the host functions operate
// on, addressed by an opaque int32 pointer rather than real wasm linear
// memory offsets.
type buffers struct {
	next int32
	data map[int32][]byte
}

func newBuffers() *buffers {
	return &buffers{next: 1, data: make(map[int32][]byte)}
}

func (b *buffers) alloc(size int32) int32 {
	ptr := b.next
	b.next++
	if size < 0 {
		size = 0
	}
	b.data[ptr] = make([]byte, size)
	return ptr
}

func (b *buffers) put(content []byte) int32 {
	ptr := b.alloc(int32(len(content)))
	copy(b.data[ptr], content)
	return ptr
}

// Invoke compiles ref.Bytecode afresh on every call (no compiled module is
// kept between calls), instantiates it with the host
// ABI, loads in's three fields into host buffers, calls the entry point,
// and decodes the result buffer as the canonical {final_state,
// approval_required, success} triple.
func (r *Runner) Invoke(ctx context.Context, ref contract.ModuleRef, in contract.Invocation) (contract.Result, error) {
	if len(ref.Bytecode) == 0 {
		return contract.Result{}, contract.ErrNoContract
	}

	store := wasmer.NewStore(r.engine)
	module, err := wasmer.NewModule(store, ref.Bytecode)
	if err != nil {
		return contract.Result{}, fmt.Errorf("%w: %v", contract.ErrInstantiationFailed, err)
	}

	bufs := newBuffers()
	var diagnostics []string
	imports := registerHost(store, bufs, &diagnostics)

	instance, err := wasmer.NewInstance(module, imports)
	if err != nil {
		return contract.Result{}, fmt.Errorf("%w: %v", contract.ErrInstantiationFailed, err)
	}
	defer instance.Close()

	entry, err := instance.Exports.GetFunction(entryPoint)
	if err != nil {
		return contract.Result{}, fmt.Errorf("%w: %s", contract.ErrEntryMissing, entryPoint)
	}

	statePtr := bufs.put(in.InitialState)
	payloadPtr := bufs.put(in.Payload)
	ownerFlag := int32(0)
	if in.InvokerIsOwner {
		ownerFlag = 1
	}
	ownerPtr := bufs.put([]byte{byte(ownerFlag)})

	raw, err := entry(statePtr, payloadPtr, ownerPtr)
	if err != nil {
		return contract.Result{}, fmt.Errorf("%w: %v", contract.ErrTrap, err)
	}
	resultPtr, ok := raw.(int32)
	if !ok {
		return contract.Result{}, fmt.Errorf("%w: entry point returned %T", contract.ErrBadResultEncoding, raw)
	}

	resultBytes, ok := bufs.data[resultPtr]
	if !ok {
		return contract.Result{}, fmt.Errorf("%w: unknown result pointer", contract.ErrBadResultEncoding)
	}

	dec := identity.NewDecoder(resultBytes)
	finalState := dec.ReadBytes()
	approvalRequired := dec.ReadBool()
	success := dec.ReadBool()
	if dec.Err() != nil {
		return contract.Result{}, fmt.Errorf("%w: %v", contract.ErrBadResultEncoding, dec.Err())
	}

	return contract.Result{FinalState: finalState, ApprovalRequired: approvalRequired, Success: success}, nil
}
