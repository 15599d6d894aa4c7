package wasmrunner

import "github.com/wasmerio/wasmer-go/wasmer"

// registerHost wires the five host functions the ABI promises the guest
// contract: alloc, read_byte, write_byte, pointer_len, cout. All of them
// operate on bufs rather than the instance's own linear memory, following
// the store-scoped wasmer.NewFunction closures registered under the "env"
// namespace pattern, adapted from a key/value ledger's host calls to this
// package's byte-addressed buffer model.
func registerHost(store *wasmer.Store, bufs *buffers, diagnostics *[]string) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	allocFn := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.I32),
			wasmer.NewValueTypes(wasmer.I32),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			size := args[0].I32()
			ptr := bufs.alloc(size)
			return []wasmer.Value{wasmer.NewI32(ptr)}, nil
		},
	)

	readByteFn := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.I32, wasmer.I32),
			wasmer.NewValueTypes(wasmer.I32),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, offset := args[0].I32(), args[1].I32()
			buf, ok := bufs.data[ptr]
			if !ok || offset < 0 || int(offset) >= len(buf) {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(int32(buf[offset]))}, nil
		},
	)

	writeByteFn := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32),
			wasmer.NewValueTypes(wasmer.I32),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, offset, value := args[0].I32(), args[1].I32(), args[2].I32()
			buf, ok := bufs.data[ptr]
			if !ok || offset < 0 || int(offset) >= len(buf) {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			buf[offset] = byte(value)
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	pointerLenFn := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.I32),
			wasmer.NewValueTypes(wasmer.I32),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr := args[0].I32()
			buf, ok := bufs.data[ptr]
			if !ok {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(int32(len(buf)))}, nil
		},
	)

	coutFn := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.I32),
			wasmer.NewValueTypes(),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr := args[0].I32()
			if buf, ok := bufs.data[ptr]; ok {
				*diagnostics = append(*diagnostics, string(buf))
			}
			return []wasmer.Value{}, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"alloc":       allocFn,
		"read_byte":   readByteFn,
		"write_byte":  writeByteFn,
		"pointer_len": pointerLenFn,
		"cout":        coutFn,
	})
	return imports
}
