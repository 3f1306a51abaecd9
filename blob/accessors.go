package blob

import (
	"github.com/runelabs/wasm-executor/errors"
	"github.com/runelabs/wasm-executor/wasm"
)

// Names of the exported accessor functions InjectDispatchAccessors adds.
// The host calls through these to reach the guest's function table, which
// the engine does not expose directly.
const (
	ExportCall            = "__executor_call"
	ExportCallDispatcher  = "__executor_call_dispatcher"
	ExportDispatchThunk   = "__executor_dispatch_thunk"
	ExportTableSize       = "__executor_table_size"
	ExportTableEntryIsSet = "__executor_table_entry_nonnull"
)

// InjectDispatchAccessors appends the accessor functions used for table
// dispatch and exports them. A module with no function table is left
// unchanged; table entry points on such a module fail at call time.
func (b *RuntimeBlob) InjectDispatchAccessors() error {
	m := b.module
	if !m.HasTable() {
		return nil
	}
	for _, name := range []string{
		ExportCall, ExportCallDispatcher, ExportDispatchThunk,
		ExportTableSize, ExportTableEntryIsSet,
	} {
		if m.ExportNamed(name) != nil {
			return errors.New(errors.PhaseCompile, errors.KindInvalidModule).
				Name(name).
				Detail("module already exports a reserved accessor name").
				Build()
		}
	}

	entryType := m.TypeIndex(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI64},
	})
	dispatcherType := m.TypeIndex(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI64},
	})
	thunkType := m.TypeIndex(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI64},
	})

	// __executor_call(fn, ptr, len) calls table[fn](ptr, len).
	b.appendFunc(ExportCall,
		wasm.FuncType{
			Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32},
			Results: []wasm.ValType{wasm.ValI64},
		},
		wasm.NewAsm().
			LocalGet(1).
			LocalGet(2).
			LocalGet(0).
			CallIndirect(entryType, 0).
			End().
			Bytes())

	// __executor_call_dispatcher(dispatcher, fn, ptr, len) calls
	// table[dispatcher](fn, ptr, len).
	b.appendFunc(ExportCallDispatcher,
		wasm.FuncType{
			Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32},
			Results: []wasm.ValType{wasm.ValI64},
		},
		wasm.NewAsm().
			LocalGet(1).
			LocalGet(2).
			LocalGet(3).
			LocalGet(0).
			CallIndirect(dispatcherType, 0).
			End().
			Bytes())

	// __executor_dispatch_thunk(thunk, args_ptr, args_len, state, fn) calls
	// table[thunk](args_ptr, args_len, state, fn) for the sandbox.
	b.appendFunc(ExportDispatchThunk,
		wasm.FuncType{
			Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32},
			Results: []wasm.ValType{wasm.ValI64},
		},
		wasm.NewAsm().
			LocalGet(1).
			LocalGet(2).
			LocalGet(3).
			LocalGet(4).
			LocalGet(0).
			CallIndirect(thunkType, 0).
			End().
			Bytes())

	b.appendFunc(ExportTableSize,
		wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}},
		wasm.NewAsm().
			TableSize(0).
			End().
			Bytes())

	b.appendFunc(ExportTableEntryIsSet,
		wasm.FuncType{
			Params:  []wasm.ValType{wasm.ValI32},
			Results: []wasm.ValType{wasm.ValI32},
		},
		wasm.NewAsm().
			LocalGet(0).
			TableGet(0).
			RefIsNull().
			I32Eqz().
			End().
			Bytes())

	return nil
}

// HasDispatchAccessors reports whether the accessor exports are present.
func (b *RuntimeBlob) HasDispatchAccessors() bool {
	return b.module.ExportNamed(ExportCall) != nil
}

func (b *RuntimeBlob) appendFunc(name string, ft wasm.FuncType, code []byte) {
	m := b.module
	typeIdx := m.TypeIndex(ft)
	funcIdx := uint32(m.NumImportedFuncs() + len(m.Funcs))
	m.Funcs = append(m.Funcs, typeIdx)
	m.Code = append(m.Code, wasm.FuncBody{Code: code})
	m.Exports = append(m.Exports, wasm.Export{
		Name:  name,
		Kind:  wasm.KindFunc,
		Index: funcIdx,
	})
}
