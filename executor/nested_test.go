package executor

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/runelabs/wasm-executor/abi"
	"github.com/runelabs/wasm-executor/sandbox"
	"github.com/runelabs/wasm-executor/wasm"
)

// nestedGuestModule builds the inner module for the sandbox round trip:
// it imports env.inc and exports run() = inc(0) + 2.
func nestedGuestModule() []byte {
	m := &wasm.Module{}
	m.Imports = append(m.Imports, wasm.Import{
		Module: "env", Name: "inc", Kind: wasm.KindFunc,
		TypeIdx: m.TypeIndex(wasm.FuncType{
			Params:  []wasm.ValType{wasm.ValI32},
			Results: []wasm.ValType{wasm.ValI32},
		}),
	})
	addFunc(m, wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}, wasm.NewAsm().
		I32Const(0).
		Call(0).
		I32Const(2).I32Add().
		End().Bytes(), "run")
	return m.Encode()
}

// supervisorModule builds the outer module. Function index 0 is the
// imported allocator, index 1 runs the nested instance from the host
// side. The dispatch thunk sits in the table at slot 1: it allocates a
// six byte buffer, writes a serialized i32 return value of fn+35 into
// it, and hands the packed pointer back to the router.
func supervisorModule() *wasm.Module {
	m := newGuestModule()
	m.Imports = append(m.Imports,
		wasm.Import{
			Module: "env", Name: "alloc", Kind: wasm.KindFunc,
			TypeIdx: m.TypeIndex(wasm.FuncType{
				Params:  []wasm.ValType{wasm.ValI32},
				Results: []wasm.ValType{wasm.ValI32},
			}),
		},
		wasm.Import{
			Module: "env", Name: "run_nested", Kind: wasm.KindFunc,
			TypeIdx: m.TypeIndex(wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}),
		},
	)

	thunkSig := wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI64},
	}
	thunk := uint32(m.NumImportedFuncs() + len(m.Funcs))
	m.Funcs = append(m.Funcs, m.TypeIndex(thunkSig))
	m.Code = append(m.Code, wasm.FuncBody{
		// local 4 holds the result buffer pointer
		Locals: []wasm.LocalEntry{{Count: 1, Type: wasm.ValI32}},
		Code: wasm.NewAsm().
			I32Const(6).Call(0).LocalSet(4).
			LocalGet(4).I32Const(1).I32Store(2, 0).
			LocalGet(4).LocalGet(3).I32Const(35).I32Add().I32Store(0, 2).
			LocalGet(4).I64ExtendI32U().
			I64Const(6 << 32).I64Or().
			End().Bytes(),
	})

	addFunc(m, entrySig(), wasm.NewAsm().
		I32Const(scratch).
		Call(1).
		I32Store(2, 0).
		I64Const(packed(scratch, 4)).
		End().Bytes(), "run")

	m.Tables = []wasm.TableType{{
		Elem:   wasm.ValFuncRef,
		Limits: wasm.Limits{Min: 2, Max: 2, HasMax: true},
	}}
	m.Elements = []wasm.Element{
		{TableIdx: 0, Offset: wasm.I32ConstExpr(1), Funcs: []uint32{thunk}},
	}
	return m
}

// TestNestedInstanceDispatch drives the full sandbox chain through real
// modules: the outer guest asks the host to spawn a nested instance
// whose env.inc import is routed back through the table resident
// dispatch thunk. The thunk itself calls host functions again, so the
// host state must survive the re-entry.
func TestNestedInstanceDispatch(t *testing.T) {
	const (
		thunkSlot = 1
		incFuncID = 7
		stateWord = 5
	)

	i32 := abi.I32
	reg := NewHostFunctionRegistry()
	if err := reg.Register(HostFunction{
		Name:   "alloc",
		Params: []abi.ValueType{abi.I32},
		Return: &i32,
		Execute: func(hc HostContext, args []abi.Value) (*abi.Value, error) {
			ptr, err := hc.AllocateMemory(uint32(args[0].I32()))
			if err != nil {
				return nil, err
			}
			v := abi.ValueI32(int32(ptr))
			return &v, nil
		},
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.Register(HostFunction{
		Name:   "run_nested",
		Return: &i32,
		Execute: func(hc HostContext, _ []abi.Value) (*abi.Value, error) {
			sb := hc.Sandbox()
			desc := sandbox.EncodeEnvDescriptor([]sandbox.EnvEntry{
				sandbox.EntryFunction("env", "inc", incFuncID),
			})
			id, st, err := sb.InstanceNew(thunkSlot, nestedGuestModule(), desc, stateWord)
			if err != nil {
				return nil, err
			}
			if st != sandbox.StatusOK {
				return nil, fmt.Errorf("instance_new returned %v", st)
			}
			retPtr, err := hc.AllocateMemory(6)
			if err != nil {
				return nil, err
			}
			st, err = sb.Invoke(id, "run", sandbox.EncodeValues(nil), retPtr, 6, stateWord)
			if err != nil {
				return nil, err
			}
			if st != sandbox.StatusOK {
				return nil, fmt.Errorf("invoke returned %v", st)
			}
			raw, err := hc.ReadMemory(retPtr, 6)
			if err != nil {
				return nil, err
			}
			rv, err := sandbox.DecodeReturnValue(raw)
			if err != nil {
				return nil, err
			}
			if !rv.HasValue {
				return nil, fmt.Errorf("nested call returned unit")
			}
			if err := sb.InstanceTeardown(id); err != nil {
				return nil, err
			}
			v := abi.ValueI32(rv.Value.I32())
			return &v, nil
		},
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	m := supervisorModule()
	bothStrategies(t, func(t *testing.T, cfg Config) {
		inst := newTestInstance(t, m, cfg, reg)
		out, err := inst.Call(context.Background(), EntryExport{Name: "run"}, nil)
		if err != nil {
			t.Fatalf("call failed: %v", err)
		}
		// thunk answers inc(0) with incFuncID+35 = 42, nested adds 2
		if !bytes.Equal(out, []byte{44, 0, 0, 0}) {
			t.Fatalf("expected 44, got %v", out)
		}
	})
}
