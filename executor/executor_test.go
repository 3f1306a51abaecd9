package executor

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"strings"
	"testing"

	"github.com/runelabs/wasm-executor/abi"
	"github.com/runelabs/wasm-executor/errors"
	"github.com/runelabs/wasm-executor/wasm"
)

const (
	testHeapBase = 0x10000
	scratch      = 1024
)

func entrySig() wasm.FuncType {
	return wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI64},
	}
}

func packed(ptr, length uint32) int64 {
	return int64(abi.PackPtrLen(ptr, length))
}

// newGuestModule returns a module skeleton with two pages of memory and
// the heap base set to the start of the second page.
func newGuestModule() *wasm.Module {
	return &wasm.Module{
		Memories: []wasm.Limits{{Min: 2}},
		Globals: []wasm.Global{{
			Type: wasm.GlobalType{Type: wasm.ValI32},
			Init: wasm.I32ConstExpr(testHeapBase),
		}},
		Exports: []wasm.Export{
			{Name: "memory", Kind: wasm.KindMemory, Index: 0},
			{Name: "__heap_base", Kind: wasm.KindGlobal, Index: 0},
		},
	}
}

func addFunc(m *wasm.Module, sig wasm.FuncType, code []byte, export string) uint32 {
	idx := uint32(m.NumImportedFuncs() + len(m.Funcs))
	m.Funcs = append(m.Funcs, m.TypeIndex(sig))
	m.Code = append(m.Code, wasm.FuncBody{Code: code})
	if export != "" {
		m.Exports = append(m.Exports, wasm.Export{Name: export, Kind: wasm.KindFunc, Index: idx})
	}
	return idx
}

func newTestInstance(t *testing.T, m *wasm.Module, cfg Config, reg *HostFunctionRegistry) *Instance {
	t.Helper()
	ctx := context.Background()
	rt, err := NewRuntime(ctx, m.Encode(), cfg, reg)
	if err != nil {
		t.Fatalf("NewRuntime failed: %v", err)
	}
	t.Cleanup(func() { rt.Close(ctx) })
	inst, err := rt.NewInstance(ctx)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	t.Cleanup(func() { inst.Close(ctx) })
	return inst
}

func bothStrategies(t *testing.T, fn func(t *testing.T, cfg Config)) {
	for _, fast := range []bool{false, true} {
		name := "recreate"
		if fast {
			name = "fast_reuse"
		}
		t.Run(name, func(t *testing.T) {
			fn(t, Config{Semantics: Semantics{FastInstanceReuse: fast}})
		})
	}
}

func TestCallReturnsComputedOutput(t *testing.T) {
	m := newGuestModule()
	addFunc(m, entrySig(), wasm.NewAsm().
		I32Const(scratch).
		I32Const(2).I32Const(2).I32Add().
		I32Store(2, 0).
		I64Const(packed(scratch, 4)).
		End().Bytes(), "run")

	bothStrategies(t, func(t *testing.T, cfg Config) {
		inst := newTestInstance(t, m, cfg, nil)
		out, err := inst.Call(context.Background(), EntryExport{Name: "run"}, nil)
		if err != nil {
			t.Fatalf("call failed: %v", err)
		}
		if !bytes.Equal(out, []byte{4, 0, 0, 0}) {
			t.Fatalf("expected 4, got %v", out)
		}
	})
}

func TestHostFunctionResult(t *testing.T) {
	m := newGuestModule()
	i32 := abi.I32
	m.Imports = append(m.Imports, wasm.Import{
		Module: "env", Name: "get_value", Kind: wasm.KindFunc,
		TypeIdx: m.TypeIndex(wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}),
	})
	addFunc(m, entrySig(), wasm.NewAsm().
		I32Const(scratch).
		Call(0).
		I32Store(2, 0).
		I64Const(packed(scratch, 4)).
		End().Bytes(), "run")

	reg := NewHostFunctionRegistry()
	if err := reg.Register(HostFunction{
		Name:   "get_value",
		Return: &i32,
		Execute: func(hc HostContext, args []abi.Value) (*abi.Value, error) {
			v := abi.ValueI32(42)
			return &v, nil
		},
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	bothStrategies(t, func(t *testing.T, cfg Config) {
		inst := newTestInstance(t, m, cfg, reg)
		out, err := inst.Call(context.Background(), EntryExport{Name: "run"}, nil)
		if err != nil {
			t.Fatalf("call failed: %v", err)
		}
		if !bytes.Equal(out, []byte{42, 0, 0, 0}) {
			t.Fatalf("expected 42, got %v", out)
		}
	})
}

func TestHostFunctionReadsInput(t *testing.T) {
	m := newGuestModule()
	i32 := abi.I32
	m.Imports = append(m.Imports, wasm.Import{
		Module: "env", Name: "sum_bytes", Kind: wasm.KindFunc,
		TypeIdx: m.TypeIndex(wasm.FuncType{
			Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
			Results: []wasm.ValType{wasm.ValI32},
		}),
	})
	// run forwards its input region to the host and returns the sum.
	addFunc(m, entrySig(), wasm.NewAsm().
		I32Const(scratch).
		LocalGet(0).LocalGet(1).
		Call(0).
		I32Store(2, 0).
		I64Const(packed(scratch, 4)).
		End().Bytes(), "run")

	reg := NewHostFunctionRegistry()
	if err := reg.Register(HostFunction{
		Name:   "sum_bytes",
		Params: []abi.ValueType{abi.I32, abi.I32},
		Return: &i32,
		Execute: func(hc HostContext, args []abi.Value) (*abi.Value, error) {
			data, err := hc.ReadMemory(uint32(args[0].I32()), uint32(args[1].I32()))
			if err != nil {
				return nil, err
			}
			sum := int32(0)
			for _, b := range data {
				sum += int32(b)
			}
			v := abi.ValueI32(sum)
			return &v, nil
		},
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	bothStrategies(t, func(t *testing.T, cfg Config) {
		inst := newTestInstance(t, m, cfg, reg)
		out, err := inst.Call(context.Background(), EntryExport{Name: "run"}, []byte{1, 2, 3})
		if err != nil {
			t.Fatalf("call failed: %v", err)
		}
		if !bytes.Equal(out, []byte{6, 0, 0, 0}) {
			t.Fatalf("expected 6, got %v", out)
		}
	})
}

func TestHostFunctionErrorBecomesPanic(t *testing.T) {
	m := newGuestModule()
	m.Imports = append(m.Imports, wasm.Import{
		Module: "env", Name: "fail", Kind: wasm.KindFunc,
		TypeIdx: m.TypeIndex(wasm.FuncType{}),
	})
	addFunc(m, entrySig(), wasm.NewAsm().
		Call(0).
		I64Const(packed(scratch, 0)).
		End().Bytes(), "run")

	reg := NewHostFunctionRegistry()
	if err := reg.Register(HostFunction{
		Name: "fail",
		Execute: func(hc HostContext, args []abi.Value) (*abi.Value, error) {
			hc.RegisterPanicErrorMessage("storage root mismatch")
			return nil, stderrors.New("aborted")
		},
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	inst := newTestInstance(t, m, Config{}, reg)
	_, err := inst.Call(context.Background(), EntryExport{Name: "run"}, nil)
	var pe *errors.PanicError
	if !stderrors.As(err, &pe) {
		t.Fatalf("expected a panic error, got %v", err)
	}
	if pe.Message != "storage root mismatch" {
		t.Fatalf("expected the first registered message to win, got %q", pe.Message)
	}
}

// statefulModule increments an internal mutable global and a byte of a data
// segment on every call and returns both values.
func statefulModule() *wasm.Module {
	m := newGuestModule()
	m.Globals = append(m.Globals, wasm.Global{
		Type: wasm.GlobalType{Type: wasm.ValI32, Mutable: true},
		Init: wasm.I32ConstExpr(0),
	})
	m.Data = append(m.Data, wasm.DataSegment{
		Offset: wasm.I32ConstExpr(2048),
		Init:   []byte{5, 0, 0, 0},
	})
	addFunc(m, entrySig(), wasm.NewAsm().
		GlobalGet(1).I32Const(1).I32Add().GlobalSet(1).
		I32Const(2048).I32Const(2048).I32Load(2, 0).I32Const(1).I32Add().I32Store(2, 0).
		I32Const(scratch).GlobalGet(1).I32Store(2, 0).
		I32Const(scratch+4).I32Const(2048).I32Load(2, 0).I32Store(2, 0).
		I64Const(packed(scratch, 8)).
		End().Bytes(), "run")
	return m
}

func TestStrategiesProduceIdenticalOutput(t *testing.T) {
	ctx := context.Background()
	m := statefulModule()
	want := []byte{1, 0, 0, 0, 6, 0, 0, 0}

	bothStrategies(t, func(t *testing.T, cfg Config) {
		inst := newTestInstance(t, m, cfg, nil)
		for call := 0; call < 3; call++ {
			out, err := inst.Call(ctx, EntryExport{Name: "run"}, nil)
			if err != nil {
				t.Fatalf("call %d failed: %v", call, err)
			}
			if !bytes.Equal(out, want) {
				t.Fatalf("call %d: expected %v, got %v", call, want, out)
			}
		}
	})
}

func TestMissingImportsAreEnumerated(t *testing.T) {
	m := newGuestModule()
	empty := m.TypeIndex(wasm.FuncType{})
	m.Imports = append(m.Imports,
		wasm.Import{Module: "env", Name: "first_missing", Kind: wasm.KindFunc, TypeIdx: empty},
		wasm.Import{Module: "env", Name: "second_missing", Kind: wasm.KindFunc, TypeIdx: empty},
	)
	addFunc(m, entrySig(), wasm.NewAsm().
		I64Const(packed(scratch, 0)).
		End().Bytes(), "run")

	_, err := NewRuntime(context.Background(), m.Encode(), Config{}, nil)
	if err == nil {
		t.Fatal("expected unresolved imports to fail runtime construction")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseResolve, Kind: errors.KindMissingImports}) {
		t.Fatalf("expected a missing imports error, got %v", err)
	}
	for _, name := range []string{"first_missing", "second_missing"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("expected %q in the error, got %v", name, err)
		}
	}
}

func TestAllowedMissingImportTrapsOnCall(t *testing.T) {
	m := newGuestModule()
	m.Imports = append(m.Imports, wasm.Import{
		Module: "env", Name: "absent", Kind: wasm.KindFunc,
		TypeIdx: m.TypeIndex(wasm.FuncType{}),
	})
	addFunc(m, entrySig(), wasm.NewAsm().
		Call(0).
		I64Const(packed(scratch, 0)).
		End().Bytes(), "run")

	cfg := Config{AllowMissingFuncImports: true}
	inst := newTestInstance(t, m, cfg, nil)
	_, err := inst.Call(context.Background(), EntryExport{Name: "run"}, nil)
	var pe *errors.PanicError
	if !stderrors.As(err, &pe) {
		t.Fatalf("expected a panic error, got %v", err)
	}
	if !strings.Contains(pe.Message, "absent") {
		t.Fatalf("expected the import name in the message, got %q", pe.Message)
	}
}

func TestHostSignatureMismatchFailsConstruction(t *testing.T) {
	m := newGuestModule()
	m.Imports = append(m.Imports, wasm.Import{
		Module: "env", Name: "get_value", Kind: wasm.KindFunc,
		TypeIdx: m.TypeIndex(wasm.FuncType{
			Params:  []wasm.ValType{wasm.ValI32},
			Results: []wasm.ValType{wasm.ValI32},
		}),
	})
	addFunc(m, entrySig(), wasm.NewAsm().
		I64Const(packed(scratch, 0)).
		End().Bytes(), "run")

	i32 := abi.I32
	reg := NewHostFunctionRegistry()
	if err := reg.Register(HostFunction{
		Name:   "get_value",
		Return: &i32,
		Execute: func(hc HostContext, args []abi.Value) (*abi.Value, error) {
			v := abi.ValueI32(42)
			return &v, nil
		},
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	_, err := NewRuntime(context.Background(), m.Encode(), Config{}, reg)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseResolve, Kind: errors.KindSignatureMismatch}) {
		t.Fatalf("expected a signature mismatch error, got %v", err)
	}
}

func TestEntryExportSignatureValidation(t *testing.T) {
	m := newGuestModule()
	addFunc(m, wasm.FuncType{Results: []wasm.ValType{wasm.ValI64}}, wasm.NewAsm().
		I64Const(0).
		End().Bytes(), "bad_shape")

	inst := newTestInstance(t, m, Config{}, nil)
	ctx := context.Background()

	var se *errors.SignatureError
	if _, err := inst.Call(ctx, EntryExport{Name: "bad_shape"}, nil); !stderrors.As(err, &se) {
		t.Fatalf("expected an invalid signature error, got %v", err)
	}
	_, err := inst.Call(ctx, EntryExport{Name: "nonexistent"}, nil)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseCall, Kind: errors.KindMissingExport}) {
		t.Fatalf("expected a missing export error, got %v", err)
	}
}

func tableModule() *wasm.Module {
	m := newGuestModule()
	good := addFunc(m, entrySig(), wasm.NewAsm().
		I32Const(scratch).I32Const(7).I32Store(2, 0).
		I64Const(packed(scratch, 4)).
		End().Bytes(), "")
	bad := addFunc(m, wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}, wasm.NewAsm().
		I32Const(0).
		End().Bytes(), "")
	m.Tables = []wasm.TableType{{
		Elem:   wasm.ValFuncRef,
		Limits: wasm.Limits{Min: 4, Max: 4, HasMax: true},
	}}
	m.Elements = []wasm.Element{
		{TableIdx: 0, Offset: wasm.I32ConstExpr(1), Funcs: []uint32{good}},
		{TableIdx: 0, Offset: wasm.I32ConstExpr(2), Funcs: []uint32{bad}},
	}
	return m
}

func TestTableDispatch(t *testing.T) {
	bothStrategies(t, func(t *testing.T, cfg Config) {
		inst := newTestInstance(t, tableModule(), cfg, nil)
		ctx := context.Background()

		out, err := inst.Call(ctx, EntryTable{Index: 1}, nil)
		if err != nil {
			t.Fatalf("table call failed: %v", err)
		}
		if !bytes.Equal(out, []byte{7, 0, 0, 0}) {
			t.Fatalf("expected 7, got %v", out)
		}

		var nullErr *errors.NullFunctionError
		if _, err := inst.Call(ctx, EntryTable{Index: 0}, nil); !stderrors.As(err, &nullErr) {
			t.Fatalf("expected a null function error, got %v", err)
		}

		var sigErr *errors.SignatureError
		if _, err := inst.Call(ctx, EntryTable{Index: 2}, nil); !stderrors.As(err, &sigErr) {
			t.Fatalf("expected a signature error for a mistyped table slot, got %v", err)
		}

		var rangeErr *errors.NoTableEntryError
		if _, err := inst.Call(ctx, EntryTable{Index: 9}, nil); !stderrors.As(err, &rangeErr) {
			t.Fatalf("expected a no table entry error, got %v", err)
		}
	})
}

func TestTableDispatchWithoutTable(t *testing.T) {
	m := newGuestModule()
	addFunc(m, entrySig(), wasm.NewAsm().
		I64Const(packed(scratch, 0)).
		End().Bytes(), "run")

	inst := newTestInstance(t, m, Config{}, nil)
	if _, err := inst.Call(context.Background(), EntryTable{Index: 0}, nil); !stderrors.Is(err, errors.ErrNoTable) {
		t.Fatalf("expected ErrNoTable, got %v", err)
	}
}

func TestTableDispatcherWrapper(t *testing.T) {
	m := newGuestModule()
	disp := addFunc(m, wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI64},
	}, wasm.NewAsm().
		I32Const(scratch).LocalGet(0).I32Store(2, 0).
		I64Const(packed(scratch, 4)).
		End().Bytes(), "")
	m.Tables = []wasm.TableType{{
		Elem:   wasm.ValFuncRef,
		Limits: wasm.Limits{Min: 2, Max: 2, HasMax: true},
	}}
	m.Elements = []wasm.Element{{TableIdx: 0, Offset: wasm.I32ConstExpr(1), Funcs: []uint32{disp}}}

	inst := newTestInstance(t, m, Config{}, nil)
	out, err := inst.Call(context.Background(), EntryTableWithWrapper{DispatcherIndex: 1, FuncID: 99}, nil)
	if err != nil {
		t.Fatalf("dispatcher call failed: %v", err)
	}
	if !bytes.Equal(out, []byte{99, 0, 0, 0}) {
		t.Fatalf("expected the function id 99, got %v", out)
	}
}

func TestMaxMemoryGrowthBoundary(t *testing.T) {
	m := newGuestModule()
	addFunc(m, entrySig(), wasm.NewAsm().
		I32Const(scratch).I32Const(1).MemoryGrow().I32Store(2, 0).
		I32Const(scratch+4).I32Const(1).MemoryGrow().I32Store(2, 0).
		I64Const(packed(scratch, 8)).
		End().Bytes(), "run")

	cfg := Config{Semantics: Semantics{MaxMemorySize: 3 * 65536}}
	inst := newTestInstance(t, m, cfg, nil)
	out, err := inst.Call(context.Background(), EntryExport{Name: "run"}, nil)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	// The first grow fits exactly under the cap, the second reports failure.
	want := []byte{2, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}
	if !bytes.Equal(out, want) {
		t.Fatalf("expected %v, got %v", want, out)
	}
}

func TestExtraHeapPages(t *testing.T) {
	m := newGuestModule()
	addFunc(m, entrySig(), wasm.NewAsm().
		I32Const(scratch).I32Const(0).MemoryGrow().I32Store(2, 0).
		I64Const(packed(scratch, 4)).
		End().Bytes(), "run")

	cfg := Config{Semantics: Semantics{ExtraHeapPages: 2}}
	inst := newTestInstance(t, m, cfg, nil)
	out, err := inst.Call(context.Background(), EntryExport{Name: "run"}, nil)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if !bytes.Equal(out, []byte{4, 0, 0, 0}) {
		t.Fatalf("expected 4 pages, got %v", out)
	}
}

func TestStackLimitTrapsRunawayRecursion(t *testing.T) {
	// The runaway function bumps an exported counter on every entry so
	// the reached depth can be read back after the trap. Globals are not
	// reset by the decommit, only by the next call.
	m := newGuestModule()
	m.Globals = append(m.Globals, wasm.Global{
		Type: wasm.GlobalType{Type: wasm.ValI32, Mutable: true},
		Init: wasm.I32ConstExpr(0),
	})
	m.Exports = append(m.Exports, wasm.Export{Name: "depth", Kind: wasm.KindGlobal, Index: 1})
	rec := uint32(len(m.Funcs))
	addFunc(m, wasm.FuncType{}, wasm.NewAsm().
		GlobalGet(1).I32Const(1).I32Add().GlobalSet(1).
		Call(rec).
		End().Bytes(), "")
	addFunc(m, entrySig(), wasm.NewAsm().
		Call(rec).
		I64Const(packed(scratch, 0)).
		End().Bytes(), "run")

	cfg := Config{Semantics: Semantics{
		FastInstanceReuse:       true,
		DeterministicStackLimit: &DeterministicStackLimit{LogicalMax: 64},
	}}

	ctx := context.Background()
	var depths [2]int32
	for i := range depths {
		inst := newTestInstance(t, m, cfg, nil)
		_, err := inst.Call(ctx, EntryExport{Name: "run"}, nil)
		var te *errors.TrapError
		if !stderrors.As(err, &te) {
			t.Fatalf("run %d: expected a trap, got %v", i, err)
		}
		v, err := inst.GetGlobalConst(ctx, "depth")
		if err != nil || v == nil {
			t.Fatalf("run %d: reading depth failed: %v %v", i, v, err)
		}
		depths[i] = v.I32()
	}
	if depths[0] == 0 {
		t.Fatalf("recursion never entered the counting function")
	}
	if depths[0] != depths[1] {
		t.Fatalf("trap depth differs between runs: %d vs %d", depths[0], depths[1])
	}
}

func TestStackLimitAllowsBoundedRecursion(t *testing.T) {
	m := newGuestModule()
	rec := uint32(len(m.Funcs))
	// rec(n) = rec(n-1) until n reaches zero.
	addFunc(m, wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	}, wasm.NewAsm().
		LocalGet(0).I32Eqz().
		If().I32Const(0).Return().End().
		LocalGet(0).I32Const(1).I32Sub().Call(rec).
		End().Bytes(), "")
	addFunc(m, entrySig(), wasm.NewAsm().
		I32Const(scratch).
		I32Const(50).Call(rec).
		I32Store(2, 0).
		I64Const(packed(scratch, 4)).
		End().Bytes(), "run")

	cfg := Config{Semantics: Semantics{
		DeterministicStackLimit: &DeterministicStackLimit{LogicalMax: 1024},
	}}
	inst := newTestInstance(t, m, cfg, nil)
	out, err := inst.Call(context.Background(), EntryExport{Name: "run"}, nil)
	if err != nil {
		t.Fatalf("bounded recursion failed: %v", err)
	}
	if !bytes.Equal(out, []byte{0, 0, 0, 0}) {
		t.Fatalf("expected 0, got %v", out)
	}
}

func TestGetGlobalConst(t *testing.T) {
	m := newGuestModule()
	m.Globals = append(m.Globals, wasm.Global{
		Type: wasm.GlobalType{Type: wasm.ValI32},
		Init: wasm.I32ConstExpr(7),
	})
	m.Exports = append(m.Exports, wasm.Export{Name: "version", Kind: wasm.KindGlobal, Index: 1})
	addFunc(m, entrySig(), wasm.NewAsm().
		I64Const(packed(scratch, 0)).
		End().Bytes(), "run")

	bothStrategies(t, func(t *testing.T, cfg Config) {
		inst := newTestInstance(t, m, cfg, nil)
		ctx := context.Background()

		v, err := inst.GetGlobalConst(ctx, "version")
		if err != nil {
			t.Fatalf("GetGlobalConst failed: %v", err)
		}
		if v == nil || v.I32() != 7 {
			t.Fatalf("expected 7, got %v", v)
		}

		v, err = inst.GetGlobalConst(ctx, "missing")
		if err != nil {
			t.Fatalf("GetGlobalConst failed: %v", err)
		}
		if v != nil {
			t.Fatalf("expected nil for a missing global, got %v", v)
		}
	})
}

func TestInvalidMaxMemorySize(t *testing.T) {
	m := newGuestModule()
	addFunc(m, entrySig(), wasm.NewAsm().
		I64Const(packed(scratch, 0)).
		End().Bytes(), "run")

	cfg := Config{Semantics: Semantics{MaxMemorySize: 1000}}
	_, err := NewRuntime(context.Background(), m.Encode(), cfg, nil)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseCompile, Kind: errors.KindInvalidConfig}) {
		t.Fatalf("expected an invalid config error, got %v", err)
	}
}

func TestInstantiateRequiresHeapBase(t *testing.T) {
	m := &wasm.Module{
		Memories: []wasm.Limits{{Min: 2}},
		Exports:  []wasm.Export{{Name: "memory", Kind: wasm.KindMemory, Index: 0}},
	}
	addFunc(m, entrySig(), wasm.NewAsm().
		I64Const(packed(scratch, 0)).
		End().Bytes(), "run")

	ctx := context.Background()
	cfg := Config{Semantics: Semantics{FastInstanceReuse: true}}
	rt, err := NewRuntime(ctx, m.Encode(), cfg, nil)
	if err != nil {
		t.Fatalf("NewRuntime failed: %v", err)
	}
	defer rt.Close(ctx)

	if _, err := rt.NewInstance(ctx); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseInstantiate, Kind: errors.KindMissingExport}) {
		t.Fatalf("expected a missing export error, got %v", err)
	}
}

func TestCompilationCachePersistsArtifacts(t *testing.T) {
	m := newGuestModule()
	addFunc(m, entrySig(), wasm.NewAsm().
		I32Const(scratch).I32Const(9).I32Store(2, 0).
		I64Const(packed(scratch, 4)).
		End().Bytes(), "run")

	dir := t.TempDir()
	cfg := Config{CompilationCacheDir: dir}
	ctx := context.Background()

	// Build two runtimes against the same directory. The second one hits
	// the artifacts the first one wrote; either way calls must behave
	// identically.
	for i := 0; i < 2; i++ {
		inst := newTestInstance(t, m, cfg, nil)
		out, err := inst.Call(ctx, EntryExport{Name: "run"}, nil)
		if err != nil {
			t.Fatalf("build %d: call failed: %v", i, err)
		}
		if !bytes.Equal(out, []byte{9, 0, 0, 0}) {
			t.Fatalf("build %d: expected 9, got %v", i, out)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("compilation cache directory was never written")
	}
}
