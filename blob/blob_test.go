package blob

import (
	"bytes"
	"testing"

	"github.com/runelabs/wasm-executor/wasm"
)

func baseModule() *wasm.Module {
	m := &wasm.Module{}
	entryType := m.TypeIndex(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI64},
	})
	m.Funcs = append(m.Funcs, entryType)
	m.Code = append(m.Code, wasm.FuncBody{
		Code: wasm.NewAsm().I64Const(0).End().Bytes(),
	})
	m.Memories = append(m.Memories, wasm.Limits{Min: 2, Max: 8, HasMax: true})
	m.Exports = append(m.Exports, wasm.Export{Name: "main", Kind: wasm.KindFunc, Index: 0})
	return m
}

func decodeBlob(t *testing.T, m *wasm.Module) *RuntimeBlob {
	t.Helper()
	b, err := Decode(m.Encode())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return b
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not a wasm module")); err == nil {
		t.Fatal("expected error decoding garbage")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	m := baseModule()
	encoded := m.Encode()
	b, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(b.Serialize(), encoded) {
		t.Fatal("Serialize differs from input with no passes applied")
	}
}

func TestConvertMemoryImportIntoExport(t *testing.T) {
	m := baseModule()
	m.Memories = nil
	m.Imports = append(m.Imports, wasm.Import{
		Module: "env",
		Name:   "memory",
		Kind:   wasm.KindMemory,
		Memory: &wasm.Limits{Min: 3, Max: 10, HasMax: true},
	})

	b := decodeBlob(t, m)
	if err := b.ConvertMemoryImportIntoExport(); err != nil {
		t.Fatalf("ConvertMemoryImportIntoExport failed: %v", err)
	}

	out := b.Module()
	if out.NumImportedMemories() != 0 {
		t.Fatal("memory import still present")
	}
	if len(out.Memories) != 1 || out.Memories[0].Min != 3 || out.Memories[0].Max != 10 {
		t.Fatalf("declared memory wrong: %+v", out.Memories)
	}
	exp := out.ExportNamed("memory")
	if exp == nil || exp.Kind != wasm.KindMemory || exp.Index != 0 {
		t.Fatalf("memory export wrong: %+v", exp)
	}
}

func TestConvertMemoryImportNoop(t *testing.T) {
	b := decodeBlob(t, baseModule())
	before := b.Serialize()
	if err := b.ConvertMemoryImportIntoExport(); err != nil {
		t.Fatalf("ConvertMemoryImportIntoExport failed: %v", err)
	}
	if !bytes.Equal(b.Serialize(), before) {
		t.Fatal("module without memory import was modified")
	}
}

func TestAddExtraHeapPages(t *testing.T) {
	b := decodeBlob(t, baseModule())
	if err := b.AddExtraHeapPages(10); err != nil {
		t.Fatalf("AddExtraHeapPages failed: %v", err)
	}
	lim := b.Module().Memories[0]
	if lim.Min != 12 {
		t.Fatalf("Min = %d, want 12", lim.Min)
	}
	if lim.Max != 12 {
		t.Fatalf("Max = %d, want raised to 12", lim.Max)
	}
}

func TestAddExtraHeapPagesOverflow(t *testing.T) {
	b := decodeBlob(t, baseModule())
	if err := b.AddExtraHeapPages(1 << 20); err == nil {
		t.Fatal("expected error for absurd page count")
	}
}

func TestExposeMutableGlobals(t *testing.T) {
	m := baseModule()
	m.Globals = append(m.Globals,
		wasm.Global{
			Type: wasm.GlobalType{Type: wasm.ValI32, Mutable: true},
			Init: wasm.I32ConstExpr(1),
		},
		wasm.Global{
			Type: wasm.GlobalType{Type: wasm.ValI32},
			Init: wasm.I32ConstExpr(2),
		},
		wasm.Global{
			Type: wasm.GlobalType{Type: wasm.ValI64, Mutable: true},
			Init: wasm.I64ConstExpr(3),
		},
	)
	// The first mutable global is already exported under its own name.
	m.Exports = append(m.Exports, wasm.Export{Name: "__heap_base", Kind: wasm.KindGlobal, Index: 0})

	b := decodeBlob(t, m)
	names := b.ExposeMutableGlobals()

	if len(names) != 1 || names[0] != "exported_internal_global_1" {
		t.Fatalf("exposed names = %v", names)
	}
	exp := b.Module().ExportNamed("exported_internal_global_1")
	if exp == nil || exp.Kind != wasm.KindGlobal || exp.Index != 2 {
		t.Fatalf("export wrong: %+v", exp)
	}
	if got := b.ExposedMutableGlobals(); len(got) != 1 || got[0] != names[0] {
		t.Fatalf("ExposedMutableGlobals = %v", got)
	}
}

func TestDataSegmentsSnapshot(t *testing.T) {
	m := baseModule()
	m.Data = append(m.Data,
		wasm.DataSegment{Offset: wasm.I32ConstExpr(64), Init: []byte("alpha")},
		wasm.DataSegment{Init: []byte("passive"), Passive: true},
		wasm.DataSegment{Offset: wasm.I32ConstExpr(1024), Init: []byte("beta")},
	)
	count := uint32(3)
	m.DataCount = &count

	b := decodeBlob(t, m)
	segs, err := b.DataSegmentsSnapshot()
	if err != nil {
		t.Fatalf("DataSegmentsSnapshot failed: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 active segments, got %d", len(segs))
	}
	if segs[0].Offset != 64 || !bytes.Equal(segs[0].Data, []byte("alpha")) {
		t.Fatalf("segment 0 = %+v", segs[0])
	}
	if segs[1].Offset != 1024 || !bytes.Equal(segs[1].Data, []byte("beta")) {
		t.Fatalf("segment 1 = %+v", segs[1])
	}
}

func TestDataSegmentsSnapshotRejectsGlobalOffset(t *testing.T) {
	m := baseModule()
	m.Globals = append(m.Globals, wasm.Global{
		Type: wasm.GlobalType{Type: wasm.ValI32},
		Init: wasm.I32ConstExpr(0),
	})
	offset := wasm.NewAsm().GlobalGet(0).End().Bytes()
	m.Data = append(m.Data, wasm.DataSegment{Offset: offset, Init: []byte("x")})

	b := decodeBlob(t, m)
	if _, err := b.DataSegmentsSnapshot(); err == nil {
		t.Fatal("expected error for global.get offset")
	}
}

func TestInjectDispatchAccessors(t *testing.T) {
	m := baseModule()
	m.Tables = append(m.Tables, wasm.TableType{
		Elem:   wasm.ValFuncRef,
		Limits: wasm.Limits{Min: 4, Max: 4, HasMax: true},
	})
	m.Elements = append(m.Elements, wasm.Element{
		Offset: wasm.I32ConstExpr(1),
		Funcs:  []uint32{0},
	})

	b := decodeBlob(t, m)
	if err := b.InjectDispatchAccessors(); err != nil {
		t.Fatalf("InjectDispatchAccessors failed: %v", err)
	}
	if !b.HasDispatchAccessors() {
		t.Fatal("accessors not detected after injection")
	}

	out := b.Module()
	for _, name := range []string{
		ExportCall, ExportCallDispatcher, ExportDispatchThunk,
		ExportTableSize, ExportTableEntryIsSet,
	} {
		if out.ExportNamed(name) == nil {
			t.Fatalf("export %q missing", name)
		}
	}
	if len(out.Funcs) != 1+5 {
		t.Fatalf("expected 6 functions, got %d", len(out.Funcs))
	}
	if len(out.Funcs) != len(out.Code) {
		t.Fatalf("function/code sections out of sync: %d vs %d", len(out.Funcs), len(out.Code))
	}

	// Result must still be a decodable module.
	if _, err := wasm.Decode(b.Serialize()); err != nil {
		t.Fatalf("instrumented module does not decode: %v", err)
	}
}

func TestInjectDispatchAccessorsNoTable(t *testing.T) {
	b := decodeBlob(t, baseModule())
	if err := b.InjectDispatchAccessors(); err != nil {
		t.Fatalf("InjectDispatchAccessors failed: %v", err)
	}
	if b.HasDispatchAccessors() {
		t.Fatal("accessors injected into a table-less module")
	}
}

func TestInjectStackDepthMetering(t *testing.T) {
	m := baseModule()
	// A function that calls function 0.
	m.Funcs = append(m.Funcs, m.Funcs[0])
	m.Code = append(m.Code, wasm.FuncBody{
		Code: wasm.NewAsm().
			LocalGet(0).
			LocalGet(1).
			Call(0).
			End().
			Bytes(),
	})

	b := decodeBlob(t, m)
	globalsBefore := len(b.Module().Globals)
	if err := b.InjectStackDepthMetering(512); err != nil {
		t.Fatalf("InjectStackDepthMetering failed: %v", err)
	}

	out := b.Module()
	if len(out.Globals) != globalsBefore+1 {
		t.Fatalf("expected one new global, got %d", len(out.Globals)-globalsBefore)
	}
	depth := out.Globals[len(out.Globals)-1]
	if depth.Type.Type != wasm.ValI32 || !depth.Type.Mutable {
		t.Fatalf("depth global type wrong: %+v", depth.Type)
	}

	// The call site gained global updates around it.
	var sawGlobalOps, sawCall bool
	err := wasm.Instructions(out.Code[1].Code, func(ins wasm.Instruction) error {
		switch ins.Opcode {
		case wasm.OpGlobalSet:
			sawGlobalOps = true
		case wasm.OpCall:
			sawCall = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("instrumented code does not iterate: %v", err)
	}
	if !sawGlobalOps || !sawCall {
		t.Fatalf("call site not instrumented (globals=%v call=%v)", sawGlobalOps, sawCall)
	}

	// The function without calls is untouched.
	if !bytes.Equal(out.Code[0].Code, wasm.NewAsm().I64Const(0).End().Bytes()) {
		t.Fatal("call-free function was modified")
	}

	if _, err := wasm.Decode(b.Serialize()); err != nil {
		t.Fatalf("instrumented module does not decode: %v", err)
	}
}

func TestMeteringThenExposeSnapshotsDepthGlobal(t *testing.T) {
	b := decodeBlob(t, baseModule())
	if err := b.InjectStackDepthMetering(100); err != nil {
		t.Fatalf("InjectStackDepthMetering failed: %v", err)
	}
	names := b.ExposeMutableGlobals()
	if len(names) != 1 {
		t.Fatalf("expected the depth global to be exposed, got %v", names)
	}
}
