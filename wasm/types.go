package wasm

// Binary format framing constants.
const (
	Magic   uint32 = 0x6d736100 // "\0asm"
	Version uint32 = 1
)

// Section IDs in the core binary format.
const (
	SectionCustom    byte = 0
	SectionType      byte = 1
	SectionImport    byte = 2
	SectionFunction  byte = 3
	SectionTable     byte = 4
	SectionMemory    byte = 5
	SectionGlobal    byte = 6
	SectionExport    byte = 7
	SectionStart     byte = 8
	SectionElement   byte = 9
	SectionCode      byte = 10
	SectionData      byte = 11
	SectionDataCount byte = 12
)

// ValType is a value type byte as it appears in the binary format.
type ValType byte

const (
	ValI32       ValType = 0x7f
	ValI64       ValType = 0x7e
	ValF32       ValType = 0x7d
	ValF64       ValType = 0x7c
	ValFuncRef   ValType = 0x70
	ValExternRef ValType = 0x6f
)

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValFuncRef:
		return "funcref"
	case ValExternRef:
		return "externref"
	}
	return "valtype(?)"
}

// FuncTypeByte prefixes every entry of the type section.
const FuncTypeByte byte = 0x60

// Import/export kinds.
const (
	KindFunc   byte = 0
	KindTable  byte = 1
	KindMemory byte = 2
	KindGlobal byte = 3
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures are identical.
func (ft FuncType) Equal(other FuncType) bool {
	if len(ft.Params) != len(other.Params) || len(ft.Results) != len(other.Results) {
		return false
	}
	for i, p := range ft.Params {
		if p != other.Params[i] {
			return false
		}
	}
	for i, r := range ft.Results {
		if r != other.Results[i] {
			return false
		}
	}
	return true
}

// Limits bounds a table or memory. Max is meaningful only when HasMax.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// TableType declares a table's element type and limits.
type TableType struct {
	Elem   ValType
	Limits Limits
}

// GlobalType declares a global's value type and mutability.
type GlobalType struct {
	Type    ValType
	Mutable bool
}

// Global is a module-defined global: its type and the raw bytes of its
// constant initializer expression, including the trailing end opcode.
type Global struct {
	Type GlobalType
	Init []byte
}

// Import is one entry of the import section. Exactly one of the
// kind-specific fields is set, matching Kind.
type Import struct {
	Module  string
	Name    string
	Kind    byte
	TypeIdx uint32     // KindFunc
	Table   *TableType // KindTable
	Memory  *Limits    // KindMemory
	Global  *GlobalType
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Element is an active element segment for table 0 (the only form the MVP
// profile produces). Offset holds the raw constant expression bytes.
type Element struct {
	TableIdx uint32
	Offset   []byte
	Funcs    []uint32
}

// LocalEntry is one run-length-encoded local declaration in a code body.
type LocalEntry struct {
	Count uint32
	Type  ValType
}

// FuncBody is one entry of the code section. Code holds the raw instruction
// bytes including the trailing end opcode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// DataSegment is one entry of the data section. Active segments carry the
// raw offset expression; passive segments have Passive set and no offset.
type DataSegment struct {
	MemIdx  uint32
	Offset  []byte
	Init    []byte
	Passive bool
}

// CustomSection preserves a custom section verbatim.
type CustomSection struct {
	Name string
	Data []byte
}

// Module is the mutable section model of one core module.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type indices of module-defined functions
	Tables   []TableType
	Memories []Limits
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// DataCount mirrors the DataCount section when present; required when
	// bulk-memory instructions reference data indices.
	DataCount *uint32

	Customs []CustomSection
}

// NumImportedFuncs returns the number of function imports, which is the
// index-space offset of the first module-defined function.
func (m *Module) NumImportedFuncs() int {
	return m.countImports(KindFunc)
}

// NumImportedGlobals returns the number of global imports.
func (m *Module) NumImportedGlobals() int {
	return m.countImports(KindGlobal)
}

// NumImportedTables returns the number of table imports.
func (m *Module) NumImportedTables() int {
	return m.countImports(KindTable)
}

// NumImportedMemories returns the number of memory imports.
func (m *Module) NumImportedMemories() int {
	return m.countImports(KindMemory)
}

func (m *Module) countImports(kind byte) int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == kind {
			n++
		}
	}
	return n
}

// HasTable reports whether a table exists in the module's index space,
// either imported or declared.
func (m *Module) HasTable() bool {
	return len(m.Tables) > 0 || m.NumImportedTables() > 0
}

// ExportNamed returns the export with the given name, or nil.
func (m *Module) ExportNamed(name string) *Export {
	for i := range m.Exports {
		if m.Exports[i].Name == name {
			return &m.Exports[i]
		}
	}
	return nil
}

// TypeIndex returns the index of ft in the type section, appending it if
// not already present.
func (m *Module) TypeIndex(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}
