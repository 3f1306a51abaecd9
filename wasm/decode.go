package wasm

import (
	"errors"
	"fmt"
)

// Decoding errors returned by Decode.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// Decode parses a WebAssembly binary into the mutable section model.
func Decode(data []byte) (*Module, error) {
	r := newReader(data)

	magic, err := r.readU32LE()
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}

	version, err := r.readU32LE()
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastSection byte

	for r.len() > 0 {
		sectionID, err := r.readByte()
		if err != nil {
			return nil, fmt.Errorf("section header: %w", err)
		}

		// Non-custom sections must appear at most once, in ID order
		// (DataCount is the one exception and sorts before Code).
		if sectionID != SectionCustom {
			if sectionOrder(sectionID) <= sectionOrder(lastSection) {
				return nil, fmt.Errorf("section %d appears out of order", sectionID)
			}
			lastSection = sectionID
		}

		sectionSize, err := r.readU32()
		if err != nil {
			return nil, fmt.Errorf("section size: %w", err)
		}
		sectionData, err := r.readBytes(int(sectionSize))
		if err != nil {
			return nil, fmt.Errorf("section data: %w", err)
		}

		sr := newReader(sectionData)
		switch sectionID {
		case SectionCustom:
			err = decodeCustomSection(sr, m)
		case SectionType:
			err = decodeTypeSection(sr, m)
		case SectionImport:
			err = decodeImportSection(sr, m)
		case SectionFunction:
			err = decodeFunctionSection(sr, m)
		case SectionTable:
			err = decodeTableSection(sr, m)
		case SectionMemory:
			err = decodeMemorySection(sr, m)
		case SectionGlobal:
			err = decodeGlobalSection(sr, m)
		case SectionExport:
			err = decodeExportSection(sr, m)
		case SectionStart:
			err = decodeStartSection(sr, m)
		case SectionElement:
			err = decodeElementSection(sr, m)
		case SectionCode:
			err = decodeCodeSection(sr, m)
		case SectionData:
			err = decodeDataSection(sr, m)
		case SectionDataCount:
			err = decodeDataCountSection(sr, m)
		default:
			err = fmt.Errorf("unsupported section ID 0x%02x", sectionID)
		}
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", sectionID, err)
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("function section declares %d functions but code section has %d bodies",
			len(m.Funcs), len(m.Code))
	}

	return m, nil
}

// sectionOrder maps a section ID to its canonical position. Section IDs are
// almost ordinal except DataCount (12) which precedes Code (10).
func sectionOrder(id byte) int {
	switch id {
	case 0:
		return 0
	case SectionDataCount:
		return int(SectionCode)*2 - 1
	default:
		return int(id) * 2
	}
}

func decodeCustomSection(r *reader, m *Module) error {
	name, err := r.readName()
	if err != nil {
		return err
	}
	rest, err := r.readBytes(r.len())
	if err != nil {
		return err
	}
	m.Customs = append(m.Customs, CustomSection{Name: name, Data: rest})
	return nil
}

func decodeTypeSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, 0, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.readByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("type %d: unsupported type form 0x%02x", i, form)
		}
		var ft FuncType
		if ft.Params, err = decodeValTypes(r); err != nil {
			return err
		}
		if ft.Results, err = decodeValTypes(r); err != nil {
			return err
		}
		m.Types = append(m.Types, ft)
	}
	return nil
}

func decodeValTypes(r *reader) ([]ValType, error) {
	count, err := r.readU32()
	if err != nil {
		return nil, err
	}
	out := make([]ValType, 0, count)
	for i := uint32(0); i < count; i++ {
		vt, err := r.readValType()
		if err != nil {
			return nil, err
		}
		out = append(out, vt)
	}
	return out, nil
}

func decodeImportSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var imp Import
		if imp.Module, err = r.readName(); err != nil {
			return err
		}
		if imp.Name, err = r.readName(); err != nil {
			return err
		}
		if imp.Kind, err = r.readByte(); err != nil {
			return err
		}
		switch imp.Kind {
		case KindFunc:
			if imp.TypeIdx, err = r.readU32(); err != nil {
				return err
			}
		case KindTable:
			var tt TableType
			if tt.Elem, err = r.readValType(); err != nil {
				return err
			}
			if tt.Limits, err = r.readLimits(); err != nil {
				return err
			}
			imp.Table = &tt
		case KindMemory:
			var lim Limits
			if lim, err = r.readLimits(); err != nil {
				return err
			}
			imp.Memory = &lim
		case KindGlobal:
			var gt GlobalType
			if gt, err = decodeGlobalType(r); err != nil {
				return err
			}
			imp.Global = &gt
		default:
			return fmt.Errorf("import %s:%s: unsupported kind 0x%02x", imp.Module, imp.Name, imp.Kind)
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func decodeGlobalType(r *reader) (GlobalType, error) {
	var gt GlobalType
	var err error
	if gt.Type, err = r.readValType(); err != nil {
		return gt, err
	}
	mut, err := r.readByte()
	if err != nil {
		return gt, err
	}
	if mut > 1 {
		return gt, fmt.Errorf("invalid global mutability 0x%02x", mut)
	}
	gt.Mutable = mut == 1
	return gt, nil
}

func decodeFunctionSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		typeIdx, err := r.readU32()
		if err != nil {
			return err
		}
		m.Funcs = append(m.Funcs, typeIdx)
	}
	return nil
}

func decodeTableSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var tt TableType
		if tt.Elem, err = r.readValType(); err != nil {
			return err
		}
		if tt.Limits, err = r.readLimits(); err != nil {
			return err
		}
		m.Tables = append(m.Tables, tt)
	}
	return nil
}

func decodeMemorySection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		lim, err := r.readLimits()
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, lim)
	}
	return nil
}

func decodeGlobalSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		gt, err := decodeGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readExpr(r)
		if err != nil {
			return err
		}
		m.Globals = append(m.Globals, Global{Type: gt, Init: init})
	}
	return nil
}

func decodeExportSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var exp Export
		if exp.Name, err = r.readName(); err != nil {
			return err
		}
		if exp.Kind, err = r.readByte(); err != nil {
			return err
		}
		if exp.Kind > KindGlobal {
			return fmt.Errorf("export %q: unsupported kind 0x%02x", exp.Name, exp.Kind)
		}
		if exp.Index, err = r.readU32(); err != nil {
			return err
		}
		m.Exports = append(m.Exports, exp)
	}
	return nil
}

func decodeStartSection(r *reader, m *Module) error {
	idx, err := r.readU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func decodeElementSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		flag, err := r.readU32()
		if err != nil {
			return err
		}
		// Only the MVP active-funcref form; deterministic runtime blobs
		// carry nothing else.
		if flag != 0 {
			return fmt.Errorf("element %d: unsupported flags 0x%02x", i, flag)
		}
		offset, err := readExpr(r)
		if err != nil {
			return err
		}
		n, err := r.readU32()
		if err != nil {
			return err
		}
		funcs := make([]uint32, 0, n)
		for j := uint32(0); j < n; j++ {
			fidx, err := r.readU32()
			if err != nil {
				return err
			}
			funcs = append(funcs, fidx)
		}
		m.Elements = append(m.Elements, Element{Offset: offset, Funcs: funcs})
	}
	return nil
}

func decodeCodeSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		size, err := r.readU32()
		if err != nil {
			return err
		}
		bodyData, err := r.readBytes(int(size))
		if err != nil {
			return err
		}
		br := newReader(bodyData)
		nLocals, err := br.readU32()
		if err != nil {
			return err
		}
		var body FuncBody
		for j := uint32(0); j < nLocals; j++ {
			cnt, err := br.readU32()
			if err != nil {
				return err
			}
			vt, err := br.readValType()
			if err != nil {
				return err
			}
			body.Locals = append(body.Locals, LocalEntry{Count: cnt, Type: vt})
		}
		if body.Code, err = br.readBytes(br.len()); err != nil {
			return err
		}
		m.Code = append(m.Code, body)
	}
	return nil
}

func decodeDataSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		flag, err := r.readU32()
		if err != nil {
			return err
		}
		var seg DataSegment
		switch flag {
		case 0:
			if seg.Offset, err = readExpr(r); err != nil {
				return err
			}
		case 1:
			seg.Passive = true
		case 2:
			if seg.MemIdx, err = r.readU32(); err != nil {
				return err
			}
			if seg.Offset, err = readExpr(r); err != nil {
				return err
			}
		default:
			return fmt.Errorf("data segment %d: unsupported flags 0x%02x", i, flag)
		}
		n, err := r.readU32()
		if err != nil {
			return err
		}
		if seg.Init, err = r.readBytes(int(n)); err != nil {
			return err
		}
		m.Data = append(m.Data, seg)
	}
	return nil
}

func decodeDataCountSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.DataCount = &count
	return nil
}
