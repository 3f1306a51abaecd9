package wasm

// Encode serializes the module back into the binary format. Sections are
// emitted in canonical order and empty sections are omitted.
func (m *Module) Encode() []byte {
	w := &writer{}
	w.u32le(Magic)
	w.u32le(Version)

	if len(m.Types) > 0 {
		writeSection(w, SectionType, m.encodeTypeSection())
	}
	if len(m.Imports) > 0 {
		writeSection(w, SectionImport, m.encodeImportSection())
	}
	if len(m.Funcs) > 0 {
		writeSection(w, SectionFunction, m.encodeFunctionSection())
	}
	if len(m.Tables) > 0 {
		writeSection(w, SectionTable, m.encodeTableSection())
	}
	if len(m.Memories) > 0 {
		writeSection(w, SectionMemory, m.encodeMemorySection())
	}
	if len(m.Globals) > 0 {
		writeSection(w, SectionGlobal, m.encodeGlobalSection())
	}
	if len(m.Exports) > 0 {
		writeSection(w, SectionExport, m.encodeExportSection())
	}
	if m.Start != nil {
		sw := &writer{}
		sw.u32(*m.Start)
		writeSection(w, SectionStart, sw.bytes())
	}
	if len(m.Elements) > 0 {
		writeSection(w, SectionElement, m.encodeElementSection())
	}
	if m.DataCount != nil {
		dw := &writer{}
		dw.u32(*m.DataCount)
		writeSection(w, SectionDataCount, dw.bytes())
	}
	if len(m.Code) > 0 {
		writeSection(w, SectionCode, m.encodeCodeSection())
	}
	if len(m.Data) > 0 {
		writeSection(w, SectionData, m.encodeDataSection())
	}
	for _, cs := range m.Customs {
		cw := &writer{}
		cw.name(cs.Name)
		cw.raw(cs.Data)
		writeSection(w, SectionCustom, cw.bytes())
	}

	return w.bytes()
}

func writeSection(w *writer, id byte, payload []byte) {
	w.byte(id)
	w.u32(uint32(len(payload)))
	w.raw(payload)
}

func (m *Module) encodeTypeSection() []byte {
	w := &writer{}
	w.u32(uint32(len(m.Types)))
	for _, ft := range m.Types {
		w.byte(FuncTypeByte)
		w.u32(uint32(len(ft.Params)))
		for _, p := range ft.Params {
			w.byte(byte(p))
		}
		w.u32(uint32(len(ft.Results)))
		for _, r := range ft.Results {
			w.byte(byte(r))
		}
	}
	return w.bytes()
}

func (m *Module) encodeImportSection() []byte {
	w := &writer{}
	w.u32(uint32(len(m.Imports)))
	for _, imp := range m.Imports {
		w.name(imp.Module)
		w.name(imp.Name)
		w.byte(imp.Kind)
		switch imp.Kind {
		case KindFunc:
			w.u32(imp.TypeIdx)
		case KindTable:
			w.byte(byte(imp.Table.Elem))
			w.limits(imp.Table.Limits)
		case KindMemory:
			w.limits(*imp.Memory)
		case KindGlobal:
			w.byte(byte(imp.Global.Type))
			if imp.Global.Mutable {
				w.byte(1)
			} else {
				w.byte(0)
			}
		}
	}
	return w.bytes()
}

func (m *Module) encodeFunctionSection() []byte {
	w := &writer{}
	w.u32(uint32(len(m.Funcs)))
	for _, typeIdx := range m.Funcs {
		w.u32(typeIdx)
	}
	return w.bytes()
}

func (m *Module) encodeTableSection() []byte {
	w := &writer{}
	w.u32(uint32(len(m.Tables)))
	for _, tt := range m.Tables {
		w.byte(byte(tt.Elem))
		w.limits(tt.Limits)
	}
	return w.bytes()
}

func (m *Module) encodeMemorySection() []byte {
	w := &writer{}
	w.u32(uint32(len(m.Memories)))
	for _, lim := range m.Memories {
		w.limits(lim)
	}
	return w.bytes()
}

func (m *Module) encodeGlobalSection() []byte {
	w := &writer{}
	w.u32(uint32(len(m.Globals)))
	for _, g := range m.Globals {
		w.byte(byte(g.Type.Type))
		if g.Type.Mutable {
			w.byte(1)
		} else {
			w.byte(0)
		}
		w.raw(g.Init)
	}
	return w.bytes()
}

func (m *Module) encodeExportSection() []byte {
	w := &writer{}
	w.u32(uint32(len(m.Exports)))
	for _, exp := range m.Exports {
		w.name(exp.Name)
		w.byte(exp.Kind)
		w.u32(exp.Index)
	}
	return w.bytes()
}

func (m *Module) encodeElementSection() []byte {
	w := &writer{}
	w.u32(uint32(len(m.Elements)))
	for _, el := range m.Elements {
		w.u32(0)
		w.raw(el.Offset)
		w.u32(uint32(len(el.Funcs)))
		for _, fidx := range el.Funcs {
			w.u32(fidx)
		}
	}
	return w.bytes()
}

func (m *Module) encodeCodeSection() []byte {
	w := &writer{}
	w.u32(uint32(len(m.Code)))
	for _, body := range m.Code {
		bw := &writer{}
		bw.u32(uint32(len(body.Locals)))
		for _, le := range body.Locals {
			bw.u32(le.Count)
			bw.byte(byte(le.Type))
		}
		bw.raw(body.Code)
		encoded := bw.bytes()
		w.u32(uint32(len(encoded)))
		w.raw(encoded)
	}
	return w.bytes()
}

func (m *Module) encodeDataSection() []byte {
	w := &writer{}
	w.u32(uint32(len(m.Data)))
	for _, seg := range m.Data {
		switch {
		case seg.Passive:
			w.u32(1)
		case seg.MemIdx != 0:
			w.u32(2)
			w.u32(seg.MemIdx)
			w.raw(seg.Offset)
		default:
			w.u32(0)
			w.raw(seg.Offset)
		}
		w.u32(uint32(len(seg.Init)))
		w.raw(seg.Init)
	}
	return w.bytes()
}
