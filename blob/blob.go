package blob

import (
	"fmt"
	"strings"

	"github.com/runelabs/wasm-executor/errors"
	"github.com/runelabs/wasm-executor/wasm"
)

// MutableGlobalExportPrefix prefixes the export names added by
// ExposeMutableGlobals.
const MutableGlobalExportPrefix = "exported_internal_global_"

// RuntimeBlob is a runtime's wasm binary held in decoded form so that the
// instrumentation passes can modify it before compilation.
type RuntimeBlob struct {
	module *wasm.Module
}

// Decode parses code into a RuntimeBlob.
func Decode(code []byte) (*RuntimeBlob, error) {
	m, err := wasm.Decode(code)
	if err != nil {
		return nil, errors.New(errors.PhaseCompile, errors.KindInvalidModule).
			Cause(err).
			Build()
	}
	return &RuntimeBlob{module: m}, nil
}

// Module returns the underlying decoded module.
func (b *RuntimeBlob) Module() *wasm.Module {
	return b.module
}

// Serialize encodes the blob, with all passes applied, back into binary form.
func (b *RuntimeBlob) Serialize() []byte {
	return b.module.Encode()
}

// ConvertMemoryImportIntoExport rewrites a module that imports its linear
// memory into one that declares and exports it, so the host controls the
// memory's limits. A module with no memory import is left unchanged.
func (b *RuntimeBlob) ConvertMemoryImportIntoExport() error {
	m := b.module
	for i, imp := range m.Imports {
		if imp.Kind != wasm.KindMemory {
			continue
		}
		if len(m.Memories) > 0 {
			return errors.New(errors.PhaseCompile, errors.KindInvalidModule).
				Detail("module both imports and declares a memory").
				Build()
		}
		limits := *imp.Memory
		m.Imports = append(m.Imports[:i], m.Imports[i+1:]...)
		m.Memories = append(m.Memories, limits)
		m.Exports = append(m.Exports, wasm.Export{
			Name:  imp.Name,
			Kind:  wasm.KindMemory,
			Index: 0,
		})
		return nil
	}
	return nil
}

// AddExtraHeapPages grows the declared memory's initial size by pages,
// raising the maximum if it would otherwise fall below the new initial.
func (b *RuntimeBlob) AddExtraHeapPages(pages uint64) error {
	if pages == 0 {
		return nil
	}
	m := b.module
	if len(m.Memories) == 0 {
		return errors.New(errors.PhaseCompile, errors.KindInvalidModule).
			Detail("module declares no memory to grow").
			Build()
	}
	lim := &m.Memories[0]
	// 2^16 pages of 64 KiB exhaust the 32-bit address space.
	const maxPages = 1 << 16
	newMin := uint64(lim.Min) + pages
	if newMin > maxPages {
		return errors.New(errors.PhaseCompile, errors.KindInvalidConfig).
			Detail("extra heap pages push initial memory to %d pages", newMin).
			Build()
	}
	lim.Min = uint32(newMin)
	if lim.HasMax && lim.Max < lim.Min {
		lim.Max = lim.Min
	}
	return nil
}

// ExposeMutableGlobals adds exports for every module-defined mutable global
// that is not already exported, returning the export names in global-index
// order. The names feed the state snapshot taken under instance reuse.
func (b *RuntimeBlob) ExposeMutableGlobals() []string {
	m := b.module
	importedGlobals := uint32(m.NumImportedGlobals())

	exportedIdx := make(map[uint32]bool)
	for _, exp := range m.Exports {
		if exp.Kind == wasm.KindGlobal {
			exportedIdx[exp.Index] = true
		}
	}

	var names []string
	count := 0
	for i, g := range m.Globals {
		if !g.Type.Mutable {
			continue
		}
		idx := importedGlobals + uint32(i)
		if !exportedIdx[idx] {
			name := fmt.Sprintf("%s%d", MutableGlobalExportPrefix, count)
			m.Exports = append(m.Exports, wasm.Export{
				Name:  name,
				Kind:  wasm.KindGlobal,
				Index: idx,
			})
			names = append(names, name)
		}
		count++
	}
	return names
}

// ExposedMutableGlobals returns the export names previously added by
// ExposeMutableGlobals, in the order they appear in the export section.
func (b *RuntimeBlob) ExposedMutableGlobals() []string {
	var names []string
	for _, exp := range b.module.Exports {
		if exp.Kind == wasm.KindGlobal && strings.HasPrefix(exp.Name, MutableGlobalExportPrefix) {
			names = append(names, exp.Name)
		}
	}
	return names
}

// DataSegment is one active data segment's placement.
type DataSegment struct {
	Offset uint32
	Data   []byte
}

// DataSegmentsSnapshot extracts the active data segments in section order.
// Restoring the snapshot rewrites each segment's bytes at its offset,
// undoing any guest writes to statically initialized memory.
//
// Only i32.const offsets are supported; runtimes produced by standard
// toolchains use nothing else.
func (b *RuntimeBlob) DataSegmentsSnapshot() ([]DataSegment, error) {
	var segments []DataSegment
	for i, seg := range b.module.Data {
		if seg.Passive {
			continue
		}
		offset, err := wasm.ParseI32ConstExpr(seg.Offset)
		if err != nil {
			return nil, errors.New(errors.PhaseCompile, errors.KindInvalidModule).
				Detail("data segment %d has an unsupported offset expression", i).
				Cause(err).
				Build()
		}
		segments = append(segments, DataSegment{
			Offset: uint32(offset),
			Data:   seg.Init,
		})
	}
	return segments, nil
}
