package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	wasmexecutor "github.com/runelabs/wasm-executor"
	"github.com/runelabs/wasm-executor/errors"
)

// ModuleInstance is a running instance.
// It is NOT safe for concurrent use from multiple goroutines.
type ModuleInstance struct {
	instance  api.Module
	memory    *Memory
	funcCache map[string]api.Function
}

func (i *ModuleInstance) exportedFunction(name string) api.Function {
	if fn, ok := i.funcCache[name]; ok {
		return fn
	}
	fn := i.instance.ExportedFunction(name)
	if fn != nil {
		i.funcCache[name] = fn
	}
	return fn
}

// HasFunction reports whether the instance exports a function under name.
func (i *ModuleInstance) HasFunction(name string) bool {
	return i.exportedFunction(name) != nil
}

// FunctionType returns the raw signature of the exported function, or
// ok=false when no such export exists.
func (i *ModuleInstance) FunctionType(name string) (params, results []api.ValueType, ok bool) {
	fn := i.exportedFunction(name)
	if fn == nil {
		return nil, nil, false
	}
	def := fn.Definition()
	return def.ParamTypes(), def.ResultTypes(), true
}

// Call invokes the exported function with raw stack values.
func (i *ModuleInstance) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	fn := i.exportedFunction(name)
	if fn == nil {
		return nil, errors.MissingExport(errors.PhaseCall, name, "exported function")
	}
	return fn.Call(ctx, args...)
}

// Memory returns the instance's exported linear memory, or nil.
func (i *ModuleInstance) Memory() wasmexecutor.Memory {
	if i.memory == nil {
		return nil
	}
	return i.memory
}

// GlobalValue returns the raw value and type of an exported global.
func (i *ModuleInstance) GlobalValue(name string) (uint64, api.ValueType, bool) {
	g := i.instance.ExportedGlobal(name)
	if g == nil {
		return 0, 0, false
	}
	return g.Get(), g.Type(), true
}

// SetGlobalValue writes an exported mutable global.
func (i *ModuleInstance) SetGlobalValue(name string, raw uint64) error {
	g := i.instance.ExportedGlobal(name)
	if g == nil {
		return errors.MissingExport(errors.PhaseCall, name, "exported global")
	}
	mg, ok := g.(api.MutableGlobal)
	if !ok {
		return errors.Other(errors.PhaseCall, "global %q is not mutable", name)
	}
	mg.Set(raw)
	return nil
}

// Decommit releases the physical pages behind the linear memory while
// keeping its size, leaving the whole region zeroed. Instances parked
// between calls stop holding their peak footprint.
func (i *ModuleInstance) Decommit() {
	if i.memory == nil {
		return
	}
	i.memory.decommit()
}

// Close releases the instance.
func (i *ModuleInstance) Close(ctx context.Context) error {
	if i.instance == nil {
		return nil
	}
	err := i.instance.Close(ctx)
	i.instance = nil
	i.funcCache = nil
	i.memory = nil
	return err
}
