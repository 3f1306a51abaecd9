package executor

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	wasmexecutor "github.com/runelabs/wasm-executor"
	"github.com/runelabs/wasm-executor/blob"
	"github.com/runelabs/wasm-executor/engine"
	"github.com/runelabs/wasm-executor/errors"
)

// Guest exports required by the calling convention.
const (
	heapBaseExport = "__heap_base"
	memoryExport   = "memory"
)

// Runtime is one prepared wasm runtime: the instrumented and compiled
// module, its bound host functions, and the snapshots needed for fast
// instance reuse. It is immutable after construction and can serve many
// instances.
type Runtime struct {
	cfg          Config
	eng          *engine.Engine
	compiled     *engine.CompiledModule
	cache        *engine.CompilationCache
	hasAccessors bool

	// Snapshot inputs, populated only under fast instance reuse.
	mutableGlobals []string
	dataSegments   []blob.DataSegment
}

// NewRuntime prepares, compiles and binds code. The strategy and all
// instrumentation are fixed here, once, for every instance the Runtime
// creates.
func NewRuntime(ctx context.Context, code []byte, cfg Config, registry *HostFunctionRegistry) (*Runtime, error) {
	maxPages, err := cfg.maxMemoryPages()
	if err != nil {
		return nil, err
	}

	b, err := blob.Decode(code)
	if err != nil {
		return nil, err
	}

	if sl := cfg.Semantics.DeterministicStackLimit; sl != nil {
		if sl.LogicalMax == 0 {
			return nil, errors.Config("deterministic stack limit must be positive")
		}
		if err := b.InjectStackDepthMetering(sl.LogicalMax); err != nil {
			return nil, err
		}
	}

	// Exposing runs after metering so the depth counter is part of the
	// snapshot, and before the remaining passes so export indices stay
	// stable.
	var mutableGlobals []string
	if cfg.Semantics.FastInstanceReuse {
		mutableGlobals = b.ExposeMutableGlobals()
	}

	if err := b.ConvertMemoryImportIntoExport(); err != nil {
		return nil, err
	}
	if err := b.AddExtraHeapPages(cfg.Semantics.ExtraHeapPages); err != nil {
		return nil, err
	}
	if err := b.InjectDispatchAccessors(); err != nil {
		return nil, err
	}

	var dataSegments []blob.DataSegment
	if cfg.Semantics.FastInstanceReuse {
		if dataSegments, err = b.DataSegmentsSnapshot(); err != nil {
			return nil, err
		}
	}

	bound, err := resolveImports(b.Module(), registry, cfg.AllowMissingFuncImports)
	if err != nil {
		return nil, err
	}

	var cache *engine.CompilationCache
	if dir := cfg.CompilationCacheDir; dir != "" {
		if cache, err = engine.NewFileCache(dir); err != nil {
			return nil, err
		}
	}

	eng := engine.New(ctx, engine.Config{MemoryLimitPages: maxPages, Cache: cache})
	closeAll := func() {
		eng.Close(ctx)
		if cache != nil {
			cache.Close(ctx)
		}
	}
	if err := eng.InstantiateHostModule(ctx, hostNamespace, bound); err != nil {
		closeAll()
		return nil, err
	}
	compiled, err := eng.Compile(ctx, b.Serialize())
	if err != nil {
		closeAll()
		return nil, err
	}

	return &Runtime{
		cfg:            cfg,
		eng:            eng,
		compiled:       compiled,
		cache:          cache,
		hasAccessors:   b.HasDispatchAccessors(),
		mutableGlobals: mutableGlobals,
		dataSegments:   dataSegments,
	}, nil
}

// Close releases the Runtime, its engine and every instance created in it.
func (rt *Runtime) Close(ctx context.Context) error {
	err := rt.eng.Close(ctx)
	if rt.cache != nil {
		if cerr := rt.cache.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}

// NewInstance creates an execution context for this Runtime. Under fast
// reuse the instance is created and snapshotted now; under recreate,
// instantiation happens on every call.
func (rt *Runtime) NewInstance(ctx context.Context) (*Instance, error) {
	if !rt.cfg.Semantics.FastInstanceReuse {
		return &Instance{rt: rt}, nil
	}

	target, heapBase, err := rt.instantiate(ctx)
	if err != nil {
		return nil, err
	}

	globals := make([]globalSnapshot, 0, len(rt.mutableGlobals))
	for _, name := range rt.mutableGlobals {
		raw, _, ok := target.inst.GlobalValue(name)
		if !ok {
			target.inst.Close(ctx)
			return nil, errors.MissingExport(errors.PhaseInstantiate, name, "exposed mutable global")
		}
		globals = append(globals, globalSnapshot{name: name, raw: raw})
	}

	return &Instance{
		rt: rt,
		reused: &reusedInstance{
			target:   target,
			heapBase: heapBase,
			globals:  globals,
		},
	}, nil
}

// instantiate creates a fresh instance and extracts the heap base.
func (rt *Runtime) instantiate(ctx context.Context) (*callTarget, uint32, error) {
	inst, err := rt.eng.Instantiate(ctx, rt.compiled)
	if err != nil {
		return nil, 0, errors.Instantiate("module instantiation failed", err)
	}

	if inst.Memory() == nil {
		inst.Close(ctx)
		return nil, 0, errors.MissingExport(errors.PhaseInstantiate, memoryExport, "linear memory")
	}

	raw, vt, ok := inst.GlobalValue(heapBaseExport)
	if !ok {
		inst.Close(ctx)
		return nil, 0, errors.MissingExport(errors.PhaseInstantiate, heapBaseExport, "heap base global")
	}
	if vt != api.ValueTypeI32 {
		inst.Close(ctx)
		return nil, 0, errors.Other(errors.PhaseInstantiate, "%s is not an i32 global", heapBaseExport)
	}

	return &callTarget{inst: inst, hasAccessors: rt.hasAccessors}, uint32(raw), nil
}

// callTarget is the instance a call executes against. It implements the
// sandbox dispatcher so nested guests can route host calls back through
// the outer guest's dispatch thunk.
type callTarget struct {
	inst         *engine.ModuleInstance
	hasAccessors bool
}

func (t *callTarget) memory() wasmexecutor.Memory {
	return t.inst.Memory()
}

// checkTableEntry validates that idx names a callable function table slot.
func (t *callTarget) checkTableEntry(ctx context.Context, idx uint32) error {
	if !t.hasAccessors {
		return errors.ErrNoTable
	}
	res, err := t.inst.Call(ctx, blob.ExportTableSize)
	if err != nil {
		return err
	}
	if idx >= uint32(res[0]) {
		return &errors.NoTableEntryError{Index: idx}
	}
	res, err = t.inst.Call(ctx, blob.ExportTableEntryIsSet, uint64(idx))
	if err != nil {
		return err
	}
	if uint32(res[0]) == 0 {
		return &errors.NullFunctionError{Index: idx}
	}
	return nil
}

// Dispatch calls table[dispatchThunkIdx](argsPtr, argsLen, state, funcIdx)
// on behalf of a nested sandbox instance.
func (t *callTarget) Dispatch(ctx context.Context, dispatchThunkIdx, argsPtr, argsLen, state, funcIdx uint32) (int64, error) {
	if !t.hasAccessors {
		return 0, errors.ErrNoTable
	}
	res, err := t.inst.Call(ctx, blob.ExportDispatchThunk,
		uint64(dispatchThunkIdx), uint64(argsPtr), uint64(argsLen), uint64(state), uint64(funcIdx))
	if err != nil {
		return 0, err
	}
	return int64(res[0]), nil
}
