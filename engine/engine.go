package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/runelabs/wasm-executor/errors"
)

// Config holds configuration for engine creation.
type Config struct {
	// MemoryLimitPages caps every instance's linear memory, in 64KB pages.
	// 0 means the engine default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// Cache, when set, backs compilation with a shared cache so engines
	// seeing the same code skip recompilation. The cache outlives the
	// engine and is closed by its owner.
	Cache *CompilationCache
}

// CompilationCache persists compiled machine code across engines.
type CompilationCache struct {
	cache wazero.CompilationCache
}

// NewFileCache opens dir as a compilation cache, creating it if needed.
func NewFileCache(dir string) (*CompilationCache, error) {
	cache, err := wazero.NewCompilationCacheWithDir(dir)
	if err != nil {
		return nil, errors.Config("compilation cache directory %q: %v", dir, err)
	}
	return &CompilationCache{cache: cache}, nil
}

// Close releases the cache's file handles. Cached artifacts stay on disk.
func (c *CompilationCache) Close(ctx context.Context) error {
	return c.cache.Close(ctx)
}

// Engine owns one wazero runtime. Modules instantiated in the same engine
// share its name registry, so host modules and registered instances resolve
// each other's imports by name.
type Engine struct {
	runtime wazero.Runtime
}

// New creates an engine with the given configuration.
func New(ctx context.Context, cfg Config) *Engine {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.Cache != nil {
		runtimeCfg = runtimeCfg.WithCompilationCache(cfg.Cache.cache)
	}
	return &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
	}
}

// Close releases the runtime and every module instantiated in it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// CompiledModule is a module compiled for this engine.
type CompiledModule struct {
	compiled wazero.CompiledModule
}

// Compile compiles wasmBytes for later instantiation.
func (e *Engine) Compile(ctx context.Context, wasmBytes []byte) (*CompiledModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Compile("engine rejected the module", err)
	}
	return &CompiledModule{compiled: compiled}, nil
}

// Close releases the compiled module.
func (m *CompiledModule) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// HostFunc describes one function of a host module in engine-level terms:
// raw value-type signature and a stack-based implementation.
type HostFunc struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
	Fn      api.GoModuleFunc
}

// InstantiateHostModule builds and instantiates a host module under
// moduleName, making its functions importable by every module instantiated
// in this engine afterwards.
func (e *Engine) InstantiateHostModule(ctx context.Context, moduleName string, funcs []HostFunc) error {
	builder := e.runtime.NewHostModuleBuilder(moduleName)
	for _, f := range funcs {
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(f.Fn, f.Params, f.Results).
			Export(f.Name)
	}
	if _, err := builder.Instantiate(ctx); err != nil {
		return errors.Instantiate(fmt.Sprintf("host module %q", moduleName), err)
	}
	return nil
}

// Instantiate creates an anonymous instance of the compiled module. The
// module's start function, if any, runs before Instantiate returns.
func (e *Engine) Instantiate(ctx context.Context, m *CompiledModule) (*ModuleInstance, error) {
	return e.instantiate(ctx, m, "")
}

// InstantiateNamed creates an instance registered under name, so later
// instantiations in the same engine can import from it.
func (e *Engine) InstantiateNamed(ctx context.Context, m *CompiledModule, name string) (*ModuleInstance, error) {
	if name == "" {
		return nil, errors.Config("instance name must not be empty")
	}
	return e.instantiate(ctx, m, name)
}

func (e *Engine) instantiate(ctx context.Context, m *CompiledModule, name string) (*ModuleInstance, error) {
	modConfig := wazero.NewModuleConfig().WithName(name)
	instance, err := e.runtime.InstantiateModule(ctx, m.compiled, modConfig)
	if err != nil {
		return nil, err
	}
	inst := &ModuleInstance{
		instance:  instance,
		funcCache: make(map[string]api.Function),
	}
	if mem := instance.Memory(); mem != nil {
		inst.memory = &Memory{mem: mem}
	}
	return inst, nil
}
