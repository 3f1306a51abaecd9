// Package wasmexecutor provides the execution-lifecycle core for running
// untrusted, deterministic WebAssembly runtimes inside a managed sandbox.
//
// The library prepares a guest linear-memory address space for each call,
// marshals input and output across the host/guest boundary, guarantees that
// state mutated by one call cannot leak into the next, and supports a second
// level of nested sandboxing in which the guest itself instantiates and
// calls further isolated guest modules.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	wasmexecutor/        Root package with core Memory and Allocator interfaces
//	├── executor/        Instance lifecycle, import binding, host bridge
//	├── engine/          Low-level wazero integration
//	├── blob/            Runtime blob preparation and instrumentation passes
//	├── wasm/            Core WASM binary decode/encode primitives
//	├── sandbox/         Nested sandbox instances and memories
//	├── allocator/       Freeing bump heap allocator for guest memory
//	├── abi/             Host/guest boundary value encoding
//	└── errors/          Structured error types
//
// # Quick Start
//
// Create a runtime and call an exported entry point:
//
//	rt, err := executor.NewRuntime(ctx, wasmBytes, executor.Config{}, hostFuncs)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	inst, err := rt.NewInstance(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	out, err := inst.Call(ctx, executor.EntryExport{Name: "process"}, input)
//
// # Execution Model
//
// Execution is single-threaded and synchronous: one call occupies the
// calling goroutine until it returns. An Instance and its call-scoped host
// state must be exclusively owned by the goroutine driving a given call.
// Nested sandbox invocation is reentrant (host → guest → host → guest)
// but still single-threaded and stack-bound.
//
// # Memory Model
//
// Guest linear memory can only grow, never shrink. Under the fast instance
// reuse strategy the linear memory survives across calls: global values and
// data-segment bytes are restored from pristine snapshots before every call,
// and the physical backing is decommitted after each call completes.
package wasmexecutor
