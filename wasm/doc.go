// Package wasm provides core WebAssembly binary format primitives: decoding
// a module into a mutable section model, encoding it back, and walking
// instruction sequences inside code bodies.
//
// The package covers the MVP profile plus the reference-type and table
// instructions needed by the executor's instrumentation passes. It is the
// foundation for blob preparation (snapshot extraction, global exposure,
// stack-depth metering, dispatch accessor injection) and for the import
// rewriting performed by the nested sandbox.
//
// Deterministic blockchain runtimes are MVP-profile modules; binaries using
// SIMD, GC or exception-handling sections are rejected at decode time.
package wasm
