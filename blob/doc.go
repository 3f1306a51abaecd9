// Package blob prepares a runtime's wasm binary for execution.
//
// A RuntimeBlob wraps the decoded module and applies the instrumentation
// passes the execution strategies need before the engine ever sees the
// bytes: exposing internal mutable globals for state snapshots, injecting
// a call-depth counter for deterministic stack limits, converting an
// imported memory into a host-controlled export, growing the heap, and
// adding the accessor functions the host uses to call through the guest's
// function table.
package blob
