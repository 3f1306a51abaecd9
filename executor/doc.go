// Package executor runs untrusted deterministic wasm runtimes.
//
// A Runtime is built once from a wasm binary, a configuration and a host
// function registry. It prepares the binary (instrumentation, heap sizing,
// dispatch accessors), compiles it, and binds the host functions. Instances
// created from the Runtime execute calls under one of two strategies:
//
//   - fast instance reuse: one instance serves many calls; between calls
//     its mutable globals and static data segments are restored from
//     snapshots and its memory is decommitted, so no state leaks from one
//     call to the next.
//   - recreate: every call gets a brand-new instance, discarded afterwards.
//
// Input and output cross the boundary as byte payloads: input is copied
// into guest memory through a call-scoped allocator, the entry point
// returns a packed (pointer, length) pair, and the output bytes are read
// back out. Host functions called by the guest operate through a
// HostContext capability scoped to exactly one call.
package executor
