// Package allocator implements the freeing bump allocator the host uses to
// manage the guest's linear-memory heap on the guest's behalf.
//
// Allocations are rounded up to power-of-two size classes (orders) from
// 8 bytes to 32 MiB. Each allocation is preceded by an 8-byte header.
// Freed blocks are threaded onto per-order free lists and reused before the
// bump pointer advances, so long-running instances with steady allocation
// patterns reach a fixed memory footprint.
//
// The allocator is call-scoped: a fresh one is created at the heap base for
// every guest call, which makes leaks free and keeps headers out of the
// guest's observable state between calls.
package allocator
