// Package abi defines the value encoding crossing the host/guest boundary.
//
// Exactly four numeric kinds cross the boundary: 32-bit and 64-bit integers
// and the raw bit patterns of 32-bit and 64-bit floats. Floats are carried
// as bit patterns end to end so that NaN payloads survive the round trip,
// which deterministic execution depends on.
//
// The package also implements the packed 64-bit combined (pointer, length)
// return value of the guest entry-point convention: the pointer occupies
// the low 32 bits and the length the high 32 bits, in both directions.
package abi
