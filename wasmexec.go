package wasmexecutor

// PageSize is the WebAssembly linear-memory page size in bytes.
// It is the only byte-length-per-page factor used anywhere in this module.
const PageSize = 65536

// Memory is a bounds-checked view of a guest linear-memory region.
//
// Every component that needs to touch guest memory does so through this
// interface; no component computes raw addresses itself. All methods return
// an out-of-bounds error instead of panicking when the requested range does
// not fit the current memory size.
type Memory interface {
	// Size returns the current size of the memory in bytes.
	Size() uint32

	// Read returns size bytes starting at offset. The returned slice may
	// alias the underlying memory and is only valid until the memory grows.
	Read(offset, size uint32) ([]byte, error)

	// ReadInto copies len(dest) bytes starting at offset into dest.
	ReadInto(offset uint32, dest []byte) error

	// Write copies data into the memory starting at offset.
	Write(offset uint32, data []byte) error

	// ReadU64 reads a little-endian uint64 at offset.
	ReadU64(offset uint32) (uint64, error)

	// WriteU64 writes a little-endian uint64 at offset.
	WriteU64(offset uint32, v uint64) error
}

// Allocator carves guest-visible allocations out of a linear memory.
//
// Allocator state never persists across calls: each call is served by a
// fresh allocator seeded at the module's heap base.
type Allocator interface {
	// Allocate reserves size bytes and returns the guest pointer to the
	// first usable byte. Returns errors.ErrOutOfMemory when the heap or the
	// memory region is exhausted.
	Allocate(mem Memory, size uint32) (uint32, error)

	// Deallocate returns a previously allocated region to the allocator.
	Deallocate(mem Memory, ptr uint32) error
}
