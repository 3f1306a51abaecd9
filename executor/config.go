package executor

import (
	wasmexecutor "github.com/runelabs/wasm-executor"
	"github.com/runelabs/wasm-executor/errors"
)

// DeterministicStackLimit bounds guest recursion by a logical call-depth
// counter injected into the code, so runaway recursion traps at the same
// depth on every machine regardless of physical stack size.
type DeterministicStackLimit struct {
	// LogicalMax is the maximum call depth before the guest traps.
	LogicalMax uint32
}

// Semantics selects the execution behavior of a Runtime.
type Semantics struct {
	// FastInstanceReuse keeps one instance alive across calls, restoring
	// globals and data segments from snapshots between them. When false a
	// fresh instance is created per call.
	FastInstanceReuse bool

	// DeterministicStackLimit, when set, enables call-depth metering.
	DeterministicStackLimit *DeterministicStackLimit

	// ExtraHeapPages grows the guest's initial memory beyond what the
	// module declares.
	ExtraHeapPages uint64

	// MaxMemorySize caps the guest memory in bytes, enforced at both
	// instantiation and growth. Must be a multiple of the page size.
	// 0 means no ceiling.
	MaxMemorySize uint64
}

// Config configures a Runtime.
type Config struct {
	// AllowMissingFuncImports binds trapping stubs for function imports the
	// host does not provide, instead of failing construction.
	AllowMissingFuncImports bool

	// CompilationCacheDir, when non-empty, persists compiled machine code
	// in that directory. Runtimes built later from the same code reuse the
	// cached artifact instead of compiling again.
	CompilationCacheDir string

	Semantics Semantics
}

// maxMemoryPages converts the byte ceiling into pages.
func (c Config) maxMemoryPages() (uint32, error) {
	size := c.Semantics.MaxMemorySize
	if size == 0 {
		return 0, nil
	}
	if size%wasmexecutor.PageSize != 0 {
		return 0, errors.Config("max memory size %d is not a multiple of the page size", size)
	}
	pages := size / wasmexecutor.PageSize
	if pages > 1<<16 {
		return 0, errors.Config("max memory size %d exceeds the 32-bit address space", size)
	}
	return uint32(pages), nil
}
