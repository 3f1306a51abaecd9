package executor

import (
	"context"

	"github.com/runelabs/wasm-executor/abi"
	"github.com/runelabs/wasm-executor/allocator"
	"github.com/runelabs/wasm-executor/errors"
	"github.com/runelabs/wasm-executor/sandbox"
)

// HostContext is the capability a host function receives for the duration
// of one guest call. It is passed by reference through the call chain and
// must not be stored.
type HostContext interface {
	// ReadMemory returns a copy of size bytes of guest memory at offset.
	ReadMemory(offset, size uint32) ([]byte, error)

	// WriteMemory copies data into guest memory at offset.
	WriteMemory(offset uint32, data []byte) error

	// AllocateMemory reserves size bytes on the guest heap.
	AllocateMemory(size uint32) (uint32, error)

	// DeallocateMemory returns an allocation to the guest heap.
	DeallocateMemory(ptr uint32) error

	// RegisterPanicErrorMessage records a fatal host-side condition. The
	// first registered message wins and takes precedence over any guest
	// trap when the call's error is reported.
	RegisterPanicErrorMessage(msg string)

	// Sandbox returns the nested-sandbox API for this call.
	Sandbox() SandboxAPI
}

// SandboxAPI is the guest-facing nested-sandbox surface. Status values are
// returned to the guest as integers; a non-nil error is a host-level
// failure that aborts the outer call. Every operation runs under the
// context of the outer guest call that reached the host function.
type SandboxAPI interface {
	InstanceNew(dispatchThunkIdx uint32, wasmBytes, envDescriptor []byte, state uint32) (int32, sandbox.Status, error)
	Invoke(instanceID int32, export string, serializedArgs []byte, returnPtr, returnLen uint32, state uint32) (sandbox.Status, error)
	InstanceTeardown(instanceID int32) error
	GetGlobalVal(instanceID int32, name string) (*abi.Value, error)
	MemoryNew(initial, maximum uint32) (int32, error)
	MemoryGet(memoryID int32, offset, bufPtr, bufLen uint32) (sandbox.Status, error)
	MemorySet(memoryID int32, offset, valPtr, valLen uint32) (sandbox.Status, error)
	MemoryTeardown(memoryID int32) error
}

// HostState is the call-scoped mutable state behind a HostContext: the
// heap allocator, the sandbox store, and an optional pending panic
// message. Created immediately before a call and discarded right after.
type HostState struct {
	allocator    *allocator.FreeingBump
	sandboxStore *sandbox.Store
	panicMessage string
	panicked     bool
}

func newHostState(alloc *allocator.FreeingBump) *HostState {
	return &HostState{allocator: alloc}
}

// PanicMessage returns the registered fatal message, if any.
func (s *HostState) PanicMessage() (string, bool) {
	return s.panicMessage, s.panicked
}

// release tears down the sandbox store and reports allocation statistics.
func (s *HostState) release(ctx context.Context) allocator.Stats {
	if s.sandboxStore != nil {
		s.sandboxStore.Close(ctx)
		s.sandboxStore = nil
	}
	return s.allocator.Stats()
}

// hostAbort is the sentinel panic used to unwind out of a host function
// after a fatal message has been registered.
type hostAbort struct{}

// hostContext binds a HostState to the instance serving the current call.
// ctx is the call's own context, already carrying this hostContext, so
// nested dispatch back into the supervisor finds the host state again.
type hostContext struct {
	ctx    context.Context
	target *callTarget
	state  *HostState
}

var _ HostContext = (*hostContext)(nil)

func (h *hostContext) ReadMemory(offset, size uint32) ([]byte, error) {
	out := make([]byte, size)
	if err := h.target.memory().ReadInto(offset, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *hostContext) WriteMemory(offset uint32, data []byte) error {
	return h.target.memory().Write(offset, data)
}

func (h *hostContext) AllocateMemory(size uint32) (uint32, error) {
	return h.state.allocator.Allocate(h.target.memory(), size)
}

func (h *hostContext) DeallocateMemory(ptr uint32) error {
	return h.state.allocator.Deallocate(h.target.memory(), ptr)
}

func (h *hostContext) RegisterPanicErrorMessage(msg string) {
	if !h.state.panicked {
		h.state.panicked = true
		h.state.panicMessage = msg
	}
}

func (h *hostContext) Sandbox() SandboxAPI {
	return h
}

// abort registers msg (unless a message is already pending) and unwinds
// the current host function, trapping the guest call.
func (h *hostContext) abort(msg string) {
	h.RegisterPanicErrorMessage(msg)
	panic(hostAbort{})
}

// store returns the call's sandbox store, creating it on first use.
func (h *hostContext) store() *sandbox.Store {
	if h.state.sandboxStore == nil {
		h.state.sandboxStore = sandbox.NewStore(h.ctx)
	}
	return h.state.sandboxStore
}

func (h *hostContext) callEnv(state uint32) sandbox.CallEnv {
	return sandbox.CallEnv{
		Supervisor: h,
		Dispatcher: h.target,
		State:      state,
	}
}

// Supervisor memory access for the sandbox: the outer guest's memory and
// call-scoped allocator.

func (h *hostContext) Read(offset, size uint32) ([]byte, error) {
	return h.ReadMemory(offset, size)
}

func (h *hostContext) Write(offset uint32, data []byte) error {
	return h.WriteMemory(offset, data)
}

func (h *hostContext) Allocate(size uint32) (uint32, error) {
	return h.AllocateMemory(size)
}

func (h *hostContext) Deallocate(ptr uint32) error {
	return h.DeallocateMemory(ptr)
}

var _ sandbox.Supervisor = (*hostContext)(nil)

func (h *hostContext) InstanceNew(dispatchThunkIdx uint32, wasmBytes, envDescriptor []byte, state uint32) (int32, sandbox.Status, error) {
	if err := h.target.checkTableEntry(h.ctx, dispatchThunkIdx); err != nil {
		return 0, sandbox.StatusModule, err
	}
	id, st := h.store().InstanceNew(h.ctx, h.callEnv(state), dispatchThunkIdx, wasmBytes, envDescriptor)
	return id, st, nil
}

func (h *hostContext) Invoke(instanceID int32, export string, serializedArgs []byte, returnPtr, returnLen uint32, state uint32) (sandbox.Status, error) {
	result, st, err := h.store().Invoke(h.ctx, h.callEnv(state), instanceID, export, serializedArgs)
	if err != nil {
		return st, err
	}
	if st != sandbox.StatusOK {
		return st, nil
	}
	if uint32(len(result)) > returnLen {
		return st, errors.Other(errors.PhaseSandbox,
			"return buffer of %d bytes cannot hold %d-byte result", returnLen, len(result))
	}
	if err := h.WriteMemory(returnPtr, result); err != nil {
		return st, err
	}
	return sandbox.StatusOK, nil
}

func (h *hostContext) InstanceTeardown(instanceID int32) error {
	if h.state.sandboxStore == nil {
		return errors.Other(errors.PhaseSandbox, "no sandbox instance with id %d", instanceID)
	}
	return h.state.sandboxStore.InstanceTeardown(instanceID)
}

func (h *hostContext) GetGlobalVal(instanceID int32, name string) (*abi.Value, error) {
	if h.state.sandboxStore == nil {
		return nil, errors.Other(errors.PhaseSandbox, "no sandbox instance with id %d", instanceID)
	}
	return h.state.sandboxStore.GetGlobalVal(instanceID, name)
}

func (h *hostContext) MemoryNew(initial, maximum uint32) (int32, error) {
	return h.store().MemoryNew(initial, maximum)
}

func (h *hostContext) MemoryGet(memoryID int32, offset, bufPtr, bufLen uint32) (sandbox.Status, error) {
	if h.state.sandboxStore == nil {
		return sandbox.StatusOutOfBounds, errors.Other(errors.PhaseSandbox, "no sandbox memory with id %d", memoryID)
	}
	mem, err := h.state.sandboxStore.Memory(memoryID)
	if err != nil {
		return sandbox.StatusOutOfBounds, err
	}
	data, err := mem.Read(offset, bufLen)
	if err != nil {
		return sandbox.StatusOutOfBounds, nil
	}
	if err := h.WriteMemory(bufPtr, data); err != nil {
		return sandbox.StatusOutOfBounds, nil
	}
	return sandbox.StatusOK, nil
}

func (h *hostContext) MemorySet(memoryID int32, offset, valPtr, valLen uint32) (sandbox.Status, error) {
	if h.state.sandboxStore == nil {
		return sandbox.StatusOutOfBounds, errors.Other(errors.PhaseSandbox, "no sandbox memory with id %d", memoryID)
	}
	mem, err := h.state.sandboxStore.Memory(memoryID)
	if err != nil {
		return sandbox.StatusOutOfBounds, err
	}
	data, err := h.ReadMemory(valPtr, valLen)
	if err != nil {
		return sandbox.StatusOutOfBounds, nil
	}
	if err := mem.Write(offset, data); err != nil {
		return sandbox.StatusOutOfBounds, nil
	}
	return sandbox.StatusOK, nil
}

func (h *hostContext) MemoryTeardown(memoryID int32) error {
	if h.state.sandboxStore == nil {
		return errors.Other(errors.PhaseSandbox, "no sandbox memory with id %d", memoryID)
	}
	return h.state.sandboxStore.MemoryTeardown(memoryID)
}

type hostContextKey struct{}

func withHostContext(ctx context.Context, hc *hostContext) context.Context {
	return context.WithValue(ctx, hostContextKey{}, hc)
}

func hostContextFrom(ctx context.Context) *hostContext {
	hc, ok := ctx.Value(hostContextKey{}).(*hostContext)
	if !ok {
		panic("host state is not set")
	}
	return hc
}
