package sandbox

import "context"

// Status is the result code reported to the supervisor guest for sandbox
// operations. Negative codes are represented as their u32 bit patterns so
// they cross the wasm boundary unchanged.
type Status uint32

const (
	StatusOK          Status = 0
	StatusOutOfBounds Status = 0xffffffff // -1
	StatusExecution   Status = 0xfffffffe // -2
	StatusModule      Status = 0xfffffffd // -3
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusOutOfBounds:
		return "out of bounds"
	case StatusExecution:
		return "execution"
	case StatusModule:
		return "module"
	}
	return "unknown"
}

// Supervisor is the outer guest's memory and heap, as seen from a nested
// instance's routed imports.
type Supervisor interface {
	Read(offset, size uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	Allocate(size uint32) (uint32, error)
	Deallocate(ptr uint32) error
}

// Dispatcher invokes the supervisor's dispatch thunk, the single funnel
// through which every routed import reaches supervisor code.
type Dispatcher interface {
	Dispatch(ctx context.Context, dispatchThunkIdx, argsPtr, argsLen, state, funcIdx uint32) (int64, error)
}

// CallEnv is the per-invocation environment a routed import needs. It is
// threaded through the context because the routing closures are fixed at
// instantiation time while the supervisor state word changes per call.
type CallEnv struct {
	Supervisor Supervisor
	Dispatcher Dispatcher
	State      uint32
}

type callEnvKey struct{}

func withCallEnv(ctx context.Context, env CallEnv) context.Context {
	return context.WithValue(ctx, callEnvKey{}, env)
}

func callEnvFrom(ctx context.Context) CallEnv {
	env, ok := ctx.Value(callEnvKey{}).(CallEnv)
	if !ok {
		panic("sandbox call environment is not set")
	}
	return env
}
