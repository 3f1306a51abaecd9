package errors

import (
	"errors"
	"fmt"
)

// Sentinel execution errors. Execution errors abort only the current call;
// the instance remains eligible for teardown or for the next reused call.
var (
	// ErrOutOfMemory is returned when the guest heap allocator is exhausted.
	ErrOutOfMemory = errors.New("allocator ran out of space")

	// ErrNoTable is returned when indirect dispatch is requested but the
	// module declares no indirect function table.
	ErrNoTable = errors.New("no table is present in the module")
)

// TrapError is a guest-triggered abnormal termination of a call.
// Backtrace holds the engine backtrace with any engine-specific suffix
// text stripped; it may be empty.
type TrapError struct {
	Message   string
	Backtrace string
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("aborted due to trap: %s", e.Message)
}

// PanicError is a host-side fatal condition recorded during a call.
// It takes precedence over a generic trap because it indicates host-side
// code, not guest code, failed.
type PanicError struct {
	Message   string
	Backtrace string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("aborted due to panic: %s", e.Message)
}

// NoTableEntryError indicates an indirect dispatch target index beyond the
// current table size.
type NoTableEntryError struct {
	Index uint32
}

func (e *NoTableEntryError) Error() string {
	return fmt.Sprintf("there is no table entry with index %d", e.Index)
}

// NullFunctionError indicates an indirect dispatch target slot holding a
// null function reference.
type NullFunctionError struct {
	Index uint32
}

func (e *NullFunctionError) Error() string {
	return fmt.Sprintf("the function ref at table index %d is null", e.Index)
}

// SignatureError indicates an entry point whose actual signature does not
// match the required calling convention. It is a fatal error, not a trap.
type SignatureError struct {
	What string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("invalid signature for %s", e.What)
}
