package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/runelabs/wasm-executor/abi"
	"github.com/runelabs/wasm-executor/allocator"
	"github.com/runelabs/wasm-executor/blob"
	"github.com/runelabs/wasm-executor/engine"
	"github.com/runelabs/wasm-executor/errors"
)

// EntryPoint selects what a call executes: a named export, a function
// table slot, or a table-resident dispatcher wrapping a dynamic function
// id. The variants are closed; Call matches them exhaustively.
type EntryPoint interface {
	isEntryPoint()
}

// EntryExport calls the exported function Name with the standard
// (ptr, len) -> packed signature.
type EntryExport struct {
	Name string
}

// EntryTable calls the function at Index in the guest's indirect function
// table.
type EntryTable struct {
	Index uint32
}

// EntryTableWithWrapper calls the dispatcher at DispatcherIndex in the
// table with (FuncID, ptr, len), for call sites where the target function
// is chosen dynamically.
type EntryTableWithWrapper struct {
	DispatcherIndex uint32
	FuncID          uint32
}

func (EntryExport) isEntryPoint()           {}
func (EntryTable) isEntryPoint()            {}
func (EntryTableWithWrapper) isEntryPoint() {}

// globalSnapshot is one exposed mutable global's pristine value.
type globalSnapshot struct {
	name string
	raw  uint64
}

// reusedInstance is the live state kept across calls under fast reuse.
type reusedInstance struct {
	target   *callTarget
	heapBase uint32
	globals  []globalSnapshot
}

// Instance is one execution context of a Runtime. At most one call may be
// active on an Instance at a time.
type Instance struct {
	rt *Runtime

	// reused is nil under the recreate strategy.
	reused *reusedInstance
}

// Close releases the instance. Runtimes with the recreate strategy hold no
// per-instance resources.
func (inst *Instance) Close(ctx context.Context) error {
	if inst.reused == nil {
		return nil
	}
	return inst.reused.target.inst.Close(ctx)
}

// Call runs entry with data as the input payload and returns the output
// bytes the guest produced.
func (inst *Instance) Call(ctx context.Context, entry EntryPoint, data []byte) ([]byte, error) {
	var target *callTarget
	var heapBase uint32

	if r := inst.reused; r != nil {
		target = r.target
		heapBase = r.heapBase
		if err := inst.restoreSnapshots(r); err != nil {
			return nil, err
		}
	} else {
		var err error
		target, heapBase, err = inst.rt.instantiate(ctx)
		if err != nil {
			return nil, err
		}
		defer target.inst.Close(ctx)
	}

	mem := target.memory()
	alloc := allocator.NewFreeingBump(heapBase)

	inPtr, err := alloc.Allocate(mem, uint32(len(data)))
	if err != nil {
		return nil, err
	}
	if err := mem.Write(inPtr, data); err != nil {
		return nil, err
	}

	state := newHostState(alloc)
	hc := &hostContext{target: target, state: state}
	callCtx := withHostContext(ctx, hc)
	hc.ctx = callCtx

	packed, dispatchErr := dispatch(callCtx, target, entry, inPtr, uint32(len(data)))

	stats := state.release(ctx)
	Logger().Debug("guest call finished",
		zap.Uint32("bytes_allocated_peak", stats.BytesAllocatedPeak),
		zap.Uint32("address_space_used", stats.AddressSpaceUsed))

	if dispatchErr != nil {
		if inst.reused != nil {
			target.inst.Decommit()
		}
		return nil, callError(state, dispatchErr)
	}

	outPtr, outLen := abi.UnpackPtrLen(uint64(packed))
	out := make([]byte, outLen)
	if err := mem.ReadInto(outPtr, out); err != nil {
		return nil, err
	}

	if inst.reused != nil {
		target.inst.Decommit()
	}
	return out, nil
}

// restoreSnapshots rewrites the pristine data segments and global values
// into the reused instance, erasing whatever the previous call mutated.
func (inst *Instance) restoreSnapshots(r *reusedInstance) error {
	mem := r.target.memory()
	for _, seg := range inst.rt.dataSegments {
		if err := mem.Write(seg.Offset, seg.Data); err != nil {
			return err
		}
	}
	for _, g := range r.globals {
		if err := r.target.inst.SetGlobalValue(g.name, g.raw); err != nil {
			return err
		}
	}
	return nil
}

// GetGlobalConst reads an exported global's value, instantiating on demand
// under the recreate strategy. A missing global yields (nil, nil).
func (inst *Instance) GetGlobalConst(ctx context.Context, name string) (*abi.Value, error) {
	target := inst.reused.targetOrNil()
	if target == nil {
		var err error
		target, _, err = inst.rt.instantiate(ctx)
		if err != nil {
			return nil, err
		}
		defer target.inst.Close(ctx)
	}

	raw, vt, ok := target.inst.GlobalValue(name)
	if !ok {
		return nil, nil
	}
	at, ok := abi.FromWazero(vt)
	if !ok {
		return nil, errors.Other(errors.PhaseCall, "global %q has a non-ABI value type", name)
	}
	v := abi.FromRaw(at, raw)
	return &v, nil
}

func (r *reusedInstance) targetOrNil() *callTarget {
	if r == nil {
		return nil
	}
	return r.target
}

// dispatch is the single site matching the closed entry point variants.
func dispatch(ctx context.Context, target *callTarget, entry EntryPoint, ptr, length uint32) (int64, error) {
	switch e := entry.(type) {
	case EntryExport:
		if err := checkEntrySignature(target, e.Name); err != nil {
			return 0, err
		}
		return callPacked(ctx, target, e.Name, uint64(ptr), uint64(length))

	case EntryTable:
		if err := target.checkTableEntry(ctx, e.Index); err != nil {
			return 0, err
		}
		return callPacked(ctx, target, blob.ExportCall,
			uint64(e.Index), uint64(ptr), uint64(length))

	case EntryTableWithWrapper:
		if err := target.checkTableEntry(ctx, e.DispatcherIndex); err != nil {
			return 0, err
		}
		return callPacked(ctx, target, blob.ExportCallDispatcher,
			uint64(e.DispatcherIndex), uint64(e.FuncID), uint64(ptr), uint64(length))

	default:
		return 0, errors.Other(errors.PhaseCall, "unknown entry point variant %T", entry)
	}
}

func callPacked(ctx context.Context, target *callTarget, name string, args ...uint64) (int64, error) {
	res, err := target.inst.Call(ctx, name, args...)
	if err != nil {
		return 0, err
	}
	if len(res) != 1 {
		return 0, errors.Other(errors.PhaseCall, "%s returned %d values, expected the packed result", name, len(res))
	}
	return int64(res[0]), nil
}

// checkEntrySignature validates the export form exactly: two parameters,
// each i32 or f32, returning one i64. A mismatch is an invalid-signature
// error, not a trap.
func checkEntrySignature(target *callTarget, name string) error {
	params, results, ok := target.inst.FunctionType(name)
	if !ok {
		return errors.MissingExport(errors.PhaseCall, name, "entry point export")
	}
	valid := len(params) == 2 && len(results) == 1 && results[0] == api.ValueTypeI64
	for _, p := range params {
		if p != api.ValueTypeI32 && p != api.ValueTypeF32 {
			valid = false
		}
	}
	if !valid {
		return &errors.SignatureError{What: fmt.Sprintf("entry point %q", name)}
	}
	return nil
}

// callError converts a dispatch failure into the reported error: a pending
// host panic message wins over the guest trap, and an indirect-call type
// mismatch surfaces as an invalid-signature error.
func callError(state *HostState, err error) error {
	msg, backtrace, isTrap := engine.ParseTrap(err)
	if pm, ok := state.PanicMessage(); ok {
		return &errors.PanicError{Message: pm, Backtrace: backtrace}
	}
	if !isTrap {
		return err
	}
	if strings.Contains(msg, "indirect call type mismatch") {
		return &errors.SignatureError{What: "indirect call target"}
	}
	return &errors.TrapError{Message: msg, Backtrace: backtrace}
}
