package sandbox

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/runelabs/wasm-executor/abi"
	"github.com/runelabs/wasm-executor/engine"
	"github.com/runelabs/wasm-executor/errors"
	"github.com/runelabs/wasm-executor/wasm"
)

// InstanceNew decodes wasmBytes, binds its imports according to the
// environment descriptor and instantiates it. Function imports are routed
// through the supervisor's dispatch thunk at dispatchThunkIdx; memory
// imports resolve to shared memories previously created in this store.
// Failures are reported as a status the supervisor guest understands: a
// malformed module or descriptor is StatusModule, a trap inside the start
// function is StatusExecution.
func (s *Store) InstanceNew(ctx context.Context, env CallEnv, dispatchThunkIdx uint32, wasmBytes, envDescriptor []byte) (int32, Status) {
	entries, err := DecodeEnvDescriptor(envDescriptor)
	if err != nil {
		return 0, StatusModule
	}
	m, err := wasm.Decode(wasmBytes)
	if err != nil {
		return 0, StatusModule
	}

	type importKey struct{ module, field string }
	byName := make(map[importKey]EnvEntry, len(entries))
	for _, e := range entries {
		byName[importKey{e.Module, e.Field}] = e
	}

	hostModule := s.nextHostModuleName()
	var hostFuncs []engine.HostFunc

	for i := range m.Imports {
		imp := &m.Imports[i]
		entry, ok := byName[importKey{imp.Module, imp.Name}]
		if !ok {
			return 0, StatusModule
		}
		switch imp.Kind {
		case wasm.KindFunc:
			if entry.Kind != tagEntityFunction || int(imp.TypeIdx) >= len(m.Types) {
				return 0, StatusModule
			}
			sig := m.Types[imp.TypeIdx]
			name := fmt.Sprintf("f%d", len(hostFuncs))
			hostFuncs = append(hostFuncs, engine.HostFunc{
				Name:    name,
				Params:  valueTypes(sig.Params),
				Results: valueTypes(sig.Results),
				Fn:      routeImport(dispatchThunkIdx, entry.Index, sig),
			})
			imp.Module = hostModule
			imp.Name = name

		case wasm.KindMemory:
			if entry.Kind != tagEntityMemory {
				return 0, StatusModule
			}
			mem, ok := s.memories[int32(entry.Index)]
			if !ok {
				return 0, StatusModule
			}
			imp.Module = mem.name
			imp.Name = "memory"

		default:
			return 0, StatusModule
		}
	}

	if len(hostFuncs) > 0 {
		if err := s.eng.InstantiateHostModule(ctx, hostModule, hostFuncs); err != nil {
			return 0, StatusModule
		}
	}

	compiled, err := s.eng.Compile(ctx, m.Encode())
	if err != nil {
		return 0, StatusModule
	}
	inst, err := s.eng.Instantiate(withCallEnv(ctx, env), compiled)
	if err != nil {
		compiled.Close(ctx)
		if _, _, isTrap := engine.ParseTrap(err); isTrap {
			return 0, StatusExecution
		}
		return 0, StatusModule
	}

	id := s.nextInstance
	s.nextInstance++
	s.instances[id] = &storeInstance{inst: inst, compiled: compiled}
	return id, StatusOK
}

// Invoke calls an export of a nested instance with serialized arguments
// and returns the serialized result. Guest-level failures (missing
// export, wrong arity, trap) come back as StatusExecution with a nil
// error; a non-nil error is a supervisor-level fault.
func (s *Store) Invoke(ctx context.Context, env CallEnv, id int32, export string, serializedArgs []byte) ([]byte, Status, error) {
	si, err := s.instance(id)
	if err != nil {
		return nil, StatusExecution, err
	}
	args, err := DecodeValues(serializedArgs)
	if err != nil {
		return nil, StatusExecution, errors.New(errors.PhaseSandbox, errors.KindInvalidData).
			Name(export).Cause(err).Detail("malformed invoke arguments").Build()
	}

	params, results, ok := si.inst.FunctionType(export)
	if !ok || len(params) != len(args) || len(results) > 1 {
		return nil, StatusExecution, nil
	}
	raw := make([]uint64, len(args))
	for i, a := range args {
		if a.Type().Wazero() != params[i] {
			return nil, StatusExecution, nil
		}
		raw[i] = a.Raw()
	}

	res, err := si.inst.Call(withCallEnv(ctx, env), export, raw...)
	if err != nil {
		if _, _, isTrap := engine.ParseTrap(err); isTrap {
			return nil, StatusExecution, nil
		}
		return nil, StatusExecution, err
	}

	rv := ReturnValue{}
	if len(results) == 1 {
		at, ok := abi.FromWazero(results[0])
		if !ok {
			return nil, StatusExecution, nil
		}
		rv = ReturnValue{HasValue: true, Value: abi.FromRaw(at, res[0])}
	}
	return EncodeReturnValue(rv), StatusOK, nil
}

// GetGlobalVal reads an exported global of a nested instance. A missing
// global yields (nil, nil).
func (s *Store) GetGlobalVal(id int32, name string) (*abi.Value, error) {
	si, err := s.instance(id)
	if err != nil {
		return nil, err
	}
	raw, vt, ok := si.inst.GlobalValue(name)
	if !ok {
		return nil, nil
	}
	at, ok := abi.FromWazero(vt)
	if !ok {
		return nil, errors.Other(errors.PhaseSandbox, "global %q has a non-ABI value type", name)
	}
	v := abi.FromRaw(at, raw)
	return &v, nil
}

func valueTypes(ts []wasm.ValType) []api.ValueType {
	out := make([]api.ValueType, len(ts))
	for i, t := range ts {
		out[i] = api.ValueType(t)
	}
	return out
}

// routeImport builds the host implementation behind one routed function
// import. Arguments are serialized into supervisor memory, the dispatch
// thunk resolves funcID and runs the supervisor function, and the
// serialized result is read back. Any fault along the way traps the
// nested guest.
func routeImport(dispatchThunkIdx, funcID uint32, sig wasm.FuncType) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		env := callEnvFrom(ctx)

		args := make([]abi.Value, len(sig.Params))
		for i, p := range sig.Params {
			at, ok := abi.FromWazero(api.ValueType(p))
			if !ok {
				panic(fmt.Sprintf("routed import has a non-ABI parameter type %#x", byte(p)))
			}
			args[i] = abi.FromRaw(at, stack[i])
		}

		serialized := EncodeValues(args)
		argsPtr, err := env.Supervisor.Allocate(uint32(len(serialized)))
		if err != nil {
			panic(fmt.Sprintf("cannot allocate %d bytes for routed arguments: %v", len(serialized), err))
		}
		if err := env.Supervisor.Write(argsPtr, serialized); err != nil {
			panic(fmt.Sprintf("cannot write routed arguments: %v", err))
		}

		packed, err := env.Dispatcher.Dispatch(ctx, dispatchThunkIdx, argsPtr, uint32(len(serialized)), env.State, funcID)
		if derr := env.Supervisor.Deallocate(argsPtr); derr != nil && err == nil {
			err = derr
		}
		if err != nil {
			panic(fmt.Sprintf("supervisor dispatch failed: %v", err))
		}

		retPtr, retLen := abi.UnpackPtrLen(uint64(packed))
		buf, err := env.Supervisor.Read(retPtr, retLen)
		if err != nil {
			panic(fmt.Sprintf("cannot read routed result: %v", err))
		}
		if err := env.Supervisor.Deallocate(retPtr); err != nil {
			panic(fmt.Sprintf("cannot free routed result: %v", err))
		}

		rv, err := DecodeReturnValue(buf)
		if err != nil {
			panic(fmt.Sprintf("malformed routed result: %v", err))
		}
		if rv.HasValue != (len(sig.Results) == 1) {
			panic(fmt.Sprintf("routed import expected %d results, got %d", len(sig.Results), resultCount(rv)))
		}
		if rv.HasValue {
			if rv.Value.Type().Wazero() != api.ValueType(sig.Results[0]) {
				panic(fmt.Sprintf("routed import result type mismatch: got %s", rv.Value.Type()))
			}
			stack[0] = rv.Value.Raw()
		}
	}
}

func resultCount(rv ReturnValue) int {
	if rv.HasValue {
		return 1
	}
	return 0
}
