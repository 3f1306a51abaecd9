package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/runelabs/wasm-executor/abi"
	"github.com/runelabs/wasm-executor/engine"
	"github.com/runelabs/wasm-executor/errors"
	"github.com/runelabs/wasm-executor/wasm"
)

// hostNamespace is the only import module name the host provides.
const hostNamespace = "env"

// HostFunction is one function the host offers to the guest.
type HostFunction struct {
	Name   string
	Params []abi.ValueType

	// Return is nil for functions with no result.
	Return *abi.ValueType

	// Execute runs the function. A non-nil error aborts the guest call
	// with a host panic.
	Execute func(hc HostContext, args []abi.Value) (*abi.Value, error)
}

// HostFunctionRegistry is the ordered set of host functions a Runtime
// resolves imports against.
type HostFunctionRegistry struct {
	funcs  []HostFunction
	byName map[string]int
}

// NewHostFunctionRegistry returns an empty registry.
func NewHostFunctionRegistry() *HostFunctionRegistry {
	return &HostFunctionRegistry{byName: make(map[string]int)}
}

// Register adds a host function. Registering the same name twice is an
// error.
func (r *HostFunctionRegistry) Register(fn HostFunction) error {
	if fn.Name == "" {
		return errors.Config("host function has no name")
	}
	if fn.Execute == nil {
		return errors.Config("host function %q has no implementation", fn.Name)
	}
	if _, dup := r.byName[fn.Name]; dup {
		return errors.Config("host function %q registered twice", fn.Name)
	}
	r.byName[fn.Name] = len(r.funcs)
	r.funcs = append(r.funcs, fn)
	return nil
}

// Lookup returns the host function registered under name.
func (r *HostFunctionRegistry) Lookup(name string) (*HostFunction, bool) {
	if r == nil {
		return nil, false
	}
	idx, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return &r.funcs[idx], true
}

// Names returns the registered names in registration order.
func (r *HostFunctionRegistry) Names() []string {
	names := make([]string, len(r.funcs))
	for i, f := range r.funcs {
		names[i] = f.Name
	}
	return names
}

func (hf *HostFunction) signature() (params, results []abi.ValueType) {
	params = hf.Params
	if hf.Return != nil {
		results = []abi.ValueType{*hf.Return}
	}
	return params, results
}

func abiFromWasm(vt wasm.ValType) (abi.ValueType, bool) {
	switch vt {
	case wasm.ValI32:
		return abi.I32, true
	case wasm.ValI64:
		return abi.I64, true
	case wasm.ValF32:
		return abi.F32, true
	case wasm.ValF64:
		return abi.F64, true
	}
	return 0, false
}

func importSignature(m *wasm.Module, imp wasm.Import) (params, results []abi.ValueType, err error) {
	ft := m.Types[imp.TypeIdx]
	for _, p := range ft.Params {
		vt, ok := abiFromWasm(p)
		if !ok {
			return nil, nil, fmt.Errorf("parameter type %s is not an ABI value type", p)
		}
		params = append(params, vt)
	}
	for _, r := range ft.Results {
		vt, ok := abiFromWasm(r)
		if !ok {
			return nil, nil, fmt.Errorf("result type %s is not an ABI value type", r)
		}
		results = append(results, vt)
	}
	return params, results, nil
}

func signatureString(params, results []abi.ValueType) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(") -> ")
	switch len(results) {
	case 0:
		b.WriteString("()")
	case 1:
		b.WriteString(results[0].String())
	default:
		b.WriteByte('(')
		for i, r := range results {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(r.String())
		}
		b.WriteByte(')')
	}
	return b.String()
}

func signaturesEqual(a, b []abi.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func toWazeroTypes(vts []abi.ValueType) []api.ValueType {
	out := make([]api.ValueType, len(vts))
	for i, vt := range vts {
		out[i] = vt.Wazero()
	}
	return out
}

// resolveImports binds every function import of m to a registered host
// function, a stub when missing imports are allowed, or fails enumerating
// every unresolved name.
func resolveImports(m *wasm.Module, registry *HostFunctionRegistry, allowMissing bool) ([]engine.HostFunc, error) {
	var bound []engine.HostFunc
	var missing []string

	for _, imp := range m.Imports {
		if imp.Module != hostNamespace {
			return nil, errors.New(errors.PhaseResolve, errors.KindBadNamespace).
				Detail("host doesn't provide any imports from non-env module: %s:%s", imp.Module, imp.Name).
				Build()
		}
		if imp.Kind != wasm.KindFunc {
			return nil, errors.New(errors.PhaseResolve, errors.KindNonFuncImport).
				Name(imp.Name).
				Detail("host doesn't provide any non-function imports").
				Build()
		}

		wantParams, wantResults, err := importSignature(m, imp)
		if err != nil {
			return nil, errors.New(errors.PhaseResolve, errors.KindSignatureMismatch).
				Name(imp.Name).
				Cause(err).
				Build()
		}

		hf, found := registry.Lookup(imp.Name)
		if !found {
			if allowMissing {
				bound = append(bound, stubHostFunc(imp.Name, wantParams, wantResults))
				continue
			}
			missing = append(missing, imp.Name)
			continue
		}

		haveParams, haveResults := hf.signature()
		if !signaturesEqual(wantParams, haveParams) || !signaturesEqual(wantResults, haveResults) {
			return nil, errors.New(errors.PhaseResolve, errors.KindSignatureMismatch).
				Name(imp.Name).
				Detail("import declares %s but host provides %s",
					signatureString(wantParams, wantResults),
					signatureString(haveParams, haveResults)).
				Build()
		}

		bound = append(bound, bindHostFunc(hf, wantParams, wantResults))
	}

	if len(missing) > 0 {
		return nil, errors.New(errors.PhaseResolve, errors.KindMissingImports).
			Detail("unresolved imports: %s", strings.Join(missing, ", ")).
			Build()
	}
	return bound, nil
}

// bindHostFunc wraps a host function for the engine: raw stack values are
// decoded into ABI values, the function runs inside the panic boundary,
// and the result is re-encoded with an arity cross-check.
func bindHostFunc(hf *HostFunction, params, results []abi.ValueType) engine.HostFunc {
	return engine.HostFunc{
		Name:    hf.Name,
		Params:  toWazeroTypes(params),
		Results: toWazeroTypes(results),
		Fn: func(ctx context.Context, _ api.Module, stack []uint64) {
			hc := hostContextFrom(ctx)

			args := make([]abi.Value, len(params))
			for i, vt := range params {
				args[i] = abi.FromRaw(vt, stack[i])
			}

			ret, err := runHostFunction(hc, hf, args)
			if err != nil {
				hc.abort(err.Error())
			}
			if hf.Return != nil {
				if ret == nil {
					hc.abort(fmt.Sprintf("host function %s returned no value for declared result", hf.Name))
				}
				if ret.Type() != *hf.Return {
					hc.abort(fmt.Sprintf("host function %s returned %s, declared %s",
						hf.Name, ret.Type(), hf.Return))
				}
				stack[0] = ret.Raw()
			} else if ret != nil {
				hc.abort(fmt.Sprintf("host function %s returned a value but declares none", hf.Name))
			}
		},
	}
}

// runHostFunction executes hf with a recover boundary so a panicking host
// function becomes an error instead of tearing down the process.
func runHostFunction(hc HostContext, hf *HostFunction, args []abi.Value) (ret *abi.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("host function %s panicked: %v", hf.Name, r)
		}
	}()
	return hf.Execute(hc, args)
}

// stubHostFunc satisfies a permitted-missing import with a function that
// traps when called.
func stubHostFunc(name string, params, results []abi.ValueType) engine.HostFunc {
	return engine.HostFunc{
		Name:    name,
		Params:  toWazeroTypes(params),
		Results: toWazeroTypes(results),
		Fn: func(ctx context.Context, _ api.Module, _ []uint64) {
			hc := hostContextFrom(ctx)
			hc.abort(fmt.Sprintf("call to a missing function env:%s", name))
		},
	}
}
