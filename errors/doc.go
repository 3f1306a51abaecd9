// Package errors provides structured error types for the wasm-executor library.
//
// Errors are categorized by Phase (where in the lifecycle the error occurred)
// and Kind (error category). Construction-time failures (compilation, import
// resolution, instantiation) are *Error values carrying both; they abort the
// corresponding construction entirely.
//
//	err := errors.New(errors.PhaseResolve, errors.KindSignatureMismatch).
//		Name("ext_storage_get").
//		Detail("import declares (i64) -> i64, host provides (i32, i32) -> i64").
//		Build()
//
// Execution failures that abort only the current call have dedicated types:
// TrapError (guest-triggered), PanicError (host-side, takes precedence over
// a trap), ErrOutOfMemory, and the indirect-dispatch errors ErrNoTable,
// NoTableEntryError and NullFunctionError.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
