package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the execution lifecycle the error occurred
type Phase string

const (
	PhaseCompile     Phase = "compile"     // blob preparation and compilation
	PhaseResolve     Phase = "resolve"     // import resolution
	PhaseInstantiate Phase = "instantiate" // instance creation
	PhaseCall        Phase = "call"        // call dispatch and marshaling
	PhaseSandbox     Phase = "sandbox"     // nested sandbox operations
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidModule     Kind = "invalid_module"
	KindInvalidConfig     Kind = "invalid_config"
	KindBadNamespace      Kind = "bad_namespace"
	KindNonFuncImport     Kind = "non_func_import"
	KindSignatureMismatch Kind = "signature_mismatch"
	KindMissingImports    Kind = "missing_imports"
	KindMissingExport     Kind = "missing_export"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindInvalidData       Kind = "invalid_data"
	KindOther             Kind = "other"
)

// Error is the structured error type used for construction-time failures.
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Entity string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(e.Entity)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Name sets the name of the offending entity (import, export, global).
func (b *Builder) Name(name string) *Builder {
	b.err.Entity = name
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Compile creates a blob-preparation or compilation error
func Compile(detail string, cause error) *Error {
	return &Error{Phase: PhaseCompile, Kind: KindInvalidModule, Detail: detail, Cause: cause}
}

// Config creates an invalid-configuration error
func Config(detail string, args ...any) *Error {
	return &Error{Phase: PhaseCompile, Kind: KindInvalidConfig, Detail: fmt.Sprintf(detail, args...)}
}

// Instantiate creates an instantiation error
func Instantiate(detail string, cause error) *Error {
	return &Error{Phase: PhaseInstantiate, Kind: KindOther, Detail: detail, Cause: cause}
}

// MissingExport creates an error for a required export that is absent.
func MissingExport(phase Phase, name, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindMissingExport,
		Entity: name,
		Detail: what,
	}
}

// OutOfBounds creates an out-of-bounds memory access error
func OutOfBounds(what string, offset uint32, size int, memSize uint32) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("%s of %d bytes at offset %d exceeds memory size %d", what, size, offset, memSize),
	}
}

// Other creates an uncategorized error in the given phase.
func Other(phase Phase, detail string, args ...any) *Error {
	return &Error{Phase: phase, Kind: KindOther, Detail: fmt.Sprintf(detail, args...)}
}
