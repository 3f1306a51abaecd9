package abi

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// ValueType identifies one of the four numeric kinds crossing the
// host/guest boundary.
type ValueType byte

const (
	I32 ValueType = iota
	I64
	F32
	F64
)

func (t ValueType) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	}
	return fmt.Sprintf("valuetype(%d)", byte(t))
}

// Wazero returns the wazero representation of the value type.
func (t ValueType) Wazero() api.ValueType {
	switch t {
	case I32:
		return api.ValueTypeI32
	case I64:
		return api.ValueTypeI64
	case F32:
		return api.ValueTypeF32
	case F64:
		return api.ValueTypeF64
	}
	panic(fmt.Sprintf("unknown value type %d", byte(t)))
}

// FromWazero converts a wazero value type. ok is false for types outside
// the four-kind boundary union (v128, funcref, externref).
func FromWazero(t api.ValueType) (ValueType, bool) {
	switch t {
	case api.ValueTypeI32:
		return I32, true
	case api.ValueTypeI64:
		return I64, true
	case api.ValueTypeF32:
		return F32, true
	case api.ValueTypeF64:
		return F64, true
	}
	return 0, false
}

// Value is the tagged union crossing the host/guest boundary. F32 and F64
// values hold raw bit patterns, never native floats.
type Value struct {
	typ  ValueType
	bits uint64
}

// ValueI32 creates an i32 value.
func ValueI32(v int32) Value { return Value{typ: I32, bits: uint64(uint32(v))} }

// ValueI64 creates an i64 value.
func ValueI64(v int64) Value { return Value{typ: I64, bits: uint64(v)} }

// ValueF32 creates an f32 value from its bit pattern.
func ValueF32(bits uint32) Value { return Value{typ: F32, bits: uint64(bits)} }

// ValueF64 creates an f64 value from its bit pattern.
func ValueF64(bits uint64) Value { return Value{typ: F64, bits: bits} }

// Type returns the kind tag.
func (v Value) Type() ValueType { return v.typ }

// I32 returns the i32 payload. Valid only when Type() == I32.
func (v Value) I32() int32 { return int32(uint32(v.bits)) }

// I64 returns the i64 payload. Valid only when Type() == I64.
func (v Value) I64() int64 { return int64(v.bits) }

// F32 returns the f32 bit pattern. Valid only when Type() == F32.
func (v Value) F32() uint32 { return uint32(v.bits) }

// F64 returns the f64 bit pattern. Valid only when Type() == F64.
func (v Value) F64() uint64 { return v.bits }

func (v Value) String() string {
	switch v.typ {
	case I32:
		return fmt.Sprintf("I32(%d)", v.I32())
	case I64:
		return fmt.Sprintf("I64(%d)", v.I64())
	case F32:
		return fmt.Sprintf("F32(0x%08x)", v.F32())
	case F64:
		return fmt.Sprintf("F64(0x%016x)", v.F64())
	}
	return "Value(?)"
}

// Raw returns the value in wazero's raw stack representation. The encoding
// is bit-exact for all four kinds: integers are zero-extended, floats are
// their bit patterns.
func (v Value) Raw() uint64 { return v.bits }

// FromRaw reconstructs a Value of the given type from wazero's raw stack
// representation. FromRaw(t, v.Raw()) == v for every Value v of type t.
func FromRaw(t ValueType, raw uint64) Value {
	switch t {
	case I32, F32:
		return Value{typ: t, bits: raw & 0xffffffff}
	default:
		return Value{typ: t, bits: raw}
	}
}
