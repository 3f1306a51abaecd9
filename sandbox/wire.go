package sandbox

import (
	"encoding/binary"
	"fmt"

	"github.com/runelabs/wasm-executor/abi"
)

// Wire format shared with supervisor guests. Collections are prefixed with
// a compact-encoded length; scalars are little-endian and fixed width.

const (
	tagValueI32 byte = 0
	tagValueI64 byte = 1
	tagValueF32 byte = 2
	tagValueF64 byte = 3

	tagReturnUnit  byte = 0
	tagReturnValue byte = 1

	tagEntityFunction byte = 0
	tagEntityMemory   byte = 1
)

// EnvEntry binds one importable name of a nested instance to a supervisor
// entity: a dispatchable function id or a shared memory id.
type EnvEntry struct {
	Module string
	Field  string
	Kind   byte // tagEntityFunction or tagEntityMemory
	Index  uint32
}

func appendCompactU32(dst []byte, v uint32) []byte {
	switch {
	case v < 1<<6:
		return append(dst, byte(v)<<2)
	case v < 1<<14:
		return binary.LittleEndian.AppendUint16(dst, uint16(v)<<2|0b01)
	case v < 1<<30:
		return binary.LittleEndian.AppendUint32(dst, v<<2|0b10)
	default:
		dst = append(dst, 0b11)
		return binary.LittleEndian.AppendUint32(dst, v)
	}
}

type wireReader struct {
	data []byte
	pos  int
}

func (r *wireReader) done() bool { return r.pos == len(r.data) }

func (r *wireReader) bytes(n int) ([]byte, error) {
	if n < 0 || len(r.data)-r.pos < n {
		return nil, fmt.Errorf("wire data truncated at offset %d", r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *wireReader) byte() (byte, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *wireReader) compactU32() (uint32, error) {
	first, err := r.byte()
	if err != nil {
		return 0, err
	}
	switch first & 0b11 {
	case 0b00:
		return uint32(first >> 2), nil
	case 0b01:
		rest, err := r.byte()
		if err != nil {
			return 0, err
		}
		return uint32(first)>>2 | uint32(rest)<<6, nil
	case 0b10:
		rest, err := r.bytes(3)
		if err != nil {
			return 0, err
		}
		v := uint32(first) | uint32(rest[0])<<8 | uint32(rest[1])<<16 | uint32(rest[2])<<24
		return v >> 2, nil
	default:
		if first>>2 != 0 {
			return 0, fmt.Errorf("compact value exceeds 32 bits")
		}
		rest, err := r.bytes(4)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(rest), nil
	}
}

func (r *wireReader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *wireReader) value() (abi.Value, error) {
	tag, err := r.byte()
	if err != nil {
		return abi.Value{}, err
	}
	switch tag {
	case tagValueI32:
		b, err := r.bytes(4)
		if err != nil {
			return abi.Value{}, err
		}
		return abi.ValueI32(int32(binary.LittleEndian.Uint32(b))), nil
	case tagValueI64:
		b, err := r.bytes(8)
		if err != nil {
			return abi.Value{}, err
		}
		return abi.ValueI64(int64(binary.LittleEndian.Uint64(b))), nil
	case tagValueF32:
		b, err := r.bytes(4)
		if err != nil {
			return abi.Value{}, err
		}
		return abi.ValueF32(binary.LittleEndian.Uint32(b)), nil
	case tagValueF64:
		b, err := r.bytes(8)
		if err != nil {
			return abi.Value{}, err
		}
		return abi.ValueF64(binary.LittleEndian.Uint64(b)), nil
	}
	return abi.Value{}, fmt.Errorf("unknown value tag %d", tag)
}

func appendValue(dst []byte, v abi.Value) []byte {
	switch v.Type() {
	case abi.I32:
		dst = append(dst, tagValueI32)
		return binary.LittleEndian.AppendUint32(dst, uint32(v.I32()))
	case abi.I64:
		dst = append(dst, tagValueI64)
		return binary.LittleEndian.AppendUint64(dst, uint64(v.I64()))
	case abi.F32:
		dst = append(dst, tagValueF32)
		return binary.LittleEndian.AppendUint32(dst, v.F32())
	default:
		dst = append(dst, tagValueF64)
		return binary.LittleEndian.AppendUint64(dst, v.F64())
	}
}

// EncodeValues serializes an argument list.
func EncodeValues(values []abi.Value) []byte {
	out := appendCompactU32(nil, uint32(len(values)))
	for _, v := range values {
		out = appendValue(out, v)
	}
	return out
}

// DecodeValues parses an argument list, rejecting trailing bytes.
func DecodeValues(data []byte) ([]abi.Value, error) {
	r := &wireReader{data: data}
	n, err := r.compactU32()
	if err != nil {
		return nil, err
	}
	values := make([]abi.Value, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := r.value()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if !r.done() {
		return nil, fmt.Errorf("%d trailing bytes after value list", len(data)-r.pos)
	}
	return values, nil
}

// ReturnValue is the result of a routed or invoked call: either unit or a
// single value.
type ReturnValue struct {
	HasValue bool
	Value    abi.Value
}

// EncodeReturnValue serializes a call result.
func EncodeReturnValue(rv ReturnValue) []byte {
	if !rv.HasValue {
		return []byte{tagReturnUnit}
	}
	return appendValue([]byte{tagReturnValue}, rv.Value)
}

// DecodeReturnValue parses a call result, rejecting trailing bytes.
func DecodeReturnValue(data []byte) (ReturnValue, error) {
	r := &wireReader{data: data}
	tag, err := r.byte()
	if err != nil {
		return ReturnValue{}, err
	}
	switch tag {
	case tagReturnUnit:
		if !r.done() {
			return ReturnValue{}, fmt.Errorf("trailing bytes after unit return")
		}
		return ReturnValue{}, nil
	case tagReturnValue:
		v, err := r.value()
		if err != nil {
			return ReturnValue{}, err
		}
		if !r.done() {
			return ReturnValue{}, fmt.Errorf("trailing bytes after return value")
		}
		return ReturnValue{HasValue: true, Value: v}, nil
	}
	return ReturnValue{}, fmt.Errorf("unknown return tag %d", tag)
}

// DecodeEnvDescriptor parses the supervisor's environment definition.
func DecodeEnvDescriptor(data []byte) ([]EnvEntry, error) {
	r := &wireReader{data: data}
	n, err := r.compactU32()
	if err != nil {
		return nil, err
	}
	entries := make([]EnvEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		var e EnvEntry
		if e.Module, err = r.name(); err != nil {
			return nil, err
		}
		if e.Field, err = r.name(); err != nil {
			return nil, err
		}
		if e.Kind, err = r.byte(); err != nil {
			return nil, err
		}
		if e.Kind != tagEntityFunction && e.Kind != tagEntityMemory {
			return nil, fmt.Errorf("unknown entity tag %d in entry %d", e.Kind, i)
		}
		if e.Index, err = r.u32(); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if !r.done() {
		return nil, fmt.Errorf("%d trailing bytes after environment entries", len(data)-r.pos)
	}
	return entries, nil
}

func (r *wireReader) name() (string, error) {
	n, err := r.compactU32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeEnvDescriptor serializes entries, primarily for supervisors and
// tests constructing descriptors in Go.
func EncodeEnvDescriptor(entries []EnvEntry) []byte {
	out := appendCompactU32(nil, uint32(len(entries)))
	for _, e := range entries {
		out = appendCompactU32(out, uint32(len(e.Module)))
		out = append(out, e.Module...)
		out = appendCompactU32(out, uint32(len(e.Field)))
		out = append(out, e.Field...)
		out = append(out, e.Kind)
		out = binary.LittleEndian.AppendUint32(out, e.Index)
	}
	return out
}

// EntryFunction builds a descriptor entry routing module.field to the
// supervisor function id fn.
func EntryFunction(module, field string, fn uint32) EnvEntry {
	return EnvEntry{Module: module, Field: field, Kind: tagEntityFunction, Index: fn}
}

// EntryMemory builds a descriptor entry binding module.field to a shared
// memory id.
func EntryMemory(module, field string, id int32) EnvEntry {
	return EnvEntry{Module: module, Field: field, Kind: tagEntityMemory, Index: uint32(id)}
}
