package wasm

import "fmt"

// ParseI32ConstExpr decodes a constant expression that must consist of a
// single i32.const followed by end, and returns its value. Any other
// expression shape is an error.
func ParseI32ConstExpr(expr []byte) (int32, error) {
	r := newReader(expr)
	op, err := r.readByte()
	if err != nil {
		return 0, err
	}
	if op != OpI32Const {
		return 0, fmt.Errorf("expected i32.const, found opcode 0x%02x", op)
	}
	v, err := r.readS32()
	if err != nil {
		return 0, err
	}
	end, err := r.readByte()
	if err != nil {
		return 0, err
	}
	if end != OpEnd || r.len() != 0 {
		return 0, fmt.Errorf("trailing bytes after i32.const expression")
	}
	return v, nil
}
