package wasm

import (
	"fmt"
)

// Opcodes used by the executor's passes and by immediate skipping. The
// numeric groups without immediates are handled by range in skipImmediates
// and have no named constant here.
const (
	OpUnreachable  byte = 0x00
	OpNop          byte = 0x01
	OpBlock        byte = 0x02
	OpLoop         byte = 0x03
	OpIf           byte = 0x04
	OpElse         byte = 0x05
	OpEnd          byte = 0x0b
	OpBr           byte = 0x0c
	OpBrIf         byte = 0x0d
	OpBrTable      byte = 0x0e
	OpReturn       byte = 0x0f
	OpCall         byte = 0x10
	OpCallIndirect byte = 0x11
	OpDrop         byte = 0x1a
	OpSelect       byte = 0x1b
	OpSelectT      byte = 0x1c
	OpLocalGet     byte = 0x20
	OpLocalSet     byte = 0x21
	OpLocalTee     byte = 0x22
	OpGlobalGet    byte = 0x23
	OpGlobalSet    byte = 0x24
	OpTableGet     byte = 0x25
	OpTableSet     byte = 0x26
	OpMemorySize   byte = 0x3f
	OpMemoryGrow   byte = 0x40
	OpI32Const     byte = 0x41
	OpI64Const     byte = 0x42
	OpF32Const     byte = 0x43
	OpF64Const     byte = 0x44
	OpI32Eqz       byte = 0x45
	OpI32Eq        byte = 0x46
	OpI32Ne        byte = 0x47
	OpI32GtU       byte = 0x4b
	OpI32Add       byte = 0x6a
	OpI32Sub       byte = 0x6b
	OpI64Add       byte = 0x7c
	OpI64Shl       byte = 0x86
	OpI64Or        byte = 0x84
	OpI64ExtendI32U byte = 0xad
	OpRefNull      byte = 0xd0
	OpRefIsNull    byte = 0xd1
	OpRefFunc      byte = 0xd2
	OpPrefixFC     byte = 0xfc
	OpPrefixSIMD   byte = 0xfd
)

// Memory and table load/store opcode ranges (all carry a memarg).
const (
	opLoadFirst  byte = 0x28 // i32.load
	opStoreLast  byte = 0x3e // i64.store32
	OpI32Load    byte = 0x28
	OpI32Store   byte = 0x36
)

// 0xFC-prefixed sub-opcodes.
const (
	FCMemoryInit uint32 = 8
	FCDataDrop   uint32 = 9
	FCMemoryCopy uint32 = 10
	FCMemoryFill uint32 = 11
	FCTableInit  uint32 = 12
	FCElemDrop   uint32 = 13
	FCTableCopy  uint32 = 14
	FCTableGrow  uint32 = 15
	FCTableSize  uint32 = 16
	FCTableFill  uint32 = 17
)

// BlockTypeEmpty is the blocktype byte for blocks with no result.
const BlockTypeEmpty byte = 0x40

// Instruction is one decoded instruction occurrence inside a code body.
// Bytes covers the whole instruction including opcode and immediates.
type Instruction struct {
	Opcode byte
	SubOp  uint32 // 0xFC-prefixed sub-opcode when Opcode == OpPrefixFC
	Bytes  []byte
}

// Instructions walks the instruction sequence in code (a code body or
// constant expression, including its trailing end opcode) and calls fn for
// each instruction. Iteration stops on the first error.
func Instructions(code []byte, fn func(ins Instruction) error) error {
	r := newReader(code)
	for r.len() > 0 {
		start := r.pos
		op, err := r.readByte()
		if err != nil {
			return err
		}
		var subOp uint32
		if op == OpPrefixFC {
			if subOp, err = r.readU32(); err != nil {
				return err
			}
		}
		if err := skipImmediates(r, op, subOp); err != nil {
			return err
		}
		if err := fn(Instruction{Opcode: op, SubOp: subOp, Bytes: code[start:r.pos]}); err != nil {
			return err
		}
	}
	return nil
}

// RewriteInstructions rebuilds a code body, letting fn substitute
// instructions. fn returns the replacement bytes for an instruction, or nil
// to keep it unchanged.
func RewriteInstructions(code []byte, fn func(ins Instruction) []byte) ([]byte, error) {
	var out writer
	err := Instructions(code, func(ins Instruction) error {
		if repl := fn(ins); repl != nil {
			out.raw(repl)
		} else {
			out.raw(ins.Bytes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.bytes(), nil
}

// readExpr consumes a constant expression: instructions up to and including
// the end opcode that closes it. Returns the raw expression bytes.
func readExpr(r *reader) ([]byte, error) {
	start := r.pos
	depth := 0
	for {
		op, err := r.readByte()
		if err != nil {
			return nil, err
		}
		var subOp uint32
		if op == OpPrefixFC {
			if subOp, err = r.readU32(); err != nil {
				return nil, err
			}
		}
		switch op {
		case OpBlock, OpLoop, OpIf:
			depth++
		case OpEnd:
			if depth == 0 {
				return r.data[start:r.pos], nil
			}
			depth--
		}
		if err := skipImmediates(r, op, subOp); err != nil {
			return nil, err
		}
	}
}

// skipImmediates advances r past the immediates of one instruction whose
// opcode (and 0xFC sub-opcode) has already been consumed.
func skipImmediates(r *reader, op byte, subOp uint32) error {
	var err error
	switch {
	case op == OpBlock || op == OpLoop || op == OpIf:
		err = skipBlockType(r)
	case op == OpBr || op == OpBrIf || op == OpCall ||
		op >= OpLocalGet && op <= OpTableSet ||
		op == OpRefFunc:
		_, err = r.readU32()
	case op == OpBrTable:
		var n uint32
		if n, err = r.readU32(); err != nil {
			return err
		}
		for i := uint32(0); i <= n; i++ {
			if _, err = r.readU32(); err != nil {
				return err
			}
		}
	case op == OpCallIndirect:
		if _, err = r.readU32(); err != nil {
			return err
		}
		_, err = r.readU32()
	case op >= opLoadFirst && op <= opStoreLast:
		if _, err = r.readU32(); err != nil {
			return err
		}
		_, err = r.readU32()
	case op == OpMemorySize || op == OpMemoryGrow:
		_, err = r.readByte()
	case op == OpI32Const:
		_, err = r.readS32()
	case op == OpI64Const:
		_, err = r.readS64()
	case op == OpF32Const:
		_, err = r.readBytes(4)
	case op == OpF64Const:
		_, err = r.readBytes(8)
	case op == OpSelectT:
		var n uint32
		if n, err = r.readU32(); err != nil {
			return err
		}
		_, err = r.readBytes(int(n))
	case op == OpRefNull:
		_, err = r.readByte()
	case op == OpPrefixFC:
		err = skipFCImmediates(r, subOp)
	case op == OpPrefixSIMD:
		return fmt.Errorf("SIMD instructions are not supported")
	default:
		// Remaining opcodes carry no immediates.
	}
	return err
}

func skipFCImmediates(r *reader, subOp uint32) error {
	var err error
	switch subOp {
	case FCMemoryInit, FCTableInit, FCTableCopy:
		if _, err = r.readU32(); err != nil {
			return err
		}
		_, err = r.readU32()
	case FCDataDrop, FCElemDrop, FCMemoryFill,
		FCTableGrow, FCTableSize, FCTableFill:
		_, err = r.readU32()
	case FCMemoryCopy:
		if _, err = r.readByte(); err != nil {
			return err
		}
		_, err = r.readByte()
	default:
		if subOp > 7 { // 0..7 are saturating truncations, no immediates
			return fmt.Errorf("unsupported 0xfc sub-opcode %d", subOp)
		}
	}
	return err
}

func skipBlockType(r *reader) error {
	// A blocktype is either 0x40, a single value type byte, or a positive
	// s33 type index. Reading it as s64 covers all three shapes since the
	// single-byte forms are negative in signed LEB128.
	_, err := r.readS64()
	return err
}
