package wasm

// Asm assembles an instruction sequence. It is used to synthesize code
// bodies and constant expressions for injected functions and test modules.
// Methods return the receiver for chaining; Bytes returns the accumulated
// instruction bytes.
type Asm struct {
	w writer
}

// NewAsm returns an empty assembler.
func NewAsm() *Asm {
	return &Asm{}
}

// Bytes returns the assembled instruction bytes.
func (a *Asm) Bytes() []byte {
	return a.w.bytes()
}

// Op emits a bare opcode with no immediates.
func (a *Asm) Op(op byte) *Asm {
	a.w.byte(op)
	return a
}

// Unreachable emits unreachable.
func (a *Asm) Unreachable() *Asm { return a.Op(OpUnreachable) }

// End closes a block or a function body.
func (a *Asm) End() *Asm { return a.Op(OpEnd) }

// If opens an if block with no result type.
func (a *Asm) If() *Asm {
	a.w.byte(OpIf)
	a.w.byte(BlockTypeEmpty)
	return a
}

// Loop opens a loop with no result type.
func (a *Asm) Loop() *Asm {
	a.w.byte(OpLoop)
	a.w.byte(BlockTypeEmpty)
	return a
}

// Br emits a branch to the given label depth.
func (a *Asm) Br(depth uint32) *Asm {
	a.w.byte(OpBr)
	a.w.u32(depth)
	return a
}

// BrIf emits a conditional branch to the given label depth.
func (a *Asm) BrIf(depth uint32) *Asm {
	a.w.byte(OpBrIf)
	a.w.u32(depth)
	return a
}

// LocalGet pushes local i.
func (a *Asm) LocalGet(i uint32) *Asm {
	a.w.byte(OpLocalGet)
	a.w.u32(i)
	return a
}

// LocalSet pops into local i.
func (a *Asm) LocalSet(i uint32) *Asm {
	a.w.byte(OpLocalSet)
	a.w.u32(i)
	return a
}

// GlobalGet pushes global i.
func (a *Asm) GlobalGet(i uint32) *Asm {
	a.w.byte(OpGlobalGet)
	a.w.u32(i)
	return a
}

// GlobalSet pops into global i.
func (a *Asm) GlobalSet(i uint32) *Asm {
	a.w.byte(OpGlobalSet)
	a.w.u32(i)
	return a
}

// I32Const pushes an i32 constant.
func (a *Asm) I32Const(v int32) *Asm {
	a.w.byte(OpI32Const)
	a.w.s32(v)
	return a
}

// I64Const pushes an i64 constant.
func (a *Asm) I64Const(v int64) *Asm {
	a.w.byte(OpI64Const)
	a.w.s64(v)
	return a
}

// I32Add emits i32.add.
func (a *Asm) I32Add() *Asm { return a.Op(OpI32Add) }

// I32Sub emits i32.sub.
func (a *Asm) I32Sub() *Asm { return a.Op(OpI32Sub) }

// I32Eqz emits i32.eqz.
func (a *Asm) I32Eqz() *Asm { return a.Op(OpI32Eqz) }

// I32Eq emits i32.eq.
func (a *Asm) I32Eq() *Asm { return a.Op(OpI32Eq) }

// I32Ne emits i32.ne.
func (a *Asm) I32Ne() *Asm { return a.Op(OpI32Ne) }

// I32GtU emits i32.gt_u.
func (a *Asm) I32GtU() *Asm { return a.Op(OpI32GtU) }

// I64Or emits i64.or.
func (a *Asm) I64Or() *Asm { return a.Op(OpI64Or) }

// I64Shl emits i64.shl.
func (a *Asm) I64Shl() *Asm { return a.Op(OpI64Shl) }

// I64ExtendI32U emits i64.extend_i32_u.
func (a *Asm) I64ExtendI32U() *Asm { return a.Op(OpI64ExtendI32U) }

// I32Load emits i32.load with the given alignment exponent and offset.
func (a *Asm) I32Load(align, offset uint32) *Asm {
	a.w.byte(OpI32Load)
	a.w.u32(align)
	a.w.u32(offset)
	return a
}

// I32Store emits i32.store with the given alignment exponent and offset.
func (a *Asm) I32Store(align, offset uint32) *Asm {
	a.w.byte(OpI32Store)
	a.w.u32(align)
	a.w.u32(offset)
	return a
}

// MemoryGrow emits memory.grow for memory 0.
func (a *Asm) MemoryGrow() *Asm {
	a.w.byte(OpMemoryGrow)
	a.w.byte(0x00)
	return a
}

// Call emits a direct call to function index i.
func (a *Asm) Call(i uint32) *Asm {
	a.w.byte(OpCall)
	a.w.u32(i)
	return a
}

// CallIndirect emits call_indirect through the given table with the given
// type index.
func (a *Asm) CallIndirect(typeIdx, tableIdx uint32) *Asm {
	a.w.byte(OpCallIndirect)
	a.w.u32(typeIdx)
	a.w.u32(tableIdx)
	return a
}

// TableGet emits table.get.
func (a *Asm) TableGet(tableIdx uint32) *Asm {
	a.w.byte(OpTableGet)
	a.w.u32(tableIdx)
	return a
}

// TableSize emits table.size.
func (a *Asm) TableSize(tableIdx uint32) *Asm {
	a.w.byte(OpPrefixFC)
	a.w.u32(FCTableSize)
	a.w.u32(tableIdx)
	return a
}

// RefIsNull emits ref.is_null.
func (a *Asm) RefIsNull() *Asm { return a.Op(OpRefIsNull) }

// Drop emits drop.
func (a *Asm) Drop() *Asm { return a.Op(OpDrop) }

// Return emits return.
func (a *Asm) Return() *Asm { return a.Op(OpReturn) }

// I32ConstExpr returns a complete constant expression pushing v.
func I32ConstExpr(v int32) []byte {
	return NewAsm().I32Const(v).End().Bytes()
}

// I64ConstExpr returns a complete constant expression pushing v.
func I64ConstExpr(v int64) []byte {
	return NewAsm().I64Const(v).End().Bytes()
}
