package blob

import (
	"github.com/runelabs/wasm-executor/wasm"
)

// InjectStackDepthMetering instruments every call site with a logical
// call-depth counter held in a fresh mutable global. Before each call the
// counter is incremented and checked against limit; crossing it executes
// unreachable, so runaway recursion traps at the same depth on every engine
// and platform. After each call the counter is decremented.
//
// The pass must run before ExposeMutableGlobals so the counter global is
// part of the state snapshot and resets with the rest of the state.
func (b *RuntimeBlob) InjectStackDepthMetering(limit uint32) error {
	m := b.module

	depthGlobal := uint32(m.NumImportedGlobals() + len(m.Globals))
	m.Globals = append(m.Globals, wasm.Global{
		Type: wasm.GlobalType{Type: wasm.ValI32, Mutable: true},
		Init: wasm.I32ConstExpr(0),
	})

	prologue := wasm.NewAsm().
		GlobalGet(depthGlobal).
		I32Const(1).
		I32Add().
		GlobalSet(depthGlobal).
		GlobalGet(depthGlobal).
		I32Const(int32(limit)).
		I32GtU().
		If().
		Unreachable().
		End().
		Bytes()
	epilogue := wasm.NewAsm().
		GlobalGet(depthGlobal).
		I32Const(1).
		I32Sub().
		GlobalSet(depthGlobal).
		Bytes()

	for i := range m.Code {
		rewritten, err := wasm.RewriteInstructions(m.Code[i].Code, func(ins wasm.Instruction) []byte {
			if ins.Opcode != wasm.OpCall && ins.Opcode != wasm.OpCallIndirect {
				return nil
			}
			out := make([]byte, 0, len(prologue)+len(ins.Bytes)+len(epilogue))
			out = append(out, prologue...)
			out = append(out, ins.Bytes...)
			out = append(out, epilogue...)
			return out
		})
		if err != nil {
			return err
		}
		m.Code[i].Code = rewritten
	}
	return nil
}
