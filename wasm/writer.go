package wasm

import (
	"bytes"
	"encoding/binary"
)

// writer accumulates binary-format output.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) bytes() []byte {
	return w.buf.Bytes()
}

func (w *writer) byte(b byte) {
	w.buf.WriteByte(b)
}

func (w *writer) raw(data []byte) {
	w.buf.Write(data)
}

func (w *writer) u32(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if v == 0 {
			break
		}
	}
}

func (w *writer) s32(v int32) {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		w.buf.WriteByte(b)
	}
}

func (w *writer) s64(v int64) {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		w.buf.WriteByte(b)
	}
}

func (w *writer) name(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) u32le(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.buf.Write(buf[:])
}

func (w *writer) limits(lim Limits) {
	if lim.HasMax {
		w.byte(0x01)
		w.u32(lim.Min)
		w.u32(lim.Max)
	} else {
		w.byte(0x00)
		w.u32(lim.Min)
	}
}
