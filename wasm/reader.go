package wasm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrOverflow is returned when a LEB128 value exceeds its maximum bit width.
var ErrOverflow = errors.New("leb128: overflow")

var errUnexpectedEOF = errors.New("unexpected end of section")

// reader walks a byte slice with position tracking and the read shapes the
// binary format needs.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) len() int {
	return len(r.data) - r.pos
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, errUnexpectedEOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, errUnexpectedEOF
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) readU32() (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, r.wrap(ErrOverflow)
		}
	}
}

func (r *reader) readU64() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 70 {
			return 0, r.wrap(ErrOverflow)
		}
	}
}

func (r *reader) readS32() (int32, error) {
	var result int32
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.readByte()
		if err != nil {
			return 0, err
		}
		result |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 35 {
			return 0, r.wrap(ErrOverflow)
		}
	}
	if shift < 32 && b&0x40 != 0 {
		result |= ^int32(0) << shift
	}
	return result, nil
}

func (r *reader) readS64() (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.readByte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 70 {
			return 0, r.wrap(ErrOverflow)
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= ^int64(0) << shift
	}
	return result, nil
}

func (r *reader) readName() (string, error) {
	length, err := r.readU32()
	if err != nil {
		return "", err
	}
	data, err := r.readBytes(int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", r.wrap(errors.New("invalid UTF-8 in name"))
	}
	return string(data), nil
}

func (r *reader) readU32LE() (uint32, error) {
	buf, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (r *reader) readValType() (ValType, error) {
	b, err := r.readByte()
	if err != nil {
		return 0, err
	}
	switch v := ValType(b); v {
	case ValI32, ValI64, ValF32, ValF64, ValFuncRef, ValExternRef:
		return v, nil
	default:
		return 0, r.wrap(fmt.Errorf("unsupported value type 0x%02x", b))
	}
}

func (r *reader) readLimits() (Limits, error) {
	flag, err := r.readByte()
	if err != nil {
		return Limits{}, err
	}
	var lim Limits
	switch flag {
	case 0x00:
		lim.Min, err = r.readU32()
	case 0x01:
		lim.HasMax = true
		if lim.Min, err = r.readU32(); err == nil {
			lim.Max, err = r.readU32()
		}
	default:
		return Limits{}, r.wrap(fmt.Errorf("unsupported limits flag 0x%02x", flag))
	}
	return lim, err
}

func (r *reader) wrap(err error) error {
	return fmt.Errorf("at offset %d: %w", r.pos, err)
}
