package engine

import (
	"github.com/tetratelabs/wazero/api"

	wasmexecutor "github.com/runelabs/wasm-executor"
	"github.com/runelabs/wasm-executor/errors"
)

// Memory adapts a wazero linear memory to the root Memory interface.
type Memory struct {
	mem api.Memory
}

var _ wasmexecutor.Memory = (*Memory)(nil)

// Size returns the current memory size in bytes.
func (m *Memory) Size() uint32 {
	return m.mem.Size()
}

// Read returns size bytes at offset. The slice aliases the linear memory
// and is invalidated by growth.
func (m *Memory) Read(offset, size uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, size)
	if !ok {
		return nil, errors.OutOfBounds("read", offset, int(size), m.mem.Size())
	}
	return data, nil
}

// ReadInto copies len(dest) bytes at offset into dest.
func (m *Memory) ReadInto(offset uint32, dest []byte) error {
	data, err := m.Read(offset, uint32(len(dest)))
	if err != nil {
		return err
	}
	copy(dest, data)
	return nil
}

// Write copies data into the memory at offset.
func (m *Memory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.OutOfBounds("write", offset, len(data), m.mem.Size())
	}
	return nil
}

// ReadU64 reads a little-endian uint64 at offset.
func (m *Memory) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, errors.OutOfBounds("read", offset, 8, m.mem.Size())
	}
	return v, nil
}

// WriteU64 writes a little-endian uint64 at offset.
func (m *Memory) WriteU64(offset uint32, v uint64) error {
	if !m.mem.WriteUint64Le(offset, v) {
		return errors.OutOfBounds("write", offset, 8, m.mem.Size())
	}
	return nil
}
