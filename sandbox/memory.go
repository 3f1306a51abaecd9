package sandbox

import (
	"context"
	"fmt"

	wasmexecutor "github.com/runelabs/wasm-executor"
	"github.com/runelabs/wasm-executor/engine"
	"github.com/runelabs/wasm-executor/errors"
	"github.com/runelabs/wasm-executor/wasm"
)

// MemoryUnlimited as the maximum leaves a shared memory's growth capped
// only by the engine.
const MemoryUnlimited = ^uint32(0)

const maxMemoryPages = 1 << 16

// Memory is a shared linear memory a supervisor created for its nested
// instances. It lives in a module of its own so guests can import it by
// name.
type Memory struct {
	inst *engine.ModuleInstance
	name string
}

// Read returns a copy of size bytes at offset.
func (m *Memory) Read(offset, size uint32) ([]byte, error) {
	out := make([]byte, size)
	if err := m.mem().ReadInto(offset, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Write copies data into the memory at offset.
func (m *Memory) Write(offset uint32, data []byte) error {
	return m.mem().Write(offset, data)
}

// Size returns the current byte size.
func (m *Memory) Size() uint32 {
	return m.mem().Size()
}

func (m *Memory) mem() wasmexecutor.Memory {
	return m.inst.Memory()
}

// MemoryNew creates a shared memory of initial pages, growable to maximum
// pages or without bound when maximum is MemoryUnlimited.
func (s *Store) MemoryNew(initial, maximum uint32) (int32, error) {
	if initial > maxMemoryPages {
		return 0, errors.Other(errors.PhaseSandbox, "initial size of %d pages exceeds the 4GB address space", initial)
	}
	limits := wasm.Limits{Min: initial}
	if maximum != MemoryUnlimited {
		if maximum < initial || maximum > maxMemoryPages {
			return 0, errors.Other(errors.PhaseSandbox, "invalid maximum of %d pages for initial size %d", maximum, initial)
		}
		limits.Max = maximum
		limits.HasMax = true
	}

	m := &wasm.Module{
		Memories: []wasm.Limits{limits},
		Exports:  []wasm.Export{{Name: "memory", Kind: wasm.KindMemory, Index: 0}},
	}

	ctx := context.Background()
	compiled, err := s.eng.Compile(ctx, m.Encode())
	if err != nil {
		return 0, err
	}
	name := fmt.Sprintf("sandbox_memory_%d", s.nextMemory)
	inst, err := s.eng.InstantiateNamed(ctx, compiled, name)
	if err != nil {
		compiled.Close(ctx)
		return 0, errors.Instantiate("shared sandbox memory", err)
	}

	id := s.nextMemory
	s.nextMemory++
	s.memories[id] = &Memory{inst: inst, name: name}
	return id, nil
}

// Memory returns the shared memory with the given id.
func (s *Store) Memory(id int32) (*Memory, error) {
	m, ok := s.memories[id]
	if !ok {
		return nil, errors.Other(errors.PhaseSandbox, "no sandbox memory with id %d", id)
	}
	return m, nil
}

// MemoryTeardown destroys a shared memory. Instances importing it keep it
// alive inside the engine until they are torn down themselves.
func (s *Store) MemoryTeardown(id int32) error {
	m, err := s.Memory(id)
	if err != nil {
		return err
	}
	delete(s.memories, id)
	return m.inst.Close(context.Background())
}
