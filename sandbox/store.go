package sandbox

import (
	"context"
	"fmt"

	"github.com/runelabs/wasm-executor/engine"
	"github.com/runelabs/wasm-executor/errors"
)

// Store owns the nested instances and shared memories created during one
// supervisor call. It runs everything in its own engine so registered
// names never collide with the supervisor's. A Store serves exactly one
// call and is not safe for concurrent use.
type Store struct {
	eng       *engine.Engine
	instances map[int32]*storeInstance
	memories  map[int32]*Memory

	nextInstance   int32
	nextMemory     int32
	nextHostModule int
}

type storeInstance struct {
	inst     *engine.ModuleInstance
	compiled *engine.CompiledModule
}

// NewStore creates an empty store with its own engine.
func NewStore(ctx context.Context) *Store {
	return &Store{
		eng:       engine.New(ctx, engine.Config{}),
		instances: make(map[int32]*storeInstance),
		memories:  make(map[int32]*Memory),
	}
}

// Close tears down every instance and memory in the store.
func (s *Store) Close(ctx context.Context) error {
	s.instances = nil
	s.memories = nil
	return s.eng.Close(ctx)
}

func (s *Store) instance(id int32) (*storeInstance, error) {
	si, ok := s.instances[id]
	if !ok {
		return nil, errors.Other(errors.PhaseSandbox, "no sandbox instance with id %d", id)
	}
	return si, nil
}

// InstanceTeardown destroys a nested instance.
func (s *Store) InstanceTeardown(id int32) error {
	si, err := s.instance(id)
	if err != nil {
		return err
	}
	delete(s.instances, id)
	ctx := context.Background()
	si.inst.Close(ctx)
	return si.compiled.Close(ctx)
}

func (s *Store) nextHostModuleName() string {
	name := fmt.Sprintf("sandbox_host_%d", s.nextHostModule)
	s.nextHostModule++
	return name
}
