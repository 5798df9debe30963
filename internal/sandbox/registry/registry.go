// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package registry implements the instance registry and lifecycle state
// machine (Component A): stable ID issuance, the InternalState map, and
// the created and destroyed transitions. The remaining transitions are
// checked by the packages that perform them. Module compilation,
// instantiation, execution, and snapshotting are implemented by sibling
// packages and reach the state this package owns through State's
// exported fields — mirroring how the teacher's opa.pool owns a slice of
// *vm while internal/wasm.VM itself holds the per-instance mutable
// fields.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/model"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/resources"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// State is the InternalState of a single instance: the fields named in
// model.SandboxConfig plus everything a loaded, running, or snapshotted
// instance additionally needs. An instance exclusively owns its Memory,
// Compiled module, and Module handle, and its PRNG; the Registry
// exclusively owns the map these are stored in.
type State struct {
	mu sync.Mutex

	ID     string
	Config model.SandboxConfig
	Status model.Status

	// Runtime is this instance's private wazero.Runtime (see
	// internal/sandbox/wiring); closing it tears down the instantiated
	// module, its host bindings, and the compiled module together.
	Runtime wazero.Runtime
	Module  api.Module
	Memory  api.Memory

	PRNG *resources.PRNG
	Exec *resources.ExecutionContext

	GasUsed uint64
}

// Lock and Unlock expose the per-instance mutex so the executor and
// snapshot codec can serialize their (already cooperative,
// single-caller) access alongside the registry's own bookkeeping.
func (s *State) Lock()   { s.mu.Lock() }
func (s *State) Unlock() { s.mu.Unlock() }

// Metrics projects the instance's current ResourceMetrics from its
// live fields.
func (s *State) Metrics() model.ResourceMetrics {
	m := model.ResourceMetrics{
		MemoryLimitBytes: s.Config.MaxMemoryBytes,
		GasLimit:         s.Config.MaxGas,
		GasUsed:          s.GasUsed,
		ExecutionLimitMS: s.Config.MaxExecutionMS,
	}
	if s.Memory != nil {
		m.MemoryUsedBytes = s.Memory.Size()
	}
	if s.Exec != nil {
		m.GasUsed = s.Exec.Gas.Used()
		m.ExecutionMS = s.Exec.Deadline.ElapsedMS()
	}
	return m
}

// Projection returns the public, read-only SandboxInstance view.
func (s *State) Projection() model.SandboxInstance {
	return model.SandboxInstance{
		ID:      s.ID,
		Config:  s.Config,
		Status:  s.Status,
		Metrics: s.Metrics(),
	}
}

// Registry owns the ID -> State map and the monotonic ID counter.
// Map mutation (Create/Destroy adding or removing entries) is guarded
// by mu; a looked-up *State's own fields are the caller's (executor's,
// snapshot codec's) responsibility to serialize, per the single-caller
// cooperative concurrency model.
type Registry struct {
	mu      sync.Mutex
	next    uint64
	entries map[string]*State
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*State)}
}

// Create allocates a fresh instance in StatusCreated: it seeds a PRNG
// from config.DeterministicSeed, zeroes metrics, and issues the next
// monotonic ID. Linear memory is not allocated here: it comes into
// existence at Load time, when internal/sandbox/wiring instantiates the
// module under a page ceiling derived from config.MaxMemoryBytes;
// Create only reserves the ID and seeds the PRNG up front so
// snapshot/restore semantics that touch the PRNG before any load are
// well-defined.
func (r *Registry) Create(config model.SandboxConfig) *State {
	r.mu.Lock()
	id := fmt.Sprintf("sandbox-%d", r.next)
	r.next++

	s := &State{
		ID:     id,
		Config: config,
		Status: model.StatusCreated,
		PRNG:   resources.NewPRNG(config.DeterministicSeed),
	}
	r.entries[id] = s
	r.mu.Unlock()

	return s
}

// Get returns the instance by ID, or model.ErrUnknownInstance.
func (r *Registry) Get(id string) (*State, error) {
	r.mu.Lock()
	s, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return nil, model.ErrUnknownInstance
	}
	return s, nil
}

// Destroy is idempotent: on any non-destroyed state it closes the
// instance's private runtime (tearing down the module, its host
// bindings, and the compiled module together), clears the resource
// context, and sets status to destroyed. A second call, or a call on
// an unknown ID, is a no-op.
func (r *Registry) Destroy(id string) {
	r.mu.Lock()
	s, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	s.Lock()
	defer s.Unlock()

	if s.Status == model.StatusDestroyed {
		return
	}

	if s.Runtime != nil {
		_ = s.Runtime.Close(context.Background())
	}

	s.Runtime = nil
	s.Module = nil
	s.Memory = nil
	s.Exec = nil
	s.Status = model.StatusDestroyed
}
