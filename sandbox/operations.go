// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package sandbox

import (
	"context"

	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/loader"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/model"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/snapshot"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/wiring"
	"github.com/Robust-infrastructure/ri-sandbox/metrics"
)

// Create allocates a fresh instance in StatusCreated. It raises
// ErrInvalidConfig if config cannot be satisfied — every other field
// validation already happened in the caller's ConfigBuilder.Build, so
// the only thing left to check here is the zero-value floor shared by
// every caller, builder or not.
func (s *Sandbox) Create(config SandboxConfig) (SandboxInstance, error) {
	if config.MaxMemoryBytes == 0 || config.MaxGas == 0 || config.MaxExecutionMS <= 0 {
		return SandboxInstance{}, ErrInvalidConfig
	}
	return s.reg.Create(config).Projection(), nil
}

// Load validates wasmBytes against the shape check, compile, and
// import-isolation gate (internal/sandbox/loader), then wires and
// instantiates it (internal/sandbox/wiring) against instanceID's
// config. On success the instance moves to StatusLoaded. Load is only
// legal from StatusCreated; it raises ErrNotReady against an instance
// that is already loaded, running, suspended, or destroyed rather than
// silently re-wiring it.
func (s *Sandbox) Load(ctx context.Context, instanceID string, wasmBytes []byte) error {
	st := s.metrics.Timer(metrics.SandboxVMEval)
	st.Start()
	defer st.Stop()

	entry, err := s.reg.Get(instanceID)
	if err != nil {
		return err
	}

	entry.Lock()
	defer entry.Unlock()

	if entry.Status != model.StatusCreated {
		return ErrNotReady
	}

	cm, cerr := s.cache.Compile(ctx, wasmBytes)
	if cerr != nil {
		return cerr
	}
	if _, cerr := loader.CheckImports(cm, entry.Config.HostFunctions); cerr != nil {
		return cerr
	}

	wired, werr := wiring.Wire(ctx, wasmBytes, entry.Config, entry.PRNG, &entry.Exec)
	if werr != nil {
		return werr
	}

	entry.Runtime = wired.Runtime
	entry.Module = wired.Module
	entry.Memory = wired.Memory
	entry.Status = model.StatusLoaded

	return nil
}

// Execute runs action against instanceID with payload and never
// raises: every failure mode is folded into the returned
// ExecutionResult's Err field. If this Sandbox was constructed with
// WithMaxConcurrentExecutions, Execute blocks until a slot is free or
// ctx is done; on context cancellation it returns a TIMEOUT-coded
// result rather than propagating ctx.Err() directly, so callers never
// have to distinguish pool back-pressure from an in-VM deadline.
func (s *Sandbox) Execute(ctx context.Context, instanceID, action string, payload interface{}) ExecutionResult {
	if s.execPool != nil {
		at := s.metrics.Timer(metrics.SandboxPoolAcquire)
		at.Start()
		err := s.execPool.Acquire(ctx)
		at.Stop()
		if err != nil {
			return ExecutionResult{OK: false, Err: &model.Error{Code: model.ErrTimeout, Message: "execution pool: " + err.Error()}}
		}
		defer func() {
			s.execPool.Release()
			s.metrics.Counter(metrics.SandboxPoolRelease).Incr()
		}()
	}

	t := s.metrics.Timer(metrics.SandboxVMEvalExecute)
	t.Start()
	defer t.Stop()

	result := s.executor.Execute(ctx, instanceID, action, payload)

	if result.Err != nil {
		switch result.Err.Code {
		case model.ErrGasExhausted:
			s.metrics.Counter(metrics.SandboxGasExhausted).Incr()
		case model.ErrTimeout:
			s.metrics.Counter(metrics.SandboxTimeout).Incr()
		case model.ErrMemoryExceeded:
			s.metrics.Counter(metrics.SandboxMemoryExceeded).Incr()
		}
	}

	metrics.ExportToPrometheus(s.metrics)

	return result
}

// Destroy tears down instanceID's runtime and marks it destroyed. It
// never raises: destroying an unknown or already-destroyed instance is
// a no-op.
func (s *Sandbox) Destroy(instanceID string) {
	s.reg.Destroy(instanceID)
}

// Snapshot serializes instanceID's linear memory and determinism-kernel
// state into the WSNP wire format.
func (s *Sandbox) Snapshot(instanceID string) ([]byte, error) {
	entry, err := s.reg.Get(instanceID)
	if err != nil {
		return nil, err
	}
	data, serr := snapshot.Snapshot(entry)
	if serr != nil {
		return nil, serr
	}
	return data, nil
}

// Restore validates data as a WSNP snapshot and, only if every check
// passes, overwrites instanceID's linear memory and determinism-kernel
// state in place.
func (s *Sandbox) Restore(instanceID string, data []byte) error {
	entry, err := s.reg.Get(instanceID)
	if err != nil {
		return err
	}
	if rerr := snapshot.Restore(entry, data); rerr != nil {
		return rerr
	}
	return nil
}

// GetMetrics returns instanceID's current ResourceMetrics. It raises
// ErrInstanceDestroyed if the instance has been destroyed.
func (s *Sandbox) GetMetrics(instanceID string) (ResourceMetrics, error) {
	entry, err := s.reg.Get(instanceID)
	if err != nil {
		return ResourceMetrics{}, err
	}

	entry.Lock()
	defer entry.Unlock()

	if entry.Status == model.StatusDestroyed {
		return ResourceMetrics{}, &model.Error{Code: model.ErrInstanceDestroyed, InstanceID: instanceID}
	}
	return entry.Metrics(), nil
}
