// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package model holds the sandbox's core data types: config, instance
// projection, metrics, and the tagged execution result. It has no
// dependencies of its own, so every component package (registry,
// loader, wiring, exec, snapshot) and the public sandbox package can
// import it without risking an import cycle.
package model

// ValueType is a WASM value type, used only to describe a HostFunction's
// signature; the sandbox never needs more than the four numeric types.
type ValueType int

const (
	I32 ValueType = iota
	I64
	F32
	F64
)

// HostFunction is a single user-supplied function injected into a
// loaded module at env.<Name>. Name is authoritative for the exported
// symbol; the key used in SandboxConfig.HostFunctions is advisory only.
// GasCost overrides the default charge of 1 gas per invocation; zero
// means "use the default".
type HostFunction struct {
	Name    string
	Params  []ValueType
	Results []ValueType
	GasCost uint64
	Handler func(args []uint64) (uint64, error)
}

// SandboxConfig is immutable once bound to an instance by Create. No
// field defaults to a clock or entropy read inside the core — the
// caller supplies both EventTimestamp and DeterministicSeed.
type SandboxConfig struct {
	MaxMemoryBytes    uint32
	MaxGas            uint64
	MaxExecutionMS    int64
	HostFunctions     map[string]HostFunction
	DeterministicSeed uint32
	EventTimestamp    int64
}

// Status is the instance lifecycle state, one of five values with a
// fixed state machine. The registry sets created and destroyed; the
// executor, the snapshot codec, and Sandbox.Load check and set the rest.
type Status int

const (
	StatusCreated Status = iota
	StatusLoaded
	StatusRunning
	StatusSuspended
	StatusDestroyed
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusLoaded:
		return "loaded"
	case StatusRunning:
		return "running"
	case StatusSuspended:
		return "suspended"
	case StatusDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ResourceMetrics accompanies every ExecutionResult and every
// GetMetrics call; it is fully populated, including on failure, for any
// instance that exists. A result for an unknown instance ID, or for an
// Execute that never obtained an execution-pool slot, carries zero
// metrics.
type ResourceMetrics struct {
	MemoryUsedBytes  uint32
	MemoryLimitBytes uint32
	GasUsed          uint64
	GasLimit         uint64
	ExecutionMS      int64
	ExecutionLimitMS int64
}

// SandboxInstance is the public, read-only projection of an instance.
// The mutable state it reflects lives in the registry, keyed by ID;
// this value is a snapshot taken at the moment it was returned.
type SandboxInstance struct {
	ID      string
	Config  SandboxConfig
	Status  Status
	Metrics ResourceMetrics
}

// ExecutionResult is the tagged union returned by Execute. Err is
// non-nil iff OK is false.
type ExecutionResult struct {
	OK         bool
	Value      interface{}
	Metrics    ResourceMetrics
	GasUsed    uint64
	DurationMS int64
	Err        *Error
}
