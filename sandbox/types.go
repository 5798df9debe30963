// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package sandbox is an embeddable WebAssembly sandbox that executes
// untrusted bytecode under strict determinism and bounded resources. It
// glues together module loading, import isolation, resource metering, and
// a binary snapshot codec behind a small lifecycle API: create, load,
// execute, snapshot, restore, destroy, get_metrics.
package sandbox

import "github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/model"

// The data model is defined in internal/sandbox/model so that the
// component packages (registry, loader, wiring, exec, snapshot) can
// share it without importing this package and creating a cycle; these
// aliases are the types callers of this package actually see.
type (
	ValueType       = model.ValueType
	HostFunction    = model.HostFunction
	SandboxConfig   = model.SandboxConfig
	Status          = model.Status
	ResourceMetrics = model.ResourceMetrics
	SandboxInstance = model.SandboxInstance
	ExecutionResult = model.ExecutionResult
)

const (
	I32 = model.I32
	I64 = model.I64
	F32 = model.F32
	F64 = model.F64
)

const (
	StatusCreated   = model.StatusCreated
	StatusLoaded    = model.StatusLoaded
	StatusRunning   = model.StatusRunning
	StatusSuspended = model.StatusSuspended
	StatusDestroyed = model.StatusDestroyed
)
