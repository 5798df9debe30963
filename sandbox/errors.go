// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package sandbox

import "github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/model"

// Sentinel errors for the lifecycle operations that raise rather than
// return a tagged result.
var (
	ErrInvalidConfig   = model.ErrInvalidConfig
	ErrUnknownInstance = model.ErrUnknownInstance
	ErrNotReady        = model.ErrNotReady
)

// ErrorCode tags the eight-variant failure taxonomy carried inside a
// failed ExecutionResult, or returned directly by the raising lifecycle
// operations.
type ErrorCode = model.ErrorCode

const (
	ErrGasExhausted      = model.ErrGasExhausted
	ErrMemoryExceeded    = model.ErrMemoryExceeded
	ErrTimeout           = model.ErrTimeout
	ErrWasmTrap          = model.ErrWasmTrap
	ErrInvalidModule     = model.ErrInvalidModule
	ErrHostFunctionError = model.ErrHostFunctionError
	ErrInstanceDestroyed = model.ErrInstanceDestroyed
	ErrSnapshotError     = model.ErrSnapshotError
)

// Error is the typed failure value carried by ExecutionResult and
// returned by the raising lifecycle operations.
type Error = model.Error
