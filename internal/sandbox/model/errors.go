// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the lifecycle operations that raise rather than
// return a tagged result.
var (
	// ErrInvalidConfig is returned if Create is given a config that
	// cannot be satisfied.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrUnknownInstance is returned by any operation addressing an
	// instance ID the registry has never issued.
	ErrUnknownInstance = errors.New("unknown instance")
	// ErrNotReady is returned by Load when the instance is not in
	// StatusCreated (already loaded, running, suspended, or destroyed).
	ErrNotReady = errors.New("not ready")
)

// ErrorCode tags the eight-variant failure taxonomy carried inside a
// failed ExecutionResult, or returned directly by the raising lifecycle
// operations.
type ErrorCode string

const (
	ErrGasExhausted      ErrorCode = "GAS_EXHAUSTED"
	ErrMemoryExceeded    ErrorCode = "MEMORY_EXCEEDED"
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrWasmTrap          ErrorCode = "WASM_TRAP"
	ErrInvalidModule     ErrorCode = "INVALID_MODULE"
	ErrHostFunctionError ErrorCode = "HOST_FUNCTION_ERROR"
	ErrInstanceDestroyed ErrorCode = "INSTANCE_DESTROYED"
	ErrSnapshotError     ErrorCode = "SNAPSHOT_ERROR"
)

// Error is the typed failure value carried by ExecutionResult and
// returned by the raising lifecycle operations. Only the fields
// relevant to Code are populated; the rest are zero.
type Error struct {
	Code ErrorCode

	GasUsed, GasLimit       uint64
	MemoryUsed, MemoryLimit uint32
	ElapsedMS, LimitMS      int64
	TrapKind, Message       string
	Reason                  string
	FunctionName            string
	InstanceID              string
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrGasExhausted:
		return fmt.Sprintf("gas exhausted: used=%d limit=%d", e.GasUsed, e.GasLimit)
	case ErrMemoryExceeded:
		return fmt.Sprintf("memory exceeded: used=%d limit=%d", e.MemoryUsed, e.MemoryLimit)
	case ErrTimeout:
		return fmt.Sprintf("timeout: elapsed=%dms limit=%dms", e.ElapsedMS, e.LimitMS)
	case ErrWasmTrap:
		return fmt.Sprintf("wasm trap (%s): %s", e.TrapKind, e.Message)
	case ErrInvalidModule:
		return fmt.Sprintf("invalid module: %s", e.Reason)
	case ErrHostFunctionError:
		return fmt.Sprintf("host function %q failed: %s", e.FunctionName, e.Message)
	case ErrInstanceDestroyed:
		return fmt.Sprintf("instance %s destroyed", e.InstanceID)
	case ErrSnapshotError:
		return fmt.Sprintf("snapshot error: %s", e.Reason)
	default:
		return fmt.Sprintf("sandbox error: %s", e.Code)
	}
}
