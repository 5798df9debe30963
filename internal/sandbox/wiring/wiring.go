// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package wiring implements the Import Wirer / Instantiator (Component
// C): it builds the host-side binding table (env.memory,
// env.__get_time, env.__get_random, and every declared host function),
// each wrapped to charge gas and check the deadline before running,
// then instantiates the module against that table.
//
// Every instance owns a private wazero.Runtime (mirroring the
// teacher's wazero_sdk VM, whose constructor takes an explicit
// *wazero.Runtime per VM): a guest module always imports from a host
// module literally named "env", and a wazero Runtime permits only one
// module of a given name to be instantiated at a time, so instances
// with distinct host-function sets cannot share one Runtime's
// namespace. internal/sandbox/loader validates and caches compiled
// modules on its own separate, never-instantiated Runtime purely to
// inspect declared imports; wiring recompiles the already-validated
// bytes on the instance's own Runtime to instantiate them.
package wiring

import (
	"context"
	"errors"
	"fmt"

	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/model"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/resources"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// defaultGasCost is charged per host-call boundary unless a
// HostFunction declares a non-zero GasCost override.
const defaultGasCost = 1

// Wired is the result of a successful Wire call: the live guest module
// handle, its memory handle (nil if it declared none), and the private
// runtime both now belong to.
type Wired struct {
	Module  api.Module
	Memory  api.Memory
	Runtime wazero.Runtime
}

// Wire compiles wasmBytes on a fresh private runtime, builds the
// env.<name> host bindings described by config, and instantiates the
// guest against them. execCell is a pointer the executor repoints at
// the live *resources.ExecutionContext for the duration of each
// execute() call (and clears between calls); the host closures below
// read through it so they always charge the currently-running
// execution, never a stale one.
func Wire(ctx context.Context, wasmBytes []byte, config model.SandboxConfig, prng *resources.PRNG, execCell **resources.ExecutionContext) (*Wired, *model.Error) {
	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithMemoryLimitPages(resources.Pages(config.MaxMemoryBytes)))

	cm, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, &model.Error{Code: model.ErrInvalidModule, Reason: "compile failed: " + err.Error()}
	}

	builder := runtime.NewHostModuleBuilder("env")

	if importsMemory(cm) {
		builder.ExportMemoryWithMax("memory", 1, resources.Pages(config.MaxMemoryBytes))
	}

	builder.NewFunctionBuilder().
		WithFunc(func(context.Context) int32 {
			abortIfResourceError(execCell, defaultGasCost)
			return int32(config.EventTimestamp)
		}).
		Export("__get_time")

	builder.NewFunctionBuilder().
		WithFunc(func(context.Context) int32 {
			abortIfResourceError(execCell, defaultGasCost)
			return int32(prng.Next())
		}).
		Export("__get_random")

	for _, fn := range config.HostFunctions {
		fn := fn // capture for the closure below
		cost := fn.GasCost
		if cost == 0 {
			cost = defaultGasCost
		}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
				abortIfResourceError(execCell, cost)
				result, herr := fn.Handler(stack)
				if herr != nil {
					panic(hostCallAbort{err: &model.Error{
						Code:         model.ErrHostFunctionError,
						FunctionName: fn.Name,
						Message:      herr.Error(),
					}})
				}
				if len(fn.Results) > 0 {
					stack[0] = result
				}
			}), toAPIValueTypes(fn.Params), toAPIValueTypes(fn.Results)).
			Export(fn.Name)
	}

	envMod, err := builder.Instantiate(ctx)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, classifyInstantiationError(err)
	}

	mod, err := runtime.InstantiateModule(ctx, cm, wazero.NewModuleConfig())
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, classifyInstantiationError(err)
	}

	// A module that declares its own memory (rather than importing
	// env.memory) owns its own handle; one that imports env.memory
	// reads it through the host module that exported it.
	mem := mod.Memory()
	if mem == nil {
		mem = envMod.Memory()
	}

	return &Wired{Module: mod, Memory: mem, Runtime: runtime}, nil
}

// importsMemory reports whether cm declares an import of env.memory.
func importsMemory(cm wazero.CompiledModule) bool {
	return len(cm.ImportedMemories()) > 0
}

// hostCallAbort is the panic payload a host-call closure raises to
// unwind out of a running WASM call immediately. wazero recovers
// panics raised from within a host function and, since hostCallAbort
// implements error, surfaces it (wrapped) as the error returned by the
// call that triggered it (a builder.Instantiate during wiring, or an
// exported function's Call during execution) — AsHostCallAbort below
// recovers the carried *model.Error from that returned error in both
// places.
type hostCallAbort struct {
	err *model.Error
}

func (h hostCallAbort) Error() string { return h.err.Error() }

// AsHostCallAbort extracts the *model.Error carried by a panic raised
// from inside a host-call closure, if err actually originated from one.
// wazero recovers the panic and returns it wrapped (via
// wasmdebug.FromRecovered's fmt.Errorf("%w (recovered by wazero)...")),
// so this must walk the error chain with errors.As rather than assert
// err's concrete type directly.
func AsHostCallAbort(err error) (*model.Error, bool) {
	var abort hostCallAbort
	if errors.As(err, &abort) {
		return abort.err, true
	}
	return nil, false
}

// abortIfResourceError charges cost gas and checks the deadline against
// whatever ExecutionContext *execCell currently points at, panicking a
// hostCallAbort carrying the classified *model.Error if either signal
// fires. A nil cell or nil context means no execution is in flight;
// every host import is only ever invoked from inside an
// Executor.Execute call, which always sets one, so that case is purely
// a defensive fallback.
func abortIfResourceError(execCell **resources.ExecutionContext, cost uint64) {
	if execCell == nil || *execCell == nil {
		return
	}
	if err := (*execCell).ChargeAndCheck(cost); err != nil {
		panic(hostCallAbort{err: toResourceError(err)})
	}
}

// toResourceError classifies a resources-package signal (GasExhausted,
// Timeout) into the matching tagged *model.Error variant; anything else
// becomes a generic runtime-error trap.
func toResourceError(err error) *model.Error {
	var gasErr *resources.GasExhausted
	if errors.As(err, &gasErr) {
		return &model.Error{Code: model.ErrGasExhausted, GasUsed: gasErr.GasUsed, GasLimit: gasErr.GasLimit}
	}
	var timeoutErr *resources.Timeout
	if errors.As(err, &timeoutErr) {
		return &model.Error{Code: model.ErrTimeout, ElapsedMS: timeoutErr.ElapsedMS, LimitMS: timeoutErr.LimitMS}
	}
	return &model.Error{Code: model.ErrWasmTrap, TrapKind: "runtime_error", Message: err.Error()}
}

func toAPIValueTypes(vts []model.ValueType) []api.ValueType {
	out := make([]api.ValueType, len(vts))
	for i, vt := range vts {
		switch vt {
		case model.I64:
			out[i] = api.ValueTypeI64
		case model.F32:
			out[i] = api.ValueTypeF32
		case model.F64:
			out[i] = api.ValueTypeF64
		default:
			out[i] = api.ValueTypeI32
		}
	}
	return out
}

// classifyInstantiationError maps a wazero instantiation failure to
// INVALID_MODULE or HOST_FUNCTION_ERROR per spec.md §4.C: a recovered
// hostCallAbort (a host handler raising during an eager, start-function
// style call) is HOST_FUNCTION_ERROR with its function name preserved;
// anything else — unresolved imports, bad signatures, missing exports —
// is INVALID_MODULE.
func classifyInstantiationError(err error) *model.Error {
	if abort, ok := AsHostCallAbort(err); ok {
		return abort
	}
	return &model.Error{Code: model.ErrInvalidModule, Reason: fmt.Sprintf("instantiation failed: %s", err.Error())}
}
