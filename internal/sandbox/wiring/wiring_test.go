// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package wiring

import (
	"context"
	"testing"

	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/model"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/resources"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/wasmfixture"
)

func TestWireAddNoImports(t *testing.T) {
	ctx := context.Background()
	cfg := model.SandboxConfig{MaxMemoryBytes: 65536, MaxGas: 1000, MaxExecutionMS: 1000}
	var cell *resources.ExecutionContext

	wired, err := Wire(ctx, wasmfixture.Add(), cfg, resources.NewPRNG(1), &cell)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer wired.Runtime.Close(ctx)

	fn := wired.Module.ExportedFunction("add")
	if fn == nil {
		t.Fatalf("expected exported function add")
	}
	results, callErr := fn.Call(ctx, 2, 3)
	if callErr != nil {
		t.Fatalf("call failed: %v", callErr)
	}
	if results[0] != 5 {
		t.Fatalf("expected 5, got %d", results[0])
	}
}

func TestWireFibChargesGasPerGetTimeCall(t *testing.T) {
	ctx := context.Background()
	cfg := model.SandboxConfig{MaxMemoryBytes: 65536, MaxGas: 1000, MaxExecutionMS: 1000}
	var cell *resources.ExecutionContext

	wired, err := Wire(ctx, wasmfixture.Fib(), cfg, resources.NewPRNG(1), &cell)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer wired.Runtime.Close(ctx)

	execCtx := resources.NewExecutionContext(cfg.MaxGas, cfg.MaxExecutionMS, func() int64 { return 0 })
	cell = execCtx

	fn := wired.Module.ExportedFunction("fib")
	results, callErr := fn.Call(ctx, 20)
	if callErr != nil {
		t.Fatalf("call failed: %v", callErr)
	}
	if results[0] != 6765 {
		t.Fatalf("expected fib(20) == 6765, got %d", results[0])
	}
	if execCtx.Gas.Used() != 21 {
		t.Fatalf("expected 21 __get_time calls charged, got %d", execCtx.Gas.Used())
	}
}

func TestWireGasExhaustionAbortsCall(t *testing.T) {
	ctx := context.Background()
	cfg := model.SandboxConfig{MaxMemoryBytes: 65536, MaxGas: 5, MaxExecutionMS: 1000}
	var cell *resources.ExecutionContext

	wired, err := Wire(ctx, wasmfixture.Loop(), cfg, resources.NewPRNG(1), &cell)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer wired.Runtime.Close(ctx)

	execCtx := resources.NewExecutionContext(cfg.MaxGas, cfg.MaxExecutionMS, func() int64 { return 0 })
	cell = execCtx

	fn := wired.Module.ExportedFunction("loop")
	_, callErr := fn.Call(ctx)
	if callErr == nil {
		t.Fatalf("expected loop() to abort once gas is exhausted")
	}
	if !execCtx.Gas.Exhausted() {
		t.Fatalf("expected the gas meter to record exhaustion")
	}
}

func TestWireHostFunctionForwardsArgument(t *testing.T) {
	ctx := context.Background()
	cfg := model.SandboxConfig{
		MaxMemoryBytes: 65536, MaxGas: 1000, MaxExecutionMS: 1000,
		HostFunctions: map[string]model.HostFunction{
			"double": {
				Name:    "double",
				Params:  []model.ValueType{model.I32},
				Results: []model.ValueType{model.I32},
				Handler: func(args []uint64) (uint64, error) {
					return args[0] * 2, nil
				},
			},
		},
	}
	var cell *resources.ExecutionContext

	wired, err := Wire(ctx, wasmfixture.HostFunctionCaller("double"), cfg, resources.NewPRNG(1), &cell)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer wired.Runtime.Close(ctx)

	execCtx := resources.NewExecutionContext(cfg.MaxGas, cfg.MaxExecutionMS, func() int64 { return 0 })
	cell = execCtx

	fn := wired.Module.ExportedFunction("callHost")
	results, callErr := fn.Call(ctx, 21)
	if callErr != nil {
		t.Fatalf("call failed: %v", callErr)
	}
	if results[0] != 42 {
		t.Fatalf("expected 42, got %d", results[0])
	}
}

func TestWireAllocateHasOwnMemory(t *testing.T) {
	ctx := context.Background()
	cfg := model.SandboxConfig{MaxMemoryBytes: 3 * 65536, MaxGas: 1000, MaxExecutionMS: 1000}
	var cell *resources.ExecutionContext

	wired, err := Wire(ctx, wasmfixture.Allocate(), cfg, resources.NewPRNG(1), &cell)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer wired.Runtime.Close(ctx)

	if wired.Memory == nil {
		t.Fatalf("expected a memory handle")
	}
	if wired.Memory.Size() != 65536 {
		t.Fatalf("expected one page (65536 bytes) initially, got %d", wired.Memory.Size())
	}
}

func TestWireInvalidModuleIsRejected(t *testing.T) {
	ctx := context.Background()
	cfg := model.SandboxConfig{MaxMemoryBytes: 65536, MaxGas: 1000, MaxExecutionMS: 1000}
	var cell *resources.ExecutionContext

	_, err := Wire(ctx, []byte{0, 1, 2, 3, 4, 5, 6, 7}, cfg, resources.NewPRNG(1), &cell)
	if err == nil {
		t.Fatalf("expected garbage bytes to be rejected")
	}
	if err.Code != model.ErrInvalidModule {
		t.Fatalf("expected ErrInvalidModule, got %v", err.Code)
	}
}

func TestTwoInstancesEachGetPrivateEnvNamespace(t *testing.T) {
	ctx := context.Background()
	cfg := model.SandboxConfig{MaxMemoryBytes: 65536, MaxGas: 1000, MaxExecutionMS: 1000}
	var cellA, cellB *resources.ExecutionContext

	a, err := Wire(ctx, wasmfixture.Add(), cfg, resources.NewPRNG(1), &cellA)
	if err != nil {
		t.Fatalf("wire a: %v", err)
	}
	defer a.Runtime.Close(ctx)

	b, err := Wire(ctx, wasmfixture.Add(), cfg, resources.NewPRNG(2), &cellB)
	if err != nil {
		t.Fatalf("wire b: %v", err)
	}
	defer b.Runtime.Close(ctx)

	if a.Runtime == b.Runtime {
		t.Fatalf("expected each instance to own a distinct runtime")
	}
}
