// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package exec implements the Executor (Component D): execute()'s
// precondition checks, the direct/linear-memory payload dispatch
// convention, the fresh-per-call ExecutionContext, and the
// eight-variant failure mapping. It never lets an error escape to the
// caller — every path returns a fully-populated model.ExecutionResult,
// mirroring how the teacher's opa.Eval never partially fails: it
// either returns a result or a wrapped error, never both undefined.
package exec

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"

	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/model"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/registry"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/resources"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/wiring"
)

// allocExportName is the export a module must provide to receive a
// linear-memory-mode payload.
const allocExportName = "__alloc"

// Executor runs actions against instances held by a shared registry.
type Executor struct {
	reg *registry.Registry
	now resources.NowFunc
}

// New returns an Executor over reg. A nil now defaults to the
// monotonic wall clock; tests inject a deterministic stand-in.
func New(reg *registry.Registry, now resources.NowFunc) *Executor {
	return &Executor{reg: reg, now: now}
}

// Execute runs action against the instance named id with payload, and
// never raises: every failure mode is folded into the returned
// ExecutionResult's Err field.
func (e *Executor) Execute(ctx context.Context, id, action string, payload interface{}) model.ExecutionResult {
	s, err := e.reg.Get(id)
	if err != nil {
		return fail(&model.Error{Code: model.ErrInstanceDestroyed, InstanceID: id})
	}

	s.Lock()
	defer s.Unlock()

	if s.Status != model.StatusLoaded && s.Status != model.StatusRunning {
		return failWithMetrics(s, trap("invalid_state", "instance "+id+" is not loaded"))
	}
	if s.Module == nil {
		return failWithMetrics(s, trap("no_instance", "instance "+id+" has no live module handle"))
	}
	fn := s.Module.ExportedFunction(action)
	if fn == nil {
		return failWithMetrics(s, trap("missing_export", "no exported function named "+action))
	}

	prevStatus := s.Status
	s.Status = model.StatusRunning

	execCtx := resources.NewExecutionContext(s.Config.MaxGas, s.Config.MaxExecutionMS, e.now)
	execCtx.Deadline.Start()
	s.Exec = execCtx

	defer func() {
		s.GasUsed = execCtx.Gas.Used()
		s.Status = prevStatus
		s.Exec = nil
	}()

	value, callErr := e.dispatch(ctx, s, fn, action, payload)

	metrics := resources.BuildMetrics(execCtx, s.Memory, s.Config.MaxMemoryBytes)

	if callErr != nil {
		return model.ExecutionResult{
			OK:         false,
			Metrics:    toModelMetrics(metrics),
			GasUsed:    metrics.GasUsed,
			DurationMS: metrics.ExecutionMS,
			Err:        classifyExecutionError(callErr),
		}
	}

	if check := resources.CheckMemory(s.Memory, s.Config.MaxMemoryBytes); check.Exceeded {
		return model.ExecutionResult{
			OK:         false,
			Metrics:    toModelMetrics(metrics),
			GasUsed:    metrics.GasUsed,
			DurationMS: metrics.ExecutionMS,
			Err:        &model.Error{Code: model.ErrMemoryExceeded, MemoryUsed: check.Used, MemoryLimit: check.Limit},
		}
	}

	return model.ExecutionResult{
		OK:         true,
		Value:      value,
		Metrics:    toModelMetrics(metrics),
		GasUsed:    metrics.GasUsed,
		DurationMS: metrics.ExecutionMS,
	}
}

// dispatch chooses direct or linear-memory mode per payload's shape
// and invokes fn accordingly, returning the decoded result value.
func (e *Executor) dispatch(ctx context.Context, s *registry.State, fn interface{ Call(context.Context, ...uint64) ([]uint64, error) }, action string, payload interface{}) (interface{}, error) {
	if args, ok := directArgs(payload); ok {
		results, err := fn.Call(ctx, args...)
		if err != nil {
			return nil, err
		}
		return directResult(results), nil
	}
	return e.dispatchLinearMemory(ctx, s, fn, payload)
}

// directArgs reports whether payload is nil, a single number, or a
// slice of numbers, and if so returns its wasm-register encoding.
func directArgs(payload interface{}) ([]uint64, bool) {
	switch v := payload.(type) {
	case nil:
		return nil, true
	case []interface{}:
		args := make([]uint64, 0, len(v))
		for _, item := range v {
			n, ok := toUint64(item)
			if !ok {
				return nil, false
			}
			args = append(args, n)
		}
		return args, true
	default:
		if n, ok := toUint64(v); ok {
			return []uint64{n}, true
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice {
			return nil, false
		}
		args := make([]uint64, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			n, ok := toUint64(rv.Index(i).Interface())
			if !ok {
				return nil, false
			}
			args = append(args, n)
		}
		return args, true
	}
}

func toUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		return uint64(n), true
	case int:
		return uint64(n), true
	case int32:
		return uint64(uint32(n)), true
	case uint32:
		return uint64(n), true
	case float64:
		return uint64(int64(n)), true
	case float32:
		return uint64(int64(n)), true
	default:
		return 0, false
	}
}

// directResult folds a direct-mode call's raw register results into a
// single caller-facing value: no results is nil, one result is that
// register's value, more than one is the slice.
func directResult(results []uint64) interface{} {
	switch len(results) {
	case 0:
		return nil
	case 1:
		return results[0]
	default:
		return results
	}
}

// dispatchLinearMemory serializes payload as JSON, writes it into the
// module's linear memory via its exported __alloc(size) -> ptr, calls
// action(ptr, len), and unpacks/decodes the result per spec.md §4.D:
// the returned value's low 16 bits are a pointer, its upper 16 bits a
// length; if the length is non-zero, that byte range is read back and
// JSON-decoded.
func (e *Executor) dispatchLinearMemory(ctx context.Context, s *registry.State, fn interface{ Call(context.Context, ...uint64) ([]uint64, error) }, payload interface{}) (interface{}, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	allocFn := s.Module.ExportedFunction(allocExportName)
	if allocFn == nil {
		return nil, errMissingAlloc
	}

	allocResults, err := allocFn.Call(ctx, uint64(len(encoded)))
	if err != nil {
		return nil, err
	}
	ptr := uint32(allocResults[0])

	if s.Memory == nil || !s.Memory.Write(ptr, encoded) {
		return nil, errWriteFailed
	}

	results, err := fn.Call(ctx, uint64(ptr), uint64(len(encoded)))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	packed := uint32(results[0])
	outPtr := packed & 0xFFFF
	outLen := (packed >> 16) & 0xFFFF
	if outLen == 0 {
		return nil, nil
	}

	data, ok := s.Memory.Read(outPtr, outLen)
	if !ok {
		return nil, errReadFailed
	}

	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

var (
	errMissingAlloc = trapErr("missing_export", "module does not export __alloc(size) -> ptr")
	errWriteFailed  = trapErr("runtime_error", "failed to write payload into linear memory")
	errReadFailed   = trapErr("runtime_error", "failed to read result from linear memory")
)

// trapErr wraps a synthesized trap as a plain error so it can flow
// through dispatch's ordinary (value, error) return the same way a
// genuine wazero call error does; classifyExecutionError recognizes it
// via errors.As.
type trapErr struct {
	kind    string
	message string
}

func (t trapErr) Error() string { return t.message }

func fail(err *model.Error) model.ExecutionResult {
	return model.ExecutionResult{OK: false, Err: err}
}

// failWithMetrics is fail for an instance that exists: the result also
// carries the instance's current metrics.
func failWithMetrics(s *registry.State, err *model.Error) model.ExecutionResult {
	return model.ExecutionResult{OK: false, Metrics: s.Metrics(), Err: err}
}

func trap(kind, message string) *model.Error {
	return &model.Error{Code: model.ErrWasmTrap, TrapKind: kind, Message: message}
}

// classifyExecutionError maps a failed call's error to the matching
// tagged variant: a recovered host-call abort carries its own already-
// classified *model.Error (GAS_EXHAUSTED, TIMEOUT, or
// HOST_FUNCTION_ERROR); a synthesized trapErr becomes WASM_TRAP with
// its own kind; anything else — an engine-level trap such as an
// out-of-bounds access or unreachable instruction — becomes a generic
// WASM_TRAP{runtime_error}.
func classifyExecutionError(err error) *model.Error {
	if abort, ok := wiring.AsHostCallAbort(err); ok {
		return abort
	}

	var te trapErr
	if errors.As(err, &te) {
		return trap(te.kind, te.message)
	}

	return trap("runtime_error", err.Error())
}

func toModelMetrics(m resources.Metrics) model.ResourceMetrics {
	return model.ResourceMetrics{
		MemoryUsedBytes:  m.MemoryUsedBytes,
		MemoryLimitBytes: m.MemoryLimitBytes,
		GasUsed:          m.GasUsed,
		GasLimit:         m.GasLimit,
		ExecutionMS:      m.ExecutionMS,
		ExecutionLimitMS: m.ExecutionLimitMS,
	}
}
