// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package resources

// ExecutionContext bundles the per-execution resource trackers: a fresh gas
// meter, a deadline checker, and any host-function errors accumulated along
// the way. The executor creates one of these per execute() call and attaches
// it to the instance so host-call closures can reach it.
type ExecutionContext struct {
	Gas        *GasMeter
	Deadline   *DeadlineChecker
	HostErrors []error
}

// NewExecutionContext builds a fresh context for one execution.
func NewExecutionContext(gasLimit uint64, deadlineMS int64, now NowFunc) *ExecutionContext {
	return &ExecutionContext{
		Gas:      NewGasMeter(gasLimit),
		Deadline: NewDeadlineChecker(deadlineMS, now),
	}
}

// ChargeAndCheck consumes gas and checks the deadline, in that order, as
// required at every host-call boundary: gas is charged before the handler
// body runs, and the deadline is checked before entering it.
func (c *ExecutionContext) ChargeAndCheck(gasAmount uint64) error {
	if err := c.Gas.Consume(gasAmount); err != nil {
		return err
	}
	return c.Deadline.Check()
}

// Metrics is the immutable, caller-facing resource summary assembled after
// an execution completes (success or failure). It is always fully
// populated.
type Metrics struct {
	MemoryUsedBytes  uint32
	MemoryLimitBytes uint32
	GasUsed          uint64
	GasLimit         uint64
	ExecutionMS      int64
	ExecutionLimitMS int64
}

// BuildMetrics assembles a Metrics value from an execution's resource
// context and live memory handle.
func BuildMetrics(ctx *ExecutionContext, mem Memory, memoryLimitBytes uint32) Metrics {
	m := Metrics{MemoryLimitBytes: memoryLimitBytes}
	if ctx != nil {
		m.GasUsed = ctx.Gas.Used()
		m.GasLimit = ctx.Gas.Limit()
		m.ExecutionMS = ctx.Deadline.ElapsedMS()
		m.ExecutionLimitMS = ctx.Deadline.LimitMS()
	}
	m.MemoryUsedBytes = UsageBytes(mem)
	return m
}
