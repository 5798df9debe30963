// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package resources implements the sandbox's resource-enforcement triad
// (gas metering, deadline checking, memory limiting) and the determinism
// kernel's seeded PRNG. Every execute() call gets a fresh ExecutionContext
// built from these pieces.
package resources

import "fmt"

// GasExhausted is raised internally when a gas charge would exceed the
// configured budget. It is caught by the executor and never escapes to a
// caller.
type GasExhausted struct {
	GasUsed  uint64
	GasLimit uint64
}

func (e *GasExhausted) Error() string {
	return fmt.Sprintf("gas exhausted: used=%d limit=%d", e.GasUsed, e.GasLimit)
}

// GasMeter tracks cumulative gas consumption for a single execution.
// Exact-budget consumption (gas_used == gas_limit) is not exhaustion;
// any charge that would push gas_used past gas_limit is.
type GasMeter struct {
	used      uint64
	limit     uint64
	exhausted bool
}

// NewGasMeter returns a fresh meter with zero usage.
func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{limit: limit}
}

// Consume charges amount units of gas, defaulting to 1 when amount is zero.
// It returns a *GasExhausted error, recording the exceeding (not merely the
// limit) value, if the charge pushes usage past the limit.
func (g *GasMeter) Consume(amount uint64) error {
	if amount == 0 {
		amount = 1
	}

	if g.exhausted || g.used+amount > g.limit {
		g.exhausted = true
		g.used += amount
		return &GasExhausted{GasUsed: g.used, GasLimit: g.limit}
	}

	g.used += amount
	return nil
}

// Used returns the cumulative gas charged so far.
func (g *GasMeter) Used() uint64 {
	return g.used
}

// Limit returns the configured gas budget.
func (g *GasMeter) Limit() uint64 {
	return g.limit
}

// Exhausted reports whether the meter has ever recorded exhaustion.
func (g *GasMeter) Exhausted() bool {
	return g.exhausted
}

// Reset restores the meter to a fresh, unexhausted state with the same
// limit.
func (g *GasMeter) Reset() {
	g.used = 0
	g.exhausted = false
}
