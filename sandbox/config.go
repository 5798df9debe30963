// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package sandbox

import "fmt"

// ConfigBuilder constructs a SandboxConfig with the teacher's fluent
// With* pattern. Invalid combinations set a delayed configErr that
// Build surfaces, rather than failing eagerly on the offending call,
// so a chain of With* calls can be written without a break for error
// checks after each one.
type ConfigBuilder struct {
	configErr error
	cfg       SandboxConfig
}

// NewConfig returns a builder with no memory/gas/time limits set; at
// least WithMaxMemoryBytes, WithMaxGas, WithMaxExecutionMS, and
// WithEventTimestamp must be called before Build succeeds.
func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{
		cfg: SandboxConfig{
			HostFunctions: make(map[string]HostFunction),
		},
	}
}

// WithMaxMemoryBytes sets the linear-memory cap in bytes.
func (b *ConfigBuilder) WithMaxMemoryBytes(n uint32) *ConfigBuilder {
	if n == 0 {
		b.configErr = fmt.Errorf("max memory bytes must be non-zero: %w", ErrInvalidConfig)
		return b
	}
	b.cfg.MaxMemoryBytes = n
	return b
}

// WithMaxGas sets the gas budget.
func (b *ConfigBuilder) WithMaxGas(n uint64) *ConfigBuilder {
	if n == 0 {
		b.configErr = fmt.Errorf("max gas must be non-zero: %w", ErrInvalidConfig)
		return b
	}
	b.cfg.MaxGas = n
	return b
}

// WithMaxExecutionMS sets the wall-clock deadline budget, in
// milliseconds.
func (b *ConfigBuilder) WithMaxExecutionMS(ms int64) *ConfigBuilder {
	if ms <= 0 {
		b.configErr = fmt.Errorf("max execution ms must be positive: %w", ErrInvalidConfig)
		return b
	}
	b.cfg.MaxExecutionMS = ms
	return b
}

// WithDeterministicSeed sets the PRNG seed.
func (b *ConfigBuilder) WithDeterministicSeed(seed uint32) *ConfigBuilder {
	b.cfg.DeterministicSeed = seed
	return b
}

// WithEventTimestamp sets the injected "now" value, in milliseconds
// since epoch, returned to guest code by __get_time. Required: the
// core never reads a clock on its own initiative.
func (b *ConfigBuilder) WithEventTimestamp(ms int64) *ConfigBuilder {
	b.cfg.EventTimestamp = ms
	return b
}

// WithHostFunction declares a host function reachable from guest code
// at env.<fn.Name>. fn.Name is authoritative; key is advisory and only
// used to look the function back up from SandboxConfig.HostFunctions.
func (b *ConfigBuilder) WithHostFunction(key string, fn HostFunction) *ConfigBuilder {
	if fn.Name == "" {
		b.configErr = fmt.Errorf("host function %q: name is required: %w", key, ErrInvalidConfig)
		return b
	}
	if fn.Handler == nil {
		b.configErr = fmt.Errorf("host function %q: handler is required: %w", fn.Name, ErrInvalidConfig)
		return b
	}
	b.cfg.HostFunctions[key] = fn
	return b
}

// Build validates and returns the assembled config, or the first
// configErr recorded by a prior With* call.
func (b *ConfigBuilder) Build() (SandboxConfig, error) {
	if b.configErr != nil {
		return SandboxConfig{}, b.configErr
	}
	if b.cfg.MaxMemoryBytes == 0 {
		return SandboxConfig{}, fmt.Errorf("max memory bytes not set: %w", ErrInvalidConfig)
	}
	if b.cfg.MaxGas == 0 {
		return SandboxConfig{}, fmt.Errorf("max gas not set: %w", ErrInvalidConfig)
	}
	if b.cfg.MaxExecutionMS == 0 {
		return SandboxConfig{}, fmt.Errorf("max execution ms not set: %w", ErrInvalidConfig)
	}
	if b.cfg.EventTimestamp == 0 {
		return SandboxConfig{}, fmt.Errorf("event timestamp not set: %w", ErrInvalidConfig)
	}
	return b.cfg, nil
}
