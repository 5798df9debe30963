// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package sandbox

import (
	"context"

	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/exec"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/loader"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/pool"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/registry"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/resources"
	"github.com/Robust-infrastructure/ri-sandbox/log"
	sandboxmetrics "github.com/Robust-infrastructure/ri-sandbox/metrics"
	"github.com/tetratelabs/wazero"
)

// Sandbox is the embeddable entry point: it owns the instance registry,
// the validating module-compile cache, and the executor, and exposes
// the seven public lifecycle operations described in the interface
// contract. Mirrors the shape of the teacher's OPA SDK type (a thin
// struct gluing a pool, a cache, and delayed-construction state
// together), generalized from "one compiled Rego policy shared by a
// VM pool" to "many independently-loaded WASM instances."
type Sandbox struct {
	cacheSize   int
	maxInFlight int
	now         resources.NowFunc
	logger      log.Logger

	reg          *registry.Registry
	cache        *loader.Cache
	cacheRuntime wazero.Runtime
	executor     *exec.Executor
	execPool     *pool.Pool
	metrics      sandboxmetrics.Metrics
}

// Option configures a Sandbox at construction time.
type Option func(*Sandbox)

// WithCompiledModuleCacheSize bounds how many distinct compiled
// modules the validation cache retains; 0 disables caching.
func WithCompiledModuleCacheSize(n int) Option {
	return func(s *Sandbox) { s.cacheSize = n }
}

// WithNowFunc injects the clock the executor's deadline checker reads.
// Tests use this to make elapsed time deterministic; production
// callers should leave it unset to get the monotonic wall clock.
func WithNowFunc(now resources.NowFunc) Option {
	return func(s *Sandbox) { s.now = now }
}

// WithLogger overrides the default package logger.
func WithLogger(l log.Logger) Option {
	return func(s *Sandbox) { s.logger = l }
}

// WithMaxConcurrentExecutions bounds how many Execute calls may run at
// once across every instance this Sandbox owns; additional callers
// block in Execute until a slot frees up or their context is done. A
// value <= 0 (the default) leaves execution unbounded.
func WithMaxConcurrentExecutions(n int) Option {
	return func(s *Sandbox) { s.maxInFlight = n }
}

// New constructs a Sandbox ready for Create/Load/Execute. Grounded on
// opa.New()+Init(): construction never fails here because there is no
// policy/data to validate yet (each instance's own config is validated
// by Create instead), so New returns a ready value directly rather
// than splitting into a New/Init pair.
func New(opts ...Option) *Sandbox {
	s := &Sandbox{
		reg:     registry.New(),
		metrics: sandboxmetrics.New(),
		logger:  log.Global(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cacheRuntime = wazero.NewRuntime(context.Background())
	cache, err := loader.NewCache(s.cacheRuntime, s.cacheSize)
	if err != nil {
		// Only reachable if the LRU library rejects a positive size, which
		// never happens in practice; fall back to an uncached validator
		// rather than let a cosmetic cache-sizing problem block startup.
		s.logger.WithField("error", err).Warn("compiled module cache disabled")
		cache, _ = loader.NewCache(s.cacheRuntime, 0)
	}
	s.cache = cache
	s.executor = exec.New(s.reg, s.now)
	if s.maxInFlight > 0 {
		s.execPool = pool.New(s.maxInFlight)
	}

	return s
}

// Close tears down the shared validation runtime and, if configured,
// the execution concurrency pool. It does not destroy any live
// instance; call Destroy on each instance first.
func (s *Sandbox) Close() error {
	if s.execPool != nil {
		s.execPool.Close()
	}
	return s.cacheRuntime.Close(context.Background())
}

// Metrics returns the diagnostic metrics collection accumulated across
// every Execute and pool Acquire/Release call on this Sandbox.
func (s *Sandbox) Metrics() sandboxmetrics.Metrics {
	return s.metrics
}
