// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package pool bounds how many sandbox executions may run
// concurrently against a shared Sandbox, independent of how many
// instances the registry holds. Grounded on the teacher's
// internal/wasm/sdk/opa pool, which maintains a buffered channel of
// available tokens sized to the configured pool capacity and blocks
// Acquire until a slot frees up or the context is cancelled; this
// package keeps that exact semaphore shape but hands back a plain
// release token instead of a *vm, since instance lifetime here is
// already owned by internal/sandbox/registry.
package pool

import (
	"context"
	"errors"
)

// ErrClosed is returned by Acquire once the pool has been Closed.
var ErrClosed = errors.New("pool: closed")

// Pool is a counting semaphore limiting concurrent sandbox executions.
type Pool struct {
	tokens chan struct{}
	closed chan struct{}
}

// New returns a Pool permitting up to size concurrent Acquire holders.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	tokens := make(chan struct{}, size)
	for i := 0; i < size; i++ {
		tokens <- struct{}{}
	}
	return &Pool{tokens: tokens, closed: make(chan struct{})}
}

// Acquire blocks until a slot is available, ctx is done, or the pool is
// closed. The caller must call Release exactly once after a nil error.
func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return ErrClosed
	case <-p.tokens:
		return nil
	}
}

// Release returns a previously-acquired slot to the pool.
func (p *Pool) Release() {
	select {
	case p.tokens <- struct{}{}:
	default:
		// Release without a matching Acquire: the channel is already full.
	}
}

// Close makes every blocked and future Acquire return ErrClosed
// immediately. It does not wait for outstanding holders to Release.
func (p *Pool) Close() {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
}
