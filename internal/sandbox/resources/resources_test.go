// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package resources

import "testing"

func TestGasMeterExactBudget(t *testing.T) {
	g := NewGasMeter(10)

	if err := g.Consume(10); err != nil {
		t.Fatalf("Consume(limit) should succeed, got %v", err)
	}
	if g.Used() != 10 {
		t.Fatalf("expected used=10, got %d", g.Used())
	}
	if g.Exhausted() {
		t.Fatalf("exact-budget consumption should not be exhaustion")
	}
}

func TestGasMeterOverBudget(t *testing.T) {
	g := NewGasMeter(10)

	if err := g.Consume(11); err == nil {
		t.Fatalf("Consume(limit+1) should fail")
	} else if _, ok := err.(*GasExhausted); !ok {
		t.Fatalf("expected *GasExhausted, got %T", err)
	}
	if !g.Exhausted() {
		t.Fatalf("expected meter to be exhausted")
	}
}

func TestGasMeterStaysExhausted(t *testing.T) {
	g := NewGasMeter(5)

	if err := g.Consume(6); err == nil {
		t.Fatalf("expected initial exhaustion")
	}
	if err := g.Consume(1); err == nil {
		t.Fatalf("expected meter to remain exhausted on subsequent charges")
	}
}

func TestGasMeterDefaultAmount(t *testing.T) {
	g := NewGasMeter(2)

	if err := g.Consume(0); err != nil {
		t.Fatalf("Consume(0) should charge 1 and succeed, got %v", err)
	}
	if g.Used() != 1 {
		t.Fatalf("expected used=1 after Consume(0), got %d", g.Used())
	}
}

func TestGasMeterReset(t *testing.T) {
	g := NewGasMeter(5)
	_ = g.Consume(10)
	if !g.Exhausted() {
		t.Fatalf("expected exhaustion before reset")
	}

	g.Reset()
	if g.Exhausted() || g.Used() != 0 {
		t.Fatalf("expected clean state after reset")
	}
	if err := g.Consume(5); err != nil {
		t.Fatalf("Consume after reset should succeed, got %v", err)
	}
}

func TestDeadlineCheckerExactDeadline(t *testing.T) {
	elapsed := int64(0)
	now := func() int64 { return elapsed }

	d := NewDeadlineChecker(100, now)
	d.Start()

	elapsed = 100
	if err := d.Check(); err != nil {
		t.Fatalf("elapsed == limit should pass, got %v", err)
	}

	elapsed = 101
	if err := d.Check(); err == nil {
		t.Fatalf("elapsed == limit+1 should fail")
	} else if _, ok := err.(*Timeout); !ok {
		t.Fatalf("expected *Timeout, got %T", err)
	}
}

func TestDeadlineCheckerStaysTimedOut(t *testing.T) {
	elapsed := int64(0)
	now := func() int64 { return elapsed }

	d := NewDeadlineChecker(10, now)
	d.Start()

	elapsed = 11
	if err := d.Check(); err == nil {
		t.Fatalf("expected initial timeout")
	}

	elapsed = 0
	if err := d.Check(); err == nil {
		t.Fatalf("expected checker to remain timed out even if clock rewinds")
	}
}

func TestDeadlineCheckerDefaultsToMonotonicClock(t *testing.T) {
	d := NewDeadlineChecker(1000, nil)
	d.Start()
	if err := d.Check(); err != nil {
		t.Fatalf("fresh checker should not time out immediately, got %v", err)
	}
}

func TestPagesBoundaries(t *testing.T) {
	cases := []struct {
		bytes uint32
		pages uint32
	}{
		{0, 1},
		{1, 1},
		{64 * 1024, 1},
		{65 * 1024, 2},
		{1 << 20, 16},
		{16 << 20, 256},
	}

	for _, c := range cases {
		if got := Pages(c.bytes); got != c.pages {
			t.Errorf("Pages(%d) = %d, want %d", c.bytes, got, c.pages)
		}
	}
}

type fakeMemory struct{ size uint32 }

func (m fakeMemory) Size() uint32 { return m.size }

func TestCheckMemory(t *testing.T) {
	under := CheckMemory(fakeMemory{size: 100}, 200)
	if under.Exceeded {
		t.Fatalf("usage under limit should not be exceeded")
	}

	exact := CheckMemory(fakeMemory{size: 200}, 200)
	if exact.Exceeded {
		t.Fatalf("usage exactly at limit should not be exceeded")
	}

	over := CheckMemory(fakeMemory{size: 201}, 200)
	if !over.Exceeded {
		t.Fatalf("usage over limit should be exceeded")
	}

	nilCheck := CheckMemory(nil, 200)
	if nilCheck.Used != 0 || nilCheck.Exceeded {
		t.Fatalf("nil memory handle should report zero usage, got %+v", nilCheck)
	}
}

func TestPRNGDeterminism(t *testing.T) {
	seeds := []uint32{0, 1, 42, 123456789, 0xFFFFFFFF}

	for _, seed := range seeds {
		a := NewPRNG(seed)
		b := NewPRNG(seed)

		for k := 0; k < 100; k++ {
			av, bv := a.Next(), b.Next()
			if av != bv {
				t.Fatalf("seed %d: sequences diverged at k=%d: %d != %d", seed, k, av, bv)
			}
		}
	}
}

func TestPRNGDifferentSeedsDiverge(t *testing.T) {
	a := NewPRNG(1)
	b := NewPRNG(2)

	if a.Next() == b.Next() {
		t.Fatalf("different seeds should not collide on the first output")
	}
}

func TestPRNGStateRoundTrip(t *testing.T) {
	a := NewPRNG(7)
	_ = a.Next()
	_ = a.Next()
	state := a.GetState()

	b := NewPRNG(0)
	b.SetState(state)

	if got, want := b.Next(), a.Next(); got != want {
		t.Fatalf("restored PRNG diverged: got %d want %d", got, want)
	}
}

func TestPRNGReset(t *testing.T) {
	a := NewPRNG(3)
	first := a.Next()

	_ = a.Next()
	a.Reset(3)

	if got := a.Next(); got != first {
		t.Fatalf("Reset should reproduce the original first output, got %d want %d", got, first)
	}
}

func TestExecutionContextChargeAndCheck(t *testing.T) {
	elapsed := int64(0)
	now := func() int64 { return elapsed }

	ctx := NewExecutionContext(5, 50, now)
	ctx.Deadline.Start()

	if err := ctx.ChargeAndCheck(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	elapsed = 51
	if err := ctx.ChargeAndCheck(1); err == nil {
		t.Fatalf("expected deadline error past limit")
	} else if _, ok := err.(*Timeout); !ok {
		t.Fatalf("expected *Timeout, got %T", err)
	}
}

func TestExecutionContextGasTakesPriorityOverDeadline(t *testing.T) {
	elapsed := int64(100)
	now := func() int64 { return elapsed }

	ctx := NewExecutionContext(1, 10, now)
	ctx.Deadline.Start()

	if err := ctx.ChargeAndCheck(2); err == nil {
		t.Fatalf("expected gas error")
	} else if _, ok := err.(*GasExhausted); !ok {
		t.Fatalf("expected *GasExhausted to be checked before deadline, got %T", err)
	}
}

func TestBuildMetrics(t *testing.T) {
	elapsed := int64(0)
	now := func() int64 { return elapsed }

	ctx := NewExecutionContext(100, 1000, now)
	ctx.Deadline.Start()
	_ = ctx.Gas.Consume(40)
	elapsed = 12

	m := BuildMetrics(ctx, fakeMemory{size: 65536}, 131072)

	if m.GasUsed != 40 || m.GasLimit != 100 {
		t.Errorf("unexpected gas fields: %+v", m)
	}
	if m.ExecutionMS != 12 || m.ExecutionLimitMS != 1000 {
		t.Errorf("unexpected execution time fields: %+v", m)
	}
	if m.MemoryUsedBytes != 65536 || m.MemoryLimitBytes != 131072 {
		t.Errorf("unexpected memory fields: %+v", m)
	}
}

func TestBuildMetricsNilContext(t *testing.T) {
	m := BuildMetrics(nil, fakeMemory{size: 42}, 100)
	if m.MemoryUsedBytes != 42 || m.MemoryLimitBytes != 100 {
		t.Errorf("unexpected fields with nil context: %+v", m)
	}
	if m.GasUsed != 0 || m.ExecutionMS != 0 {
		t.Errorf("expected zero-value resource fields with nil context: %+v", m)
	}
}
