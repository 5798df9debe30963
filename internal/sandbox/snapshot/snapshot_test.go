// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package snapshot

import (
	"context"
	"strings"
	"testing"

	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/model"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/registry"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/wasmfixture"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/wiring"
)

func loadEcho(t *testing.T) (*registry.Registry, *registry.State) {
	t.Helper()
	reg := registry.New()
	cfg := model.SandboxConfig{MaxMemoryBytes: 65536, MaxGas: 1000, MaxExecutionMS: 1000, DeterministicSeed: 7, EventTimestamp: 42}
	s := reg.Create(cfg)
	wired, err := wiring.Wire(context.Background(), wasmfixture.Echo(), cfg, s.PRNG, &s.Exec)
	if err != nil {
		t.Fatalf("wire failed: %v", err)
	}
	s.Runtime = wired.Runtime
	s.Module = wired.Module
	s.Memory = wired.Memory
	s.Status = model.StatusLoaded
	return reg, s
}

func TestSnapshotRoundTripsMemoryAndPRNG(t *testing.T) {
	_, s := loadEcho(t)
	defer s.Runtime.Close(context.Background())

	s.PRNG.Next()
	s.PRNG.Next()
	s.GasUsed = 13
	_ = s.Memory.Write(0, []byte("hello, wsnp"))

	data, serr := Snapshot(s)
	if serr != nil {
		t.Fatalf("unexpected error: %v", serr)
	}

	wantNext := s.PRNG.GetState()

	// Mutate state so restore has something to undo.
	s.PRNG.Next()
	s.GasUsed = 999
	_ = s.Memory.Write(0, make([]byte, 16))

	if rerr := Restore(s, data); rerr != nil {
		t.Fatalf("unexpected restore error: %v", rerr)
	}
	if s.GasUsed != 13 {
		t.Fatalf("expected gasUsed restored to 13, got %d", s.GasUsed)
	}
	if got := s.PRNG.GetState(); got != wantNext {
		t.Fatalf("expected PRNG state restored, got %+v want %+v", got, wantNext)
	}
	readBack, ok := s.Memory.Read(0, 11)
	if !ok || string(readBack) != "hello, wsnp" {
		t.Fatalf("expected memory restored, got %q ok=%v", readBack, ok)
	}
}

func TestSnapshotHasMagicVersionAndLengthPrefix(t *testing.T) {
	_, s := loadEcho(t)
	defer s.Runtime.Close(context.Background())

	data, serr := Snapshot(s)
	if serr != nil {
		t.Fatalf("unexpected error: %v", serr)
	}
	if string(data[0:4]) != "WSNP" {
		t.Fatalf("expected WSNP magic, got %q", data[0:4])
	}
	if data[4] != 0x01 {
		t.Fatalf("expected version 0x01, got %#x", data[4])
	}
}

func TestRestoreRejectsTruncatedHeader(t *testing.T) {
	_, s := loadEcho(t)
	defer s.Runtime.Close(context.Background())

	err := Restore(s, []byte{'W', 'S'})
	if err == nil || !strings.Contains(err.Reason, "truncated") {
		t.Fatalf("expected a truncated-header error, got %+v", err)
	}
}

func TestRestoreRejectsBadMagic(t *testing.T) {
	_, s := loadEcho(t)
	defer s.Runtime.Close(context.Background())

	data, _ := Snapshot(s)
	corrupt := append([]byte{}, data...)
	corrupt[0] = 'X'

	err := Restore(s, corrupt)
	if err == nil || !strings.Contains(err.Reason, "magic") {
		t.Fatalf("expected a magic-mismatch error, got %+v", err)
	}
}

func TestRestoreRejectsBadVersion(t *testing.T) {
	_, s := loadEcho(t)
	defer s.Runtime.Close(context.Background())

	data, _ := Snapshot(s)
	corrupt := append([]byte{}, data...)
	corrupt[4] = 0x02

	err := Restore(s, corrupt)
	if err == nil || !strings.Contains(err.Reason, "version") {
		t.Fatalf("expected a version error, got %+v", err)
	}
}

func TestRestoreRejectsMismatchedMemorySize(t *testing.T) {
	_, s := loadEcho(t)
	defer s.Runtime.Close(context.Background())

	data, _ := Snapshot(s)
	originalMemLen := int(s.Memory.Size())
	stateAndLen := data[headerSize+originalMemLen:]

	// Rebuild the snapshot claiming only the first 1024 bytes of memory,
	// leaving the (untouched) length-prefixed state block right after —
	// a well-formed snapshot whose memory size just doesn't match the
	// instance it's being restored into.
	shrunk := int(1024)
	corrupt := make([]byte, 0, headerSize+shrunk+len(stateAndLen))
	corrupt = append(corrupt, data[0:4]...)
	corrupt = append(corrupt, data[4])
	corrupt = appendUint32(corrupt, uint32(shrunk))
	corrupt = append(corrupt, data[headerSize:headerSize+shrunk]...)
	corrupt = append(corrupt, stateAndLen...)

	err := Restore(s, corrupt)
	if err == nil || !strings.Contains(err.Reason, "memory size") {
		t.Fatalf("expected a memory-size mismatch error, got %+v", err)
	}
}

func TestSnapshotOnDestroyedInstanceFails(t *testing.T) {
	reg, s := loadEcho(t)
	reg.Destroy(s.ID)

	if _, err := Snapshot(s); err == nil || !strings.Contains(err.Reason, "destroyed") {
		t.Fatalf("expected a destroyed-instance error, got %+v", err)
	}
}
