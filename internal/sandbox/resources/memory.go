// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package resources

// wasmPageSize is the fixed WebAssembly linear-memory page size.
const wasmPageSize = 65536

// Pages returns the number of 64KiB pages needed to cover n bytes, rounding
// up, with a floor of one page (Pages(0) == 1): Pages(64*1024) == 1,
// Pages(65*1024) == 2, Pages(1<<20) == 16, Pages(16<<20) == 256.
func Pages(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	return (n + wasmPageSize - 1) / wasmPageSize
}

// Memory is the minimal surface the memory limiter needs from a wazero
// linear-memory handle; it lets this package stay independent of the wasm
// engine import.
type Memory interface {
	Size() uint32
}

// MemoryCheck is the result of comparing current usage against the
// caller-configured cap.
type MemoryCheck struct {
	Used     uint32
	Limit    uint32
	Exceeded bool
}

// UsageBytes returns the current linear-memory buffer length, or 0 if mem is
// nil (an instance with no live memory handle).
func UsageBytes(mem Memory) uint32 {
	if mem == nil {
		return 0
	}
	return mem.Size()
}

// CheckMemory compares current usage against limit. Only Exceeded == true
// should produce a user-visible error; the runtime's own configured maximum
// may legitimately let memory.grow succeed past a caller's smaller
// soft cap, which is exactly the condition this check exists to catch.
func CheckMemory(mem Memory, limit uint32) MemoryCheck {
	used := UsageBytes(mem)
	return MemoryCheck{Used: used, Limit: limit, Exceeded: used > limit}
}
