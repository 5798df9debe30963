// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package wasmfixture

// Add returns a module exporting add(i32,i32) -> i32 computing a+b,
// with no imports at all: end-to-end scenario 1 (pure add, no host
// calls, gas_used == 0).
func Add() []byte {
	b := &builder{}
	t := b.addType([]byte{valI32, valI32}, []byte{valI32})
	b.addFunc(t, nil, []byte{
		opLocalGet, 0x00,
		opLocalGet, 0x01,
		opI32Add,
		opEnd,
	}, "add")
	return b.build()
}

// Fib returns a module exporting fib(n:i32) -> i32 computing the n-th
// Fibonacci number iteratively, calling env.__get_time once per loop
// iteration (n+1 iterations total: i from 0 to n inclusive), matching
// end-to-end scenario 2.
func Fib() []byte {
	b := &builder{}
	timeType := b.addType(nil, []byte{valI32})
	b.addImportFunc("env", "__get_time", timeType)

	fibType := b.addType([]byte{valI32}, []byte{valI32})
	// locals: 1=i, 2=a, 3=b, 4=tmp (all i32)
	body := []byte{}
	body = append(body, opI32Const, 0x00, opLocalSet, 0x01) // i = 0
	body = append(body, opI32Const, 0x00, opLocalSet, 0x02) // a = 0
	body = append(body, opI32Const, 0x01, opLocalSet, 0x03) // b = 1

	body = append(body, opLoop, blockTypeEmpty)
	body = append(body, opCall, 0x00, opDrop) // __get_time(); drop

	// if i < n: tmp = a+b; a = b; b = tmp
	body = append(body, opLocalGet, 0x01, opLocalGet, 0x00, opI32LtS)
	body = append(body, opIf, blockTypeEmpty)
	body = append(body, opLocalGet, 0x02, opLocalGet, 0x03, opI32Add, opLocalSet, 0x04)
	body = append(body, opLocalGet, 0x03, opLocalSet, 0x02)
	body = append(body, opLocalGet, 0x04, opLocalSet, 0x03)
	body = append(body, opEnd) // end if

	// i = i + 1
	body = append(body, opLocalGet, 0x01, opI32Const, 0x01, opI32Add, opLocalSet, 0x01)

	// if i <= n, loop again
	body = append(body, opLocalGet, 0x01, opLocalGet, 0x00, opI32LeS, opBrIf, 0x00)
	body = append(body, opEnd) // end loop

	body = append(body, opLocalGet, 0x02) // return a
	body = append(body, opEnd)            // end function

	b.addFunc(fibType, [][]byte{localsGroup(4, valI32)}, body, "fib")
	return b.build()
}

// Loop returns a module exporting loop() with no parameters or
// results, calling env.__get_time every iteration of an unconditional
// infinite loop: end-to-end scenario 3 (deadline). The loop only ever
// exits because the __get_time host closure aborts the call once gas
// runs out or the deadline trips.
func Loop() []byte {
	b := &builder{}
	timeType := b.addType(nil, []byte{valI32})
	b.addImportFunc("env", "__get_time", timeType)

	loopType := b.addType(nil, nil)
	body := []byte{
		opLoop, blockTypeEmpty,
		opCall, 0x00, opDrop,
		opBr, 0x00,
		opEnd,
		opUnreachable,
		opEnd,
	}
	b.addFunc(loopType, nil, body, "loop")
	return b.build()
}

// Allocate returns a module importing env.memory and exporting
// allocate(pages:i32) -> i32 which calls memory.grow(pages) and
// returns the previous page count (or -1 on failure, per the
// memory.grow instruction): end-to-end scenario 4 (memory cap).
func Allocate() []byte {
	b := &builder{}
	b.addImportMemory("env", "memory", 1)

	allocType := b.addType([]byte{valI32}, []byte{valI32})
	body := []byte{
		opLocalGet, 0x00,
		opMemoryGrow, 0x00,
		opEnd,
	}
	b.addFunc(allocType, nil, body, "allocate")
	return b.build()
}

// WASIImport returns a module importing wasi_snapshot_preview1.fd_write,
// which the loader must reject: end-to-end scenario 5.
func WASIImport() []byte {
	b := &builder{}
	t := b.addType([]byte{valI32, valI32, valI32, valI32}, []byte{valI32})
	b.addImportFunc("wasi_snapshot_preview1", "fd_write", t)
	return b.build()
}

// UndeclaredEnvImport returns a module importing env.mystery, a name
// not among the always-allowed env imports and not present in any
// config's host_functions map — used to test the "undeclared import"
// rejection path distinct from the WASI and foreign-namespace paths.
func UndeclaredEnvImport() []byte {
	b := &builder{}
	t := b.addType(nil, []byte{valI32})
	b.addImportFunc("env", "mystery", t)
	return b.build()
}

// GetRandom returns a module importing env.__get_random and exporting
// getRandom() -> i32 which simply returns the next PRNG output: used
// by end-to-end scenario 6 (snapshot round-trip with PRNG) and by the
// per-host-function gas-charge property test.
func GetRandom() []byte {
	b := &builder{}
	randType := b.addType(nil, []byte{valI32})
	b.addImportFunc("env", "__get_random", randType)

	getRandomType := b.addType(nil, []byte{valI32})
	body := []byte{opCall, 0x00, opEnd}
	b.addFunc(getRandomType, nil, body, "getRandom")
	return b.build()
}

// Echo returns a module with its own one-page memory, exporting
// __alloc(size:i32) -> ptr:i32 (a trivial allocator that always hands
// back offset 0, sufficient for one payload at a time) and
// echo(ptr:i32, len:i32) -> i32 packing (ptr, len) back into a single
// i32 as ptr | len<<16: used to exercise the linear-memory payload
// dispatch convention end to end without decoding anything itself.
func Echo() []byte {
	b := &builder{}
	b.addMemory(1)
	b.exportMemory("memory")

	allocType := b.addType([]byte{valI32}, []byte{valI32})
	b.addFunc(allocType, nil, []byte{opI32Const, 0x00, opEnd}, "__alloc")

	echoType := b.addType([]byte{valI32, valI32}, []byte{valI32})
	body := []byte{
		opLocalGet, 0x01, // len
		opI32Const, 0x10, // 16
		opI32Shl,
		opLocalGet, 0x00, // ptr
		opI32Or,
		opEnd,
	}
	b.addFunc(echoType, nil, body, "echo")
	return b.build()
}

// HostFunctionCaller returns a module importing a user host function
// env.<name> with signature (i32) -> i32 and exporting callHost(i32)
// -> i32 that forwards its argument to it: used to test user
// host-function wiring and gas charging.
func HostFunctionCaller(name string) []byte {
	b := &builder{}
	t := b.addType([]byte{valI32}, []byte{valI32})
	b.addImportFunc("env", name, t)

	callType := b.addType([]byte{valI32}, []byte{valI32})
	body := []byte{opLocalGet, 0x00, opCall, 0x00, opEnd}
	b.addFunc(callType, nil, body, "callHost")
	return b.build()
}
