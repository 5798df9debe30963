// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package wasmfixture hand-assembles minimal WASM binaries for tests.
// WASM binary generation is out of scope for the core (spec.md §1 calls
// for hand-crafted byte arrays as fixtures); this is the small
// assembler that builds them, so the fixtures themselves stay
// expressed as function bodies rather than opaque byte blobs.
package wasmfixture

// Value type encodings (WASM binary format).
const (
	valI32 byte = 0x7F
	valI64 byte = 0x7E
)

// Instruction opcodes used by the fixtures below.
const (
	opUnreachable  byte = 0x00
	opBlock        byte = 0x02
	opLoop         byte = 0x03
	opBr           byte = 0x0C
	opBrIf         byte = 0x0D
	opReturn       byte = 0x0F
	opCall         byte = 0x10
	opDrop         byte = 0x1A
	opLocalGet     byte = 0x20
	opLocalSet     byte = 0x21
	opLocalTee     byte = 0x22
	opI32Const     byte = 0x41
	opI32Eqz       byte = 0x45
	opI32Eq        byte = 0x46
	opI32LtS       byte = 0x48
	opI32LeS       byte = 0x4C
	opI32GeS       byte = 0x4E
	opIf           byte = 0x04
	opI32Add       byte = 0x6A
	opI32Sub       byte = 0x6B
	opI32Mul       byte = 0x6C
	opI32Or        byte = 0x72
	opI32Shl       byte = 0x74
	opMemoryGrow   byte = 0x40
	opMemorySize   byte = 0x3F
	opEnd          byte = 0x0B
	blockTypeEmpty byte = 0x40
)

func uleb128(n uint64) []byte {
	var out []byte
	for {
		b := byte(n & 0x7F)
		n >>= 7
		if n != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if n == 0 {
			break
		}
	}
	return out
}

func sleb128(v int64) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

func vec(items ...[]byte) []byte {
	out := uleb128(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func bytesVec(items ...byte) []byte {
	out := uleb128(uint64(len(items)))
	out = append(out, items...)
	return out
}

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb128(uint64(len(content)))...)
	out = append(out, content...)
	return out
}

func name(s string) []byte {
	return append(uleb128(uint64(len(s))), []byte(s)...)
}

// funcType encodes a function signature: params then results, each a
// vector of value-type bytes.
func funcType(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, bytesVec(params...)...)
	out = append(out, bytesVec(results...)...)
	return out
}

// importFunc encodes an imported function entry: module name, field
// name, import kind 0x00 (func), and its type index.
func importFunc(module, field string, typeIdx uint32) []byte {
	out := name(module)
	out = append(out, name(field)...)
	out = append(out, 0x00) // kind: func
	out = append(out, uleb128(uint64(typeIdx))...)
	return out
}

// importMemory encodes an imported memory entry with only a minimum
// page count (no maximum).
func importMemory(module, field string, min uint32) []byte {
	out := name(module)
	out = append(out, name(field)...)
	out = append(out, 0x02) // kind: memory
	out = append(out, 0x00) // limits: min only
	out = append(out, uleb128(uint64(min))...)
	return out
}

func exportFunc(field string, funcIdx uint32) []byte {
	out := name(field)
	out = append(out, 0x00) // kind: func
	out = append(out, uleb128(uint64(funcIdx))...)
	return out
}

func exportMemory(field string, memIdx uint32) []byte {
	out := name(field)
	out = append(out, 0x02) // kind: memory
	out = append(out, uleb128(uint64(memIdx))...)
	return out
}

// localsGroup encodes one (count, value-type) locals declaration group.
func localsGroup(count uint32, vt byte) []byte {
	return append(uleb128(uint64(count)), vt)
}

// code encodes a single function body: a vector of locals declaration
// groups, followed by the instruction bytes (which must end in opEnd).
func code(localGroups [][]byte, body []byte) []byte {
	inner := vec(localGroups...)
	inner = append(inner, body...)
	return append(uleb128(uint64(len(inner))), inner...)
}

// builder assembles a module's sections in the required order.
type builder struct {
	types         [][]byte
	imports       [][]byte
	importedFuncs uint32 // count of function (not memory) imports so far
	funcs         []uint32 // type index per defined function
	mem           []byte   // memory section content, nil if none
	exports       [][]byte
	codes         [][]byte
}

func (b *builder) addType(params, results []byte) uint32 {
	idx := uint32(len(b.types))
	b.types = append(b.types, funcType(params, results))
	return idx
}

func (b *builder) addImportFunc(module, field string, typeIdx uint32) {
	b.imports = append(b.imports, importFunc(module, field, typeIdx))
	b.importedFuncs++
}

func (b *builder) addImportMemory(module, field string, min uint32) {
	b.imports = append(b.imports, importMemory(module, field, min))
}

func (b *builder) addFunc(typeIdx uint32, localGroups [][]byte, body []byte, exportName string) uint32 {
	idx := uint32(len(b.funcs)) + b.importedFuncCount()
	b.funcs = append(b.funcs, typeIdx)
	b.codes = append(b.codes, code(localGroups, body))
	if exportName != "" {
		b.exports = append(b.exports, exportFunc(exportName, idx))
	}
	return idx
}

func (b *builder) importedFuncCount() uint32 {
	// Only function imports occupy the function index space; memory
	// (and other non-function) imports have their own index spaces.
	return b.importedFuncs
}

func (b *builder) addMemory(min uint32) {
	b.mem = vec(append(uleb128(0), uleb128(uint64(min))...))
}

func (b *builder) exportMemory(field string) {
	b.exports = append(b.exports, exportMemory(field, 0))
}

func (b *builder) build() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00} // \0asm, version 1

	if len(b.types) > 0 {
		out = append(out, section(1, vec(b.types...))...)
	}
	if len(b.imports) > 0 {
		out = append(out, section(2, vec(b.imports...))...)
	}
	if len(b.funcs) > 0 {
		idxBytes := make([][]byte, len(b.funcs))
		for i, t := range b.funcs {
			idxBytes[i] = uleb128(uint64(t))
		}
		out = append(out, section(3, vec(idxBytes...))...)
	}
	if b.mem != nil {
		out = append(out, section(5, b.mem)...)
	}
	if len(b.exports) > 0 {
		out = append(out, section(7, vec(b.exports...))...)
	}
	if len(b.codes) > 0 {
		out = append(out, section(10, vec(b.codes...))...)
	}
	return out
}
