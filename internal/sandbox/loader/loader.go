// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package loader implements the module loader and validator (Component
// B): the shape check, compilation via the wazero engine, and the
// import-isolation determinism gate. It never instantiates a module —
// that is the Import Wirer's job (internal/sandbox/wiring).
package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/model"
	"github.com/hashicorp/golang-lru/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// blockedWASINamespaces are import namespaces rejected outright by the
// determinism gate, regardless of what name within them is imported.
var blockedWASINamespaces = map[string]bool{
	"wasi_snapshot_preview1": true,
	"wasi_unstable":          true,
	"wasi":                   true,
}

// Report is the diagnostic produced by the import-isolation check:
// useful for auditable logs, not required by the executor.
type Report struct {
	TotalImports        int
	HostFunctionImports int
	SystemImports       int
}

// Cache wraps an LRU of compiled modules keyed by a content hash of the
// raw bytes, so repeated Load calls with identical bytecode (many
// short-lived instances of the same program) skip the validation
// compile. The compile that internal/sandbox/wiring runs on each
// instance's own runtime is not cached.
type Cache struct {
	runtime wazero.Runtime
	lru     *lru.Cache[string, wazero.CompiledModule]
}

// NewCache wraps runtime with a compiled-module cache of the given
// size. A size of 0 disables caching (every Load recompiles).
func NewCache(runtime wazero.Runtime, size int) (*Cache, error) {
	if size <= 0 {
		return &Cache{runtime: runtime}, nil
	}
	c, err := lru.New[string, wazero.CompiledModule](size)
	if err != nil {
		return nil, fmt.Errorf("loader cache: %w", err)
	}
	return &Cache{runtime: runtime, lru: c}, nil
}

// CheckShape validates that bytes looks like a WASM binary: non-empty,
// at least 8 bytes, and starting with the \0asm magic.
func CheckShape(bytes []byte) *model.Error {
	if len(bytes) < 8 {
		return &model.Error{Code: model.ErrInvalidModule, Reason: "module too short: need at least 8 bytes"}
	}
	if string(bytes[0:4]) != "\x00asm" {
		return &model.Error{Code: model.ErrInvalidModule, Reason: "bad magic: expected \\0asm header"}
	}
	return nil
}

// contentKey is a cheap, non-cryptographic content key sufficient for
// an in-process LRU: collisions only cost a cache miss, never
// correctness, since a miss just recompiles.
func contentKey(bytes []byte) string {
	var h uint64 = 1469598103934665603 // FNV-1a offset basis
	for _, b := range bytes {
		h ^= uint64(b)
		h *= 1099511628211 // FNV-1a prime
	}
	return fmt.Sprintf("%d:%x", len(bytes), h)
}

// Compile runs the shape check then compiles bytes into a reusable
// module handle, consulting the cache first if one is configured.
func (c *Cache) Compile(ctx context.Context, bytes []byte) (wazero.CompiledModule, *model.Error) {
	if err := CheckShape(bytes); err != nil {
		return nil, err
	}

	if c.lru != nil {
		key := contentKey(bytes)
		if cm, ok := c.lru.Get(key); ok {
			return cm, nil
		}
		cm, err := c.runtime.CompileModule(ctx, bytes)
		if err != nil {
			return nil, &model.Error{Code: model.ErrInvalidModule, Reason: "compile failed: " + err.Error()}
		}
		c.lru.Add(key, cm)
		return cm, nil
	}

	cm, err := c.runtime.CompileModule(ctx, bytes)
	if err != nil {
		return nil, &model.Error{Code: model.ErrInvalidModule, Reason: "compile failed: " + err.Error()}
	}
	return cm, nil
}

// CheckImports enumerates every import declared by cm and enforces the
// determinism gate: reject any blocked WASI namespace, reject any
// namespace other than env, and within env accept only memory,
// __get_time, __get_random, and declared host-function names.
func CheckImports(cm wazero.CompiledModule, hostFunctions map[string]model.HostFunction) (*Report, *model.Error) {
	allowed := map[string]bool{
		"memory":       true,
		"__get_time":   true,
		"__get_random": true,
	}
	for _, fn := range hostFunctions {
		allowed[fn.Name] = true
	}

	report := &Report{}

	for _, def := range cm.ImportedFunctions() {
		moduleName, name, _ := def.Import()
		report.TotalImports++
		if err := checkOne(moduleName, name, allowed, report); err != nil {
			return nil, err
		}
	}
	for _, def := range cm.ImportedMemories() {
		moduleName, name, _ := def.Import()
		report.TotalImports++
		if err := checkOne(moduleName, name, allowed, report); err != nil {
			return nil, err
		}
	}

	return report, nil
}

func checkOne(moduleName, name string, allowed map[string]bool, report *Report) *model.Error {
	if blockedWASINamespaces[moduleName] {
		return &model.Error{
			Code:   model.ErrInvalidModule,
			Reason: fmt.Sprintf("import %s.%s: blocked WASI surface %q", moduleName, name, moduleName),
		}
	}
	if moduleName != "env" {
		return &model.Error{
			Code:   model.ErrInvalidModule,
			Reason: fmt.Sprintf("import %s.%s: namespace %q is not env", moduleName, name, moduleName),
		}
	}
	if !allowed[name] {
		return &model.Error{
			Code:   model.ErrInvalidModule,
			Reason: fmt.Sprintf("import env.%s: undeclared import", name),
		}
	}
	if name == "memory" {
		report.SystemImports++
	} else if name == "__get_time" || name == "__get_random" {
		report.SystemImports++
	} else {
		report.HostFunctionImports++
	}
	return nil
}

// DetectImportMode is a small diagnostic helper describing what kind of
// ambient surface (if any) a compiled module's imports resemble,
// useful for building a one-line audit-log message. It never fails —
// CheckImports is the enforcement point.
func DetectImportMode(defs []api.FunctionDefinition) string {
	for _, def := range defs {
		moduleName, _, _ := def.Import()
		if strings.HasPrefix(moduleName, "wasi") {
			return "wasi"
		}
		if moduleName != "env" {
			return "foreign:" + moduleName
		}
	}
	return "env"
}
