// Package wasmrun is the sandboxed WASM tool runtime (C9): it loads guest
// modules and executes exported functions under bounded memory, time and
// fuel, exposing a narrow host ABI under module name "env". New domain
// entirely relative to the teacher; grounded on the wasmer-go v1 API the
// module's go.mod already depends on, and on common.Cache/log for the
// ambient module registry and logging shape used pack-wide.
package wasmrun

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/hanzoai/compute/common"
)

// ModuleInfo describes a loaded guest module (spec §4.9).
type ModuleInfo struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Hash        string   `json:"hash"`
	Exports     []string `json:"exports"`
	MemoryPages uint32   `json:"memory_pages"`
}

// loadedModule bundles the compiled wasmer.Module with the byte hash and
// export metadata computed at load time.
type loadedModule struct {
	info   ModuleInfo
	module *wasmer.Module
	bytes  []byte
}

func hashBytes(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// compileModule compiles raw wasm bytes against store and extracts the
// export name list and declared memory page bounds for ModuleInfo.
func compileModule(store *wasmer.Store, name, version string, raw []byte) (*loadedModule, error) {
	mod, err := wasmer.NewModule(store, raw)
	if err != nil {
		return nil, common.Wrap(err, common.KindInvalidData, "compile wasm module %s", name)
	}
	exports := make([]string, 0, len(mod.Exports()))
	var pages uint32
	for _, exp := range mod.Exports() {
		exports = append(exports, exp.Name())
		if exp.Type().Kind() == wasmer.MEMORY {
			if memTy := exp.Type().IntoMemoryType(); memTy != nil {
				pages = uint32(memTy.Limits().Min())
			}
		}
	}
	return &loadedModule{
		info: ModuleInfo{
			Name:        name,
			Version:     version,
			Hash:        hashBytes(raw),
			Exports:     exports,
			MemoryPages: pages,
		},
		module: mod,
		bytes:  raw,
	}, nil
}
