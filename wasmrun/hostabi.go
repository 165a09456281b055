package wasmrun

import (
	"encoding/json"
	"errors"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/hanzoai/compute/log"
	"github.com/hanzoai/compute/params"
)

// errOutOfFuel is returned by a host function when the execution's fuel
// budget is exhausted. wasmer-go surfaces a non-nil host callback error as a
// guest trap, so this aborts the call without corrupting host state.
var errOutOfFuel = errors.New("wasmrun: out of fuel")

var abiLogger = log.NewModuleLogger(log.Wasm)

// execContext is the per-execution host-data set torn down with its Store
// (spec §4.9: "Host-data and parsed JSON handles are destroyed with the
// Store"): the log buffer, json_parse handle table, and bump allocator
// cursor.
type execContext struct {
	memory        *wasmer.Memory
	logLines      []string
	jsonHandles   map[int32]interface{}
	nextHandle    int32
	allocCursor   int32
	fuelLimit     uint64
	fuelRemaining uint64
}

func newExecContext(fuelLimit uint64) *execContext {
	return &execContext{
		jsonHandles:   make(map[int32]interface{}),
		allocCursor:   params.WasmAllocBase,
		fuelLimit:     fuelLimit,
		fuelRemaining: fuelLimit,
	}
}

// chargeFuel debits cost units from the fuel budget. wasmer-go exposes no
// per-instruction metering hook, so this approximates fuel consumption at
// host-ABI call boundaries rather than at the guest-instruction level; a
// guest that never calls back into the host is not bounded by fuel here,
// only by the execution timeout.
func (c *execContext) chargeFuel(cost uint64) error {
	if c.fuelLimit == 0 {
		return nil
	}
	if c.fuelRemaining < cost {
		return errOutOfFuel
	}
	c.fuelRemaining -= cost
	return nil
}

func (c *execContext) readSlice(ptr, length int32) []byte {
	data := c.memory.Data()
	if ptr < 0 || length < 0 || int(ptr)+int(length) > len(data) {
		return nil
	}
	out := make([]byte, length)
	copy(out, data[ptr:int(ptr)+int(length)])
	return out
}

func (c *execContext) writeAt(offset int32, b []byte) bool {
	data := c.memory.Data()
	if offset < 0 || int(offset)+len(b) > len(data) {
		return false
	}
	copy(data[offset:], b)
	return true
}

// readCString reads up to maxLen bytes starting at offset until a NUL byte,
// used by the string-return convention (spec §4.9).
func (c *execContext) readCString(offset int32, maxLen int) (string, bool) {
	data := c.memory.Data()
	if offset < 0 || int(offset) >= len(data) {
		return "", false
	}
	end := int(offset)
	limit := len(data)
	if int(offset)+maxLen < limit {
		limit = int(offset) + maxLen
	}
	for end < limit && data[end] != 0 {
		end++
	}
	if end == limit && (end >= len(data) || data[end] != 0) {
		return "", false
	}
	return string(data[offset:end]), true
}

// buildImportObject wires the "env" host ABI module: memory, log,
// json_parse, json_stringify, http_request, alloc, free (spec §4.9).
func buildImportObject(store *wasmer.Store, ctx *execContext, maxPages uint32) (*wasmer.ImportObject, error) {
	limits, err := wasmer.NewLimits(uint32(params.WasmMinMemoryPages), maxPages)
	if err != nil {
		return nil, err
	}
	mem := wasmer.NewMemory(store, wasmer.NewMemoryType(limits))
	ctx.memory = mem

	logFn := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I32), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := ctx.chargeFuel(1); err != nil {
				return nil, err
			}
			ptr, length := args[0].I32(), args[1].I32()
			b := ctx.readSlice(ptr, length)
			ctx.logLines = append(ctx.logLines, string(b))
			abiLogger.Debug("guest log", "line", string(b))
			return []wasmer.Value{}, nil
		},
	)

	jsonParseFn := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := ctx.chargeFuel(4); err != nil {
				return nil, err
			}
			ptr, length := args[0].I32(), args[1].I32()
			b := ctx.readSlice(ptr, length)
			var v interface{}
			if err := json.Unmarshal(b, &v); err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			handle := ctx.nextHandle
			ctx.nextHandle++
			ctx.jsonHandles[handle] = v
			return []wasmer.Value{wasmer.NewI32(handle)}, nil
		},
	)

	jsonStringifyFn := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := ctx.chargeFuel(4); err != nil {
				return nil, err
			}
			handle := args[0].I32()
			v, ok := ctx.jsonHandles[handle]
			if !ok {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			b, err := json.Marshal(v)
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			if !ctx.writeAt(params.WasmStringifyOffset, b) {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(params.WasmStringifyOffset)}, nil
		},
	)

	// http_request is reserved: it logs and returns a mock handle rather
	// than performing network I/O (spec §4.9).
	httpRequestFn := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := ctx.chargeFuel(8); err != nil {
				return nil, err
			}
			abiLogger.Warn("guest http_request is a reserved no-op", "method_ptr", args[0].I32(), "url_ptr", args[1].I32())
			handle := ctx.nextHandle
			ctx.nextHandle++
			ctx.jsonHandles[handle] = map[string]interface{}{"mock": true}
			return []wasmer.Value{wasmer.NewI32(handle)}, nil
		},
	)

	allocFn := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := ctx.chargeFuel(1); err != nil {
				return nil, err
			}
			size := args[0].I32()
			ptr := ctx.allocCursor
			ctx.allocCursor += size
			return []wasmer.Value{wasmer.NewI32(ptr)}, nil
		},
	)

	// free is a no-op: the bump allocator never reclaims (spec §4.9).
	freeFn := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			return []wasmer.Value{}, nil
		},
	)

	importObject := wasmer.NewImportObject()
	importObject.Register("env", map[string]wasmer.IntoExtern{
		"memory":       mem,
		"log":          logFn,
		"json_parse":   jsonParseFn,
		"json_stringify": jsonStringifyFn,
		"http_request": httpRequestFn,
		"alloc":        allocFn,
		"free":         freeFn,
	})
	return importObject, nil
}
