package wasmrun

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/hanzoai/compute/common"
	"github.com/hanzoai/compute/log"
	"github.com/hanzoai/compute/params"
)

var runtimeLogger = log.NewModuleLogger(log.Wasm)

// Config bounds every execution the Runtime performs (spec §4.9).
type Config struct {
	MaxMemoryBytes  int64
	MaxExecutionTime time.Duration
	FuelLimit       uint64 // 0 disables metering
	EnableWASI      bool
}

// DefaultConfig mirrors the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxMemoryBytes:   params.WasmMaxMemoryBytes,
		MaxExecutionTime: params.WasmMaxExecutionTime,
		FuelLimit:        params.WasmFuelLimit,
	}
}

// Runtime loads and executes guest WASM modules under the configured
// resource limits. Grounded on common.Cache's shard/registry shape for
// module storage and log.NewModuleLogger for the ambient logging surface;
// the sandbox mechanics themselves are new domain logic backed by
// wasmer-go.
type Runtime struct {
	mu      sync.Mutex
	cfg     Config
	engine  *wasmer.Engine
	modules map[string]*loadedModule
	anon    int
}

// NewRuntime constructs a Runtime with the given resource limits.
func NewRuntime(cfg Config) *Runtime {
	return &Runtime{
		cfg:     cfg,
		engine:  wasmer.NewEngine(),
		modules: make(map[string]*loadedModule),
	}
}

// LoadModule compiles and registers a guest module under name (spec §4.9).
func (rt *Runtime) LoadModule(name, version string, raw []byte) (ModuleInfo, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	store := wasmer.NewStore(rt.engine)
	lm, err := compileModule(store, name, version, raw)
	if err != nil {
		return ModuleInfo{}, err
	}
	rt.modules[name] = lm
	runtimeLogger.Info("module loaded", "name", name, "hash", lm.info.Hash, "exports", len(lm.info.Exports))
	return lm.info, nil
}

// UnloadModule removes a module from the registry.
func (rt *Runtime) UnloadModule(name string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.modules, name)
}

// ClearModules removes every loaded module.
func (rt *Runtime) ClearModules() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.modules = make(map[string]*loadedModule)
}

// ListModules returns every currently loaded module's info.
func (rt *Runtime) ListModules() []ModuleInfo {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]ModuleInfo, 0, len(rt.modules))
	for _, lm := range rt.modules {
		out = append(out, lm.info)
	}
	return out
}

// ExecuteBytes loads raw under a generated name, executes function, and
// unloads it again (spec §4.9).
func (rt *Runtime) ExecuteBytes(raw []byte, function string, paramsJSON []byte) (interface{}, error) {
	rt.mu.Lock()
	rt.anon++
	name := fmt.Sprintf("__anon_%d", rt.anon)
	rt.mu.Unlock()

	if _, err := rt.LoadModule(name, "0.0.0-anon", raw); err != nil {
		return nil, err
	}
	defer rt.UnloadModule(name)
	return rt.Execute(name, function, paramsJSON)
}

// Execute runs function in module under a fresh Store with memory, fuel and
// timeout limits, tearing everything down afterward regardless of outcome
// (spec §4.9, P11: exceeding fuel leaves the runtime usable for the next
// execution).
func (rt *Runtime) Execute(module, function string, paramsJSON []byte) (interface{}, error) {
	rt.mu.Lock()
	lm, ok := rt.modules[module]
	rt.mu.Unlock()
	if !ok {
		return nil, common.New(common.KindNotFound, "module %s not loaded", module)
	}

	type outcome struct {
		value interface{}
		err   error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		v, err := rt.runOnWorker(lm, function, paramsJSON)
		resultCh <- outcome{v, err}
	}()

	timeout := rt.cfg.MaxExecutionTime
	if timeout <= 0 {
		timeout = params.WasmMaxExecutionTime
	}
	select {
	case o := <-resultCh:
		return o.value, o.err
	case <-time.After(timeout):
		return nil, common.New(common.KindExecutionTimeout, "execution of %s.%s exceeded %s", module, function, timeout)
	}
}

// memoryPages converts the configured byte ceiling into wasm's 64 KiB page
// unit, clamped to the protocol's [min,max] page bounds.
func (rt *Runtime) memoryPages() uint32 {
	const pageSize = 64 * 1024
	pages := uint32(rt.cfg.MaxMemoryBytes / pageSize)
	if pages < params.WasmMinMemoryPages {
		pages = params.WasmMinMemoryPages
	}
	if pages > params.WasmMaxMemoryPages {
		pages = params.WasmMaxMemoryPages
	}
	return pages
}

// runOnWorker performs the actual Store-scoped invocation; it runs on its
// own goroutine ("blocking worker", spec §5) because guest code is never
// cooperatively suspended.
func (rt *Runtime) runOnWorker(lm *loadedModule, function string, paramsJSON []byte) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = common.New(common.KindExecutionTimeout, "guest trap in %s: %v", function, r)
		}
	}()

	store := wasmer.NewStore(rt.engine)
	ctx := newExecContext(rt.cfg.FuelLimit)
	importObject, err := buildImportObject(store, ctx, rt.memoryPages())
	if err != nil {
		return nil, err
	}

	mod, compErr := wasmer.NewModule(store, lm.bytes)
	if compErr != nil {
		return nil, common.Wrap(compErr, common.KindInvalidData, "recompile module")
	}
	instance, err := wasmer.NewInstance(mod, importObject)
	if err != nil {
		return nil, common.Wrap(err, common.KindInvalidData, "instantiate module")
	}
	defer instance.Close()

	fn, err := instance.Exports.GetRawFunction(function)
	if err != nil {
		return nil, common.Wrap(err, common.KindNotFound, "function %s not exported", function)
	}

	kinds := make([]wasmer.ValueKind, len(fn.Type().Params()))
	for i, p := range fn.Type().Params() {
		kinds[i] = p.Kind()
	}
	resultKinds := make([]wasmer.ValueKind, len(fn.Type().Results()))
	for i, r := range fn.Type().Results() {
		resultKinds[i] = r.Kind()
	}

	args, err := coerceParams(kinds, paramsJSON)
	if err != nil {
		return nil, common.Wrap(err, common.KindInvalidSchema, "decode params_json")
	}

	raw, callErr := fn.Call(args...)
	if callErr != nil {
		if strings.Contains(callErr.Error(), "out of fuel") {
			return nil, common.Wrap(callErr, common.KindOutOfFuel, "guest exhausted fuel budget in %s", function)
		}
		return nil, common.Wrap(callErr, common.KindInvalidData, "guest execution trapped in %s", function)
	}

	return marshalReturn(function, resultKinds, raw, ctx)
}
