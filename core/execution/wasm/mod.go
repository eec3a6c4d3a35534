// Package wasm implements the bytecode engine with the wasmer runtime.
//
// A module exports its memory, an allocator and one function per blueprint
// function. The exported functions and the host functions exchange encoded
// messages through the memory of the instance:
//
//	alloc(size: i32) -> i32
//	<export>(ptr: i32, len: i32) -> i64
//	env.rexec_call(ptr: i32, len: i32) -> i64
//	env.rexec_consume(units: i64)
//
// An i64 result packs the pointer in the high 32 bits and the length in the
// low 32 bits. Compiled modules are kept in a cache indexed by the hash of
// the code.
package wasm

import (
	"crypto/sha256"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/wasmerio/wasmer-go/wasmer"
	"go.dedis.ch/rexec"
	"go.dedis.ch/rexec/core/execution"
	"golang.org/x/xerrors"
)

// DefaultCacheSize is the default number of compiled modules in the cache.
const DefaultCacheSize = 64

const (
	memoryExport  = "memory"
	allocExport   = "alloc"
	hostModule    = "env"
	callImport    = "rexec_call"
	consumeImport = "rexec_consume"
)

// Engine runs the exported functions of WebAssembly modules.
//
// - implements execution.Engine
type Engine struct {
	// compileLock serializes the compilation of a missing module. An
	// execution does not hold it so that a module can call another one.
	compileLock sync.Mutex

	store *wasmer.Store
	cache *lru.Cache
}

// NewEngine returns a new engine with a cache of the given size.
func NewEngine(cacheSize int) (*Engine, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, xerrors.Errorf("failed to create cache: %v", err)
	}

	e := &Engine{
		store: wasmer.NewStore(wasmer.NewEngine()),
		cache: cache,
	}

	return e, nil
}

// Run implements execution.Engine. It instantiates the module with the host
// functions and calls the export with the input. The host may run the engine
// again while the export executes.
func (e *Engine) Run(code []byte, export string, input []byte, host execution.Host) ([]byte, error) {
	module, err := e.compile(code)
	if err != nil {
		return nil, err
	}

	inst := &instance{host: host}

	instance, err := wasmer.NewInstance(module, inst.imports(e.store))
	if err != nil {
		return nil, xerrors.Errorf("failed to instantiate: %v: %w", err, execution.ErrSandbox)
	}

	err = inst.bind(instance)
	if err != nil {
		return nil, err
	}

	fn, err := instance.Exports.GetFunction(export)
	if err != nil {
		return nil, xerrors.Errorf("export '%s': %v: %w", export, err, execution.ErrUnknownFunction)
	}

	ptr, err := inst.write(input)
	if err != nil {
		return nil, inst.fault(err)
	}

	result, err := fn(ptr, int32(len(input)))
	if err != nil {
		return nil, inst.fault(err)
	}

	packed, ok := result.(int64)
	if !ok {
		return nil, xerrors.Errorf("export '%s' returned '%T': %w", export, result, execution.ErrSandbox)
	}

	output, err := inst.read(packed)
	if err != nil {
		return nil, inst.fault(err)
	}

	return output, nil
}

func (e *Engine) compile(code []byte) (*wasmer.Module, error) {
	key := sha256.Sum256(code)

	e.compileLock.Lock()
	defer e.compileLock.Unlock()

	cached, found := e.cache.Get(key)
	if found {
		return cached.(*wasmer.Module), nil
	}

	module, err := wasmer.NewModule(e.store, code)
	if err != nil {
		return nil, xerrors.Errorf("failed to compile: %v: %w", err, execution.ErrSandbox)
	}

	e.cache.Add(key, module)

	rexec.Logger.Debug().
		Str("component", "wasm").
		Int("size", len(code)).
		Msg("module compiled")

	return module, nil
}

// instance is the state of one execution of a module.
type instance struct {
	host    execution.Host
	memory  *wasmer.Memory
	alloc   wasmer.NativeFunction
	hostErr error
}

func (i *instance) imports(store *wasmer.Store) *wasmer.ImportObject {
	call := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I32), wasmer.NewValueTypes(wasmer.I64)),
		i.call)

	consume := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I64), wasmer.NewValueTypes()),
		i.consume)

	imports := wasmer.NewImportObject()
	imports.Register(hostModule, map[string]wasmer.IntoExtern{
		callImport:    call,
		consumeImport: consume,
	})

	return imports
}

func (i *instance) bind(inst *wasmer.Instance) error {
	memory, err := inst.Exports.GetMemory(memoryExport)
	if err != nil {
		return xerrors.Errorf("missing memory: %v: %w", err, execution.ErrSandbox)
	}

	alloc, err := inst.Exports.GetFunction(allocExport)
	if err != nil {
		return xerrors.Errorf("missing allocator: %v: %w", err, execution.ErrSandbox)
	}

	i.memory = memory
	i.alloc = alloc

	return nil
}

func (i *instance) call(args []wasmer.Value) ([]wasmer.Value, error) {
	payload, err := i.slice(args[0].I32(), args[1].I32())
	if err != nil {
		return nil, i.trap(err)
	}

	resp, err := i.host.Call(append([]byte{}, payload...))
	if err != nil {
		return nil, i.trap(err)
	}

	ptr, err := i.write(resp)
	if err != nil {
		return nil, i.trap(err)
	}

	return []wasmer.Value{wasmer.NewI64(pack(ptr, int32(len(resp))))}, nil
}

func (i *instance) consume(args []wasmer.Value) ([]wasmer.Value, error) {
	err := i.host.Consume(uint64(args[0].I64()))
	if err != nil {
		return nil, i.trap(err)
	}

	return []wasmer.Value{}, nil
}

// trap remembers the error of the host so that it can be returned instead of
// the trap of the runtime.
func (i *instance) trap(err error) error {
	if i.hostErr == nil {
		i.hostErr = err
	}

	return err
}

// fault returns the error of the host if the module trapped because of it,
// otherwise a sandbox error.
func (i *instance) fault(err error) error {
	if i.hostErr != nil {
		return i.hostErr
	}

	return xerrors.Errorf("%v: %w", err, execution.ErrSandbox)
}

func (i *instance) write(data []byte) (int32, error) {
	res, err := i.alloc(int32(len(data)))
	if err != nil {
		return 0, xerrors.Errorf("alloc failed: %v", err)
	}

	ptr, ok := res.(int32)
	if !ok {
		return 0, xerrors.Errorf("alloc returned '%T'", res)
	}

	buffer, err := i.slice(ptr, int32(len(data)))
	if err != nil {
		return 0, err
	}

	copy(buffer, data)

	return ptr, nil
}

func (i *instance) read(packed int64) ([]byte, error) {
	ptr, size := unpack(packed)

	buffer, err := i.slice(ptr, size)
	if err != nil {
		return nil, err
	}

	return append([]byte{}, buffer...), nil
}

func (i *instance) slice(ptr, size int32) ([]byte, error) {
	data := i.memory.Data()

	if ptr < 0 || size < 0 || int(ptr)+int(size) > len(data) {
		return nil, xerrors.Errorf("out of bounds access [%d:%d]", ptr, int(ptr)+int(size))
	}

	return data[ptr : ptr+size], nil
}

func pack(ptr, size int32) int64 {
	return int64(uint64(uint32(ptr))<<32 | uint64(uint32(size)))
}

func unpack(packed int64) (int32, int32) {
	return int32(uint64(packed) >> 32), int32(uint32(uint64(packed)))
}
