// Package wasi runs modules compiled for wasip1 under wazero, providing the env, state and
// logger host modules backed by a host.Call.
package wasi

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/davidmdm/x/xerr"

	"github.com/yokecd/substreams/internal"
	"github.com/yokecd/substreams/internal/host"
	"github.com/yokecd/substreams/pkg/substreams/pb"
)

const pageSize = 64 * 1024

// Exports every module must provide so that the host can place arguments in its memory.
var requiredExports = []string{"alloc", "dealloc"}

type CompileParams struct {
	Wasm     []byte
	CacheDir string
	// MaxMemory bounds the module's linear memory in bytes. Zero leaves wazero's default.
	MaxMemory uint64
}

type Module struct {
	wazero.CompiledModule
	wazero.Runtime
}

func Compile(ctx context.Context, params CompileParams) (Module, error) {
	defer internal.DebugTimer(ctx, "wasm compile")()

	cfg := wazero.
		NewRuntimeConfig().
		WithCloseOnContextDone(true)

	if params.MaxMemory > 0 {
		cfg = cfg.WithMemoryLimitPages(uint32(max(params.MaxMemory/pageSize, 1)))
	}

	if params.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(params.CacheDir)
		if err != nil {
			return Module{}, fmt.Errorf("failed to instantiate compilation cache: %w", err)
		}
		cfg = cfg.WithCompilationCache(cache)
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, cfg)

	wasi_snapshot_preview1.MustInstantiate(ctx, runtime)

	if err := instantiateHostModules(ctx, runtime); err != nil {
		return Module{}, xerr.MultiErrFrom("", fmt.Errorf("failed to instantiate host modules: %w", err), runtime.Close(ctx))
	}

	mod, err := runtime.CompileModule(ctx, params.Wasm)
	if err != nil {
		return Module{}, xerr.MultiErrFrom("", err, runtime.Close(ctx))
	}

	exports := mod.ExportedFunctions()
	for _, name := range requiredExports {
		if _, ok := exports[name]; !ok {
			return Module{}, xerr.MultiErrFrom("", fmt.Errorf("module does not export %q", name), mod.Close(ctx), runtime.Close(ctx))
		}
	}

	return Module{Runtime: runtime, CompiledModule: mod}, nil
}

func (mod Module) Close(ctx context.Context) error {
	return xerr.MultiErrFrom("",
		func() error {
			if mod.CompiledModule == nil {
				return nil
			}
			return mod.CompiledModule.Close(ctx)
		}(),
		func() error {
			if mod.Runtime == nil {
				return nil
			}
			return mod.Runtime.Close(ctx)
		}(),
	)
}

// Entrypoints lists the functions the module exports besides its allocator and wasi's own exports.
func (mod Module) Entrypoints() []string {
	var names []string
	for name := range mod.ExportedFunctions() {
		switch name {
		case "alloc", "dealloc", "_initialize", "_start":
			continue
		}
		names = append(names, name)
	}
	return names
}

// Argument is one parameter of an entry point.
type Argument interface {
	isArgument()
}

// Bytes is written into module memory and passed as a (ptr, len) pair.
type Bytes []byte

// StoreIndex is passed as-is; it addresses the call's input stores.
type StoreIndex uint32

// Deltas is encoded as a StoreDeltas message and passed as a (ptr, len) pair.
type Deltas []*pb.StoreDelta

func (Bytes) isArgument()      {}
func (StoreIndex) isArgument() {}
func (Deltas) isArgument()     {}

var ErrMissingEntrypoint = errors.New("module does not export entrypoint")

// Execute instantiates the module and invokes entrypoint with args, bound to call.
// Every buffer the host placed in module memory, and the output the module handed back,
// is deallocated with its exact size once the call returns.
func (mod Module) Execute(ctx context.Context, call *host.Call, entrypoint string, args ...Argument) (err error) {
	defer internal.DebugTimer(ctx, "execute "+entrypoint)()

	var (
		stdout bytes.Buffer
		stderr bytes.Buffer
	)

	moduleCfg := wazero.
		NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize").
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithRandSource(rand.Reader).
		WithSysNanosleep().
		WithSysNanotime().
		WithSysWalltime().
		WithArgs(entrypoint)

	instance, err := mod.InstantiateModule(ctx, mod.CompiledModule, moduleCfg)
	if err != nil {
		return fmt.Errorf("failed to instantiate module: %w: stderr: %s", err, orNone(stderr.String()))
	}
	defer func() {
		if !reflect.ValueOf(instance).IsNil() {
			err = xerr.MultiErrFrom("", err, instance.Close(ctx))
		}
	}()

	fn := instance.ExportedFunction(entrypoint)
	if fn == nil {
		return fmt.Errorf("%w: %q", ErrMissingEntrypoint, entrypoint)
	}

	state := &callState{call: call}
	ctx = withCallState(ctx, state)

	var params []uint64
	for i, arg := range args {
		switch arg := arg.(type) {
		case StoreIndex:
			params = append(params, api.EncodeU32(uint32(arg)))
		case Bytes:
			ptr, err := state.place(ctx, instance, arg)
			if err != nil {
				return fmt.Errorf("argument %d: %w", i, err)
			}
			params = append(params, api.EncodeU32(ptr), api.EncodeU32(uint32(len(arg))))
		case Deltas:
			data := (&pb.StoreDeltas{Deltas: arg}).Marshal()
			ptr, err := state.place(ctx, instance, data)
			if err != nil {
				return fmt.Errorf("argument %d: %w", i, err)
			}
			params = append(params, api.EncodeU32(ptr), api.EncodeU32(uint32(len(data))))
		default:
			return fmt.Errorf("argument %d: unsupported type %T", i, arg)
		}
	}

	start := time.Now()

	if _, err := fn.Call(ctx, params...); err != nil {
		if call.PanicError != nil {
			return fmt.Errorf("%s: %w", entrypoint, call.PanicError)
		}
		return fmt.Errorf("%s: %w: stderr: %s", entrypoint, err, orNone(stderr.String()))
	}

	internal.Logger(ctx).Debug(
		"executed entrypoint",
		"entrypoint", entrypoint,
		"duration", time.Since(start).Round(time.Microsecond).String(),
		"output_bytes", len(call.ReturnValue),
		"logs", len(call.Logs),
	)

	return state.release(ctx, instance)
}

func orNone(details string) string {
	if details == "" {
		return "(no output captured on stderr)"
	}
	return details
}
