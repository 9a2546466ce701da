package wasi

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/davidmdm/x/xerr"

	"github.com/yokecd/substreams/internal"
	"github.com/yokecd/substreams/internal/abi"
	"github.com/yokecd/substreams/internal/host"
)

type callStateKey struct{}

// callState is what the host functions of one Execute share.
type callState struct {
	call *host.Call
	// allocations placed in module memory, released once the call returns.
	allocations []allocation
}

type allocation struct {
	ptr    uint32
	length uint32
}

func withCallState(ctx context.Context, state *callState) context.Context {
	return context.WithValue(ctx, callStateKey{}, state)
}

func stateFrom(ctx context.Context) *callState {
	state, ok := ctx.Value(callStateKey{}).(*callState)
	if !ok {
		panic("host function called outside of Execute")
	}
	return state
}

// place copies data into module memory through the module's alloc export.
func (state *callState) place(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	ptr, err := malloc(ctx, mod, data)
	if err != nil {
		return 0, err
	}
	state.allocations = append(state.allocations, allocation{ptr: ptr, length: uint32(len(data))})
	return ptr, nil
}

func (state *callState) release(ctx context.Context, mod api.Module) error {
	dealloc := mod.ExportedFunction("dealloc")

	var errs []error
	for _, alloc := range state.allocations {
		if alloc.length == 0 {
			continue
		}
		if _, err := dealloc.Call(ctx, api.EncodeU32(alloc.ptr), api.EncodeU32(alloc.length)); err != nil {
			errs = append(errs, fmt.Errorf("dealloc(%#x, %d): %w", alloc.ptr, alloc.length, err))
		}
	}
	state.allocations = nil

	return xerr.MultiErrFrom("failed to release module memory", errs...)
}

func malloc(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}

	results, err := mod.ExportedFunction("alloc").Call(ctx, api.EncodeU32(uint32(len(data))))
	if err != nil {
		return 0, fmt.Errorf("alloc(%d): %w", len(data), err)
	}

	ptr := api.DecodeU32(results[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("alloc(%d) returned out of range address %#x", len(data), ptr)
	}
	return ptr, nil
}

// read copies length bytes out of module memory. An out of range read aborts the call.
func read(mod api.Module, ptr, length uint32) []byte {
	if length == 0 {
		return nil
	}
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		panic(fmt.Errorf("out of range memory read: %d bytes at %#x", length, ptr))
	}
	return append([]byte{}, data...)
}

func readString(mod api.Module, ptr, length uint32) string {
	return string(read(mod, ptr, length))
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
	f64 = api.ValueTypeF64
)

type hostFunc struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
	fn      func(ctx context.Context, mod api.Module, call *host.Call, stack []uint64)
}

func instantiateHostModules(ctx context.Context, runtime wazero.Runtime) error {
	modules := map[string][]hostFunc{
		"env":    envFunctions(),
		"logger": loggerFunctions(),
		"state":  stateFunctions(),
	}

	for name, funcs := range modules {
		builder := runtime.NewHostModuleBuilder(name)
		for _, def := range funcs {
			builder.
				NewFunctionBuilder().
				WithGoModuleFunction(bind(def.fn), def.params, def.results).
				WithName(def.name).
				Export(def.name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	return nil
}

func bind(fn func(context.Context, api.Module, *host.Call, []uint64)) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		fn(ctx, mod, stateFrom(ctx).call, stack)
	}
}

func envFunctions() []hostFunc {
	return []hostFunc{
		{
			name:   "output",
			params: []api.ValueType{i32, i32},
			fn: func(ctx context.Context, mod api.Module, call *host.Call, stack []uint64) {
				ptr, length := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
				call.Output(read(mod, ptr, length))
				// The module leaves its output pinned until the host releases it.
				state := stateFrom(ctx)
				state.allocations = append(state.allocations, allocation{ptr: ptr, length: length})
			},
		},
		{
			name:   "register_panic",
			params: []api.ValueType{i32, i32, i32, i32, i32, i32},
			fn: func(ctx context.Context, mod api.Module, call *host.Call, stack []uint64) {
				report := abi.Panic{
					Message: readString(mod, api.DecodeU32(stack[0]), api.DecodeU32(stack[1])),
					File:    readString(mod, api.DecodeU32(stack[2]), api.DecodeU32(stack[3])),
					Line:    api.DecodeU32(stack[4]),
					Column:  api.DecodeU32(stack[5]),
				}
				internal.Logger(ctx).Debug("module panicked", "entrypoint", call.Entrypoint, "message", report.Message, "file", report.File, "line", report.Line)
				call.RegisterPanic(report)
			},
		},
	}
}

func loggerFunctions() []hostFunc {
	return []hostFunc{
		{
			name:   "println",
			params: []api.ValueType{i32, i32},
			fn: func(_ context.Context, mod api.Module, call *host.Call, stack []uint64) {
				call.Println(readString(mod, api.DecodeU32(stack[0]), api.DecodeU32(stack[1])))
			},
		},
	}
}

func stateFunctions() []hostFunc {
	funcs := []hostFunc{
		write("set", abi.WriteSet),
		write("set_if_not_exists", abi.WriteSetIfNotExists),
		write("append", abi.WriteAppend),
		{
			name:   "delete_prefix",
			params: []api.ValueType{i64, i32, i32},
			fn: func(_ context.Context, mod api.Module, call *host.Call, stack []uint64) {
				call.DeletePrefix(stack[0], readString(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2])))
			},
		},
	}

	for _, op := range []abi.MergeOp{abi.MergeAdd, abi.MergeMin, abi.MergeMax} {
		for _, repr := range []abi.Representation{abi.Int64, abi.Float64, abi.BigInt, abi.BigDecimal} {
			funcs = append(funcs, merge(op, repr))
		}
	}

	for _, kind := range []abi.QueryKind{abi.QueryAt, abi.QueryFirst, abi.QueryLast} {
		funcs = append(funcs, get(kind), has(kind))
	}

	return funcs
}

func write(name string, op abi.WriteOp) hostFunc {
	return hostFunc{
		name:   name,
		params: []api.ValueType{i64, i32, i32, i32, i32},
		fn: func(_ context.Context, mod api.Module, call *host.Call, stack []uint64) {
			key := readString(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
			value := read(mod, api.DecodeU32(stack[3]), api.DecodeU32(stack[4]))
			call.Write(op, stack[0], key, value)
		},
	}
}

func merge(op abi.MergeOp, repr abi.Representation) hostFunc {
	def := hostFunc{name: abi.ImportName(op, repr)}

	switch repr {
	case abi.Int64:
		def.params = []api.ValueType{i64, i32, i32, i64}
		def.fn = func(_ context.Context, mod api.Module, call *host.Call, stack []uint64) {
			key := readString(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
			call.Merge(op, stack[0], key, abi.Operand{Representation: repr, Int: int64(stack[3])})
		}
	case abi.Float64:
		def.params = []api.ValueType{i64, i32, i32, f64}
		def.fn = func(_ context.Context, mod api.Module, call *host.Call, stack []uint64) {
			key := readString(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
			call.Merge(op, stack[0], key, abi.Operand{Representation: repr, Float: api.DecodeF64(stack[3])})
		}
	default:
		def.params = []api.ValueType{i64, i32, i32, i32, i32}
		def.fn = func(_ context.Context, mod api.Module, call *host.Call, stack []uint64) {
			key := readString(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
			text := readString(mod, api.DecodeU32(stack[3]), api.DecodeU32(stack[4]))
			call.Merge(op, stack[0], key, abi.Operand{Representation: repr, Text: text})
		}
	}

	return def
}

// query decodes the (store, [ordinal], key_ptr, key_len) prefix shared by get and has functions.
func query(kind abi.QueryKind, mod api.Module, stack []uint64) (store uint32, q abi.Query, key string, rest []uint64) {
	store, q = api.DecodeU32(stack[0]), abi.Query{Kind: kind}
	stack = stack[1:]
	if kind == abi.QueryAt {
		q.Ordinal, stack = stack[0], stack[1:]
	}
	return store, q, readString(mod, api.DecodeU32(stack[0]), api.DecodeU32(stack[1])), stack[2:]
}

func queryParams(kind abi.QueryKind) []api.ValueType {
	if kind == abi.QueryAt {
		return []api.ValueType{i32, i64, i32, i32}
	}
	return []api.ValueType{i32, i32, i32}
}

// get writes the found value into module memory through alloc and stores its (ptr, len)
// at out_ptr. The module takes ownership of that allocation.
func get(kind abi.QueryKind) hostFunc {
	return hostFunc{
		name:    "get_" + kind.String(),
		params:  append(queryParams(kind), i32),
		results: []api.ValueType{i32},
		fn: func(ctx context.Context, mod api.Module, call *host.Call, stack []uint64) {
			store, q, key, rest := query(kind, mod, stack)
			outPtr := api.DecodeU32(rest[0])

			value, found := call.Get(store, q, key)
			if !found {
				stack[0] = api.EncodeU32(0)
				return
			}

			ptr, err := malloc(ctx, mod, value)
			if err != nil {
				panic(fmt.Errorf("get_%s: %w", kind, err))
			}
			if !mod.Memory().WriteUint32Le(outPtr, ptr) || !mod.Memory().WriteUint32Le(outPtr+4, uint32(len(value))) {
				panic(fmt.Errorf("get_%s: out of range result pointer %#x", kind, outPtr))
			}

			stack[0] = api.EncodeU32(1)
		},
	}
}

func has(kind abi.QueryKind) hostFunc {
	return hostFunc{
		name:    "has_" + kind.String(),
		params:  queryParams(kind),
		results: []api.ValueType{i32},
		fn: func(_ context.Context, mod api.Module, call *host.Call, stack []uint64) {
			store, q, key, _ := query(kind, mod, stack)
			if call.Has(store, q, key) {
				stack[0] = api.EncodeU32(1)
			} else {
				stack[0] = api.EncodeU32(0)
			}
		},
	}
}
