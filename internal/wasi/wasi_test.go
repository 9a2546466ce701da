package wasi

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yokecd/substreams/internal/host"
	"github.com/yokecd/substreams/internal/x"
)

var counterWasm []byte

func TestMain(m *testing.M) {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	dir, err := os.MkdirTemp("", "substreams-wasi-test")
	must(err)

	output := filepath.Join(dir, "counter.wasm")
	must(x.Xf("go build -buildmode=c-shared -o %s ../../examples/counter", []any{output}, x.Env("GOOS=wasip1", "GOARCH=wasm")))

	counterWasm, err = os.ReadFile(output)
	must(err)

	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func compile(t *testing.T) Module {
	t.Helper()

	ctx := context.Background()

	mod, err := Compile(ctx, CompileParams{Wasm: counterWasm, MaxMemory: 64 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, mod.Close(ctx)) })

	return mod
}

func newValuesStore() *host.Store {
	return host.NewStore(host.StoreConfig{Name: "values", Policy: host.PolicySet, ValueType: "string"})
}

func TestEntrypoints(t *testing.T) {
	mod := compile(t)

	entrypoints := mod.Entrypoints()
	slices.Sort(entrypoints)

	require.Equal(t, []string{"map_echo", "map_fails", "map_values", "store_then_fail", "store_updates", "store_values"}, entrypoints)
}

func TestStoreThenMap(t *testing.T) {
	ctx := context.Background()
	mod := compile(t)

	values := newValuesStore()

	require.NoError(t, mod.Execute(ctx, host.NewCall("store_values", values), "store_values", Bytes("x")))
	require.Len(t, values.Deltas(), 2)

	call := host.NewCall("map_values", nil, values)
	require.NoError(t, mod.Execute(ctx, call, "map_values", Bytes("x"), StoreIndex(0)))

	var result structpb.Struct
	require.NoError(t, proto.Unmarshal(call.ReturnValue, &result))

	require.Equal(t, map[string]any{"at_15": "1", "first": "1", "last": "2"}, result.AsMap())
	require.Equal(t, []string{`read 3 versions of "x"`}, call.Logs)
}

func TestRepeatedOutputIsReleased(t *testing.T) {
	ctx := context.Background()
	mod := compile(t)

	call := host.NewCall("map_echo", nil)
	require.NoError(t, mod.Execute(ctx, call, "map_echo", Bytes("echo")))
	require.Equal(t, "echo", string(call.ReturnValue))
}

func TestDeltasArgument(t *testing.T) {
	ctx := context.Background()
	mod := compile(t)

	values := newValuesStore()
	require.NoError(t, mod.Execute(ctx, host.NewCall("store_values", values), "store_values", Bytes("x")))

	updates := host.NewStore(host.StoreConfig{Name: "updates", Policy: host.PolicyAdd, ValueType: "int64"})
	require.NoError(t, mod.Execute(ctx, host.NewCall("store_updates", updates), "store_updates", Deltas(values.Deltas())))

	count, ok := updates.GetLast("x")
	require.True(t, ok)
	require.Equal(t, "2", string(count))
}

func TestPanicIsReported(t *testing.T) {
	ctx := context.Background()
	mod := compile(t)

	call := host.NewCall("map_fails", nil)
	err := mod.Execute(ctx, call, "map_fails", Bytes("boom"))

	var panicErr *host.PanicError
	require.ErrorAs(t, err, &panicErr)
	require.Equal(t, "boom", panicErr.Message)
	require.Equal(t, "counter.go", filepath.Base(panicErr.File))
	require.NotZero(t, panicErr.Line)

	require.NotEmpty(t, call.Logs)
	require.Contains(t, call.Logs[0], "panic: boom")
}

func TestPolicyViolationFailsTheCall(t *testing.T) {
	ctx := context.Background()
	mod := compile(t)

	updates := host.NewStore(host.StoreConfig{Name: "updates", Policy: host.PolicyAdd, ValueType: "int64"})

	err := mod.Execute(ctx, host.NewCall("store_values", updates), "store_values", Bytes("x"))
	require.ErrorContains(t, err, `invalid store operation "set"`)
	require.Empty(t, updates.Deltas())
}

func TestMissingEntrypoint(t *testing.T) {
	mod := compile(t)

	err := mod.Execute(context.Background(), host.NewCall("map_nothing", nil), "map_nothing")
	require.ErrorIs(t, err, ErrMissingEntrypoint)
}

func TestCompileRequiresAllocator(t *testing.T) {
	// An empty module: magic and version only.
	_, err := Compile(context.Background(), CompileParams{Wasm: []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}})
	require.ErrorContains(t, err, `module does not export "alloc"`)
}
