package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yokecd/substreams/internal/host"
	"github.com/yokecd/substreams/internal/wasi"
	"github.com/yokecd/substreams/internal/x"
)

const counterScenario = `
stores:
  - name: values
    policy: set
    valueType: string
  - name: updates
    policy: add
    valueType: int64
    itemSizeLimit: 1KiB
blocks:
  - number: 1
    calls:
      - entrypoint: store_values
        output: values
        inputs:
          - param: x
      - entrypoint: store_updates
        output: updates
        inputs:
          - deltas: values
      - entrypoint: map_values
        inputs:
          - hex: "78"
          - store: values
  - number: 2
    calls:
      - entrypoint: map_values
        inputs:
          - bytes: eA==
          - store: values
`

func TestParseScenario(t *testing.T) {
	scenario, err := ParseScenario(strings.NewReader(counterScenario))
	require.NoError(t, err)

	require.Len(t, scenario.Stores, 2)
	require.Equal(t, host.PolicyAdd, scenario.Stores[1].Policy)
	require.Equal(t, Size(1024), scenario.Stores[1].ItemSizeLimit)

	require.Len(t, scenario.Blocks, 2)
	require.Len(t, scenario.Blocks[0].Calls, 3)

	stores := scenario.NewStores()
	stores["values"].Set(1, "x", []byte("1"))

	call, args, err := scenario.Blocks[0].Calls[2].Bind(stores)
	require.NoError(t, err)
	require.Equal(t, []wasi.Argument{wasi.Bytes("x"), wasi.StoreIndex(0)}, args)
	require.Nil(t, call.OutputStore)
	require.Equal(t, []*host.Store{stores["values"]}, call.Inputs)

	_, args, err = scenario.Blocks[0].Calls[1].Bind(stores)
	require.NoError(t, err)
	require.Equal(t, []wasi.Argument{wasi.Deltas(stores["values"].Deltas())}, args)
}

func TestParseScenarioErrors(t *testing.T) {
	cases := []struct {
		Name     string
		Scenario string
		Err      string
	}{
		{
			Name:     "unknown policy",
			Scenario: "stores: [{name: a, policy: replace}]",
			Err:      `unknown update policy "replace"`,
		},
		{
			Name:     "duplicate store",
			Scenario: "stores: [{name: a, policy: set}, {name: a, policy: set}]",
			Err:      `invalid scenario: stores[1]: duplicate store "a"`,
		},
		{
			Name:     "unknown output store",
			Scenario: "blocks: [{number: 1, calls: [{entrypoint: map, output: a}]}]",
			Err:      `invalid scenario: blocks[0].calls[0]: output: unknown store "a"`,
		},
		{
			Name:     "ambiguous input",
			Scenario: "blocks: [{number: 1, calls: [{entrypoint: map, inputs: [{param: a, hex: '00'}]}]}]",
			Err:      `invalid scenario: blocks[0].calls[0]: inputs[0]: exactly one of param, bytes, hex, store or deltas must be set: got 2`,
		},
		{
			Name:     "blocks out of order",
			Scenario: "blocks: [{number: 2}, {number: 1}]",
			Err:      `invalid scenario: blocks[1]: block 1 does not follow block 2`,
		},
		{
			Name:     "unknown field",
			Scenario: "stores: [{name: a, policy: set, kind: x}]",
			Err:      "field kind not found",
		},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			_, err := ParseScenario(strings.NewReader(tc.Scenario))
			require.ErrorContains(t, err, tc.Err)
		})
	}
}

func TestBindRejectsInvalidHex(t *testing.T) {
	invalid := "zz"
	call := Call{Entrypoint: "map", Inputs: []Input{{Hex: &invalid}}}

	_, _, err := call.Bind(nil)
	require.ErrorContains(t, err, "inputs[0]: invalid hex")
}

func TestPrintable(t *testing.T) {
	require.Equal(t, "", printable(nil))
	require.Equal(t, "value", printable([]byte("value")))
	require.Equal(t, "0x00ff", printable([]byte{0x00, 0xff}))
}

func TestRunScenario(t *testing.T) {
	output := filepath.Join(t.TempDir(), "counter.wasm")
	require.NoError(t, x.Xf("go build -buildmode=c-shared -o %s ../../examples/counter", []any{output}, x.Env("GOOS=wasip1", "GOARCH=wasm")))

	wasm, err := os.ReadFile(output)
	require.NoError(t, err)

	ctx := context.Background()

	mod, err := wasi.Compile(ctx, wasi.CompileParams{Wasm: wasm})
	require.NoError(t, err)
	defer mod.Close(ctx)

	scenario, err := ParseScenario(strings.NewReader(counterScenario))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, RunScenario(ctx, mod, scenario, &out, false))

	require.Contains(t, out.String(), "block 1 > store_values")
	require.Contains(t, out.String(), "block 2 > map_values")
	require.Equal(t, 2, strings.Count(out.String(), `log: read 3 versions of "x"`))
	require.Equal(t, 1, strings.Count(out.String(), "store_updates"))
}

func TestRunScenarioRollsBackFailedCalls(t *testing.T) {
	output := filepath.Join(t.TempDir(), "counter.wasm")
	require.NoError(t, x.Xf("go build -buildmode=c-shared -o %s ../../examples/counter", []any{output}, x.Env("GOOS=wasip1", "GOARCH=wasm")))

	wasm, err := os.ReadFile(output)
	require.NoError(t, err)

	ctx := context.Background()

	mod, err := wasi.Compile(ctx, wasi.CompileParams{Wasm: wasm})
	require.NoError(t, err)
	defer mod.Close(ctx)

	scenario, err := ParseScenario(strings.NewReader(`
stores:
  - name: values
    policy: set
    valueType: string
blocks:
  - number: 1
    calls:
      - entrypoint: store_then_fail
        output: values
        inputs:
          - param: x
      - entrypoint: map_values
        inputs:
          - param: x
          - store: values
`))
	require.NoError(t, err)

	var out bytes.Buffer
	require.EqualError(t, RunScenario(ctx, mod, scenario, &out, true), "1 call(s) failed")

	require.Contains(t, out.String(), "aborted after writing")
	require.Contains(t, out.String(), `log: read 0 versions of "x"`)
	require.NotContains(t, out.String(), "partial")
}
