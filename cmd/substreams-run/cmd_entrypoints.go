package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/yokecd/substreams/internal/wasi"
)

type EntrypointsParams struct {
	Wasm     string
	CacheDir string
}

func GetEntrypointsParams(cfg Config, args []string) (*EntrypointsParams, error) {
	flagset := flag.NewFlagSet("entrypoints", flag.ExitOnError)

	params := EntrypointsParams{CacheDir: cfg.CacheDir}

	flagset.StringVar(&params.Wasm, "wasm", "", "path to the module")
	flagset.StringVar(&params.CacheDir, "cache-dir", params.CacheDir, "directory of the wazero compilation cache")
	flagset.Parse(args)

	if params.Wasm == "" {
		params.Wasm = flagset.Arg(0)
	}
	if params.Wasm == "" {
		return nil, fmt.Errorf("-wasm is required")
	}

	return &params, nil
}

func Entrypoints(ctx context.Context, params EntrypointsParams) error {
	wasm, err := os.ReadFile(params.Wasm)
	if err != nil {
		return fmt.Errorf("failed to read module: %w", err)
	}

	mod, err := wasi.Compile(ctx, wasi.CompileParams{Wasm: wasm, CacheDir: params.CacheDir})
	if err != nil {
		return fmt.Errorf("failed to compile module: %w", err)
	}
	defer mod.Close(ctx)

	entrypoints := mod.Entrypoints()
	slices.Sort(entrypoints)

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleRounded)
	tbl.AppendHeader(table.Row{"entrypoint", "parameters"})

	exports := mod.ExportedFunctions()
	for _, name := range entrypoints {
		tbl.AppendRow(table.Row{name, len(exports[name].ParamTypes())})
	}

	fmt.Println(tbl.Render())

	return nil
}
