package main

import (
	"cmp"
	"context"
	_ "embed"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/davidmdm/ansi"
	"github.com/davidmdm/x/xerr"
	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"

	"github.com/yokecd/substreams/internal"
	"github.com/yokecd/substreams/internal/host"
	"github.com/yokecd/substreams/internal/wasi"
	"github.com/yokecd/substreams/pkg/substreams/pb"
)

//go:embed cmd_run_help.txt
var runHelp string

func init() {
	runHelp = strings.TrimSpace(runHelp)
}

var (
	cyan   = ansi.MakeStyle(ansi.FgCyan).Sprint
	yellow = ansi.MakeStyle(ansi.FgYellow).Sprint
)

// styled applies style only when out is a terminal.
func styled(out io.Writer, style func(...any) string, text string) string {
	if file, ok := out.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		return style(text)
	}
	return text
}

type RunParams struct {
	GlobalSettings
	Wasm      string
	Scenario  string
	CacheDir  string
	MaxMemory Size
	// KeepGoing reports failed calls and moves on to the next one instead of stopping the run.
	KeepGoing bool
	Out       io.Writer
}

func GetRunParams(settings GlobalSettings, cfg Config, args []string) (*RunParams, error) {
	flagset := flag.NewFlagSet("run", flag.ExitOnError)

	flagset.Usage = func() {
		fmt.Fprintln(flagset.Output(), runHelp)
		flagset.PrintDefaults()
	}

	params := RunParams{
		GlobalSettings: settings,
		CacheDir:       cfg.CacheDir,
		MaxMemory:      cfg.MaxMemory,
		Out:            os.Stdout,
	}

	RegisterGlobalFlags(flagset, &params.GlobalSettings)

	flagset.StringVar(&params.Wasm, "wasm", "", "path to the module to run")
	flagset.StringVar(&params.Scenario, "scenario", "", "path to the scenario file")
	flagset.StringVar(&params.CacheDir, "cache-dir", params.CacheDir, "directory of the wazero compilation cache")
	flagset.Var(&params.MaxMemory, "max-memory", "memory limit of the module, such as 64MiB")
	flagset.BoolVar(&params.KeepGoing, "keep-going", false, "continue with the next call when a call fails")

	flagset.Parse(args)

	params.Wasm = cmp.Or(params.Wasm, flagset.Arg(0))

	if params.Wasm == "" {
		return nil, fmt.Errorf("-wasm is required")
	}
	if params.Scenario == "" {
		return nil, fmt.Errorf("-scenario is required")
	}

	return &params, nil
}

func Run(ctx context.Context, params RunParams) (err error) {
	scenario, err := LoadScenario(params.Scenario)
	if err != nil {
		return err
	}

	wasm, err := os.ReadFile(params.Wasm)
	if err != nil {
		return fmt.Errorf("failed to read module: %w", err)
	}

	mod, err := wasi.Compile(ctx, wasi.CompileParams{
		Wasm:      wasm,
		CacheDir:  params.CacheDir,
		MaxMemory: uint64(params.MaxMemory),
	})
	if err != nil {
		return fmt.Errorf("failed to compile module: %w", err)
	}
	defer func() {
		err = xerr.MultiErrFrom("", err, mod.Close(context.WithoutCancel(ctx)))
	}()

	return RunScenario(ctx, mod, scenario, params.Out, params.KeepGoing)
}

// RunScenario executes every call of every block in order. Stores are flushed at the end of each block.
func RunScenario(ctx context.Context, mod wasi.Module, scenario *Scenario, out io.Writer, keepGoing bool) error {
	logger := internal.Logger(ctx)
	stores := scenario.NewStores()

	var failures int

	for _, block := range scenario.Blocks {
		for _, spec := range block.Calls {
			if err := ctx.Err(); err != nil {
				return err
			}

			call, args, err := spec.Bind(stores)
			if err != nil {
				return fmt.Errorf("block %d: %s: %w", block.Number, spec.Entrypoint, err)
			}

			fmt.Fprintln(out, styled(out, cyan, fmt.Sprintf("block %d > %s", block.Number, spec.Entrypoint)))

			var checkpoint host.Checkpoint
			if call.OutputStore != nil {
				checkpoint = call.OutputStore.Checkpoint()
			}

			execErr := mod.Execute(ctx, call, spec.Entrypoint, args...)

			// A failed call leaves no writes behind for the calls that follow it.
			if execErr != nil && call.OutputStore != nil {
				call.OutputStore.Rollback(checkpoint)
			}

			printCall(out, call)

			if execErr != nil {
				logger.Error("call failed", "block", block.Number, "entrypoint", spec.Entrypoint, "error", execErr.Error())
				if !keepGoing {
					return fmt.Errorf("block %d: %w", block.Number, execErr)
				}
				fmt.Fprintln(out, styled(out, yellow, fmt.Sprintf("  error: %v", execErr)))
				failures++
				continue
			}
		}

		for _, store := range stores {
			logger.Debug("flushing store", "block", block.Number, "store", store.Name(), "keys", store.Length(), "bytes", store.SizeBytes())
			store.Flush()
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d call(s) failed", failures)
	}

	return nil
}

func printCall(out io.Writer, call *host.Call) {
	if len(call.ReturnValue) > 0 {
		fmt.Fprintf(out, "  output: %s\n", hex.EncodeToString(call.ReturnValue))
	}

	for _, line := range call.Logs {
		fmt.Fprintf(out, "  log: %s\n", line)
	}
	if call.LogsTruncated {
		fmt.Fprintln(out, styled(out, yellow, fmt.Sprintf("  logs truncated after %d bytes", call.LogsByteCount)))
	}

	if call.OutputStore != nil {
		if deltas := call.OutputStore.Deltas(); len(deltas) > 0 {
			fmt.Fprintln(out, renderDeltas(call.OutputStore.Name(), deltas))
		}
	}
}

func renderDeltas(store string, deltas []*pb.StoreDelta) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleRounded)
	tbl.SetTitle(store)

	tbl.AppendHeader(table.Row{"ordinal", "operation", "key", "old", "new"})
	for _, delta := range deltas {
		tbl.AppendRow(table.Row{delta.Ordinal, delta.Operation, delta.Key, printable(delta.OldValue), printable(delta.NewValue)})
	}

	return tbl.Render()
}

// printable shows values as text when they are valid printable UTF-8 and as hex otherwise.
func printable(value []byte) string {
	if value == nil {
		return ""
	}
	for _, r := range string(value) {
		if r == utf8.RuneError || (r < 0x20 && r != '\t') {
			return "0x" + hex.EncodeToString(value)
		}
	}
	return string(value)
}
