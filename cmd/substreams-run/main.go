package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/davidmdm/x/xcontext"

	"github.com/yokecd/substreams/internal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

//go:embed cmd_help.txt
var rootHelp string

func init() {
	rootHelp = strings.TrimSpace(rootHelp)
}

type GlobalSettings struct {
	Debug *bool
}

func RegisterGlobalFlags(flagset *flag.FlagSet, settings *GlobalSettings) {
	if settings.Debug == nil {
		settings.Debug = new(bool)
	}
	flagset.BoolVar(settings.Debug, "debug", *settings.Debug, "print debug timings and logs to stderr")
}

func run() error {
	settings := GlobalSettings{Debug: new(bool)}

	RegisterGlobalFlags(flag.CommandLine, &settings)

	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), rootHelp)
		flag.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}

	flag.Parse()

	ctx, cancel := xcontext.WithSignalCancelation(context.Background(), syscall.SIGINT)
	defer cancel()

	ctx = internal.WithDebugFlag(ctx, settings.Debug)

	if len(flag.Args()) == 0 {
		flag.Usage()
		return fmt.Errorf("no command provided")
	}

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	subcmdArgs := flag.Args()[1:]

	switch cmd := flag.Arg(0); cmd {
	case "run":
		{
			params, err := GetRunParams(settings, cfg, subcmdArgs)
			if err != nil {
				return err
			}
			ctx = internal.WithLogger(ctx, newLogger(*params.Debug))
			return Run(ctx, *params)
		}
	case "entrypoints", "ls":
		{
			params, err := GetEntrypointsParams(cfg, subcmdArgs)
			if err != nil {
				return err
			}
			return Entrypoints(ctx, *params)
		}
	case "version":
		return Version()
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
