package internal

import (
	"context"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/davidmdm/ansi"
)

type debugKey struct{}

func WithDebugFlag(ctx context.Context, debug *bool) context.Context {
	return context.WithValue(ctx, debugKey{}, debug)
}

func Debug(ctx context.Context) ansi.Terminal {
	debug, _ := ctx.Value(debugKey{}).(*bool)
	if debug == nil || !*debug {
		return ansi.Terminal{Writer: io.Discard}
	}
	return ansi.Stderr
}

func DebugTimer(ctx context.Context, msg string) func() {
	start := time.Now()
	terminal := Debug(ctx)
	terminal.Printf("start: %s\n", msg)
	return func() { terminal.Printf("done:  %s: %s\n", msg, time.Since(start).Round(time.Millisecond)) }
}

type loggerKey struct{}

var discard = slog.New(slog.DiscardHandler)

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the logger bound to ctx, or one that discards everything.
func Logger(ctx context.Context) *slog.Logger {
	if logger, _ := ctx.Value(loggerKey{}).(*slog.Logger); logger != nil {
		return logger
	}
	return discard
}

var info, _ = debug.ReadBuildInfo()

func Version() string {
	if info == nil || info.Main.Version == "" {
		return "(devel)"
	}
	return info.Main.Version
}

func Mods() []*debug.Module {
	if info == nil {
		return nil
	}
	return info.Deps
}
