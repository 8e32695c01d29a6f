package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rm-runner/rm-runner/internal/cli"
	"github.com/rm-runner/rm-runner/internal/o11y"
)

// Set with -ldflags "-X main.version=..." for release builds.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()
	// Cancellation aborts the current phase; teardown still runs.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	shutdown, err := o11y.SetupTracing(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tracing disabled:", err)
	}
	defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()

	otlpLogs, flush, err := o11y.SetupLogging(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "log export disabled:", err)
	}
	defer func() { _ = flush(context.WithoutCancel(ctx)) }()

	var handlers []slog.Handler
	if otlpLogs != nil {
		handlers = append(handlers, otlpLogs)
	}

	err = cli.NewRootCommand(version, handlers...).ExecuteContext(ctx)
	var exitErr *cli.ExitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exitErr):
		if err != error(exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return exitErr.Code
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
}
