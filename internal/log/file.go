package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"github.com/gosimple/slug"
	slogmulti "github.com/samber/slog-multi"
)

// TeeToFile additionally writes every record logged through 'ctx' to a JSON
// log file in 'dir' named after 'runName'. The returned func closes the file.
// Without a directory the context is returned unchanged.
func TeeToFile(ctx context.Context, dir, runName string) (context.Context, func(), error) {
	if dir == "" {
		return ctx, func() {}, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ctx, func() {}, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(dir, fmt.Sprintf("%s.log", slug.Make(runName)))
	logFile, err := os.Create(logPath)
	if err != nil {
		return ctx, func() {}, fmt.Errorf("creating log file: %w", err)
	}

	fileHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := slogmulti.Fanout(clog.FromContext(ctx).Handler(), fileHandler)

	clog.InfoContext(ctx, "logging session output to file", "path", logPath)
	ctx = clog.WithLogger(ctx, clog.New(handler))

	return ctx, func() {
		if err := logFile.Close(); err != nil {
			clog.WarnContext(ctx, "failed to close log file", "path", logPath, "error", err.Error())
		}
	}, nil
}
