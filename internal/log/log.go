package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/chainguard-dev/clog"
	charmlog "github.com/charmbracelet/log"
	slogmulti "github.com/samber/slog-multi"
)

// Options configure the terminal logger.
type Options struct {
	// Level is one of debug, info, warn or error. Default: info.
	Level string
	// JSON switches the terminal output from human-readable text to JSON.
	JSON bool
}

// New returns a logger writing to 'w'. Levels share slog's numbering, so the
// charm handler is used as a plain slog.Handler. Records are also fanned out
// to 'extra', unfiltered.
func New(w io.Writer, opts Options, extra ...slog.Handler) (*clog.Logger, error) {
	level := charmlog.InfoLevel
	if opts.Level != "" {
		l, err := charmlog.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		level = l
	}

	formatter := charmlog.TextFormatter
	if opts.JSON {
		formatter = charmlog.JSONFormatter
	}
	handler := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
	})
	if len(extra) == 0 {
		return clog.New(handler), nil
	}
	return clog.New(slogmulti.Fanout(append([]slog.Handler{handler}, extra...)...)), nil
}

// Setup installs 'logger' on 'ctx' and as the process-wide slog default.
func Setup(ctx context.Context, logger *clog.Logger) context.Context {
	slog.SetDefault(&logger.Logger)
	return clog.WithLogger(ctx, logger)
}
