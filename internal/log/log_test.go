package log

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/chainguard-dev/clog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("filters below level", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(&buf, Options{Level: "warn"})
		require.NoError(t, err)

		logger.Info("quiet")
		logger.Warn("loud", "key", "value")

		assert.NotContains(t, buf.String(), "quiet")
		assert.Contains(t, buf.String(), "loud")
		assert.Contains(t, buf.String(), "value")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(&buf, Options{JSON: true})
		require.NoError(t, err)

		logger.Info("hello", "run", "rm-runner-1")
		assert.Contains(t, buf.String(), `"msg":"hello"`)
		assert.Contains(t, buf.String(), `"run":"rm-runner-1"`)
	})

	t.Run("extra handlers", func(t *testing.T) {
		var term, extra bytes.Buffer
		logger, err := New(&term, Options{Level: "warn"},
			slog.NewJSONHandler(&extra, &slog.HandlerOptions{Level: slog.LevelDebug}))
		require.NoError(t, err)

		logger.Debug("detail")
		logger.Warn("loud")

		assert.NotContains(t, term.String(), "detail")
		assert.Contains(t, term.String(), "loud")
		assert.Contains(t, extra.String(), `"msg":"detail"`)
		assert.Contains(t, extra.String(), `"msg":"loud"`)
	})

	t.Run("bad level", func(t *testing.T) {
		_, err := New(&bytes.Buffer{}, Options{Level: "loudest"})
		require.Error(t, err)
	})
}

func TestSetup(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger, err := New(&buf, Options{})
	require.NoError(t, err)
	ctx := Setup(context.Background(), logger)

	clog.FromContext(ctx).Info("from context")
	slog.Info("from default")
	assert.Contains(t, buf.String(), "from context")
	assert.Contains(t, buf.String(), "from default")
}

func TestTeeToFile(t *testing.T) {
	var term bytes.Buffer
	logger, err := New(&term, Options{Level: "debug"})
	require.NoError(t, err)
	ctx := clog.WithLogger(context.Background(), logger)

	dir := filepath.Join(t.TempDir(), "logs")
	ctx, closeFn, err := TeeToFile(ctx, dir, "My Run/01")
	require.NoError(t, err)

	clog.FromContext(ctx).Info("provisioned", "instance", "i-123")
	closeFn()

	data, err := os.ReadFile(filepath.Join(dir, "my-run-01.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"provisioned"`)
	assert.Contains(t, string(data), `"instance":"i-123"`)
	assert.Contains(t, term.String(), "provisioned")
}

func TestTeeToFileNoDir(t *testing.T) {
	ctx := context.Background()
	got, closeFn, err := TeeToFile(ctx, "", "run")
	require.NoError(t, err)
	closeFn()
	assert.Equal(t, ctx, got)
}
