package logger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repodocs/repodocs-api/internal/config"
)

func TestSetup(t *testing.T) {
	cases := []struct {
		name      string
		level     string
		format    string
		wantDebug bool
	}{
		{"debug json", "debug", "json", true},
		{"info json", "info", "json", false},
		{"warn console", "warn", "console", false},
		{"case insensitive", "DEBUG", "JSON", true},
		{"invalid level falls back to info", "verbose", "json", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			log, err := Setup(config.ServerConfig{LogLevel: tc.level, LogFormat: tc.format})
			require.NoError(t, err)
			require.NotNil(t, log)
			assert.Equal(t, tc.wantDebug, log.Enabled(context.Background(), slog.LevelDebug))
		})
	}
}

func TestContextLogger(t *testing.T) {
	scoped := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("round-trips through the context", func(t *testing.T) {
		ctx := WithLogger(context.Background(), scoped)
		assert.Same(t, scoped, FromContext(ctx))
	})

	t.Run("falls back to the default logger", func(t *testing.T) {
		assert.Same(t, slog.Default(), FromContext(context.Background()))
	})

	t.Run("FromContextOrDefault prefers the context logger", func(t *testing.T) {
		ctx := WithLogger(context.Background(), scoped)
		fallback := slog.New(slog.NewTextHandler(io.Discard, nil))
		assert.Same(t, scoped, FromContextOrDefault(ctx, fallback))
	})

	t.Run("FromContextOrDefault uses the fallback when the context is bare", func(t *testing.T) {
		fallback := slog.New(slog.NewTextHandler(io.Discard, nil))
		assert.Same(t, fallback, FromContextOrDefault(context.Background(), fallback))
	})
}
