package cli

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cashbook/internal/config"
)

func TestSetupLoggerHonoursLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := SetupLogger(&config.Config{LogLevel: "warn", LogFormat: "json"})
	ctx := context.Background()
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))

	logger = SetupLogger(nil)
	assert.True(t, logger.Enabled(ctx, slog.LevelInfo))
}

func TestLoadAndValidateConfig(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATA_BACKEND", "memory")
	cfg, err := LoadAndValidateConfig()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)

	t.Setenv("DATA_BACKEND", "sheets")
	_, err = LoadAndValidateConfig()
	assert.Error(t, err)
}

func TestSignalContextCancels(t *testing.T) {
	ctx, cancel := SignalContext(context.Background())
	cancel()
	<-ctx.Done()
	assert.Error(t, ctx.Err())
}
