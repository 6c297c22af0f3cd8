package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/levenlabs/go-llog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextLogger(t *testing.T) {
	ctx := context.Background()

	// Test Ctx without a logger in the context
	l1 := Ctx(ctx)
	require.NotNil(t, l1, "Ctx returned nil instead of root logger")
	assert.Equal(t, root, l1, "Ctx should return root")

	customLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	require.NotEqual(t, root, customLogger, "Failed to create a distinct custom logger for testing")

	ctxWithLogger := With(ctx, customLogger)
	l2 := Ctx(ctxWithLogger)
	require.NotNil(t, l2, "Ctx returned nil, expected custom logger")
	assert.Equal(t, customLogger, l2, "Ctx should return customLogger")
}

func TestWithCycle(t *testing.T) {
	var buf bytes.Buffer
	ctx := With(context.Background(), newLogger(&buf))

	ctx, id := WithCycle(ctx, "poll")
	require.NotEmpty(t, id)

	Ctx(ctx).InfoContext(ctx, "humidity set", Structure("s1"), Device("02AA"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, id, line[KeyCycle])
	assert.Equal(t, "poll", line[KeyMode])
	assert.Equal(t, "s1", line[KeyStructure])
	assert.Equal(t, "02AA", line[KeyDevice])
	assert.Contains(t, line, slog.SourceKey)

	_, other := WithCycle(context.Background(), "info")
	assert.NotEqual(t, id, other, "each cycle should get its own id")
}

func TestLevelFromLLog(t *testing.T) {
	for l, want := range map[llog.Level]slog.Level{
		llog.DebugLevel: slog.LevelDebug,
		llog.InfoLevel:  slog.LevelInfo,
		llog.WarnLevel:  slog.LevelWarn,
		llog.ErrorLevel: slog.LevelError,
		llog.FatalLevel: LevelFatal,
	} {
		got, err := LevelFromLLog(l)
		require.NoError(t, err, l.String())
		assert.Equal(t, want, got, l.String())
	}

	_, err := LevelFromLLog(llog.Level(42))
	assert.ErrorContains(t, err, "unknown log level")
}

func TestConfigure(t *testing.T) {
	defer Configure(slog.LevelInfo)

	Configure(slog.LevelWarn)
	ctx := context.Background()
	assert.False(t, Ctx(ctx).Enabled(ctx, slog.LevelInfo))
	assert.True(t, Ctx(ctx).Enabled(ctx, slog.LevelWarn))
	assert.Equal(t, root, slog.Default())
}
