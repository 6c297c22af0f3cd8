package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/levenlabs/go-llog"
)

// Attribute keys shared by every package so a cycle's lines can be filtered
// by structure or thermostat.
const (
	KeyCycle     = "cycleID"
	KeyMode      = "mode"
	KeyStructure = "structure"
	KeyDevice    = "device"
)

// LevelFatal sits above error the same way go-llog's fatal level does.
const LevelFatal = slog.LevelError + 4

// the zero LevelVar is info
var level slog.LevelVar

var root = newLogger(os.Stdout)

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     &level,
	}))
}

type contextKey struct{}

// Ctx returns the logger from the context. If no logger is found, it returns the default logger.
func Ctx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return root
}

// With returns a new context with the given logger.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// Structure tags a line with a structure id.
func Structure(id string) slog.Attr {
	return slog.String(KeyStructure, id)
}

// Device tags a line with a thermostat serial.
func Device(id string) slog.Attr {
	return slog.String(KeyDevice, id)
}

// WithCycle tags every log line of a poll or info cycle with a fresh cycle id
// and returns the id alongside the new context.
func WithCycle(ctx context.Context, mode string) (context.Context, string) {
	id := uuid.NewString()
	return With(ctx, Ctx(ctx).With(slog.String(KeyCycle, id), slog.String(KeyMode, mode))), id
}

// LevelFromLLog maps the go-llog level set by the --log-level flag onto slog.
func LevelFromLLog(l llog.Level) (slog.Level, error) {
	switch l {
	case llog.DebugLevel:
		return slog.LevelDebug, nil
	case llog.InfoLevel:
		return slog.LevelInfo, nil
	case llog.WarnLevel:
		return slog.LevelWarn, nil
	case llog.ErrorLevel:
		return slog.LevelError, nil
	case llog.FatalLevel:
		return LevelFatal, nil
	default:
		return 0, fmt.Errorf("unknown log level: %s", l)
	}
}

// Configure sets the level of the root logger and installs it as the slog
// default so package-level slog calls share its handler.
func Configure(l slog.Level) {
	level.Set(l)
	slog.SetDefault(root)
}
