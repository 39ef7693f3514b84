// Package obslog provides logging helpers shared by every actor in the
// coordinator: a runtime.Logger field-enrichment wrapper for code running
// inside the Nakama process, and a zerolog-backed fallback for standalone
// tooling that has no runtime.Logger (e.g. cmd/verify-proof).
package obslog

import (
	"context"
	"os"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/rs/zerolog"
)

// Fallback is a process-wide structured logger for code that runs outside
// a Nakama plugin (CLI tools, tests exercising pure packages directly).
var Fallback = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// WithUser enriches fields with the caller's user ID pulled from ctx, the
// same convention the teacher's LogWithUser helper uses.
func WithUser(ctx context.Context, logger runtime.Logger, level, message string, fields map[string]interface{}) {
	userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	if userID != "" {
		if fields == nil {
			fields = make(map[string]interface{})
		}
		fields["user"] = userID
	}
	logAt(logger, level, message, fields)
}

// WithDrop enriches fields with the drop ID, for code executing inside a
// Drop match handler where there is no single authenticated user.
func WithDrop(logger runtime.Logger, dropID, level, message string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["drop"] = dropID
	logAt(logger, level, message, fields)
}

func logAt(logger runtime.Logger, level, message string, fields map[string]interface{}) {
	l := logger
	if len(fields) > 0 {
		l = logger.WithFields(fields)
	}
	switch level {
	case "debug":
		l.Debug(message)
	case "warn":
		l.Warn(message)
	case "error":
		l.Error(message)
	default:
		l.Info(message)
	}
}

// Error is a convenience wrapper mirroring the teacher's LogError.
func Error(ctx context.Context, logger runtime.Logger, message string, err error) {
	fields := map[string]interface{}{}
	if err != nil {
		fields["error"] = err.Error()
	}
	WithUser(ctx, logger, "error", message, fields)
}
