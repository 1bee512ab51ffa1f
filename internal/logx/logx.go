// Package logx provides the small logging mix-in shared by the connection
// and group types. It exists so that every type which wants to log
// does so the same way: a nil *slog.Logger is a silent no-op, and a trace
// level one step below slog.LevelDebug is available for the packet-level
// chatter that would otherwise flood a debug log.
package logx

import (
	"context"
	"log/slog"
)

// LevelTrace sits below slog.LevelDebug. Use it for per-packet logging that
// is too noisy for ordinary debug builds.
const LevelTrace slog.Level = slog.LevelDebug - 4

// Logger embeds into any type that wants leveled, nil-safe logging.
type Logger struct {
	Log *slog.Logger
}

// Enabled reports whether a log record at lvl would be emitted.
func (l Logger) Enabled(lvl slog.Level) bool {
	return l.Log != nil && l.Log.Handler().Enabled(context.Background(), lvl)
}

func (l Logger) attrs(lvl slog.Level, msg string, attrs ...slog.Attr) {
	if l.Log != nil {
		l.Log.LogAttrs(context.Background(), lvl, msg, attrs...)
	}
}

// Trace logs below debug level; callers should guard expensive attr
// construction with Enabled(LevelTrace) first.
func (l Logger) Trace(msg string, attrs ...slog.Attr) { l.attrs(LevelTrace, msg, attrs...) }

// Debug logs at debug level.
func (l Logger) Debug(msg string, attrs ...slog.Attr) { l.attrs(slog.LevelDebug, msg, attrs...) }

// Info logs at info level.
func (l Logger) Info(msg string, attrs ...slog.Attr) { l.attrs(slog.LevelInfo, msg, attrs...) }

// Warn logs at warn level.
func (l Logger) Warn(msg string, attrs ...slog.Attr) { l.attrs(slog.LevelWarn, msg, attrs...) }

// Error logs at error level.
func (l Logger) Error(msg string, attrs ...slog.Attr) { l.attrs(slog.LevelError, msg, attrs...) }
