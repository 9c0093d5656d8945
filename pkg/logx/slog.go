package logx

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// Slog wraps l in a slog.Logger so components written against log/slog
// share the same sinks and level as the rest of the process.
func Slog(l Logger) *slog.Logger {
	return slog.New(&slogHandler{l: l})
}

type slogHandler struct {
	l      Logger
	prefix string
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.l.Enabled(mapLevel(level))
}

func (h *slogHandler) Handle(_ context.Context, rec slog.Record) error {
	fields := make([]Field, 0, rec.NumAttrs())
	rec.Attrs(func(a slog.Attr) bool {
		fields = append(fields, h.attrField(a))
		return true
	})
	h.l.log(mapLevel(rec.Level), rec.Message, fields...)
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	fields := make([]Field, 0, len(attrs))
	for _, a := range attrs {
		fields = append(fields, h.attrField(a))
	}
	return &slogHandler{l: h.l.With(fields...), prefix: h.prefix}
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &slogHandler{l: h.l, prefix: h.prefix + name + "."}
}

func (h *slogHandler) attrField(a slog.Attr) Field {
	key := h.prefix + a.Key
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return String(key, v.String())
	case slog.KindInt64:
		return Int64(key, v.Int64())
	case slog.KindBool:
		return Bool(key, v.Bool())
	case slog.KindDuration:
		return Duration(key, v.Duration())
	case slog.KindTime:
		return Time(key, v.Time())
	default:
		return Any(key, v.Any())
	}
}

func mapLevel(l slog.Level) zerolog.Level {
	switch {
	case l < slog.LevelDebug:
		return zerolog.TraceLevel
	case l < slog.LevelInfo:
		return zerolog.DebugLevel
	case l < slog.LevelWarn:
		return zerolog.InfoLevel
	case l < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
