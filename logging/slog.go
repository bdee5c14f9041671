package logging

import (
	"log/slog"

	"github.com/Swind/go-frameloop/core"
)

// SlogLogger writes core.Logger calls to a *slog.Logger.
type SlogLogger struct {
	l *slog.Logger
}

var _ core.Logger = (*SlogLogger)(nil)

// NewSlog wraps l. A nil l uses slog.Default().
func NewSlog(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(msg string, fields ...core.Field) { s.l.Debug(msg, attrs(fields)...) }
func (s *SlogLogger) Info(msg string, fields ...core.Field)  { s.l.Info(msg, attrs(fields)...) }
func (s *SlogLogger) Warn(msg string, fields ...core.Field)  { s.l.Warn(msg, attrs(fields)...) }
func (s *SlogLogger) Error(msg string, fields ...core.Field) { s.l.Error(msg, attrs(fields)...) }

func attrs(fields []core.Field) []any {
	if len(fields) == 0 {
		return nil
	}
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}
