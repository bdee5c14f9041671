package logging

import (
	"github.com/rs/zerolog"

	"github.com/Swind/go-frameloop/core"
)

// ZerologLogger writes core.Logger calls to a zerolog.Logger.
type ZerologLogger struct {
	z zerolog.Logger
}

var _ core.Logger = (*ZerologLogger)(nil)

// NewZerolog wraps z.
func NewZerolog(z zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{z: z}
}

func (x *ZerologLogger) Debug(msg string, fields ...core.Field) { write(x.z.Debug(), msg, fields) }
func (x *ZerologLogger) Info(msg string, fields ...core.Field)  { write(x.z.Info(), msg, fields) }
func (x *ZerologLogger) Warn(msg string, fields ...core.Field)  { write(x.z.Warn(), msg, fields) }
func (x *ZerologLogger) Error(msg string, fields ...core.Field) { write(x.z.Error(), msg, fields) }

// write is a no-op for a disabled level (nil event).
func write(e *zerolog.Event, msg string, fields []core.Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case error:
			e = e.AnErr(f.Key, v)
		default:
			e = e.Interface(f.Key, v)
		}
	}
	e.Msg(msg)
}
