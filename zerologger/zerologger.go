// Package zerologger adapts a zerolog.Logger to the sconcomm.Logger interface.
package zerologger

import (
	"github.com/rs/zerolog"

	"github.com/Zereker/sconcomm"
)

type logger struct {
	zl zerolog.Logger
}

// New returns a sconcomm.Logger writing to zl. Arguments are slog style
// alternating keys and values.
func New(zl zerolog.Logger) sconcomm.Logger {
	return logger{zl: zl}
}

func (l logger) Debug(msg string, args ...any) { emit(l.zl.Debug(), msg, args) }
func (l logger) Info(msg string, args ...any)  { emit(l.zl.Info(), msg, args) }
func (l logger) Warn(msg string, args ...any)  { emit(l.zl.Warn(), msg, args) }
func (l logger) Error(msg string, args ...any) { emit(l.zl.Error(), msg, args) }

func emit(e *zerolog.Event, msg string, args []any) {
	// Disabled levels return a nil event.
	if e == nil {
		return
	}

	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = "!BADKEY"
		}
		if i+1 == len(args) {
			e = e.Interface(key, nil)
			break
		}

		switch v := args[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}
