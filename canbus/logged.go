package canbus

import (
	"context"

	"github.com/rs/zerolog"
)

// LogOption is a bitmask for selecting which operations to log.
type LogOption uint8

const (
	LogNone  LogOption = 0
	LogRead  LogOption = 1 << iota
	LogWrite
	LogAll = LogRead | LogWrite
)

// NewLoggedBus wraps the given Bus and logs selected operations at the given
// level. If filter is non-nil only frames it accepts are logged; errors are
// always logged.
func NewLoggedBus(inner Bus, logger zerolog.Logger, level zerolog.Level, opts LogOption, filter FrameFilter) Bus {
	return &loggedBus{
		inner:  inner,
		logger: logger,
		level:  level,
		opts:   opts,
		filter: filter,
	}
}

type loggedBus struct {
	inner  Bus
	logger zerolog.Logger
	level  zerolog.Level
	opts   LogOption
	filter FrameFilter
}

func (l *loggedBus) logFrame(msg string, f Frame) {
	if l.filter != nil && !l.filter(f) {
		return
	}
	l.logger.WithLevel(l.level).
		Uint32("id", f.ID).
		Bool("extended", f.Extended).
		Bool("rtr", f.RTR).
		Int("len", int(f.Len)).
		Hex("data", f.Payload()).
		Str("frame", f.String()).
		Msg(msg)
}

// Send logs the frame and the result when write logging is enabled.
func (l *loggedBus) Send(ctx context.Context, frame Frame) error {
	if l.opts&LogWrite != 0 {
		l.logFrame("canbus send", frame)
	}
	err := l.inner.Send(ctx, frame)
	if l.opts&LogWrite != 0 && err != nil {
		l.logger.Error().Uint32("id", frame.ID).Err(err).Msg("canbus send error")
	}
	return err
}

// Receive logs the received frame or error when read logging is enabled.
func (l *loggedBus) Receive(ctx context.Context) (Frame, error) {
	f, err := l.inner.Receive(ctx)
	if l.opts&LogRead != 0 {
		if err != nil {
			l.logger.Error().Err(err).Msg("canbus receive error")
		} else {
			l.logFrame("canbus receive", f)
		}
	}
	return f, err
}

// Close forwards to the inner Bus without logging.
func (l *loggedBus) Close() error {
	return l.inner.Close()
}
