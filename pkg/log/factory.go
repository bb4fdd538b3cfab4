package log

import (
	"io"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// LoggerFactory builds scoped pion loggers on top of a zerolog logger.
type LoggerFactory struct {
	root zerolog.Logger
}

// NewLoggerFactory creates a factory writing console output to w at level.
func NewLoggerFactory(w io.Writer, level string) *LoggerFactory {
	zerolog.TimeFieldFormat = timeFormat
	root := zerolog.New(NewConsoleWriter(w)).Level(ParseLevel(level)).With().Timestamp().Logger()
	return &LoggerFactory{root: root}
}

// NewLoggerFactoryFrom wraps an existing zerolog logger.
func NewLoggerFactoryFrom(l zerolog.Logger) *LoggerFactory {
	return &LoggerFactory{root: l}
}

// NewLogger implements logging.LoggerFactory.
func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{log: f.root.With().Str("scope", scope).Logger()}
}

type scopedLogger struct {
	log zerolog.Logger
}

func (l *scopedLogger) Trace(msg string) { l.log.Trace().Msg(msg) }
func (l *scopedLogger) Tracef(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}
func (l *scopedLogger) Debug(msg string) { l.log.Debug().Msg(msg) }
func (l *scopedLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}
func (l *scopedLogger) Info(msg string) { l.log.Info().Msg(msg) }
func (l *scopedLogger) Infof(format string, args ...interface{}) {
	l.log.Info().Msgf(format, args...)
}
func (l *scopedLogger) Warn(msg string) { l.log.Warn().Msg(msg) }
func (l *scopedLogger) Warnf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}
func (l *scopedLogger) Error(msg string) { l.log.Error().Msg(msg) }
func (l *scopedLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}
