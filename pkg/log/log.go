// Package log wires zerolog into the engine: a console logger for processes
// embedding the engine and a logging.LoggerFactory for the engine packages.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var log = zerolog.New(os.Stdout).With().Timestamp().Logger()

const (
	timeFormat = "2006-01-02 15:04:05.000"
)

// Config defines parameters for the logger
type Config struct {
	Level string `mapstructure:"level"`
}

// ParseLevel maps a config level name onto a zerolog level.
// Unknown names keep the global level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	}
	return zerolog.GlobalLevel()
}

// NewConsoleWriter returns the console format shared by every logger.
func NewConsoleWriter(out io.Writer) zerolog.ConsoleWriter {
	output := zerolog.ConsoleWriter{Out: out, NoColor: false, TimeFormat: timeFormat}
	output.FormatTimestamp = func(i interface{}) string {
		return fmt.Sprintf("[%v]", i)
	}
	output.FormatLevel = func(i interface{}) string {
		return strings.ToUpper(fmt.Sprintf("[%-3s]", i))
	}
	return output
}

// Init initializes the package logger.
// Supported levels are: ["trace", "debug", "info", "warn", "error"]
func Init(level string) {
	zerolog.TimeFieldFormat = timeFormat
	log = zerolog.New(NewConsoleWriter(os.Stdout)).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// Logger returns the package logger.
func Logger() zerolog.Logger {
	return log
}

// Infof logs a formatted info level log to the console
func Infof(format string, v ...interface{}) {
	log.Info().Msgf(format, v...)
}

// Tracef logs a formatted trace level log to the console
func Tracef(format string, v ...interface{}) {
	log.Trace().Msgf(format, v...)
}

// Debugf logs a formatted debug level log to the console
func Debugf(format string, v ...interface{}) {
	log.Debug().Msgf(format, v...)
}

// Warnf logs a formatted warn level log to the console
func Warnf(format string, v ...interface{}) {
	log.Warn().Msgf(format, v...)
}

// Errorf logs a formatted error level log to the console
func Errorf(format string, v ...interface{}) {
	log.Error().Msgf(format, v...)
}
