package util

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	logMu           sync.RWMutex
	currentLogLevel = LevelInfo
	useColors       = true
	logOutput       io.Writer = os.Stderr
	logger                    = newLogger()
)

func newLogger() zerolog.Logger {
	w := zerolog.ConsoleWriter{
		Out:        logOutput,
		TimeFormat: "15:04:05",
		NoColor:    !useColors,
	}
	return zerolog.New(w).Level(zerologLevel(currentLogLevel)).With().Timestamp().Logger()
}

func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func rebuild() {
	logger = newLogger()
}

// SetLogLevel sets the minimum log level to display
func SetLogLevel(level LogLevel) {
	logMu.Lock()
	defer logMu.Unlock()
	currentLogLevel = level
	rebuild()
}

// SetVerbose enables verbose (debug) logging
func SetVerbose(verbose bool) {
	if verbose {
		SetLogLevel(LevelDebug)
	}
}

// SetQuiet enables quiet mode (errors only)
func SetQuiet(quiet bool) {
	if quiet {
		SetLogLevel(LevelError)
	}
}

// IsQuiet reports whether only errors are being logged
func IsQuiet() bool {
	logMu.RLock()
	defer logMu.RUnlock()
	return currentLogLevel >= LevelError
}

// SetColors enables or disables colored output
func SetColors(enabled bool) {
	logMu.Lock()
	defer logMu.Unlock()
	useColors = enabled
	rebuild()
}

// SetOutput redirects log output (tests capture it with a buffer)
func SetOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	logOutput = w
	rebuild()
}

func current() *zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	l := logger
	return &l
}

// Logger returns the process logger for callers that want structured fields
func Logger() *zerolog.Logger {
	return current()
}

// DebugLog logs debug messages
func DebugLog(format string, args ...interface{}) {
	current().Debug().Msgf(format, args...)
}

// InfoLog logs informational messages
func InfoLog(format string, args ...interface{}) {
	current().Info().Msgf(format, args...)
}

// WarnLog logs warning messages
func WarnLog(format string, args ...interface{}) {
	current().Warn().Msgf(format, args...)
}

// ErrorLog logs error messages
func ErrorLog(format string, args ...interface{}) {
	current().Error().Msgf(format, args...)
}

// SuccessLog logs success messages (always shown unless quiet)
func SuccessLog(format string, args ...interface{}) {
	current().Info().Bool("ok", true).Msgf(format, args...)
}
