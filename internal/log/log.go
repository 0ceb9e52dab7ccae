// Package log provides component-scoped structured logging for qstation.
package log

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339

	out := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	logger = zerolog.New(out).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(levelFromEnv())
}

func levelFromEnv() zerolog.Level {
	switch strings.ToLower(os.Getenv("QSTATION_LOG_LEVEL")) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// SetDebug toggles debug-level logging. Wired to the settings debug flag;
// disabling falls back to the level configured via QSTATION_LOG_LEVEL.
func SetDebug(enabled bool) {
	if enabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(levelFromEnv())
}

// Debug returns a debug event tagged with the originating component.
func Debug(component string) *zerolog.Event {
	return logger.Debug().Str("component", component)
}

// Info returns an info event tagged with the originating component.
func Info(component string) *zerolog.Event {
	return logger.Info().Str("component", component)
}

// Warn returns a warn event tagged with the originating component.
func Warn(component string) *zerolog.Event {
	return logger.Warn().Str("component", component)
}

// Error returns an error event tagged with the originating component.
func Error(component string) *zerolog.Event {
	return logger.Error().Str("component", component)
}

// Fatal returns a fatal event tagged with the originating component.
func Fatal(component string) *zerolog.Event {
	return logger.Fatal().Str("component", component)
}
