// Package logger wraps zerolog with the call shapes the rest of the runtime
// expects: Infof/Warnf/Errorf/Debugf/Fatalf plus structured field helpers.
package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log zerolog.Logger
)

func init() {
	Configure(os.Stderr, false)
}

// Configure (re)builds the global logger. Pretty enables the console writer
// (human-readable, for local paper runs); false keeps JSON lines for prod.
func Configure(w io.Writer, pretty bool) {
	mu.Lock()
	defer mu.Unlock()

	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log = zerolog.New(out).With().Timestamp().Logger()
}

func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log = log.Level(lvl)
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func Debugf(format string, args ...interface{}) { current().Debug().Msgf(format, args...) }
func Infof(format string, args ...interface{})  { current().Info().Msgf(format, args...) }
func Warnf(format string, args ...interface{})  { current().Warn().Msgf(format, args...) }
func Errorf(format string, args ...interface{}) { current().Error().Msgf(format, args...) }
func Fatalf(format string, args ...interface{}) { current().Fatal().Msgf(format, args...) }

// With returns a child event builder for structured fields, e.g.:
//
//	logger.With().Str("run_id", id).Str("symbol", sym).Msg("cycle start")
func With() zerolog.Context { return current().With() }

// Event exposes a raw zerolog event at the given level for callers that need
// multiple structured fields chained before the message.
func Event(level zerolog.Level) *zerolog.Event { return current().WithLevel(level) }
