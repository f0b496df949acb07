package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	logger zerolog.Logger
	mu     sync.RWMutex
)

const (
	LOG_INFO  = "info"
	LOG_DEBUG = "debug"
	LOG_WARN  = "warn"
	LOG_ERROR = "error"
)

func init() {
	// Default to silent mode (no output)
	SetSilentMode(true)
}

// SetSilentMode configures whether logging should be silent or output to stderr
func SetSilentMode(silent bool) {
	var output io.Writer
	if silent {
		output = io.Discard
	} else {
		output = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		}
	}
	SetOutput(output)
}

// SetOutput routes all loggers created afterwards to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	logger = zerolog.New(w).With().Timestamp().Logger()
	mu.Unlock()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// New returns a new logger instance
func New() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// GetLogger returns a logger tagged with the given component name
func GetLogger(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger.With().Str("component", component).Logger()
}

// SetLevel sets the global log level
func SetLevel(level string) {
	switch level {
	case LOG_DEBUG:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case LOG_INFO:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case LOG_WARN:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case LOG_ERROR:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
