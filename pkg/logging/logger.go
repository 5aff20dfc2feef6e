// Package logging provides structured logging configuration using zerolog.
// Components derive their logger with NewLogger after Setup has run.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it. Component
// loggers created afterwards with NewLogger inherit its output and level.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Field names shared by every component, so that one run can be followed
// across packages.
const (
	FieldComponent  = "component"
	FieldRunID      = "run_id"
	FieldSource     = "source"
	FieldSignature  = "signature"
	FieldPage       = "page"
	FieldTotalPages = "total_pages"
	FieldKeyDesc    = "key_desc"
	FieldOutcome    = "outcome"
)

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str(FieldComponent, component).Logger()
}

// WithRun tags every entry of logger with the run identifier.
func WithRun(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str(FieldRunID, runID).Logger()
}

// WithSource tags every entry of logger with a matrix file name.
func WithSource(logger zerolog.Logger, source string) zerolog.Logger {
	return logger.With().Str(FieldSource, source).Logger()
}

// WithQuery tags every entry of logger with a query signature.
func WithQuery(logger zerolog.Logger, signature string) zerolog.Logger {
	return logger.With().Str(FieldSignature, signature).Logger()
}

// ValidLevel reports whether level names a supported log level.
func ValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Pages skipped because an artifact exists
//   - Limiter waits
//   - Matrix and artifact index loading
//
// Info: Normal operation events
//   - Pages retrieved
//   - Credential rotation
//   - Daily quota resets
//   - Date windows appended
//   - Run start/finish
//
// Warn: Warning conditions that don't prevent the run
//   - Failed calls recorded into a query state
//   - Quota consumed on a credential
//   - Matrix file recovered from its backup
//   - Unparseable endRange in a query family
//
// Error: Error conditions requiring attention
//   - Invalid date ranges
//   - Storage failures aborting the run
//   - Configuration errors
//
// Context Fields:
//   - run_id: Identifier of one harvesting run
//   - source: Matrix file name
//   - signature: Canonical query signature
//   - page: Page number (0-based)
//   - total_pages: Page count reported by the API
//   - key_desc: Credential description (never the secret)
//   - outcome: Final classification of a query
