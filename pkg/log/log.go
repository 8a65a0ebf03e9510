package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

func init() {
	// a usable default before Init() is called, e.g. in tests
	Init(Config{Level: InfoLevel})
}

// WithComponent creates a child logger tagged with the owning package/subsystem
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithHostID creates a child logger with host_id field
func WithHostID(hostID string) zerolog.Logger {
	return Logger.With().Str("host_id", hostID).Logger()
}

// WithComponentID creates a child logger with component_id field
// (the WASM component instance id, not to be confused with WithComponent)
func WithComponentID(componentID string) zerolog.Logger {
	return Logger.With().Str("component_id", componentID).Logger()
}

// WithProviderID creates a child logger with provider_id field
func WithProviderID(providerID string) zerolog.Logger {
	return Logger.With().Str("provider_id", providerID).Logger()
}

// WithLattice creates a child logger with lattice field
func WithLattice(lattice string) zerolog.Logger {
	return Logger.With().Str("lattice", lattice).Logger()
}

// WithInvocation creates a child logger carrying trace/span ids for an invocation
func WithInvocation(traceID, spanID string) zerolog.Logger {
	return Logger.With().Str("trace_id", traceID).Str("span_id", spanID).Logger()
}

func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
