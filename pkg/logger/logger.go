package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

// Logger wraps zerolog.Logger with the scoping helpers used across the engine
type Logger struct {
	zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string
	Format     string // "console" or "json"
	TimeFormat string
	Output     io.Writer // defaults to stdout
}

// New creates a logger from cfg
func New(cfg Config) *Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = timeFormat

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	}

	return &Logger{
		Logger: zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger(),
	}
}

// NewDevelopment logs debug and up to the console with short timestamps
func NewDevelopment() *Logger {
	return New(Config{Level: "debug", Format: "console", TimeFormat: "15:04:05"})
}

// NewProduction logs info and up as JSON
func NewProduction() *Logger {
	return New(Config{Level: "info", Format: "json", TimeFormat: time.RFC3339})
}

// NewNop creates a logger that discards everything, used by tests
func NewNop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// FromConfig builds a logger from the application logger settings.
// Without a configured level the environment preset applies.
func FromConfig(environment, level, format, timeFormat string) *Logger {
	if level == "" {
		if environment == "production" {
			return NewProduction()
		}
		return NewDevelopment()
	}
	return New(Config{Level: level, Format: format, TimeFormat: timeFormat})
}

func (l *Logger) with(key, value string) *Logger {
	return &Logger{Logger: l.With().Str(key, value).Logger()}
}

// WithService tags every line with the emitting binary
func (l *Logger) WithService(name string) *Logger { return l.with("service", name) }

// WithComponent returns a new logger with the component field set
func (l *Logger) WithComponent(component string) *Logger { return l.with("component", component) }

// WithRequestID scopes a logger to one HTTP request. Empty ids are not attached.
func (l *Logger) WithRequestID(requestID string) *Logger {
	if requestID == "" {
		return l
	}
	return l.with("request_id", requestID)
}

// WithOrganization returns a new logger scoped to one organization
func (l *Logger) WithOrganization(orgID string) *Logger { return l.with("org_id", orgID) }

// WithFramework returns a new logger with the framework code field set
func (l *Logger) WithFramework(code string) *Logger { return l.with("framework", code) }

// WithRun scopes a logger to one scheduler run
func (l *Logger) WithRun(runID string) *Logger { return l.with("run_id", runID) }

// WithError returns a new logger with the error attached
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.With().Err(err).Logger()}
}

// WithFields returns a new logger with the given fields attached
func (l *Logger) WithFields(fields map[string]any) *Logger {
	ctx := l.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{Logger: ctx.Logger()}
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "warning":
		return zerolog.WarnLevel
	case "":
		return zerolog.InfoLevel
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

// SetGlobal installs l as zerolog's package-level logger so code logging
// through github.com/rs/zerolog/log shares its output and level.
func SetGlobal(l *Logger) {
	zlog.Logger = l.Logger
	zerolog.SetGlobalLevel(l.GetLevel())
}
