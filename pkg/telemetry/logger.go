package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is the small set of severities the logger exposes.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the process-wide base logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewBase builds the root zerolog.Logger for the process, honoring Config
// the way log.Init did: console writer for humans, JSON for machines.
func NewBase(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(zerologLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// Logger is a cheap, value-typed tag chain over a zerolog.Logger:
// Sub appends one tag, Emit fires one structured event.
type Logger struct {
	z zerolog.Logger
}

// New wraps a zerolog.Logger as the root of a tag chain. A nil z builds
// a default info-level logger via NewBase.
func New(z *zerolog.Logger) Logger {
	if z == nil {
		base := NewBase(Config{Level: InfoLevel})
		return Logger{z: base}
	}
	return Logger{z: *z}
}

// Sub returns a child logger with one additional "tag=value" field. Tags
// are cheap: this never allocates more than the one zerolog context frame.
func (l Logger) Sub(tag, value string) Logger {
	return Logger{z: l.z.With().Str(tag, value).Logger()}
}

// Emit fires a single structured event of the given type carrying payload
// fields. payload entries become structured fields on the log line.
func (l Logger) Emit(eventType string, payload map[string]any) {
	evt := l.z.Info()
	for k, v := range payload {
		evt = evt.Interface(k, v)
	}
	evt.Msg(eventType)
}

// EmitAt is like Emit but at an explicit severity.
func (l Logger) EmitAt(level Level, eventType string, payload map[string]any) {
	var evt *zerolog.Event
	switch level {
	case DebugLevel:
		evt = l.z.Debug()
	case WarnLevel:
		evt = l.z.Warn()
	case ErrorLevel:
		evt = l.z.Error()
	default:
		evt = l.z.Info()
	}
	for k, v := range payload {
		evt = evt.Interface(k, v)
	}
	evt.Msg(eventType)
}

// EmitError is a convenience for the common "something failed" event.
func (l Logger) EmitError(eventType string, err error, payload map[string]any) {
	evt := l.z.Error().Err(err)
	for k, v := range payload {
		evt = evt.Interface(k, v)
	}
	evt.Msg(eventType)
}

// Zerolog exposes the underlying logger for packages (notably net/http
// plumbing) that want a *zerolog.Logger directly.
func (l Logger) Zerolog() *zerolog.Logger {
	return &l.z
}
