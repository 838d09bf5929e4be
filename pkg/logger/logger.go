// Package logger provides structured logging for the mediation service
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ServiceName is attached to every log line
const ServiceName = "mediation"

type contextKey string

// Context keys for request-scoped identifiers
const (
	RequestIDKey contextKey = "request_id"
	AdUnitIDKey  contextKey = "ad_unit_id"
)

// Log is the global logger
var Log = zerolog.New(os.Stdout).With().Timestamp().Str("service", ServiceName).Logger()

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	TimeFormat string
	Output     io.Writer // defaults to stdout
}

// DefaultConfig returns configuration from LOG_LEVEL and LOG_FORMAT
func DefaultConfig() Config {
	return Config{
		Level:      getEnv("LOG_LEVEL", "info"),
		Format:     getEnv("LOG_FORMAT", "json"),
		TimeFormat: time.RFC3339,
	}
}

// Init configures the global logger
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: cfg.TimeFormat, NoColor: cfg.Output != nil}
	}

	Log = zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", ServiceName).
		Logger()
}

// WithRequestID stores a request ID in the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithAdUnitID stores the host ad unit ID in the context
func WithAdUnitID(ctx context.Context, adUnitID string) context.Context {
	return context.WithValue(ctx, AdUnitIDKey, adUnitID)
}

// FromContext returns a logger carrying the IDs found in ctx
func FromContext(ctx context.Context) *zerolog.Logger {
	lc := Log.With()
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		lc = lc.Str("request_id", v)
	}
	if v, ok := ctx.Value(AdUnitIDKey).(string); ok && v != "" {
		lc = lc.Str("ad_unit_id", v)
	}
	l := lc.Logger()
	return &l
}

// AdUnit returns a logger for a host ad unit
func AdUnit(adUnitID string) *zerolog.Logger {
	l := Log.With().Str("ad_unit_id", adUnitID).Logger()
	return &l
}

// Network returns a logger for a third-party ad network
func Network(code string) *zerolog.Logger {
	l := Log.With().Str("network", code).Logger()
	return &l
}

// HTTP returns a logger for the HTTP layer
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}

// Events returns a logger for event forwarding
func Events() *zerolog.Logger {
	l := Log.With().Str("component", "events").Logger()
	return &l
}

// RequestLogger logs within the scope of a single request
type RequestLogger struct {
	logger zerolog.Logger
	start  time.Time
}

// NewRequestLogger creates a request-scoped logger
func NewRequestLogger(requestID string) *RequestLogger {
	return &RequestLogger{
		logger: Log.With().Str("request_id", requestID).Logger(),
		start:  time.Now(),
	}
}

// WithField returns a copy of the logger with an extra field
func (rl *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	return &RequestLogger{
		logger: rl.logger.With().Interface(key, value).Logger(),
		start:  rl.start,
	}
}

// Info logs an info message
func (rl *RequestLogger) Info(msg string) {
	rl.logger.Info().Msg(msg)
}

// Error logs an error message
func (rl *RequestLogger) Error(msg string, err error) {
	rl.logger.Error().Err(err).Msg(msg)
}

// Duration returns the time since the logger was created
func (rl *RequestLogger) Duration() time.Duration {
	return time.Since(rl.start)
}

// LogComplete logs request completion with status and duration
func (rl *RequestLogger) LogComplete(status int) {
	rl.logger.Info().
		Int("status", status).
		Float64("duration_ms", float64(rl.Duration().Microseconds())/1000).
		Msg("request completed")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
