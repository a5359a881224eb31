package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"steamscraper/pkg/config"
)

// Logger is the logging interface used throughout the scraper.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	DebugWithFields(msg string, fields map[string]interface{})
	InfoWithFields(msg string, fields map[string]interface{})
	WarnWithFields(msg string, fields map[string]interface{})
	ErrorWithFields(msg string, fields map[string]interface{})
}

type zerologLogger struct {
	logger zerolog.Logger
}

var (
	mu     sync.RWMutex
	global Logger = newDefault()
)

// Initialize configures the global logger from the logging config.
// Console output goes to stderr; a file path adds a second sink.
func Initialize(cfg *config.LoggingConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen},
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()

	mu.Lock()
	global = &zerologLogger{logger: zl}
	mu.Unlock()
	return nil
}

// GetLogger returns the global logger instance.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// SetLogger replaces the global logger. Intended for tests.
func SetLogger(l Logger) {
	mu.Lock()
	global = l
	mu.Unlock()
}

func newDefault() Logger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(zerolog.InfoLevel).
		With().Timestamp().Logger()
	return &zerologLogger{logger: zl}
}

func (z *zerologLogger) Debug(msg string) { z.logger.Debug().Msg(msg) }
func (z *zerologLogger) Info(msg string)  { z.logger.Info().Msg(msg) }
func (z *zerologLogger) Warn(msg string)  { z.logger.Warn().Msg(msg) }
func (z *zerologLogger) Error(msg string) { z.logger.Error().Msg(msg) }

func (z *zerologLogger) WithField(key string, value interface{}) Logger {
	return &zerologLogger{logger: z.logger.With().Interface(key, value).Logger()}
}

func (z *zerologLogger) WithFields(fields map[string]interface{}) Logger {
	ctx := z.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &zerologLogger{logger: ctx.Logger()}
}

func (z *zerologLogger) WithError(err error) Logger {
	return &zerologLogger{logger: z.logger.With().Err(err).Logger()}
}

func (z *zerologLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	z.logger.Debug().Fields(fields).Msg(msg)
}

func (z *zerologLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	z.logger.Info().Fields(fields).Msg(msg)
}

func (z *zerologLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	z.logger.Warn().Fields(fields).Msg(msg)
}

func (z *zerologLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	z.logger.Error().Fields(fields).Msg(msg)
}

// NewNop returns a logger that discards everything. Useful for tests.
func NewNop() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
