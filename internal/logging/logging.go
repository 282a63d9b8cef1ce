// Package logging wraps logrus for the engine's ambient process logs —
// distinct from the durable, per-run RunEvent log in package emit, which
// records domain history rather than operational noise.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a thin wrapper around *logrus.Logger.
type Logger struct {
	*logrus.Logger
}

// Config controls level/format/output the same way across every
// process that embeds the engine (the daemon, test harnesses, CLI
// tools).
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New builds a Logger from cfg, defaulting to info level and text
// output on any unrecognized value rather than failing startup over a
// typo in a config file.
func New(cfg Config) *Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger}
}

// NewDefault builds an info-level, text-formatted Logger writing to
// stdout — the default for tests and tools that don't load Config.
func NewDefault() *Logger {
	return New(Config{Level: "info", Format: "text"})
}

// WithField returns a log entry carrying one extra field.
func (l *Logger) WithField(key string, value any) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a log entry carrying several extra fields.
func (l *Logger) WithFields(fields map[string]any) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields(fields))
}
