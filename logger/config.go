package logger

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level zapcore.Level `toml:"level"`
}

// NewConfig returns a new instance of Config with defaults.
func NewConfig() Config {
	return Config{
		Level: zapcore.InfoLevel,
	}
}

// New returns a logger writing to w, configured by c.
func (c Config) New(w io.Writer) *zap.Logger {
	return NewWithLevel(w, c.Level)
}
