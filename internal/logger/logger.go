// Package logger builds the zap loggers used by the service and the CLI.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/newthinker/tradecore/internal/core"
)

// Options selects the logger flavour. Development switches to the console
// encoder with colored levels and stack traces on warnings.
type Options struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Encoding    string `mapstructure:"encoding" validate:"omitempty,oneof=json console"`
}

// New creates a logger tagged with the service name.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if opts.Level != "" {
		level, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, core.WrapError(core.ErrConfigInvalid, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}
	if opts.Encoding != "" {
		cfg.Encoding = opts.Encoding
	}

	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return log.With(zap.String("service", "tradecore")), nil
}

// Must is New that panics on error.
func Must(opts Options) *zap.Logger {
	log, err := New(opts)
	if err != nil {
		panic(err)
	}
	return log
}
