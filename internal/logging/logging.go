// Package logging builds the zap logger shared by the CLI and the pipeline.
package logging

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config represents the logger configuration.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string `mapstructure:"level" json:"level" default:"warn" validate:"oneof=debug info warn error"`
	// Format of the terminal output: console or json.
	Format string `mapstructure:"format" json:"format" default:"console" validate:"oneof=console json"`
	// File enables a rotated JSON log file in addition to the terminal.
	File       string `mapstructure:"file" json:"file"`
	MaxSize    int    `mapstructure:"max_size" json:"max_size" default:"20" validate:"gte=1"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups" default:"3" validate:"gte=0"`
	MaxAge     int    `mapstructure:"max_age" json:"max_age" default:"14" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress" json:"compress"`
}

// ZapLevel converts the configured level to a zapcore.Level.
func (c Config) ZapLevel() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	return lvl, nil
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.MessageKey = "message"
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 - 15:04:05")
	ec.EncodeDuration = zapcore.StringDurationEncoder
	return ec
}

// New builds a logger that writes to console in the configured format and,
// when File is set, to a lumberjack-rotated JSON file. The returned close
// function flushes the logger and releases the file.
func New(cfg Config, console io.Writer) (*zap.Logger, func() error, error) {
	lvl, err := cfg.ZapLevel()
	if err != nil {
		return nil, nil, err
	}

	ec := encoderConfig()
	var enc zapcore.Encoder
	switch cfg.Format {
	case "json":
		enc = zapcore.NewJSONEncoder(ec)
	case "", "console":
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(ec)
	default:
		return nil, nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.AddSync(console), lvl)}

	var file *lumberjack.Logger
	if cfg.File != "" {
		file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		// The file always gets JSON, whatever the terminal shows.
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(file), lvl))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	closeFn := func() error {
		_ = logger.Sync()
		if file != nil {
			return file.Close()
		}
		return nil
	}
	return logger, closeFn, nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger { return zap.NewNop() }
