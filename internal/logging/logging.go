package logging

import (
	"io"
	"os"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level and destination of a logger.
type Config struct {
	// Level uses the LOG_LEVEL names: dev, debug, info, warn, error, prod.
	Level string

	// Default applies when Level is empty or unknown.
	Default zapcore.Level

	// Development switches to a colored console encoder.
	Development bool

	// File, when set, also writes JSON lines to a rotated log file.
	File string

	// Output defaults to stderr.
	Output io.Writer
}

// ParseLevel maps a LOG_LEVEL value to a zap level.
func ParseLevel(s string, def zapcore.Level) zapcore.Level {
	switch s {
	case "dev", "development", "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error", "production", "prod":
		return zapcore.ErrorLevel
	}
	return def
}

// New builds a logger from cfg.
func New(cfg Config) *zap.Logger {
	level := ParseLevel(cfg.Level, cfg.Default)
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var console zapcore.Encoder
	if cfg.Development {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		console = zapcore.NewConsoleEncoder(ec)
	} else {
		console = zapcore.NewJSONEncoder(jsonEncoderConfig())
	}

	cores := []zapcore.Core{zapcore.NewCore(console, zapcore.Lock(zapcore.AddSync(out)), level)}
	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			LocalTime:  true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(jsonEncoderConfig()), zapcore.AddSync(rotated), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// Init builds the process-wide logger from LOG_LEVEL and installs it as
// zap's global. Commands that need more control call New.
func Init() *zap.Logger {
	l := New(Config{
		Level:   os.Getenv("LOG_LEVEL"),
		Default: zapcore.ErrorLevel,
		File:    os.Getenv("LOG_FILE"),
	})
	zap.ReplaceGlobals(l)
	return l
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	ec.EncodeDuration = zapcore.SecondsDurationEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	return ec
}
