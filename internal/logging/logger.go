package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where logs are written.
type Options struct {
	// File, when set, receives a rotated copy of every entry.
	File  string
	Level zapcore.Level
}

// NewLogger builds a production ready structured logger.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	return cfg.Build()
}

// NewLoggerWithOptions builds the production logger and tees it into a
// rotating file when opts.File is set.
func NewLoggerWithOptions(opts Options) (*zap.Logger, error) {
	if opts.File == "" {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.Level = zap.NewAtomicLevelAt(opts.Level)
		return cfg.Build()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	rotated := zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    100,
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   true,
	})

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), opts.Level),
		zapcore.NewCore(encoder, rotated, opts.Level),
	)
	return zap.New(core, zap.AddCaller()), nil
}

// WithOperation enriches the logger with operation and attempt identifiers.
func WithOperation(logger *zap.Logger, operation, attemptID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if attemptID != "" {
		fields = append(fields, zap.String("attempt_id", attemptID))
	}
	return logger.With(fields...)
}

// WithSession tags the logger with the browser session it serves.
func WithSession(logger *zap.Logger, sessionID string) *zap.Logger {
	if sessionID == "" {
		return logger
	}
	return logger.With(zap.String("session_id", sessionID))
}
