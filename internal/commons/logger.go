// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package commons holds the ambient concerns shared by every component of
// the bridge: structured logging and the error taxonomy (§7).
package commons

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured logging contract every component depends on.
// Warnw and With attach session_id/turn_index/component as structured
// fields; the printf-style methods (Infof, Errorf, ...) interpolate their
// arguments into the message string.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Info(msg string)
	Warnf(format string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorf(format string, args ...interface{})
	Error(msg string)
	Benchmark(op string, d time.Duration)

	// With returns a child logger carrying the given structured fields on
	// every subsequent call, used to pin session_id/turn_index for the
	// lifetime of a session or turn.
	With(keysAndValues ...interface{}) Logger
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewApplicationLogger builds the process-wide zap-backed logger. Level is
// controlled by config (A2); callers needing a differently-leveled logger
// should build their own zap.Config rather than mutate this one.
func NewApplicationLogger() (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: base.Sugar()}, nil
}

// NewLoggerAtLevel builds a logger at an explicit level, used when config
// resolves "log_level" from file/env (A2).
func NewLoggerAtLevel(level string) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	var lvl zap.AtomicLevel
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = lvl
	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: base.Sugar()}, nil
}

// NewRotatingFileLogger builds a logger at the given level that writes
// through a lumberjack-rotated file sink instead of stdout, used when
// config sets a non-empty log_file (A2). maxSizeMB follows lumberjack's
// own field of the same name; rotated files are kept for 7 days / 5
// backups.
func NewRotatingFileLogger(level, path string, maxSizeMB int) (Logger, error) {
	var lvl zap.AtomicLevel
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 5,
		MaxAge:     7,
		Compress:   true,
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(rotator),
		lvl,
	)
	base := zap.New(core, zap.AddCallerSkip(1))
	return &zapLogger{sugar: base.Sugar()}, nil
}

func (l *zapLogger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Info(msg string)                           { l.sugar.Info(msg) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Warnw(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }
func (l *zapLogger) Error(msg string)                          { l.sugar.Error(msg) }

func (l *zapLogger) Benchmark(op string, d time.Duration) {
	l.sugar.Infow("benchmark", "op", op, "duration_ms", d.Milliseconds())
}

func (l *zapLogger) With(keysAndValues ...interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(keysAndValues...)}
}
