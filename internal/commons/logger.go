// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package commons provides the structured logging surface used by every
// package in the orchestrator. It wraps zap so that call sites never import
// zap directly and so call/trace identifiers are always attached consistently.
package commons

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the sugared logging contract used throughout the orchestrator.
// It mirrors zap.SugaredLogger's most common methods so call sites never
// need to import zap directly.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})

	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// With returns a child logger carrying the given structured fields on
	// every subsequent line — used to bind call_id/trace_id once per call.
	With(keysAndValues ...interface{}) Logger

	Sync() error
}

type zapLogger struct {
	*zap.SugaredLogger
}

func (z *zapLogger) With(keysAndValues ...interface{}) Logger {
	return &zapLogger{z.SugaredLogger.With(keysAndValues...)}
}

// Config controls process-level logging setup.
type Config struct {
	Level      string // debug|info|warn|error
	JSON       bool
	FilePath   string // if set, rotated via lumberjack in addition to stderr
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultConfig mirrors the teacher's production defaults: JSON to stderr,
// info level, no file rotation unless FilePath is set.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		JSON:       true,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 14,
	}
}

// New builds the process-wide Logger. Every CallSession wraps it with
// With("call_id", ..., "trace_id", ...) rather than constructing its own.
func New(cfg Config) (Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.JSON {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	syncers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stderr)}
	if cfg.FilePath != "" {
		syncers = append(syncers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(syncers...), level)
	logger := zap.New(core, zap.AddCaller())
	return &zapLogger{logger.Sugar()}, nil
}

// NewNop returns a Logger that discards everything — used by tests.
func NewNop() Logger {
	return &zapLogger{zap.NewNop().Sugar()}
}
