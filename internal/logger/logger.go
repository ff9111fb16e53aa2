package logger

import (
  "fmt"

  "go.uber.org/zap"
)

// Logger wraps a sugared zap logger so call sites can pass loosely typed
// key/value pairs without importing zap everywhere.
type Logger struct {
  sugar *zap.SugaredLogger
}

// New builds a Logger for the given mode ("development" or "production").
func New(mode string) (*Logger, error) {
  var cfg zap.Config
  switch mode {
  case "production":
    cfg = zap.NewProductionConfig()
  case "development", "":
    cfg = zap.NewDevelopmentConfig()
  default:
    return nil, fmt.Errorf("unknown log mode: %q", mode)
  }
  base, err := cfg.Build(zap.AddCallerSkip(1))
  if err != nil {
    return nil, fmt.Errorf("failed to build zap logger: %w", err)
  }
  return &Logger{sugar: base.Sugar()}, nil
}

func (l *Logger) With(kv ...interface{}) *Logger {
  return &Logger{sugar: l.sugar.With(kv...)}
}

func (l *Logger) Sync() error {
  return l.sugar.Sync()
}

func (l *Logger) Debug(msg string, kv ...interface{}) {
  l.sugar.Debugw(msg, kv...)
}

func (l *Logger) Info(msg string, kv ...interface{}) {
  l.sugar.Infow(msg, kv...)
}

func (l *Logger) Warn(msg string, kv ...interface{}) {
  l.sugar.Warnw(msg, kv...)
}

func (l *Logger) Error(msg string, kv ...interface{}) {
  l.sugar.Errorw(msg, kv...)
}
