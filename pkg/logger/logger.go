package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	sugar  *zap.SugaredLogger
	isDev  bool
	initMu sync.Once
)

func init() {
	isDev = os.Getenv("ENVIRONMENT") == "development"
	sugar = build(isDev)
}

func build(development bool) *zap.SugaredLogger {
	var (
		l   *zap.Logger
		err error
	)
	if development {
		l, err = zap.NewDevelopment(zap.AddCallerSkip(1))
	} else {
		l, err = zap.NewProduction(zap.AddCallerSkip(1))
	}
	if err != nil {
		l = zap.NewNop()
	}
	return l.Sugar()
}

// Configure rebuilds the logger once the environment is known from config.
func Configure(environment string) {
	initMu.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		isDev = environment == "development"
		sugar = build(isDev)
	})
}

// Use replaces the backing logger, mainly for tests (zap.NewNop, zaptest).
func Use(l *zap.Logger, development bool) {
	mu.Lock()
	defer mu.Unlock()
	isDev = development
	sugar = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func debugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return isDev
}

func Info(format string, v ...interface{}) {
	current().Infof(format, v...)
}

func Error(format string, v ...interface{}) {
	current().Errorf(format, v...)
}

func Debug(format string, v ...interface{}) {
	if debugEnabled() {
		current().Debugf(format, v...)
	}
}

func Warn(format string, v ...interface{}) {
	current().Warnf(format, v...)
}

func Sync() {
	_ = current().Sync()
}
