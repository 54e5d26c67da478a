package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu   sync.RWMutex
	base *zap.Logger
	once sync.Once
)

type Options struct {
	Dir        string
	Production bool
}

// Init builds the process logger. Only the first call has an effect; callers
// that never call Init get a development logger writing to ./logs.
func Init(opts Options) {
	once.Do(func() {
		l := build(opts)
		mu.Lock()
		base = l
		mu.Unlock()
	})
}

func build(opts Options) *zap.Logger {
	dir := opts.Dir
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		// fall back to console only
		return zap.New(consoleCore(), zap.AddCaller())
	}

	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "app.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(logFile),
		zap.InfoLevel,
	)

	if opts.Production {
		return zap.New(fileCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zap.New(zapcore.NewTee(fileCore, consoleCore()), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

func consoleCore() zapcore.Core {
	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(os.Stdout),
		zap.DebugLevel,
	)
}

func get() *zap.Logger {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(Options{})
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Get returns the default named logger.
func Get() *zap.Logger {
	return get().Named("default")
}

// Named returns a component logger, e.g. Named("sos", zap.String("user_id", id)).
func Named(name string, fields ...zap.Field) *zap.Logger {
	return get().Named(name).With(fields...)
}

func Sync() {
	_ = get().Sync()
}

// SetCapture redirects all logging into buf as JSON lines. Tests only.
func SetCapture(buf *bytes.Buffer, level zapcore.Level) {
	once.Do(func() {})

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(buf), level)

	mu.Lock()
	base = zap.New(core)
	mu.Unlock()
}

// SetNop silences logging. Tests only.
func SetNop() {
	once.Do(func() {})

	mu.Lock()
	base = zap.NewNop()
	mu.Unlock()
}
