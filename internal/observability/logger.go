// File: internal/observability/logger.go
package observability

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/xkilldash9x/trialctl/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	timeLayout = "2006-01-02T15:04:05.000Z07:00"
	colorReset = "\x1b[0m"
	colorGreen = "\x1b[32m"
)

// ansi maps the color names accepted in logger.colors to escape codes.
var ansi = map[string]string{
	"red":     "\x1b[31m",
	"green":   colorGreen,
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

var (
	global   atomic.Pointer[zap.Logger]
	initOnce sync.Once
)

// Initialize builds the global logger. Console output goes to consoleWriter in
// the configured format; a non-empty cfg.LogFile adds a rotated JSON copy.
// Later calls are ignored until ResetForTest.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) {
	initOnce.Do(func() {
		level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

		var consoleEnc zapcore.Encoder
		if cfg.Format == "console" {
			consoleEnc = consoleEncoder(cfg.Colors)
		} else {
			consoleEnc = jsonEncoder()
		}
		core := zapcore.NewCore(consoleEnc, consoleWriter, level)
		if cfg.LogFile != "" {
			core = zapcore.NewTee(core, zapcore.NewCore(jsonEncoder(), rotatingFile(cfg), level))
		}

		opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
		if cfg.AddSource {
			opts = append(opts, zap.AddCaller())
		}
		logger := zap.New(core, opts...).Named(cfg.ServiceName)
		global.Store(logger)
		zap.ReplaceGlobals(logger)
	})
}

// InitializeLogger writes console output to stderr, leaving stdout to the
// command output (credentials, account listings).
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stderr))
}

// ResetForTest clears the global logger. Tests only.
func ResetForTest() {
	global.Store(nil)
	initOnce = sync.Once{}
}

// GetLogger returns the global logger, or a development logger if
// Initialize has not run yet.
func GetLogger() *zap.Logger {
	if logger := global.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Global logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// Sync flushes buffered entries. Call before exiting.
func Sync() {
	logger := global.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !unsyncableTerminal(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

// unsyncableTerminal reports errors returned when fsync is called on a tty or pipe.
func unsyncableTerminal(err error) bool {
	return errors.Is(err, syscall.EINVAL) ||
		errors.Is(err, syscall.ENOTTY) ||
		errors.Is(err, syscall.ENOTSUP) ||
		strings.Contains(err.Error(), "sync /dev/std")
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func rotatingFile(cfg config.LoggerConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}

func baseEncoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return ec
}

func jsonEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(baseEncoderConfig())
}

// consoleEncoder prints colored levels and dot-suffixed component names,
// e.g. "trialctl.orchestrator.".
func consoleEncoder(colors config.ColorConfig) zapcore.Encoder {
	palette := levelColors(colors)
	ec := baseEncoderConfig()
	ec.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		label := level.CapitalString()
		if code, ok := palette[level]; ok {
			label = code + label + colorReset
		}
		enc.AppendString(label)
	}
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(ec)
}

// levelColors resolves color names per level. Unknown or empty names leave
// the level uncolored.
func levelColors(c config.ColorConfig) map[zapcore.Level]string {
	names := map[zapcore.Level]string{
		zapcore.DebugLevel:  c.Debug,
		zapcore.InfoLevel:   c.Info,
		zapcore.WarnLevel:   c.Warn,
		zapcore.ErrorLevel:  c.Error,
		zapcore.DPanicLevel: c.DPanic,
		zapcore.PanicLevel:  c.Panic,
		zapcore.FatalLevel:  c.Fatal,
	}
	palette := make(map[zapcore.Level]string, len(names))
	for lvl, name := range names {
		if code, ok := ansi[strings.ToLower(name)]; ok {
			palette[lvl] = code
		}
	}
	return palette
}
