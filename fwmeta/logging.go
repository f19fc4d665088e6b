package fwmeta

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Package-wide logger. Goes to stderr so stdout stays usable for reports
var logger = NewLogger("fwmeta", zapcore.InfoLevel, os.Stderr)

// Build a console logger with bracketed level, name and time, written to
// every given writer (stdout if none)
func NewLogger(name string, level zapcore.Level, writers ...io.Writer) *zap.SugaredLogger {
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}
	cfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     zapcore.OmitKey,
		FunctionKey:   zapcore.OmitKey,
		MessageKey:    "msg",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(fmt.Sprintf("%-7s", "["+level.CapitalString()+"]"))
		},
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			if name != "" {
				enc.AppendString("[" + name + "]")
			}
			enc.AppendString("[" + t.Format("2006-01-02 15:04:05.000") + "]")
		},
		EncodeDuration:   zapcore.SecondsDurationEncoder,
		ConsoleSeparator: " ",
	}
	if runtime.GOOS == "windows" {
		cfg.LineEnding = "\r\n"
	}
	cores := make([]zapcore.Core, 0, len(writers))
	for _, w := range writers {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(w), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.FatalLevel)).Sugar()
}

func SetLogger(l *zap.SugaredLogger) {
	logger = l
}

func Logger() *zap.SugaredLogger {
	return logger
}

// Accepts the usual zap names: debug, info, warn, error...
func ParseLogLevel(s string) (zapcore.Level, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
