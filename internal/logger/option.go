package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// logFileMaxSizeMB is the size at which the log file is rotated.
	logFileMaxSizeMB = 64
	// logFileMaxBackups is the number of rotated files kept on disk.
	logFileMaxBackups = 3
	// logFileMaxAgeDays is the retention for rotated files.
	logFileMaxAgeDays = 14
)

// WithFileSink is an option that tees every entry accepted by the logger
// into a rotating log file at path. An empty path returns a no-op option.
//
//nolint:ireturn,nolintlint // Returning zap.Option is intended for zap integration.
func WithFileSink(path string) zap.Option {
	if path == "" {
		return zap.WrapCore(func(core zapcore.Core) zapcore.Core { return core })
	}

	//nolint:exhaustruct // Remaining lumberjack fields keep their defaults.
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxBackups,
		MaxAge:     logFileMaxAgeDays,
	}

	return zap.WrapCore(
		func(core zapcore.Core) zapcore.Core {
			fileCore := zapcore.NewCore(newConsoleEncoder(), zapcore.AddSync(sink), core)

			return zapcore.NewTee(core, fileCore)
		})
}
