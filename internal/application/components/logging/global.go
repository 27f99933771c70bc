package logging

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// current 为最近启动的日志组件; 启动前所有日志被丢弃。
var current atomic.Pointer[LoggerComponent]

func emit(ctx context.Context, level zapcore.Level, msg string, fields ...zap.Field) {
	if lc := current.Load(); lc != nil {
		lc.log(ctx, level, msg, fields...)
	}
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	emit(ctx, zapcore.DebugLevel, msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	emit(ctx, zapcore.InfoLevel, msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	emit(ctx, zapcore.WarnLevel, msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	emit(ctx, zapcore.ErrorLevel, msg, fields...)
}

func Debugf(ctx context.Context, format string, args ...any) {
	emit(ctx, zapcore.DebugLevel, fmt.Sprintf(format, args...))
}

func Infof(ctx context.Context, format string, args ...any) {
	emit(ctx, zapcore.InfoLevel, fmt.Sprintf(format, args...))
}

func Warnf(ctx context.Context, format string, args ...any) {
	emit(ctx, zapcore.WarnLevel, fmt.Sprintf(format, args...))
}

func Errorf(ctx context.Context, format string, args ...any) {
	emit(ctx, zapcore.ErrorLevel, fmt.Sprintf(format, args...))
}
