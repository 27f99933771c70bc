package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cabinet-fe/MiniDevOps/internal/application/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
)

// 包级函数 + emit + LoggerComponent.log
const callerSkip = 3

// LoggerComponent zap 日志组件，启动后替换全局 logger
type LoggerComponent struct {
	*core.BaseComponent
	config    *LoggingConfig
	zapLogger *zap.Logger
}

func NewLoggerComponent(cfg *LoggingConfig) *LoggerComponent {
	return &LoggerComponent{
		BaseComponent: core.NewBaseComponent(consts.COMPONENT_LOGGING),
		config:        cfg,
	}
}

func (lc *LoggerComponent) Start(ctx context.Context) error {
	if err := lc.BaseComponent.Start(ctx); err != nil {
		return err
	}
	writeSyncer, err := lc.buildWriteSyncer()
	if err != nil {
		return fmt.Errorf("failed to create write syncer: %w", err)
	}
	lc.zapLogger = zap.New(
		zapcore.NewCore(lc.buildEncoder(), writeSyncer, parseLevel(lc.config.Level)),
		zap.AddCaller(),
		zap.AddCallerSkip(callerSkip),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	lc.zapLogger.Info("logger component started",
		zap.String("level", lc.config.Level),
		zap.String("format", lc.config.Format),
		zap.String("output", lc.config.Output),
	)
	current.Store(lc)
	return nil
}

// Stop flushes the logger. Package-level calls keep writing to it until
// another component starts.
func (lc *LoggerComponent) Stop(ctx context.Context) error {
	if lc.zapLogger != nil {
		Info(ctx, "logger component stopping")
		_ = lc.zapLogger.Sync()
	}
	return lc.BaseComponent.Stop(ctx)
}

func (lc *LoggerComponent) HealthCheck() error {
	if err := lc.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	if lc.zapLogger == nil {
		return fmt.Errorf("zap logger is not initialized")
	}
	return nil
}

func (lc *LoggerComponent) buildEncoder() zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if lc.config.Format == "json" {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func (lc *LoggerComponent) buildWriteSyncer() (zapcore.WriteSyncer, error) {
	switch strings.ToLower(lc.config.Output) {
	case "stdout", "":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	case "file":
		return lc.buildFileWriteSyncer()
	default:
		// anything else is a file path
		if err := os.MkdirAll(filepath.Dir(lc.config.Output), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(lc.config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return zapcore.AddSync(file), nil
	}
}

func (lc *LoggerComponent) buildFileWriteSyncer() (zapcore.WriteSyncer, error) {
	fc := lc.config.FileConfig
	if fc == nil {
		return nil, fmt.Errorf("file config is required when output is 'file'")
	}
	if err := os.MkdirAll(fc.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	rc := lc.config.RotateConfig
	if rc != nil && rc.Enabled && rc.RotateInterval > 0 {
		w, err := newIntervalRotatingWriter(fc.Dir, fc.Filename, rc)
		if err != nil {
			return nil, err
		}
		return zapcore.AddSync(w), nil
	}

	logFile := filepath.Join(fc.Dir, fc.Filename+".log")
	if rc != nil && rc.Enabled {
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:  logFile,
			MaxSize:   fc.MaxSize,
			MaxAge:    int(rc.MaxAge.Hours() / 24),
			Compress:  true,
			LocalTime: true,
		}), nil
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return zapcore.AddSync(file), nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// log 仅在存在有效 OTel span 时附加 trace_id / span_id
func (lc *LoggerComponent) log(ctx context.Context, level zapcore.Level, msg string, fields ...zap.Field) {
	if lc.zapLogger == nil {
		return
	}
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() && !hasField(fields, consts.KEY_TraceID) {
			fields = append([]zap.Field{
				zap.String(consts.KEY_TraceID, sc.TraceID().String()),
				zap.String(consts.KEY_SpanID, sc.SpanID().String()),
			}, fields...)
		}
	}
	if ce := lc.zapLogger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

func hasField(fields []zap.Field, key string) bool {
	for _, f := range fields {
		if f.Key == key {
			return true
		}
	}
	return false
}
