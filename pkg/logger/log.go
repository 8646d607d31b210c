package logger

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceID 在 Context 中的 Key (接入网关后由中间件注入)
const TraceIdKey = "trace_id"

// 全局 Logger 实例
// 默认 Nop，未调用 Init 的嵌入方 (测试、库使用者) 不会因为打日志崩溃
var Log = zap.NewNop()

// Init 初始化日志组件
// serviceName: 服务名称 (例如 "wallet-core")
// level: 日志级别 (debug, info, warn, error)
func Init(serviceName string, level string) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel // 默认 Info
	}

	// 生产环境强制 JSON，方便 ELK 收集
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.MessageKey = "msg"

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		zapLevel,
	)

	// AddCallerSkip(1): 封装了一层，否则行号永远指向 log.go
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	Log = Log.With(zap.String("service", serviceName))
}

// Info 打印 Info 级别日志
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Info(msg, fields...)
}

// Error 打印 Error 级别日志
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Error(msg, fields...)
}

// Warn 打印 Warn 级别日志
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Warn(msg, fields...)
}

// Debug 打印 Debug 级别日志
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Debug(msg, fields...)
}

// Fatal 打印 Fatal 级别日志 (会调用 os.Exit)
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Fatal(msg, fields...)
}

func extractTrace(ctx context.Context, fields *[]zap.Field) {
	if ctx == nil {
		return
	}
	if traceID, ok := ctx.Value(TraceIdKey).(string); ok && traceID != "" {
		*fields = append(*fields, zap.String("trace_id", traceID))
	}
}

// Sync 刷新缓冲区 (在 main 的 defer 中调用)
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
