package service

import (
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 是全局日志接口
// 在其他模块中使用：service.Logger.Info("Strategy registered", zap.String("strategy", id))
var Logger = zap.NewNop()

// InitLogger 初始化 Zap 日志，level 为空时使用 info
func InitLogger(level string, development bool) {
	config := zap.NewProductionConfig()
	if development {
		config = zap.NewDevelopmentConfig()
	}

	// 格式化时间
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "time"

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			log.Printf("Unknown log level %q, falling back to info", level)
			lvl = zapcore.InfoLevel
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := config.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	Logger = l
}

// Named 返回带组件名的子 logger，l 为空时回落到全局 Logger
func Named(l *zap.Logger, component string) *zap.Logger {
	if l == nil {
		l = Logger
	}
	return l.With(zap.String("component", component))
}
