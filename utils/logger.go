package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 全局日志器，InitLogger之后可用
var Logger *zap.Logger

// InitLogger 按GIN_MODE初始化日志：release输出JSON，其余模式输出彩色控制台
func InitLogger(mode string) error {
	var cfg zap.Config

	if mode == "release" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		return err
	}

	Logger = logger.Named("furniture")
	return nil
}

func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
