// Package observability 全局zap日志:控制台、lumberjack滚动文件与内存日志环
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/LouYuanbo1/snapsite/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

// Initialize 只生效一次;ring为nil时不挂内存日志环
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer, ring *LogRing) {
	once.Do(func() {
		level := zap.NewAtomicLevel()
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level.SetLevel(zap.InfoLevel)
		}

		cores := []zapcore.Core{zapcore.NewCore(getEncoder(cfg.Format), consoleWriter, level)}
		if cfg.LogFile != "" {
			// 文件日志总是JSON
			fileWriter := zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			})
			cores = append(cores, zapcore.NewCore(getEncoder("json"), fileWriter, level))
		}
		if ring != nil {
			cores = append(cores, NewRingCore(ring, level))
		}

		options := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
		if cfg.AddSource {
			options = append(options, zap.AddCaller())
		}
		logger := zap.New(zapcore.NewTee(cores...), options...).Named(cfg.ServiceName)
		globalLogger.Store(logger)
		zap.ReplaceGlobals(logger)
	})
}

// InitializeLogger 控制台输出到stderr,stdout留给命令结果
func InitializeLogger(cfg config.LoggerConfig, ring *LogRing) {
	Initialize(cfg, zapcore.Lock(os.Stderr), ring)
}

// ResetForTest 仅供测试使用
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

func getEncoder(format string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	if format == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(name + ".")
		}
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

// GetLogger 未初始化时退回开发模式logger
func GetLogger() *zap.Logger {
	logger := globalLogger.Load()
	if logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return zap.NewNop()
		}
		l.Warn("日志尚未初始化,使用后备logger")
		return l.Named("fallback")
	}
	return logger
}

// Sync 退出前刷新日志,忽略stdout/stderr不支持sync的错误
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil {
		msg := err.Error()
		if !strings.Contains(msg, "sync /dev/std") &&
			!strings.Contains(msg, "invalid argument") &&
			!strings.Contains(msg, "inappropriate ioctl") &&
			!strings.Contains(msg, "operation not supported") {
			fmt.Fprintln(os.Stderr, "刷新日志失败:", err)
		}
	}
}
