package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	logger    *slog.Logger
	loggerMu  sync.RWMutex
	debugMode bool
	output    io.Writer = os.Stdout
)

func init() {
	// 默认使用 Info 级别的文本处理器
	logger = newLogger(slog.LevelInfo)
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: level,
	}))
}

// SetDebugMode 设置调试模式
func SetDebugMode(enabled bool) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	debugMode = enabled

	level := slog.LevelInfo
	if enabled {
		level = slog.LevelDebug
	}
	logger = newLogger(level)
}

// SetOutput 重定向日志输出 (CLI 使用 stderr，以免干扰进度输出)
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	output = w
	level := slog.LevelInfo
	if debugMode {
		level = slog.LevelDebug
	}
	logger = newLogger(level)
}

// Logger 返回当前 logger
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// LogDebug 调试日志
func LogDebug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// LogInfo 信息日志
func LogInfo(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// LogWarn 警告日志
func LogWarn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// LogError 错误日志
func LogError(msg string, args ...any) {
	Logger().Error(msg, args...)
}
