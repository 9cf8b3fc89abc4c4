// Package logger 提供统一的 slog 日志构造。
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// NewDefault 按配置的日志级别创建文本格式的 slog.Logger。
//
// level 取值 debug / info / warn / error，无法识别时退回 info。
func NewDefault(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
