// Package logging 基于 zerolog 的结构化日志。
// 生产环境输出 JSON，开发环境输出便于阅读的控制台格式。
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config 日志配置
type Config struct {
	Level       string    // debug / info / warn / error
	JSONFormat  bool      // true 输出 JSON
	ServiceName string    // 每条日志都带上
	Output      io.Writer // 默认 os.Stdout
}

// New 创建 logger
func New(cfg Config) zerolog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONFormat {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	service := cfg.ServiceName
	if service == "" {
		service = "meetflow"
	}

	return zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service_name", service).
		Logger()
}

// ParseLevel 解析日志级别，未知值按 info 处理
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
