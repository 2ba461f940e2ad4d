package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	globalLogger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	level        = new(slog.LevelVar)
	once         sync.Once
)

type Config struct {
	Level   string   `json:"level" yaml:"level"`     // debug/info/warn/error
	Outputs []string `json:"outputs" yaml:"outputs"` // stdout/stderr/文件路径
}

// Init 初始化全局日志，只生效一次
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		level.Set(ParseLevel(cfg.Level))

		var writers []io.Writer
		writers, err = openOutputs(cfg.Outputs)
		if err != nil {
			return
		}

		// 如果没有指定输出，默认使用stdout
		if len(writers) == 0 {
			writers = append(writers, os.Stdout)
		}

		globalLogger = slog.New(slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
			Level: level,
		}))
	})
	return err
}

func openOutputs(outputs []string) ([]io.Writer, error) {
	var writers []io.Writer
	for _, output := range outputs {
		switch output {
		case "", "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			// 确保目录存在
			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
			file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file %s: %w", output, err)
			}
			writers = append(writers, file)
		}
	}
	return writers, nil
}

// ParseLevel 把配置中的级别字符串转换为 slog.Level，未知值按 info 处理
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel 运行时调整日志级别
func SetLevel(s string) {
	level.Set(ParseLevel(s))
}

// Level 当前日志级别
func Level() slog.Level {
	return level.Level()
}

func Debug(msg string, args ...interface{}) {
	globalLogger.Debug(msg, args...)
}

func Info(msg string, args ...interface{}) {
	globalLogger.Info(msg, args...)
}

func Warn(msg string, args ...interface{}) {
	globalLogger.Warn(msg, args...)
}

func Error(msg string, args ...interface{}) {
	globalLogger.Error(msg, args...)
}

func Logger() *slog.Logger {
	return globalLogger
}
