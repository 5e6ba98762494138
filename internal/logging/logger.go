package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/bundlehub/internal/config"
)

// InitLogger 根据全局配置初始化 JSON 结构化日志，输出到进程的 stdout/stderr。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	return InitLoggerTo(cfg, os.Stdout, os.Stderr)
}

// InitLoggerTo 与 InitLogger 相同，但未配置日志文件时写入 stdout，
// 日志文件不可用时的降级提示写入 stderr。CLI 子命令与 serve 共用同一个 logger。
func InitLoggerTo(cfg config.GlobalConfig, stdout, stderr io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	output, outErr := buildOutput(cfg, stdout)
	if outErr != nil {
		fmt.Fprintf(stderr, "logger_fallback: %v\n", outErr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	fields := logrus.Fields{
		"action": "logger_init",
		"level":  level.String(),
		"file":   cfg.LogFilePath,
	}
	if outErr != nil {
		fields["action"] = "logger_fallback"
		logger.WithFields(fields).Warn(outErr.Error())
	} else {
		logger.WithFields(fields).Debug("日志初始化完成")
	}

	return logger, nil
}

// buildOutput 未配置文件时返回 stdout；日志目录不可写时同样降级到 stdout 并返回原因。
func buildOutput(cfg config.GlobalConfig, stdout io.Writer) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return stdout, nil
	}

	dir := filepath.Dir(cfg.LogFilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}
	// lumberjack 首次写入时才打开文件，这里提前探测权限
	probe, err := os.OpenFile(cfg.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return stdout, fmt.Errorf("打开日志文件失败: %w", err)
	}
	probe.Close()

	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}
	return rotator, nil
}
