package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/config"
)

func TestConfigureDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := InitLogger(config.GlobalConfig{LogLevel: "loud"}); err == nil {
		t.Fatalf("未知日志级别应返回错误")
	}
}

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root 不受目录权限限制")
	}
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "bundlehub.log"),
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("fallback 时应退回 stdout")
	}
}

func TestInitLoggerToUsesGivenWriters(t *testing.T) {
	var out, errOut bytes.Buffer
	logger, err := InitLoggerTo(config.GlobalConfig{LogLevel: "info"}, &out, &errOut)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.WithField("action", "fetch").Info("hello")
	if !strings.Contains(out.String(), `"msg":"hello"`) {
		t.Fatalf("日志应写入给定的 stdout，得到 %q", out.String())
	}

	// 目录不能作为日志文件打开，root 下同样会降级
	out.Reset()
	logger, err = InitLoggerTo(config.GlobalConfig{LogLevel: "info", LogFilePath: t.TempDir()}, &out, &errOut)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != &out {
		t.Fatalf("fallback 时应退回给定的 stdout")
	}
	if !strings.Contains(errOut.String(), "logger_fallback") || !strings.Contains(out.String(), `"action":"logger_fallback"`) {
		t.Fatalf("fallback 原因应同时出现在 stderr 与日志中: %q / %q", errOut.String(), out.String())
	}
}

func TestConfigureCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundlehub.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}

func TestFormatProgress(t *testing.T) {
	if got := FormatProgress(3<<19, 3<<20); got != "~1.5 MB transferred (50.0%)" {
		t.Fatalf("unexpected progress text %q", got)
	}
	// 以 1024*1024 为 1 MB
	if got := FormatProgress(1_500_000, 3_000_000); got != "~1.4 MB transferred (50.0%)" {
		t.Fatalf("unexpected progress text %q", got)
	}
	if got := FormatProgress(3<<19, -1); got != "~1.5 MB transferred (1.5 MiB)" {
		t.Fatalf("unexpected progress text %q", got)
	}
}

func TestTransferProgressThrottles(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetOutput(buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	report := TransferProgress(logger, PackageFields("fetch", "demo-1.0.0", "models/demo-1.0.0/archive.tar.zst"), time.Hour)
	report(10, 100)
	report(20, 100)
	report(30, 100)
	report(100, 100)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected first and final progress lines, got %d: %s", len(lines), buf.String())
	}
	var final map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &final); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if final["identity"] != "demo-1.0.0" || final["msg"] != "~0.0 MB transferred (100.0%)" {
		t.Fatalf("unexpected final line %v", final)
	}
}

func TestPrintfLoggerDowngradesInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	printf := NewPrintfLogger(logger, "badger")
	printf.Infof("compaction %d", 1)
	if buf.Len() != 0 {
		t.Fatalf("Info 级输出应降为 Debug，得到 %s", buf.String())
	}

	printf.Warningf("slow %s", "write")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("解析日志失败: %v", err)
	}
	if entry["component"] != "badger" || entry["level"] != "warning" || entry["msg"] != "slow write" {
		t.Fatalf("意外的日志内容: %v", entry)
	}
}
