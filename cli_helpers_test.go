package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliResult 是一次 run 调用的退出码与捕获到的输出。
type cliResult struct {
	code   int
	stdout string
	stderr string
}

// runCLI 在内存缓冲区上执行一次命令，调用结束后恢复 stdOut/stdErr。
func runCLI(t *testing.T, args ...string) cliResult {
	t.Helper()

	var outBuf, errBuf bytes.Buffer
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = &outBuf, &errBuf
	defer func() {
		stdOut, stdErr = prevOut, prevErr
	}()

	code := run(context.Background(), args)
	return cliResult{code: code, stdout: outBuf.String(), stderr: errBuf.String()}
}

// outputLines 返回非 JSON 日志的输出行，即命令本身打印的结果。
func (r cliResult) outputLines() []string {
	var lines []string
	for _, line := range strings.Split(r.stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "{") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// configFixture 指向 internal/config/testdata 中的共享配置样例。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("无法定位项目根目录")
	}
	return filepath.Join(filepath.Dir(file), "internal", "config", "testdata", name)
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}
