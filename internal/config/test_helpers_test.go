package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// loadFixture 加载 testdata 中的样例配置。
func loadFixture(t *testing.T, name string) (*Config, error) {
	t.Helper()
	return Load(filepath.Join("testdata", name))
}

// loadTOML 把 content 写入临时文件后加载。
func loadTOML(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultConfigFile)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return Load(path)
}

func expectFieldError(t *testing.T, err error, field string) {
	t.Helper()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("期望 FieldError(%s)，得到 %v", field, err)
	}
	if fieldErr.Field != field {
		t.Fatalf("期望字段 %s，得到 %s", field, fieldErr.Field)
	}
}

// validConfig 返回一份能通过 Validate 的 fs 后端配置。
func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			StoragePath:     "./data",
			CacheIndex:      "fs",
			Backend:         "fs",
			Bucket:          "datasets",
			Prefix:          "models/",
			HashAlgorithm:   "md5",
			ChunkSize:       1024,
			UpstreamTimeout: Duration(time.Second),
			MaxUploadSize:   1 << 20,
		},
		FS: FSConfig{Root: "./buckets"},
	}
}
