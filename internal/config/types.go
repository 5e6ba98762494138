package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/bundlehub/internal/hasher"
	"github.com/any-hub/bundlehub/internal/objstore"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级参数：日志、本地缓存、远端桶与传输行为。
type GlobalConfig struct {
	ListenPort       int      `mapstructure:"ListenPort"`
	LogLevel         string   `mapstructure:"LogLevel"`
	LogFilePath      string   `mapstructure:"LogFilePath"`
	LogMaxSize       int      `mapstructure:"LogMaxSize"`
	LogMaxBackups    int      `mapstructure:"LogMaxBackups"`
	LogCompress      bool     `mapstructure:"LogCompress"`
	StoragePath      string   `mapstructure:"StoragePath"`
	CacheIndex       string   `mapstructure:"CacheIndex"`
	Backend          string   `mapstructure:"Backend"`
	Bucket           string   `mapstructure:"Bucket"`
	Prefix           string   `mapstructure:"Prefix"`
	HashAlgorithm    string   `mapstructure:"HashAlgorithm"`
	ChunkSize        int      `mapstructure:"ChunkSize"`
	ProgressInterval Duration `mapstructure:"ProgressInterval"`
	UpstreamTimeout  Duration `mapstructure:"UpstreamTimeout"`
	MaxUploadSize    int64    `mapstructure:"MaxUploadSize"`
}

// S3Config 是 S3 兼容存储的连接参数；凭证留空时读取 AWS_* 环境变量。
type S3Config struct {
	Endpoint  string `mapstructure:"Endpoint"`
	Region    string `mapstructure:"Region"`
	AccessKey string `mapstructure:"AccessKey"`
	SecretKey string `mapstructure:"SecretKey"`
	UseSSL    bool   `mapstructure:"UseSSL"`
}

// RESTConfig 指向 bundlehub serve 实例。
type RESTConfig struct {
	Endpoint string `mapstructure:"Endpoint"`
}

// FSConfig 的 Root 下每个子目录即一个桶。
type FSConfig struct {
	Root string `mapstructure:"Root"`
}

// BucketConfig 声明 serve 子命令对外暴露的一个目录桶。
type BucketConfig struct {
	Name string `mapstructure:"Name"`
	Root string `mapstructure:"Root"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global       GlobalConfig   `mapstructure:",squash"`
	S3           S3Config       `mapstructure:"S3"`
	REST         RESTConfig     `mapstructure:"REST"`
	FS           FSConfig       `mapstructure:"FS"`
	ServeBuckets []BucketConfig `mapstructure:"ServeBucket"`
}

// Hasher 返回配置选定的哈希算法与块大小。
func (c *Config) Hasher() hasher.Hasher {
	return hasher.Hasher{
		Algorithm: c.Global.HashAlgorithm,
		ChunkSize: c.Global.ChunkSize,
	}
}

// StoreOptions 生成存储驱动所需参数；桶名只有客户端命令需要，因此在这里而不是 Validate 中检查。
func (c *Config) StoreOptions() (objstore.Options, error) {
	if strings.TrimSpace(c.Global.Bucket) == "" {
		return objstore.Options{}, newFieldError("Global.Bucket", "不能为空（可通过 BUNDLEHUB_BUCKET 或 BUCKET 环境变量提供）")
	}

	opts := objstore.Options{
		Bucket:        c.Global.Bucket,
		HashAlgorithm: c.Global.HashAlgorithm,
		ChunkSize:     c.Global.ChunkSize,
		Timeout:       c.Global.UpstreamTimeout.DurationValue(),
	}
	switch c.Global.Backend {
	case "s3":
		opts.Endpoint = c.S3.Endpoint
		opts.Region = c.S3.Region
		opts.AccessKey = c.S3.AccessKey
		opts.SecretKey = c.S3.SecretKey
		opts.UseSSL = c.S3.UseSSL
	case "rest":
		opts.Endpoint = c.REST.Endpoint
	case "fs":
		opts.Root = c.FS.Root
	}
	return opts, nil
}
