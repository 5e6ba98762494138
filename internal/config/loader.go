package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/bundlehub/internal/hasher"
	"github.com/any-hub/bundlehub/internal/objstore"
)

const (
	// EnvPrefix 是所有环境变量覆盖项的前缀，例如 BUNDLEHUB_LOGLEVEL。
	EnvPrefix = "BUNDLEHUB"
	// EnvConfigPath 指定配置文件路径，优先级低于 --config。
	EnvConfigPath = "BUNDLEHUB_CONFIG"
	// DefaultConfigFile 存在时作为最后的回退。
	DefaultConfigFile = "config.toml"
)

// ResolvePath 按 --config > BUNDLEHUB_CONFIG > ./config.toml 的顺序决定配置文件；
// 均不存在时返回空串，表示只使用默认值与环境变量。
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	}
	return ""
}

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量覆盖与校验逻辑。
// path 为空时不读取文件。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("配置文件不存在: %s", path)
			}
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("CacheIndex", "fs")
	v.SetDefault("Backend", "s3")
	v.SetDefault("Bucket", "")
	v.SetDefault("Prefix", "models/")
	v.SetDefault("HashAlgorithm", hasher.DefaultAlgorithm)
	v.SetDefault("ChunkSize", hasher.DefaultChunkSize)
	v.SetDefault("ProgressInterval", "2s")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxUploadSize", 4*1024*1024*1024)
	v.SetDefault("S3.Endpoint", "s3.amazonaws.com")
	v.SetDefault("S3.Region", "")
	v.SetDefault("S3.AccessKey", "")
	v.SetDefault("S3.SecretKey", "")
	v.SetDefault("S3.UseSSL", true)
	v.SetDefault("REST.Endpoint", "")
	v.SetDefault("FS.Root", "")
}

// bindEnv 让 BUNDLEHUB_<KEY>（嵌套键以 _ 连接）覆盖文件中的值；
// 桶名额外兼容历史上的 BUCKET 变量。
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("Bucket", EnvPrefix+"_BUCKET", "BUCKET")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.CacheIndex = strings.ToLower(strings.TrimSpace(g.CacheIndex))
	g.Backend = strings.ToLower(strings.TrimSpace(g.Backend))
	g.HashAlgorithm = strings.ToLower(strings.TrimSpace(g.HashAlgorithm))
	if g.HashAlgorithm == "" {
		g.HashAlgorithm = hasher.DefaultAlgorithm
	}
	if g.ChunkSize == 0 {
		g.ChunkSize = hasher.DefaultChunkSize
	}
	g.Prefix = objstore.NormalizePrefix(g.Prefix)
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
