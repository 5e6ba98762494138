package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/any-hub/bundlehub/internal/hasher"
	"github.com/any-hub/bundlehub/internal/objstore"
)

var supportedCacheIndexes = map[string]struct{}{
	"fs":     {},
	"badger": {},
}

const supportedCacheIndexList = "fs|badger"

// Validate 针对语义级别做进一步校验，防止非法配置启动。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, ok := supportedCacheIndexes[g.CacheIndex]; !ok {
		return newFieldError("Global.CacheIndex", "仅支持 "+supportedCacheIndexList)
	}
	if g.ChunkSize <= 0 {
		return newFieldError("Global.ChunkSize", "必须大于 0")
	}
	if g.ProgressInterval.DurationValue() < 0 {
		return newFieldError("Global.ProgressInterval", "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MaxUploadSize <= 0 {
		return newFieldError("Global.MaxUploadSize", "必须大于 0")
	}
	if err := (hasher.Hasher{Algorithm: g.HashAlgorithm}).Validate(); err != nil {
		return newFieldError("Global.HashAlgorithm", "仅支持 "+strings.Join(hasher.Supported(), "|"))
	}

	driver, ok := objstore.Resolve(g.Backend)
	if !ok {
		return newFieldError("Global.Backend", "仅支持 "+strings.Join(objstore.Keys(), "|"))
	}
	if driver.RequiredHash != "" && driver.RequiredHash != g.HashAlgorithm {
		return newFieldError("Global.HashAlgorithm", fmt.Sprintf("%s 后端要求 %s", driver.Key, driver.RequiredHash))
	}
	switch driver.Key {
	case "s3":
		if c.S3.Endpoint == "" {
			return newFieldError("S3.Endpoint", "不能为空")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			return newFieldError("S3.AccessKey/SecretKey", "必须同时提供或同时留空")
		}
	case "rest":
		if err := validateEndpoint(c.REST.Endpoint); err != nil {
			return fmt.Errorf("REST.Endpoint: %w", err)
		}
	case "fs":
		if c.FS.Root == "" {
			return newFieldError("FS.Root", "不能为空")
		}
	}

	seenNames := map[string]struct{}{}
	for i := range c.ServeBuckets {
		b := &c.ServeBuckets[i]
		b.Name = strings.TrimSpace(b.Name)
		if b.Name == "" {
			return newFieldError("ServeBucket[].Name", "不能为空")
		}
		if strings.ContainsAny(b.Name, "/ ") {
			return newFieldError(bucketField(b.Name, "Name"), "不允许包含 / 或空格")
		}
		if _, exists := seenNames[b.Name]; exists {
			return newFieldError(bucketField(b.Name, "Name"), "重复")
		}
		seenNames[b.Name] = struct{}{}
		if b.Root == "" {
			return newFieldError(bucketField(b.Name, "Root"), "不能为空")
		}
	}

	return nil
}

func validateEndpoint(raw string) error {
	if raw == "" {
		return errors.New("缺少服务地址")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	return nil
}
