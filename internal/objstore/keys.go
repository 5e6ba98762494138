package objstore

import (
	"errors"
	"path"
	"strings"
)

// NormalizePrefix 去掉前导 '/'，非空时保证以 '/' 结尾。
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimLeft(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

// Join 以 slash 拼接 prefix 与相对 key。
func Join(prefix, key string) string {
	return NormalizePrefix(prefix) + strings.TrimLeft(key, "/")
}

// ValidateKey 拒绝空 key、绝对路径与 .. 段。
func ValidateKey(key string) error {
	if key == "" {
		return errors.New("object key required")
	}
	if strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return errors.New("object key must be relative and name an object")
	}
	if path.Clean(key) != key {
		return errors.New("object key must be clean")
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return errors.New("object key must not contain dot segments")
		}
	}
	return nil
}
