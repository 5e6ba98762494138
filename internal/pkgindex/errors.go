package pkgindex

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrStoreUnavailable 表示对象存储列举、读取或写入失败。
	ErrStoreUnavailable = errors.New("object store unavailable")
	// ErrIntegrityMismatch 表示本地重新计算的哈希与预期不一致。
	ErrIntegrityMismatch = errors.New("integrity mismatch")
	// ErrMalformedMetadata 表示 meta.json 无法解析或与路径身份不符。
	ErrMalformedMetadata = errors.New("malformed package metadata")
	// ErrCacheUnavailable 表示本地缓存读写失败。
	ErrCacheUnavailable = errors.New("local cache unavailable")
	// ErrPackageNotFound 表示本地索引中没有满足查询的包。
	ErrPackageNotFound = errors.New("package not found")
)

const (
	// SourceStore 表示与存储端报告的哈希比较。
	SourceStore = "store"
	// SourceMetadata 表示与 meta.json 声明的校验和比较。
	SourceMetadata = "metadata"
)

// IntegrityError 记录一次哈希比较失败。
type IntegrityError struct {
	Identity string
	Key      string
	Source   string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s %s: %s hash expected %s, got %s",
		ErrIntegrityMismatch, e.Identity, e.Key, e.Source, e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrityMismatch }

// UpdateError 汇总一次 Update 中失败的身份；其余身份已正常处理。
type UpdateError struct {
	Failures map[string]error
}

func (e *UpdateError) Error() string {
	idents := make([]string, 0, len(e.Failures))
	for ident := range e.Failures {
		idents = append(idents, ident)
	}
	sort.Strings(idents)

	parts := make([]string, 0, len(idents))
	for _, ident := range idents {
		parts = append(parts, fmt.Sprintf("%s: %v", ident, e.Failures[ident]))
	}
	return fmt.Sprintf("update failed for %d package(s): %s", len(idents), strings.Join(parts, "; "))
}

// Unwrap 让 errors.Is 可以穿透到每个身份的具体错误。
func (e *UpdateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}
