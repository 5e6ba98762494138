package pkgindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/archive"
	"github.com/any-hub/bundlehub/internal/cache"
	"github.com/any-hub/bundlehub/internal/hasher"
	"github.com/any-hub/bundlehub/internal/logging"
	"github.com/any-hub/bundlehub/internal/objstore"
	"github.com/any-hub/bundlehub/internal/pkgmeta"
)

// Fetcher 下载已索引包的负载并校验完整性。
type Fetcher struct {
	Gateway          objstore.Gateway
	Cache            cache.Cache
	Prefix           string
	Hasher           hasher.Hasher
	Logger           logrus.FieldLogger
	ProgressInterval time.Duration
}

// Fetch 按查询找到本地条目，下载 archive 三元组指向的负载到条目目录，
// 然后分别与存储端哈希、meta.json 声明的校验和比较。任一不一致都返回
// *IntegrityError 且不返回句柄；已写入的文件保留在磁盘上，下次拉取会覆盖。
// 不做重试。
func (f *Fetcher) Fetch(ctx context.Context, q pkgmeta.Query) (*archive.Package, error) {
	entry, err := f.Cache.Lookup(ctx, q)
	if err != nil {
		switch {
		case isNotFound(err):
			return nil, fmt.Errorf("%w: %s (run update first?)", ErrPackageNotFound, q)
		case errors.Is(err, pkgmeta.ErrMalformed):
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedMetadata, q, err)
		default:
			return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
		}
	}

	ident := entry.Identity.String()
	desc := entry.Metadata.Archive
	key := f.remoteKey(desc.Location)
	target, err := payloadPath(entry.Path, desc.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedMetadata, ident, err)
	}

	fields := logging.PackageFields("fetch", ident, key)
	f.Logger.WithFields(fields).Info("downloading package payload")
	progress := logging.TransferProgress(f.Logger, fields, f.ProgressInterval)

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("%w: prepare %s: %w", ErrCacheUnavailable, ident, err)
	}
	info, err := f.Gateway.Download(ctx, key, target, progress)
	if err != nil {
		return nil, fmt.Errorf("%w: download %s: %w", ErrStoreUnavailable, key, err)
	}

	actual, err := f.Hasher.SumFile(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	if !hasher.Equal(actual, info.ContentHash) {
		return nil, &IntegrityError{Identity: ident, Key: key, Source: SourceStore, Expected: hasher.Normalize(info.ContentHash), Actual: actual}
	}
	if !hasher.Equal(actual, desc.Checksum) {
		return nil, &IntegrityError{Identity: ident, Key: key, Source: SourceMetadata, Expected: hasher.Normalize(desc.Checksum), Actual: actual}
	}

	pkg, err := archive.OpenPackage(entry.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrCacheUnavailable, ident, err)
	}
	f.Logger.WithFields(fields).WithField("hash", actual).Info("package verified")
	return pkg, nil
}

// remoteKey 把 remote_location 解释为相对 prefix 的键，已带 prefix 的原样使用。
func (f *Fetcher) remoteKey(location string) string {
	prefix := objstore.NormalizePrefix(f.Prefix)
	location = strings.TrimLeft(location, "/")
	if prefix != "" && strings.HasPrefix(location, prefix) {
		return location
	}
	return objstore.Join(prefix, location)
}

func payloadPath(dir, rel string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(rel))
	within, err := filepath.Rel(dir, target)
	if err != nil || within == "." || strings.HasPrefix(within, "..") {
		return "", fmt.Errorf("archive path %q escapes package dir", rel)
	}
	return target, nil
}
