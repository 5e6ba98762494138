package pkgindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/cache"
	"github.com/any-hub/bundlehub/internal/logging"
	"github.com/any-hub/bundlehub/internal/objstore"
	"github.com/any-hub/bundlehub/internal/pkgmeta"
)

// maxMetaSize 限制单个 meta.json 的读取量。
const maxMetaSize = 16 << 20

// RemoteEntry 是桶中一个包身份的 meta.json 位置与存储端哈希。
type RemoteEntry struct {
	Identity    pkgmeta.Identity
	MetaKey     string
	ContentHash string
}

// RemoteIndex 由单次列举构建，从不持久化。
type RemoteIndex map[pkgmeta.Identity]RemoteEntry

// Identities 返回排序后的身份列表。
func (r RemoteIndex) Identities() []pkgmeta.Identity {
	ids := make([]pkgmeta.Identity, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	pkgmeta.SortIdentities(ids)
	return ids
}

// Report 是一次 Update 的结果摘要。
type Report struct {
	Discovered []pkgmeta.Identity
	Added      []pkgmeta.Identity
	Unchanged  []pkgmeta.Identity
	Removed    []pkgmeta.Identity
	Failed     []pkgmeta.Identity
	Duration   time.Duration
}

// Fields 输出为日志字段。
func (r *Report) Fields() logrus.Fields {
	return logrus.Fields{
		"discovered": len(r.Discovered),
		"added":      len(r.Added),
		"unchanged":  len(r.Unchanged),
		"removed":    len(r.Removed),
		"failed":     len(r.Failed),
		"duration":   r.Duration.String(),
	}
}

// Reconciler 让本地缓存与桶内 <prefix><ident>/meta.json 的集合保持一致。
type Reconciler struct {
	Gateway objstore.Gateway
	Cache   cache.Cache
	Prefix  string
	Logger  logrus.FieldLogger
}

// RemoteIndex 列举 prefix 下的全部对象，只保留 <prefix><ident>/meta.json 形式的键。
func (r *Reconciler) RemoteIndex(ctx context.Context) (RemoteIndex, error) {
	prefix := objstore.NormalizePrefix(r.Prefix)
	index := make(RemoteIndex)
	for info, err := range r.Gateway.List(ctx, prefix) {
		if err != nil {
			return nil, fmt.Errorf("%w: list %q: %w", ErrStoreUnavailable, prefix, err)
		}
		segment, file, ok := strings.Cut(strings.TrimPrefix(info.Key, prefix), "/")
		if !ok || file != pkgmeta.MetaFileName {
			continue
		}
		id, err := pkgmeta.ParseIdent(segment)
		if err != nil || id.String() != segment {
			r.Logger.WithFields(logging.PackageFields("update", segment, info.Key)).
				Debug("skip object with unparsable identity")
			continue
		}
		if info.ContentHash == "" {
			r.Logger.WithFields(logging.PackageFields("update", segment, info.Key)).
				Warn("store reported no content hash, change detection disabled for this package")
		}
		index[id] = RemoteEntry{Identity: id, MetaKey: info.Key, ContentHash: info.ContentHash}
	}
	return index, nil
}

// Update 执行一轮对账：
//  1. 读取本地全部条目作为删除候选；
//  2. 列举远端 meta.json；
//  3. 哈希不同或未缓存的身份下载并写入 meta.json，已见身份从候选中剔除；
//  4. 删除剩余候选。
//
// 列举失败时不做任何删除。单个身份失败不会中断本轮，也不会导致其被删除；
// 所有失败汇总到 *UpdateError。
func (r *Reconciler) Update(ctx context.Context) (*Report, error) {
	started := time.Now()
	report := &Report{}

	existing, err := r.Cache.Find(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	candidates := make(map[pkgmeta.Identity]cache.Entry, len(existing))
	for _, entry := range existing {
		candidates[entry.Identity] = entry
	}

	remote, err := r.RemoteIndex(ctx)
	if err != nil {
		return nil, err
	}

	failures := make(map[string]error)
	for _, id := range remote.Identities() {
		entry := remote[id]
		report.Discovered = append(report.Discovered, id)
		delete(candidates, id)

		added, err := r.sync(ctx, entry)
		switch {
		case err != nil:
			failures[id.String()] = err
			report.Failed = append(report.Failed, id)
			r.Logger.WithFields(logging.PackageFields("update", id.String(), entry.MetaKey)).
				WithError(err).Warn("package metadata sync failed")
		case added:
			report.Added = append(report.Added, id)
		default:
			report.Unchanged = append(report.Unchanged, id)
		}
	}

	stale := make([]cache.Entry, 0, len(candidates))
	for _, entry := range candidates {
		stale = append(stale, entry)
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].Identity.Compare(stale[j].Identity) < 0
	})
	for _, entry := range stale {
		if err := r.Cache.Remove(ctx, entry); err != nil {
			failures[entry.Identity.String()] = fmt.Errorf("%w: remove: %w", ErrCacheUnavailable, err)
			report.Failed = append(report.Failed, entry.Identity)
			continue
		}
		report.Removed = append(report.Removed, entry.Identity)
		r.Logger.WithFields(logging.PackageFields("update", entry.Identity.String(), entry.MetaLocation)).
			Info("evicted package no longer in bucket")
	}

	report.Duration = time.Since(started)
	r.Logger.WithFields(report.Fields()).WithField("action", "update").Info("index updated")

	if len(failures) > 0 {
		return report, &UpdateError{Failures: failures}
	}
	return report, nil
}

// sync 在需要时下载并写入 meta.json，返回是否发生了写入。
func (r *Reconciler) sync(ctx context.Context, remote RemoteEntry) (bool, error) {
	ok, err := r.Cache.Exists(ctx, remote.Identity, remote.ContentHash)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	if ok {
		return false, nil
	}

	meta, raw, err := r.fetchMeta(ctx, remote)
	if err != nil {
		return false, err
	}
	if _, err := r.Cache.Update(ctx, meta, raw, remote.MetaKey, remote.ContentHash); err != nil {
		return false, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	r.Logger.WithFields(logging.PackageFields("update", remote.Identity.String(), remote.MetaKey)).
		Info("package metadata cached")
	return true, nil
}

func (r *Reconciler) fetchMeta(ctx context.Context, remote RemoteEntry) (pkgmeta.Metadata, []byte, error) {
	body, _, err := r.Gateway.Get(ctx, remote.MetaKey)
	if err != nil {
		return pkgmeta.Metadata{}, nil, fmt.Errorf("%w: get %s: %w", ErrStoreUnavailable, remote.MetaKey, err)
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, maxMetaSize+1))
	if err != nil {
		return pkgmeta.Metadata{}, nil, fmt.Errorf("%w: read %s: %w", ErrStoreUnavailable, remote.MetaKey, err)
	}
	if len(raw) > maxMetaSize {
		return pkgmeta.Metadata{}, nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrMalformedMetadata, remote.MetaKey, maxMetaSize)
	}

	meta, err := pkgmeta.Parse(raw, remote.Identity)
	if err != nil {
		return pkgmeta.Metadata{}, nil, fmt.Errorf("%w: %s: %w", ErrMalformedMetadata, remote.MetaKey, err)
	}
	if meta.Identity != remote.Identity {
		return pkgmeta.Metadata{}, nil, fmt.Errorf("%w: %s declares %s", ErrMalformedMetadata, remote.MetaKey, meta.Identity)
	}
	return meta, raw, nil
}

// isNotFound 同时识别缓存与存储两侧的“不存在”。
func isNotFound(err error) bool {
	return errors.Is(err, cache.ErrNotFound) || errors.Is(err, objstore.ErrNotFound)
}
