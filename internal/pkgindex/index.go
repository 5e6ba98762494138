package pkgindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/archive"
	"github.com/any-hub/bundlehub/internal/cache"
	"github.com/any-hub/bundlehub/internal/config"
	"github.com/any-hub/bundlehub/internal/hasher"
	"github.com/any-hub/bundlehub/internal/objstore"
	"github.com/any-hub/bundlehub/internal/pkgmeta"
)

// Backend 是对外暴露的全部能力，CLI 只依赖这个接口。
type Backend interface {
	Update(ctx context.Context) (*Report, error)
	Fetch(ctx context.Context, q pkgmeta.Query) (*archive.Package, error)
	Upload(ctx context.Context, bundlePath string) (*UploadReport, error)
}

// Options 是构造 Index 的显式依赖。
type Options struct {
	Gateway          objstore.Gateway
	Cache            cache.Cache
	Prefix           string
	Hasher           hasher.Hasher
	Logger           logrus.FieldLogger
	ProgressInterval time.Duration
}

// Index 在同一个 Gateway 与 Cache 上组合 Reconciler、Fetcher、Publisher。
type Index struct {
	Reconciler *Reconciler
	Fetcher    *Fetcher
	Publisher  *Publisher

	cache cache.Cache
}

var _ Backend = (*Index)(nil)

// New 根据显式依赖构造 Index。
func New(opts Options) (*Index, error) {
	if opts.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Hasher.Algorithm == "" {
		opts.Hasher = hasher.Default()
	}
	if err := opts.Hasher.Validate(); err != nil {
		return nil, err
	}
	prefix := objstore.NormalizePrefix(opts.Prefix)

	return &Index{
		Reconciler: &Reconciler{
			Gateway: opts.Gateway,
			Cache:   opts.Cache,
			Prefix:  prefix,
			Logger:  opts.Logger,
		},
		Fetcher: &Fetcher{
			Gateway:          opts.Gateway,
			Cache:            opts.Cache,
			Prefix:           prefix,
			Hasher:           opts.Hasher,
			Logger:           opts.Logger,
			ProgressInterval: opts.ProgressInterval,
		},
		Publisher: &Publisher{
			Gateway:          opts.Gateway,
			Prefix:           prefix,
			Hasher:           opts.Hasher,
			Logger:           opts.Logger,
			ProgressInterval: opts.ProgressInterval,
		},
		cache: opts.Cache,
	}, nil
}

// Open 按配置打开存储驱动与本地缓存；调用方负责 Close。
func Open(cfg *config.Config, logger logrus.FieldLogger) (*Index, error) {
	storeOpts, err := cfg.StoreOptions()
	if err != nil {
		return nil, err
	}
	gateway, err := objstore.Open(cfg.Global.Backend, storeOpts)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Global.Backend, err)
	}
	store, err := cache.Open(cfg.Global.StoragePath, cfg.Global.CacheIndex, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	idx, err := New(Options{
		Gateway:          gateway,
		Cache:            store,
		Prefix:           cfg.Global.Prefix,
		Hasher:           cfg.Hasher(),
		Logger:           logger,
		ProgressInterval: cfg.Global.ProgressInterval.DurationValue(),
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return idx, nil
}

func (i *Index) Update(ctx context.Context) (*Report, error) {
	return i.Reconciler.Update(ctx)
}

func (i *Index) Fetch(ctx context.Context, q pkgmeta.Query) (*archive.Package, error) {
	return i.Fetcher.Fetch(ctx, q)
}

func (i *Index) Upload(ctx context.Context, bundlePath string) (*UploadReport, error) {
	return i.Publisher.Upload(ctx, bundlePath)
}

// Cached 返回本地索引中的全部条目。
func (i *Index) Cached(ctx context.Context) ([]cache.Entry, error) {
	entries, err := i.cache.Find(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	return entries, nil
}

// Remote 只列举远端，不修改本地缓存。
func (i *Index) Remote(ctx context.Context) (RemoteIndex, error) {
	return i.Reconciler.RemoteIndex(ctx)
}

func (i *Index) Close() error {
	return i.cache.Close()
}
