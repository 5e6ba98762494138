package server

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/any-hub/bundlehub/internal/config"
	"github.com/any-hub/bundlehub/internal/objstore"
	"github.com/any-hub/bundlehub/internal/objstore/fsbucket"
)

// BucketRoute 把桶配置与已打开的 Gateway 聚合在一起，避免每个请求重复解析配置。
type BucketRoute struct {
	Config config.BucketConfig
	// Root 是解析后的绝对路径，便于诊断输出。
	Root    string
	Gateway objstore.Gateway
}

// BucketRegistry 提供桶名到 BucketRoute 的查询能力。
type BucketRegistry struct {
	routes  map[string]*BucketRoute
	ordered []*BucketRoute
}

// NewBucketRegistry 根据配置打开全部目录桶。调用方应在启动阶段创建一次并复用。
func NewBucketRegistry(cfg *config.Config) (*BucketRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &BucketRegistry{
		routes: make(map[string]*BucketRoute, len(cfg.ServeBuckets)),
	}
	for _, b := range cfg.ServeBuckets {
		if _, exists := registry.routes[b.Name]; exists {
			return nil, fmt.Errorf("duplicate bucket %s", b.Name)
		}
		bucket, err := fsbucket.New(b.Root, cfg.Hasher())
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", b.Name, err)
		}
		if err := registry.Add(b, bucket); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Add 注册一个桶，测试中可以直接注入任意 Gateway。
func (r *BucketRegistry) Add(cfg config.BucketConfig, gateway objstore.Gateway) error {
	if cfg.Name == "" {
		return errors.New("bucket name required")
	}
	if _, exists := r.routes[cfg.Name]; exists {
		return fmt.Errorf("duplicate bucket %s", cfg.Name)
	}
	if r.routes == nil {
		r.routes = make(map[string]*BucketRoute)
	}
	root := cfg.Root
	if abs, err := filepath.Abs(root); err == nil && root != "" {
		root = abs
	}
	route := &BucketRoute{Config: cfg, Root: root, Gateway: gateway}
	r.routes[cfg.Name] = route
	r.ordered = append(r.ordered, route)
	return nil
}

// Lookup 根据桶名查找 BucketRoute。
func (r *BucketRegistry) Lookup(name string) (*BucketRoute, bool) {
	if r == nil || name == "" {
		return nil, false
	}
	route, ok := r.routes[name]
	return route, ok
}

// List 返回按名称排序的桶列表，用于 /-/buckets 输出。
func (r *BucketRegistry) List() []BucketRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	result := make([]BucketRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Config.Name < result[j].Config.Name
	})
	return result
}
