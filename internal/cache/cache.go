package cache

import (
	"context"
	"errors"
	"time"

	"github.com/any-hub/bundlehub/internal/pkgmeta"
)

// ErrNotFound 表示缓存中不存在该身份。
var ErrNotFound = errors.New("cache entry not found")

// Cache 是本地缓存的全部能力，pkgindex 只依赖此接口。
type Cache interface {
	// Find 返回全部条目，只读取索引记录，不解析 meta.json。
	Find(ctx context.Context) ([]Entry, error)

	// Exists 判断身份已缓存且记录的 meta.json 哈希与 contentHash 一致。
	Exists(ctx context.Context, id pkgmeta.Identity, contentHash string) (bool, error)

	// Update 以 upsert 语义写入 meta.json 与索引记录；哈希变化时清空旧目录。
	Update(ctx context.Context, meta pkgmeta.Metadata, raw []byte, metaKey, contentHash string) (*Entry, error)

	// Get 返回指定身份的条目（含解析后的元数据），不存在时返回 ErrNotFound。
	Get(ctx context.Context, id pkgmeta.Identity) (*Entry, error)

	// Lookup 按查询解析身份；只给出名称时选择最高版本。
	Lookup(ctx context.Context, q pkgmeta.Query) (*Entry, error)

	// Remove 删除索引记录与目录。
	Remove(ctx context.Context, entry Entry) error

	Close() error
}

// Entry 描述一个已缓存的包身份。
type Entry struct {
	Identity pkgmeta.Identity `json:"identity"`
	// ContentHash 是存储端报告的 meta.json 哈希，仅用于变更检测。
	ContentHash string `json:"content_hash"`
	// MetaLocation 是 meta.json 在桶中的对象键。
	MetaLocation string    `json:"meta_location"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Path 为该身份的本地目录。
	Path     string           `json:"-"`
	Metadata pkgmeta.Metadata `json:"-"`
}

// recordStore 持久化索引记录，由 fs 与 badger 两种实现。
type recordStore interface {
	load(ident string) (*Entry, error)
	save(entry Entry) error
	delete(ident string) error
	all() ([]Entry, error)
	close() error
}
