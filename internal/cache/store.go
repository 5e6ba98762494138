package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/hasher"
	"github.com/any-hub/bundlehub/internal/pkgmeta"
)

const (
	// IndexFS 在每个包目录中写 .entry.json。
	IndexFS = "fs"
	// IndexBadger 把记录集中写入 StoragePath/.index。
	IndexBadger = "badger"

	recordFileName = ".entry.json"
	badgerDirName  = ".index"
)

// Store 是 Cache 的磁盘实现，整个进程复用一份实例。
type Store struct {
	basePath string
	records  recordStore

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// Open 以 basePath 为根目录打开缓存，index 选择索引记录的存放方式。
func Open(basePath, index string, logger logrus.FieldLogger) (*Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	var records recordStore
	switch strings.ToLower(index) {
	case "", IndexFS:
		records = &fsRecords{basePath: abs}
	case IndexBadger:
		records, err = openBadgerRecords(filepath.Join(abs, badgerDirName), logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported cache index %q", index)
	}

	return &Store{
		basePath: abs,
		records:  records,
		locks:    make(map[string]*entryLock),
	}, nil
}

// Dir 返回身份对应的本地目录。
func (s *Store) Dir(id pkgmeta.Identity) string {
	return filepath.Join(s.basePath, id.String())
}

func (s *Store) Find(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := s.records.all()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Path = s.Dir(entries[i].Identity)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Identity.Compare(entries[j].Identity) < 0
	})
	return entries, nil
}

func (s *Store) Exists(ctx context.Context, id pkgmeta.Identity, contentHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	entry, err := s.records.load(id.String())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !hasher.Equal(entry.ContentHash, contentHash) {
		return false, nil
	}
	// 记录还在但 meta.json 被手工删除时视为未缓存，下一轮更新会补齐
	if _, err := os.Stat(filepath.Join(s.Dir(id), pkgmeta.MetaFileName)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) Update(ctx context.Context, meta pkgmeta.Metadata, raw []byte, metaKey, contentHash string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := meta.Identity
	if id.IsZero() {
		return nil, errors.New("metadata identity required")
	}
	unlock := s.lockEntry(id.String())
	defer unlock()

	dir := s.Dir(id)
	previous, err := s.records.load(id.String())
	switch {
	case err == nil:
		if !hasher.Equal(previous.ContentHash, contentHash) {
			// 内容已被替换，旧负载不再可信
			if err := os.RemoveAll(dir); err != nil {
				return nil, fmt.Errorf("clear stale entry %s: %w", id, err)
			}
		}
	case errors.Is(err, ErrNotFound):
	default:
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := writeFileAtomic(filepath.Join(dir, pkgmeta.MetaFileName), raw); err != nil {
		return nil, err
	}

	entry := Entry{
		Identity:     id,
		ContentHash:  hasher.Normalize(contentHash),
		MetaLocation: metaKey,
		UpdatedAt:    time.Now().UTC(),
		Path:         dir,
		Metadata:     meta,
	}
	if err := s.records.save(entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) Get(ctx context.Context, id pkgmeta.Identity) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, err := s.records.load(id.String())
	if err != nil {
		return nil, err
	}
	entry.Path = s.Dir(id)

	data, err := os.ReadFile(filepath.Join(entry.Path, pkgmeta.MetaFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s has no %s", ErrNotFound, id, pkgmeta.MetaFileName)
		}
		return nil, err
	}
	meta, err := pkgmeta.Parse(data, id)
	if err != nil {
		return nil, err
	}
	entry.Metadata = meta
	return entry, nil
}

func (s *Store) Lookup(ctx context.Context, q pkgmeta.Query) (*Entry, error) {
	if q.Version != "" {
		id, err := pkgmeta.NewIdentity(q.Name, q.Version)
		if err != nil {
			return nil, err
		}
		return s.Get(ctx, id)
	}

	entries, err := s.Find(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]pkgmeta.Identity, 0, len(entries))
	for _, entry := range entries {
		candidates = append(candidates, entry.Identity)
	}
	id, ok := q.Resolve(candidates)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, q)
	}
	return s.Get(ctx, id)
}

func (s *Store) Remove(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ident := entry.Identity.String()
	unlock := s.lockEntry(ident)
	defer unlock()

	// 先删记录：中途失败只会留下孤儿目录，而不是指向空目录的记录
	if err := s.records.delete(ident); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := os.RemoveAll(s.Dir(entry.Identity)); err != nil {
		return fmt.Errorf("remove entry dir %s: %w", ident, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.records.close()
}

func (s *Store) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// writeFileAtomic 通过临时文件 + rename 写入，失败时清理临时文件。
func writeFileAtomic(target string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(target), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}
	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}
