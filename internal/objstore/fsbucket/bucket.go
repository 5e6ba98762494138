// Package fsbucket 以本地目录模拟对象存储桶：正文写入 <root>/<key>，
// 对象信息（内容哈希、大小、元数据）写入 <root>/.meta/<key>.json。
// 写入遵循“临时文件 + rename”，同一 key 的并发写入由进程内锁串行化。
package fsbucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/any-hub/bundlehub/internal/hasher"
	"github.com/any-hub/bundlehub/internal/objstore"
)

const metaDir = ".meta"

func init() {
	objstore.MustRegister(objstore.Driver{
		Key:         "fs",
		Description: "Local directory bucket at <FS.Root>/<Bucket>",
		Open: func(opts objstore.Options) (objstore.Gateway, error) {
			if opts.Root == "" {
				return nil, errors.New("fs backend requires FS.Root")
			}
			return New(filepath.Join(opts.Root, opts.Bucket), hasher.Hasher{
				Algorithm: opts.HashAlgorithm,
				ChunkSize: opts.ChunkSize,
			})
		},
	})
}

// Bucket 是基于目录的 Gateway 实现。
type Bucket struct {
	basePath string
	hasher   hasher.Hasher

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type sidecar struct {
	ContentHash string            `json:"content_hash"`
	Size        int64             `json:"size"`
	ModTime     time.Time         `json:"mod_time"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// New 以 basePath 为桶根目录，目录不存在时自动创建。
func New(basePath string, h hasher.Hasher) (*Bucket, error) {
	if basePath == "" {
		return nil, errors.New("bucket path required")
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve bucket path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket path: %w", err)
	}
	return &Bucket{
		basePath: abs,
		hasher:   h,
		locks:    make(map[string]*entryLock),
	}, nil
}

// Path 返回桶根目录。
func (b *Bucket) Path() string { return b.basePath }

func (b *Bucket) List(ctx context.Context, prefix string) iter.Seq2[objstore.ObjectInfo, error] {
	return func(yield func(objstore.ObjectInfo, error) bool) {
		stop := errors.New("stop")
		err := filepath.WalkDir(b.basePath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			rel, relErr := filepath.Rel(b.basePath, p)
			if relErr != nil {
				return relErr
			}
			key := filepath.ToSlash(rel)
			if d.IsDir() {
				if key == metaDir {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(d.Name(), ".obj-") || !strings.HasPrefix(key, prefix) {
				return nil
			}
			info, statErr := b.stat(key)
			if statErr != nil {
				return statErr
			}
			if !yield(info, nil) {
				return stop
			}
			return nil
		})
		if err != nil && !errors.Is(err, stop) {
			yield(objstore.ObjectInfo{}, err)
		}
	}
}

func (b *Bucket) Stat(ctx context.Context, key string) (objstore.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return objstore.ObjectInfo{}, err
	}
	if err := b.checkKey(key); err != nil {
		return objstore.ObjectInfo{}, err
	}
	return b.stat(key)
}

func (b *Bucket) Get(ctx context.Context, key string) (io.ReadCloser, objstore.ObjectInfo, error) {
	info, err := b.Stat(ctx, key)
	if err != nil {
		return nil, objstore.ObjectInfo{}, err
	}
	f, err := os.Open(b.dataPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, objstore.ObjectInfo{}, objstore.ErrNotFound
		}
		return nil, objstore.ObjectInfo{}, err
	}
	return f, info, nil
}

func (b *Bucket) Download(ctx context.Context, key, dst string, progress objstore.ProgressFunc) (objstore.ObjectInfo, error) {
	body, info, err := b.Get(ctx, key)
	if err != nil {
		return objstore.ObjectInfo{}, err
	}
	defer body.Close()

	out, err := os.Create(dst)
	if err != nil {
		return objstore.ObjectInfo{}, err
	}
	_, err = copyWithContext(ctx, out, objstore.NewProgressReader(body, info.Size, progress))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return objstore.ObjectInfo{}, err
	}
	return info, nil
}

func (b *Bucket) Put(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string, progress objstore.ProgressFunc) (objstore.ObjectInfo, error) {
	if err := b.checkKey(key); err != nil {
		return objstore.ObjectInfo{}, err
	}
	unlock := b.lockEntry(key)
	defer unlock()

	filePath := b.dataPath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return objstore.ObjectInfo{}, err
	}
	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".obj-*")
	if err != nil {
		return objstore.ObjectInfo{}, err
	}
	tempName := tempFile.Name()

	h, err := hasher.New(b.hasher.Algorithm)
	if err != nil {
		tempFile.Close()
		os.Remove(tempName)
		return objstore.ObjectInfo{}, err
	}
	written, err := copyWithContext(ctx, io.MultiWriter(tempFile, h), objstore.NewProgressReader(body, size, progress))
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && size >= 0 && written != size {
		err = fmt.Errorf("short body for %s: wrote %d of %d bytes", key, written, size)
	}
	if err != nil {
		os.Remove(tempName)
		return objstore.ObjectInfo{}, err
	}

	info := objstore.ObjectInfo{
		Key:         key,
		ContentHash: fmt.Sprintf("%x", h.Sum(nil)),
		Size:        written,
		ModTime:     time.Now().UTC(),
		Metadata:    copyMeta(metadata),
	}
	if err := b.writeSidecar(key, info); err != nil {
		os.Remove(tempName)
		return objstore.ObjectInfo{}, err
	}
	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return objstore.ObjectInfo{}, err
	}
	return info, nil
}

// Remove 删除对象及其 sidecar，不存在时视为成功。
func (b *Bucket) Remove(ctx context.Context, key string) error {
	if err := b.checkKey(key); err != nil {
		return err
	}
	unlock := b.lockEntry(key)
	defer unlock()

	for _, p := range []string{b.dataPath(key), b.sidecarPath(key)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// stat 读取 sidecar；sidecar 缺失（例如手工放入的文件）时现场计算并补写。
func (b *Bucket) stat(key string) (objstore.ObjectInfo, error) {
	fi, err := os.Stat(b.dataPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return objstore.ObjectInfo{}, objstore.ErrNotFound
		}
		return objstore.ObjectInfo{}, err
	}
	if fi.IsDir() {
		return objstore.ObjectInfo{}, objstore.ErrNotFound
	}

	data, err := os.ReadFile(b.sidecarPath(key))
	if err == nil {
		var sc sidecar
		if err := json.Unmarshal(data, &sc); err != nil {
			return objstore.ObjectInfo{}, fmt.Errorf("decode object info for %s: %w", key, err)
		}
		return objstore.ObjectInfo{
			Key:         key,
			ContentHash: sc.ContentHash,
			Size:        sc.Size,
			ModTime:     sc.ModTime,
			Metadata:    sc.Metadata,
		}, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return objstore.ObjectInfo{}, err
	}

	digest, err := b.hasher.SumFile(b.dataPath(key))
	if err != nil {
		return objstore.ObjectInfo{}, err
	}
	info := objstore.ObjectInfo{Key: key, ContentHash: digest, Size: fi.Size(), ModTime: fi.ModTime().UTC()}
	if err := b.writeSidecar(key, info); err != nil {
		return objstore.ObjectInfo{}, err
	}
	return info, nil
}

func (b *Bucket) writeSidecar(key string, info objstore.ObjectInfo) error {
	data, err := json.Marshal(sidecar{
		ContentHash: info.ContentHash,
		Size:        info.Size,
		ModTime:     info.ModTime,
		Metadata:    info.Metadata,
	})
	if err != nil {
		return err
	}
	target := b.sidecarPath(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".obj-*")
	if err != nil {
		return err
	}
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (b *Bucket) checkKey(key string) error {
	if err := objstore.ValidateKey(key); err != nil {
		return err
	}
	if key == metaDir || strings.HasPrefix(key, metaDir+"/") {
		return fmt.Errorf("object key %q uses reserved prefix %s", key, metaDir)
	}
	return nil
}

func (b *Bucket) dataPath(key string) string {
	return filepath.Join(b.basePath, filepath.FromSlash(key))
}

func (b *Bucket) sidecarPath(key string) string {
	return filepath.Join(b.basePath, metaDir, filepath.FromSlash(key)+".json")
}

func (b *Bucket) lockEntry(key string) func() {
	b.mu.Lock()
	lock := b.locks[key]
	if lock == nil {
		lock = &entryLock{}
		b.locks[key] = lock
	}
	lock.refs++
	b.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		b.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(b.locks, key)
		}
		b.mu.Unlock()
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

func copyMeta(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
