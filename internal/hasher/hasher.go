package hasher

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// DefaultChunkSize 是单次读取的块大小（64KiB）。
const DefaultChunkSize = 64 * 1024

// DefaultAlgorithm 与 S3 单段上传的 ETag 保持一致。
const DefaultAlgorithm = "md5"

var algorithms = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha256": sha256.New,
	"blake3": func() hash.Hash { return blake3.New() },
}

// ErrUnsupportedAlgorithm 表示未注册的哈希算法名。
var ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

// New 根据名称构造增量哈希实例，名称大小写不敏感，空串回退到 md5。
func New(algorithm string) (hash.Hash, error) {
	name := strings.ToLower(strings.TrimSpace(algorithm))
	if name == "" {
		name = DefaultAlgorithm
	}
	ctor, ok := algorithms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
	return ctor(), nil
}

// Supported 返回已支持的算法名，按字母排序。
func Supported() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sum 以 chunkSize 为单位读取 r 并喂给 h，直到 EOF，返回十六进制摘要。
// 内存占用只与 chunkSize 有关；除推进 r 的读取位置外没有副作用。
func Sum(r io.Reader, h hash.Hash, chunkSize int) (string, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			// hash.Hash.Write 永远不会返回错误
			h.Write(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Hasher 绑定算法与块大小，整个进程共用一份配置。
type Hasher struct {
	Algorithm string
	ChunkSize int
}

// Default 返回 md5 + 64KiB 的默认配置。
func Default() Hasher {
	return Hasher{Algorithm: DefaultAlgorithm, ChunkSize: DefaultChunkSize}
}

// Validate 检查算法是否可用。
func (h Hasher) Validate() error {
	_, err := New(h.Algorithm)
	return err
}

// Sum 对 r 计算摘要。
func (h Hasher) Sum(r io.Reader) (string, error) {
	impl, err := New(h.Algorithm)
	if err != nil {
		return "", err
	}
	return Sum(r, impl, h.ChunkSize)
}

// SumBytes 是 Sum 针对内存数据的便捷版本。
func (h Hasher) SumBytes(data []byte) string {
	impl, err := New(h.Algorithm)
	if err != nil {
		impl = md5.New()
	}
	impl.Write(data)
	return hex.EncodeToString(impl.Sum(nil))
}

// SumFile 打开 path 并流式计算摘要。
func (h Hasher) SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s for hashing: %w", path, err)
	}
	defer f.Close()

	digest, err := h.Sum(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return digest, nil
}

// Equal 以大小写不敏感的方式比较两个十六进制摘要，并忽略 ETag 两侧的引号。
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Normalize 去掉引号与空白并转为小写。
func Normalize(digest string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(digest), `"`))
}
